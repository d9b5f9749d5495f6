// Package redisstore implements the transcript store on Redis. Each session's
// progress is a list; appends go through a Lua script so the length check
// and push are one atomic step.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/repository"
)

// appendScript pushes ARGV[2] onto KEYS[1] only if the list holds exactly
// ARGV[1] elements. ARGV[3] is a TTL in milliseconds, 0 for none.
var appendScript = redis.NewScript(`
if redis.call('LLEN', KEYS[1]) ~= tonumber(ARGV[1]) then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// Store implements TranscriptStore on a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a store. Keys are namespaced by prefix; a zero ttl keeps data forever.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "intake"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (s *Store) key(kind, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, kind, sessionID)
}

func (s *Store) Close() error {
	return s.client.Close()
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key("session", session.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	data, err := s.client.Get(ctx, s.key("session", sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session domain.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

// Progress

func (s *Store) AppendProgress(ctx context.Context, sessionID string, expectedIndex int, e *domain.ProgressEntry) error {
	entry := *e
	entry.Index = expectedIndex
	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	n, err := appendScript.Run(ctx, s.client,
		[]string{s.key("progress", sessionID)},
		expectedIndex, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session %s is not at index %d", domain.ErrSequenceConflict, sessionID, expectedIndex)
	}
	return nil
}

func (s *Store) ReadProgress(ctx context.Context, sessionID string) ([]*domain.ProgressEntry, error) {
	items, err := s.client.LRange(ctx, s.key("progress", sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	entries := make([]*domain.ProgressEntry, 0, len(items))
	for _, item := range items {
		var e domain.ProgressEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("unmarshal entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Completion

func (s *Store) WriteCompletion(ctx context.Context, sessionID string, c *domain.CompletionOutput) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key("completion", sessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("write completion: %w", err)
	}
	if !ok {
		return domain.ErrCompletionExists
	}
	return nil
}

func (s *Store) ReadCompletion(ctx context.Context, sessionID string) (*domain.CompletionOutput, error) {
	data, err := s.client.Get(ctx, s.key("completion", sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read completion: %w", err)
	}
	var c domain.CompletionOutput
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal completion: %w", err)
	}
	return &c, nil
}

// Contact

func (s *Store) WriteContact(ctx context.Context, c *domain.ContactRecord) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("contact", c.SessionID), data, s.ttl).Err()
}

func (s *Store) ReadContact(ctx context.Context, sessionID string) (*domain.ContactRecord, error) {
	data, err := s.client.Get(ctx, s.key("contact", sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read contact: %w", err)
	}
	var c domain.ContactRecord
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal contact: %w", err)
	}
	return &c, nil
}

var _ repository.TranscriptStore = (*Store)(nil)
