// Package mock provides an in-memory TranscriptStore for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/repository"
)

// Repository is an in-memory transcript store. It is safe for concurrent use.
type Repository struct {
	mu          sync.RWMutex
	sessions    map[string]*domain.Session
	progress    map[string][]*domain.ProgressEntry
	completions map[string]*domain.CompletionOutput
	contacts    map[string]*domain.ContactRecord
}

// New creates a new in-memory repository.
func New() *Repository {
	return &Repository{
		sessions:    make(map[string]*domain.Session),
		progress:    make(map[string][]*domain.ProgressEntry),
		completions: make(map[string]*domain.CompletionOutput),
		contacts:    make(map[string]*domain.ContactRecord),
	}
}

// Sessions

func (r *Repository) CreateSession(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.ID]; ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// Progress

func (r *Repository) AppendProgress(ctx context.Context, sessionID string, expectedIndex int, entry *domain.ProgressEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if got := len(r.progress[sessionID]); got != expectedIndex {
		return fmt.Errorf("%w: session %s has %d entries, expected %d", domain.ErrSequenceConflict, sessionID, got, expectedIndex)
	}
	r.progress[sessionID] = append(r.progress[sessionID], cloneEntry(entry))
	return nil
}

func (r *Repository) ReadProgress(ctx context.Context, sessionID string) ([]*domain.ProgressEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.progress[sessionID]
	out := make([]*domain.ProgressEntry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

// Completion

func (r *Repository) WriteCompletion(ctx context.Context, sessionID string, c *domain.CompletionOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.completions[sessionID]; ok {
		return domain.ErrCompletionExists
	}
	cp := *c
	cp.Experiments = slices.Clone(c.Experiments)
	r.completions[sessionID] = &cp
	return nil
}

func (r *Repository) ReadCompletion(ctx context.Context, sessionID string) (*domain.CompletionOutput, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.completions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Experiments = slices.Clone(c.Experiments)
	return &cp, nil
}

// Contact

func (r *Repository) WriteContact(ctx context.Context, c *domain.ContactRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.contacts[c.SessionID] = &cp
	return nil
}

func (r *Repository) ReadContact(ctx context.Context, sessionID string) (*domain.ContactRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *Repository) Close() error { return nil }

func cloneEntry(e *domain.ProgressEntry) *domain.ProgressEntry {
	cp := *e
	if e.Answer.Values != nil {
		cp.Answer.Values = slices.Clone(e.Answer.Values)
	}
	return &cp
}

// Ensure Repository implements TranscriptStore
var _ repository.TranscriptStore = (*Repository)(nil)
