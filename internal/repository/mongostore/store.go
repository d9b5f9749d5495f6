// Package mongostore implements the transcript store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/repository"
)

// Store implements TranscriptStore on a MongoDB database.
// A unique (session_id, idx) index backs the append-at-index check.
type Store struct {
	client      *mongo.Client
	sessions    *mongo.Collection
	progress    *mongo.Collection
	completions *mongo.Collection
	contacts    *mongo.Collection
}

// Connect dials uri and opens the store in database dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s, err := New(ctx, client, dbName)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// New opens the store on an existing client and ensures its indexes.
func New(ctx context.Context, client *mongo.Client, dbName string) (*Store, error) {
	db := client.Database(dbName)
	s := &Store{
		client:      client,
		sessions:    db.Collection("sessions"),
		progress:    db.Collection("progress"),
		completions: db.Collection("completions"),
		contacts:    db.Collection("contacts"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.progress.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "idx", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create progress index: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

type sessionDoc struct {
	ID         string    `bson:"_id"`
	IntakeType string    `bson:"intake_type"`
	CreatedAt  time.Time `bson:"created_at"`
}

type progressDoc struct {
	ID             string    `bson:"_id"`
	SessionID      string    `bson:"session_id"`
	Index          int       `bson:"idx"`
	QuestionID     string    `bson:"question_id"`
	QuestionPrompt string    `bson:"question_prompt"`
	Text           string    `bson:"text,omitempty"`
	Values         []string  `bson:"values,omitempty"`
	IsList         bool      `bson:"is_list"`
	EscapeText     string    `bson:"escape_text,omitempty"`
	Reflection     string    `bson:"reflection"`
	ReflectionKind string    `bson:"reflection_kind"`
	CreatedAt      time.Time `bson:"created_at"`
}

type completionDoc struct {
	SessionID         string    `bson:"_id"`
	PersonalizedBrief string    `bson:"personalized_brief"`
	FirstSessionGuide string    `bson:"first_session_guide"`
	Experiments       []string  `bson:"experiments"`
	Model             string    `bson:"model"`
	CreatedAt         time.Time `bson:"created_at"`
}

type contactDoc struct {
	SessionID string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Phone     string    `bson:"phone"`
	Consent   bool      `bson:"consent"`
	CreatedAt time.Time `bson:"created_at"`
}

// Sessions

func (s *Store) CreateSession(ctx context.Context, session *domain.Session) error {
	_, err := s.sessions.InsertOne(ctx, sessionDoc{
		ID:         session.ID,
		IntakeType: session.IntakeType,
		CreatedAt:  session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &domain.Session{ID: doc.ID, IntakeType: doc.IntakeType, CreatedAt: doc.CreatedAt.UTC()}, nil
}

// Progress

func (s *Store) AppendProgress(ctx context.Context, sessionID string, expectedIndex int, e *domain.ProgressEntry) error {
	count, err := s.progress.CountDocuments(ctx, bson.M{"session_id": sessionID})
	if err != nil {
		return fmt.Errorf("count progress: %w", err)
	}
	if int(count) != expectedIndex {
		return fmt.Errorf("%w: session %s has %d entries, expected %d", domain.ErrSequenceConflict, sessionID, count, expectedIndex)
	}

	_, err = s.progress.InsertOne(ctx, progressDoc{
		ID:             e.ID.String(),
		SessionID:      sessionID,
		Index:          expectedIndex,
		QuestionID:     e.QuestionID,
		QuestionPrompt: e.QuestionPrompt,
		Text:           e.Answer.Text,
		Values:         e.Answer.Values,
		IsList:         e.Answer.IsList(),
		EscapeText:     e.EscapeText,
		Reflection:     e.Reflection,
		ReflectionKind: string(e.ReflectionKind),
		CreatedAt:      e.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: session %s index %d already written", domain.ErrSequenceConflict, sessionID, expectedIndex)
	}
	if err != nil {
		return fmt.Errorf("insert progress: %w", err)
	}
	return nil
}

func (s *Store) ReadProgress(ctx context.Context, sessionID string) ([]*domain.ProgressEntry, error) {
	cursor, err := s.progress.Find(ctx, bson.M{"session_id": sessionID},
		options.Find().SetSort(bson.D{{Key: "idx", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find progress: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []progressDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}

	entries := make([]*domain.ProgressEntry, 0, len(docs))
	for _, d := range docs {
		e := &domain.ProgressEntry{
			SessionID:      d.SessionID,
			Index:          d.Index,
			QuestionID:     d.QuestionID,
			QuestionPrompt: d.QuestionPrompt,
			Answer:         domain.TextAnswer(d.Text),
			EscapeText:     d.EscapeText,
			Reflection:     d.Reflection,
			ReflectionKind: domain.ReflectionKind(d.ReflectionKind),
			CreatedAt:      d.CreatedAt.UTC(),
		}
		if d.IsList {
			e.Answer = domain.ListAnswer(d.Values...)
		}
		if err := e.ID.UnmarshalText([]byte(d.ID)); err != nil {
			return nil, fmt.Errorf("parse entry id: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Completion

func (s *Store) WriteCompletion(ctx context.Context, sessionID string, c *domain.CompletionOutput) error {
	_, err := s.completions.InsertOne(ctx, completionDoc{
		SessionID:         sessionID,
		PersonalizedBrief: c.PersonalizedBrief,
		FirstSessionGuide: c.FirstSessionGuide,
		Experiments:       c.Experiments,
		Model:             c.Model,
		CreatedAt:         c.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrCompletionExists
	}
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

func (s *Store) ReadCompletion(ctx context.Context, sessionID string) (*domain.CompletionOutput, error) {
	var doc completionDoc
	err := s.completions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find completion: %w", err)
	}
	return &domain.CompletionOutput{
		PersonalizedBrief: doc.PersonalizedBrief,
		FirstSessionGuide: doc.FirstSessionGuide,
		Experiments:       doc.Experiments,
		Model:             doc.Model,
		CreatedAt:         doc.CreatedAt.UTC(),
	}, nil
}

// Contact

func (s *Store) WriteContact(ctx context.Context, c *domain.ContactRecord) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.contacts.ReplaceOne(ctx, bson.M{"_id": c.SessionID}, contactDoc{
		SessionID: c.SessionID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		Consent:   c.Consent,
		CreatedAt: c.CreatedAt,
	}, opts)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (s *Store) ReadContact(ctx context.Context, sessionID string) (*domain.ContactRecord, error) {
	var doc contactDoc
	err := s.contacts.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	return &domain.ContactRecord{
		SessionID: doc.SessionID,
		Name:      doc.Name,
		Email:     doc.Email,
		Phone:     doc.Phone,
		Consent:   doc.Consent,
		CreatedAt: doc.CreatedAt.UTC(),
	}, nil
}

var _ repository.TranscriptStore = (*Store)(nil)
