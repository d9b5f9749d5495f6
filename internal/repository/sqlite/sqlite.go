// Package sqlite implements the transcript store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/repository"
)

// SQLiteRepository implements TranscriptStore using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and migrates it.
// Write transactions take the write lock up front, so the length check and
// insert of AppendProgress cannot interleave with another writer.
func New(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		intake_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS progress (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		question_id TEXT NOT NULL,
		question_prompt TEXT NOT NULL,
		answer TEXT NOT NULL, -- JSON string or array
		escape_text TEXT NOT NULL DEFAULT '',
		reflection TEXT NOT NULL DEFAULT '',
		reflection_kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(session_id, idx)
	);
	CREATE INDEX IF NOT EXISTS idx_progress_session ON progress(session_id);

	CREATE TABLE IF NOT EXISTS completions (
		session_id TEXT PRIMARY KEY,
		personalized_brief TEXT NOT NULL,
		first_session_guide TEXT NOT NULL,
		experiments TEXT NOT NULL, -- JSON array
		model TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contacts (
		session_id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		consent INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`

	_, err := r.db.Exec(schema)
	return err
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// withTx executes fn within a transaction.
func (r *SQLiteRepository) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Sessions

func (r *SQLiteRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, intake_type, created_at) VALUES (?, ?, ?)`,
		s.ID, s.IntakeType, s.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var s domain.Session
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT id, intake_type, created_at FROM sessions WHERE id = ?`, sessionID).
		Scan(&s.ID, &s.IntakeType, &createdAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &s, nil
}

// Progress

func (r *SQLiteRepository) AppendProgress(ctx context.Context, sessionID string, expectedIndex int, e *domain.ProgressEntry) error {
	answer, err := json.Marshal(e.Answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM progress WHERE session_id = ?`, sessionID).Scan(&count); err != nil {
			return fmt.Errorf("count progress: %w", err)
		}
		if count != expectedIndex {
			return fmt.Errorf("%w: session %s has %d entries, expected %d", domain.ErrSequenceConflict, sessionID, count, expectedIndex)
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO progress (id, session_id, idx, question_id, question_prompt, answer, escape_text, reflection, reflection_kind, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), sessionID, expectedIndex, e.QuestionID, e.QuestionPrompt, string(answer),
			e.EscapeText, e.Reflection, string(e.ReflectionKind), e.CreatedAt.Format(time.RFC3339))
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: session %s index %d already written", domain.ErrSequenceConflict, sessionID, expectedIndex)
		}
		if err != nil {
			return fmt.Errorf("insert progress: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) ReadProgress(ctx context.Context, sessionID string) ([]*domain.ProgressEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, session_id, idx, question_id, question_prompt, answer, escape_text, reflection, reflection_kind, created_at
		 FROM progress WHERE session_id = ? ORDER BY idx`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*domain.ProgressEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (*domain.ProgressEntry, error) {
	var e domain.ProgressEntry
	var id, answer, kind, createdAt string
	if err := rows.Scan(&id, &e.SessionID, &e.Index, &e.QuestionID, &e.QuestionPrompt,
		&answer, &e.EscapeText, &e.Reflection, &kind, &createdAt); err != nil {
		return nil, err
	}
	if err := e.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("parse entry id: %w", err)
	}
	if err := json.Unmarshal([]byte(answer), &e.Answer); err != nil {
		return nil, fmt.Errorf("unmarshal answer: %w", err)
	}
	e.ReflectionKind = domain.ReflectionKind(kind)
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	e.CreatedAt = created
	return &e, nil
}

// Completion

func (r *SQLiteRepository) WriteCompletion(ctx context.Context, sessionID string, c *domain.CompletionOutput) error {
	experiments, err := json.Marshal(c.Experiments)
	if err != nil {
		return fmt.Errorf("marshal experiments: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO completions (session_id, personalized_brief, first_session_guide, experiments, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, c.PersonalizedBrief, c.FirstSessionGuide, string(experiments), c.Model, c.CreatedAt.Format(time.RFC3339))
	if isUniqueViolation(err) {
		return domain.ErrCompletionExists
	}
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReadCompletion(ctx context.Context, sessionID string) (*domain.CompletionOutput, error) {
	var c domain.CompletionOutput
	var experiments, createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT personalized_brief, first_session_guide, experiments, model, created_at
		 FROM completions WHERE session_id = ?`, sessionID).
		Scan(&c.PersonalizedBrief, &c.FirstSessionGuide, &experiments, &c.Model, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(experiments), &c.Experiments); err != nil {
		return nil, fmt.Errorf("unmarshal experiments: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &c, nil
}

// Contact

func (r *SQLiteRepository) WriteContact(ctx context.Context, c *domain.ContactRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (session_id, name, email, phone, consent, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			consent = excluded.consent, created_at = excluded.created_at`,
		c.SessionID, c.Name, c.Email, c.Phone, c.Consent, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ReadContact(ctx context.Context, sessionID string) (*domain.ContactRecord, error) {
	var c domain.ContactRecord
	var createdAt string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id, name, email, phone, consent, created_at FROM contacts WHERE session_id = ?`, sessionID).
		Scan(&c.SessionID, &c.Name, &c.Email, &c.Phone, &c.Consent, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return &c, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse created_at %q: %w", v, err)
	}
	return t, nil
}

// Ensure implementation satisfies the interface
var _ repository.TranscriptStore = (*SQLiteRepository)(nil)
