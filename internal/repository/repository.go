// Package repository defines the session transcript store contract.
package repository

import (
	"context"

	"github.com/dshills/intakeflow/internal/domain"
)

// TranscriptStore persists sessions, their append-only progress log, a single
// completion record and an optional contact record. All access is keyed by
// session; implementations never lock globally.
type TranscriptStore interface {
	// Sessions
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// Progress. AppendProgress appends entry only if the log currently holds
	// exactly expectedIndex entries, otherwise it returns domain.ErrSequenceConflict.
	AppendProgress(ctx context.Context, sessionID string, expectedIndex int, entry *domain.ProgressEntry) error
	ReadProgress(ctx context.Context, sessionID string) ([]*domain.ProgressEntry, error)

	// Completion. WriteCompletion returns domain.ErrCompletionExists on a second
	// write; ReadCompletion returns nil, nil when none was written.
	WriteCompletion(ctx context.Context, sessionID string, completion *domain.CompletionOutput) error
	ReadCompletion(ctx context.Context, sessionID string) (*domain.CompletionOutput, error)

	// Contact. WriteContact replaces any earlier record; ReadContact returns nil, nil when absent.
	WriteContact(ctx context.Context, contact *domain.ContactRecord) error
	ReadContact(ctx context.Context, sessionID string) (*domain.ContactRecord, error)

	// Lifecycle
	Close() error
}
