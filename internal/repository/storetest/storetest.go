// Package storetest is a conformance suite run against every TranscriptStore backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/repository"
)

// Run exercises store. Each subtest uses fresh session ids, so one store can
// serve the whole suite.
func Run(t *testing.T, store repository.TranscriptStore) {
	t.Helper()

	t.Run("Session", func(t *testing.T) { testSession(t, store) })
	t.Run("AppendAndRead", func(t *testing.T) { testAppendAndRead(t, store) })
	t.Run("SequenceConflict", func(t *testing.T) { testSequenceConflict(t, store) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, store) })
	t.Run("SessionsIsolated", func(t *testing.T) { testSessionsIsolated(t, store) })
	t.Run("Completion", func(t *testing.T) { testCompletion(t, store) })
	t.Run("Contact", func(t *testing.T) { testContact(t, store) })
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Entry builds a progress entry for tests.
func Entry(sessionID string, index int, answer domain.Answer) *domain.ProgressEntry {
	return &domain.ProgressEntry{
		ID:             uuid.New(),
		SessionID:      sessionID,
		Index:          index,
		QuestionID:     fmt.Sprintf("q%d", index),
		QuestionPrompt: fmt.Sprintf("Question %d?", index),
		Answer:         answer,
		Reflection:     "Thanks.",
		ReflectionKind: domain.ReflectionKindSkip,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

func testSession(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	s := &domain.Session{ID: uuid.NewString(), IntakeType: "check_in", CreatedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.CreateSession(ctx, s))

	got, err := store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.IntakeType, got.IntakeType)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, s.CreatedAt)

	_, err = store.GetSession(ctx, uuid.NewString())
	assert.True(t, errors.Is(err, domain.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testAppendAndRead(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	sid := uuid.NewString()

	entries, err := store.ReadProgress(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, entries)

	first := Entry(sid, 0, domain.TextAnswer("I feel anxious"))
	second := Entry(sid, 1, domain.ListAnswer("work", "other"))
	second.EscapeText = "money"
	second.ReflectionKind = domain.ReflectionKindTemplate
	require.NoError(t, store.AppendProgress(ctx, sid, 0, first))
	require.NoError(t, store.AppendProgress(ctx, sid, 1, second))

	entries, err = store.ReadProgress(ctx, sid)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, 0, entries[0].Index)
	assert.Equal(t, "I feel anxious", entries[0].Answer.Text)
	assert.False(t, entries[0].Answer.IsList())
	assert.Equal(t, first.QuestionPrompt, entries[0].QuestionPrompt)

	assert.Equal(t, []string{"work", "other"}, entries[1].Answer.Values)
	assert.Equal(t, "money", entries[1].EscapeText)
	assert.Equal(t, domain.ReflectionKindTemplate, entries[1].ReflectionKind)
	assert.True(t, second.CreatedAt.Equal(entries[1].CreatedAt))
}

func testSequenceConflict(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	sid := uuid.NewString()

	err := store.AppendProgress(ctx, sid, 1, Entry(sid, 1, domain.TextAnswer("skipped ahead")))
	assert.True(t, errors.Is(err, domain.ErrSequenceConflict), "expected ErrSequenceConflict, got %v", err)

	require.NoError(t, store.AppendProgress(ctx, sid, 0, Entry(sid, 0, domain.TextAnswer("first"))))
	err = store.AppendProgress(ctx, sid, 0, Entry(sid, 0, domain.TextAnswer("duplicate")))
	assert.True(t, errors.Is(err, domain.ErrSequenceConflict), "expected ErrSequenceConflict, got %v", err)

	entries, err := store.ReadProgress(ctx, sid)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].Answer.Text)
}

func testConcurrentAppend(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	sid := uuid.NewString()

	const writers = 8
	var ok, conflicts atomic.Int32
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		g.Go(func() error {
			err := store.AppendProgress(ctx, sid, 0, Entry(sid, 0, domain.TextAnswer(fmt.Sprintf("writer %d", i))))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrSequenceConflict):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())

	entries, err := store.ReadProgress(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testSessionsIsolated(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	a, b := uuid.NewString(), uuid.NewString()

	require.NoError(t, store.AppendProgress(ctx, a, 0, Entry(a, 0, domain.TextAnswer("a0"))))
	require.NoError(t, store.AppendProgress(ctx, b, 0, Entry(b, 0, domain.TextAnswer("b0"))))
	require.NoError(t, store.AppendProgress(ctx, a, 1, Entry(a, 1, domain.TextAnswer("a1"))))

	ea, err := store.ReadProgress(ctx, a)
	require.NoError(t, err)
	eb, err := store.ReadProgress(ctx, b)
	require.NoError(t, err)
	assert.Len(t, ea, 2)
	assert.Len(t, eb, 1)
}

func testCompletion(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	sid := uuid.NewString()

	got, err := store.ReadCompletion(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, got)

	c := &domain.CompletionOutput{
		PersonalizedBrief: "brief",
		FirstSessionGuide: "guide",
		Experiments:       []string{"one", "two"},
		Model:             "mock-model",
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.WriteCompletion(ctx, sid, c))

	err = store.WriteCompletion(ctx, sid, &domain.CompletionOutput{PersonalizedBrief: "second", Experiments: []string{"x"}})
	assert.True(t, errors.Is(err, domain.ErrCompletionExists), "expected ErrCompletionExists, got %v", err)

	got, err = store.ReadCompletion(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "brief", got.PersonalizedBrief)
	assert.Equal(t, "guide", got.FirstSessionGuide)
	assert.Equal(t, []string{"one", "two"}, got.Experiments)
	assert.Equal(t, "mock-model", got.Model)
}

func testContact(t *testing.T, store repository.TranscriptStore) {
	ctx := testContext(t)
	sid := uuid.NewString()

	got, err := store.ReadContact(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.WriteContact(ctx, &domain.ContactRecord{SessionID: sid, Name: "Sam", CreatedAt: time.Now().UTC()}))
	require.NoError(t, store.WriteContact(ctx, &domain.ContactRecord{SessionID: sid, Name: "Sam", Email: "sam@example.com", Consent: true, CreatedAt: time.Now().UTC()}))

	got, err = store.ReadContact(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sam@example.com", got.Email)
	assert.True(t, got.Consent)
}
