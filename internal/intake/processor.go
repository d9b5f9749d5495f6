// Package intake runs the step-by-step intake state machine: it validates
// each answer, produces its reflection, appends it to the transcript, and
// drives completion once every question is answered.
package intake

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/logging"
	"github.com/dshills/intakeflow/internal/reflection"
	"github.com/dshills/intakeflow/internal/registry"
	"github.com/dshills/intakeflow/internal/repository"
	"github.com/dshills/intakeflow/internal/validator"
)

// Synthesizer produces the completion output for a full transcript.
type Synthesizer interface {
	Synthesize(ctx context.Context, intake *domain.IntakeDefinition, transcript []*domain.ProgressEntry) (*domain.CompletionOutput, error)
}

// Processor is the intake state machine. It holds no per-session state;
// progress lives in the store.
type Processor struct {
	registry  *registry.Registry
	store     repository.TranscriptStore
	reflector *reflection.Reflector
	synth     Synthesizer
	log       *zap.Logger

	completing singleflight.Group
	now        func() time.Time
}

// NewProcessor creates a processor from its collaborators.
func NewProcessor(reg *registry.Registry, store repository.TranscriptStore, reflector *reflection.Reflector, synth Synthesizer, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		registry:  reg,
		store:     store,
		reflector: reflector,
		synth:     synth,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StepRequest is one submitted answer.
type StepRequest struct {
	IntakeType    string
	SessionID     string
	QuestionIndex int
	Answer        domain.Answer
}

// StepResult is the outcome of an accepted step. Next is nil when Complete is set.
type StepResult struct {
	Index          int
	Reflection     string
	ReflectionKind domain.ReflectionKind
	Next           *domain.QuestionDefinition
	Complete       bool
}

// State is the current position of a session.
type State struct {
	Session    *domain.Session
	Entries    []*domain.ProgressEntry
	TotalSteps int
	// Next is the question awaiting an answer, nil once all are answered.
	Next       *domain.QuestionDefinition
	Completion *domain.CompletionOutput
}

// Answered reports whether every question has an entry.
func (s *State) Answered() bool { return len(s.Entries) >= s.TotalSteps }

// Start opens a new session for intakeType.
func (p *Processor) Start(ctx context.Context, intakeType string) (*domain.Session, error) {
	if _, err := p.registry.Intake(intakeType); err != nil {
		return nil, err
	}
	session := &domain.Session{
		ID:         uuid.NewString(),
		IntakeType: intakeType,
		CreatedAt:  p.now(),
	}
	if err := p.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	logging.FromContext(ctx, p.log).Info("session started",
		zap.String("intake", intakeType),
		zap.String("session", session.ID))
	return session, nil
}

func (p *Processor) session(ctx context.Context, intakeType, sessionID string) (*domain.IntakeDefinition, *domain.Session, error) {
	def, err := p.registry.Intake(intakeType)
	if err != nil {
		return nil, nil, err
	}
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
		}
		return nil, nil, fmt.Errorf("get session: %w", err)
	}
	if session.IntakeType != intakeType {
		return nil, nil, fmt.Errorf("%w: session %s does not belong to intake %s", domain.ErrNotFound, sessionID, intakeType)
	}
	return def, session, nil
}

// Submit validates and records the answer at req.QuestionIndex. Nothing is
// written unless the reflection was produced, so a failed step can be retried.
func (p *Processor) Submit(ctx context.Context, req StepRequest) (*StepResult, error) {
	start := time.Now()
	log := logging.FromContext(ctx, p.log).With(
		zap.String("intake", req.IntakeType),
		zap.String("session", req.SessionID),
		zap.Int("index", req.QuestionIndex))

	def, _, err := p.session(ctx, req.IntakeType, req.SessionID)
	if err != nil {
		return nil, err
	}

	entries, err := p.store.ReadProgress(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if len(entries) != req.QuestionIndex {
		return nil, fmt.Errorf("%w: expected question index %d, got %d", domain.ErrSequence, len(entries), req.QuestionIndex)
	}

	q, err := p.registry.GetByIndex(req.IntakeType, req.QuestionIndex)
	if err != nil {
		return nil, err
	}

	answer, err := validator.ValidateAnswer(q, req.Answer)
	if err != nil {
		return nil, err
	}

	refl, err := p.reflector.Reflect(ctx, def, q, answer)
	if err != nil {
		log.Warn("reflection failed", zap.String("question", q.ID), zap.Error(err))
		return nil, err
	}

	entry := &domain.ProgressEntry{
		ID:             uuid.New(),
		SessionID:      req.SessionID,
		Index:          req.QuestionIndex,
		QuestionID:     q.ID,
		QuestionPrompt: q.Prompt,
		Answer:         domain.Answer{Text: answer.Text, Values: answer.Values},
		EscapeText:     answer.Other,
		Reflection:     refl.Text,
		ReflectionKind: refl.Kind,
		CreatedAt:      p.now(),
	}
	if err := p.store.AppendProgress(ctx, req.SessionID, req.QuestionIndex, entry); err != nil {
		if errors.Is(err, domain.ErrSequenceConflict) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSequence, err)
		}
		return nil, fmt.Errorf("append progress: %w", err)
	}

	result := &StepResult{
		Index:          req.QuestionIndex,
		Reflection:     refl.Text,
		ReflectionKind: refl.Kind,
	}
	total := len(def.Questions)
	if req.QuestionIndex+1 == total {
		result.Complete = true
	} else {
		result.Next = &def.Questions[req.QuestionIndex+1]
	}

	log.Info("step accepted",
		zap.String("question", q.ID),
		zap.String("reflection_kind", string(refl.Kind)),
		zap.Int("usage_total", refl.Usage.TotalUnits),
		zap.Bool("complete", result.Complete),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Current returns the session's position so a client can resume or recover
// from a sequence error.
func (p *Processor) Current(ctx context.Context, intakeType, sessionID string) (*State, error) {
	def, session, err := p.session(ctx, intakeType, sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := p.store.ReadProgress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	completion, err := p.store.ReadCompletion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read completion: %w", err)
	}

	state := &State{
		Session:    session,
		Entries:    entries,
		TotalSteps: len(def.Questions),
		Completion: completion,
	}
	if len(entries) < len(def.Questions) {
		state.Next = &def.Questions[len(entries)]
	}
	return state, nil
}

// Complete returns the session's completion output, synthesizing and storing
// it on the first call. The transcript must cover every question.
func (p *Processor) Complete(ctx context.Context, intakeType, sessionID string) (*domain.CompletionOutput, error) {
	def, _, err := p.session(ctx, intakeType, sessionID)
	if err != nil {
		return nil, err
	}

	// The shared call outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := p.completing.DoChan(sessionID, func() (any, error) {
		return p.complete(shared, def, sessionID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.CompletionOutput), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) complete(ctx context.Context, def *domain.IntakeDefinition, sessionID string) (*domain.CompletionOutput, error) {
	log := logging.FromContext(ctx, p.log).With(
		zap.String("intake", def.Type),
		zap.String("session", sessionID))

	existing, err := p.store.ReadCompletion(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read completion: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	entries, err := p.store.ReadProgress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if len(entries) == 0 {
		return nil, domain.ErrEmptyTranscript
	}
	if len(entries) < len(def.Questions) {
		return nil, fmt.Errorf("%w: %d of %d questions answered", domain.ErrSequence, len(entries), len(def.Questions))
	}

	start := time.Now()
	out, err := p.synth.Synthesize(ctx, def, entries)
	if err != nil {
		log.Warn("synthesis failed", zap.Error(err))
		return nil, err
	}

	if err := p.store.WriteCompletion(ctx, sessionID, out); err != nil {
		if errors.Is(err, domain.ErrCompletionExists) {
			stored, rerr := p.store.ReadCompletion(ctx, sessionID)
			if rerr != nil {
				return nil, fmt.Errorf("read completion: %w", rerr)
			}
			if stored != nil {
				return stored, nil
			}
		}
		return nil, fmt.Errorf("write completion: %w", err)
	}

	log.Info("intake completed",
		zap.Int("experiments", len(out.Experiments)),
		zap.String("model", out.Model),
		zap.Duration("duration", time.Since(start)))
	return out, nil
}

// SaveContact stores the session's optional contact record.
// A name or an email is required; an email must be a valid address.
func (p *Processor) SaveContact(ctx context.Context, intakeType, sessionID string, contact domain.ContactRecord) (*domain.ContactRecord, error) {
	if _, _, err := p.session(ctx, intakeType, sessionID); err != nil {
		return nil, err
	}

	contact.SessionID = sessionID
	contact.Name = strings.TrimSpace(contact.Name)
	contact.Email = strings.TrimSpace(contact.Email)
	contact.Phone = strings.TrimSpace(contact.Phone)
	if contact.Name == "" && contact.Email == "" {
		return nil, fmt.Errorf("%w: a name or an email is required", domain.ErrValidation)
	}
	if contact.Email != "" {
		addr, err := mail.ParseAddress(contact.Email)
		if err != nil || addr.Address != contact.Email {
			return nil, fmt.Errorf("%w: invalid email address", domain.ErrValidation)
		}
	}
	contact.CreatedAt = p.now()

	if err := p.store.WriteContact(ctx, &contact); err != nil {
		return nil, fmt.Errorf("write contact: %w", err)
	}
	return &contact, nil
}
