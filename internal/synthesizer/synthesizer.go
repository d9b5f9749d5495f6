// Package synthesizer turns a finished intake transcript into the
// personalized brief, first-session guide and experiments.
package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/llm"
	"github.com/dshills/intakeflow/internal/reflection"
	"github.com/dshills/intakeflow/internal/validator"
)

const (
	completionTemperature = 0.4
	completionMaxTokens   = 2000
)

// Service synthesizes completion output with one structured generation call.
type Service struct {
	client        llm.Client
	validator     *validator.Validator
	log           *zap.Logger
	timeout       time.Duration
	promptVersion llm.PromptVersion
}

// NewService creates a new synthesizer. A zero timeout means no deadline beyond ctx.
func NewService(client llm.Client, val *validator.Validator, log *zap.Logger, timeout time.Duration) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		client:        client,
		validator:     val,
		log:           log,
		timeout:       timeout,
		promptVersion: llm.PromptVersionV1,
	}
}

// TranscriptItem is one answered question as sent to the generator.
type TranscriptItem struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Reflection string `json:"reflection,omitempty"`
}

// completionResponse is the generator output structure.
type completionResponse struct {
	PersonalizedBrief string   `json:"personalized_brief"`
	FirstSessionGuide string   `json:"first_session_guide"`
	Experiments       []string `json:"experiments"`
}

// Synthesize builds the completion output for a transcript. It makes exactly
// one generator call and does not check whether a completion already exists.
func (s *Service) Synthesize(ctx context.Context, intake *domain.IntakeDefinition, transcript []*domain.ProgressEntry) (*domain.CompletionOutput, error) {
	if len(transcript) == 0 {
		return nil, domain.ErrEmptyTranscript
	}
	if s.client == nil {
		return nil, fmt.Errorf("%w: no generator configured", domain.ErrGeneration)
	}

	system, err := llm.LoadPrompt(llm.RoleCompletionSystem, s.promptVersion)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	user, err := llm.LoadPrompt(llm.RoleCompletion, s.promptVersion)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}

	transcriptJSON, err := json.MarshalIndent(Items(intake, transcript), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}

	req := llm.NewRequest(
		system.Render(map[string]string{"GUIDE": intake.CompletionGuide}),
		user.Render(map[string]string{
			"TITLE":      intake.Title,
			"TRANSCRIPT": string(transcriptJSON),
		}),
	)
	req.Temperature = completionTemperature
	req.MaxTokens = completionMaxTokens
	req.Schema = validator.CompletionSchema()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: completion timed out", domain.ErrGeneration)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	if result := s.validator.ValidateCompletion([]byte(resp.Content)); !result.Valid {
		s.log.Warn("completion failed schema validation",
			zap.String("intake", intake.Type),
			zap.Int("violations", len(result.Violations)),
			zap.String("detail", result.Error()))
		return nil, fmt.Errorf("%w: completion does not match schema: %s", domain.ErrGeneration, result.Error())
	}

	var out completionResponse
	if err := json.Unmarshal([]byte(resp.Content), &out); err != nil {
		return nil, fmt.Errorf("%w: parse completion: %v", domain.ErrGeneration, err)
	}

	model := resp.Model
	if model == "" {
		model = s.client.Model()
	}
	return &domain.CompletionOutput{
		PersonalizedBrief: out.PersonalizedBrief,
		FirstSessionGuide: out.FirstSessionGuide,
		Experiments:       out.Experiments,
		Model:             model,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Items converts a transcript to the generator form. Answers are rendered with
// option labels of the current definition; the question prompt is the snapshot
// taken when the answer was recorded.
func Items(intake *domain.IntakeDefinition, transcript []*domain.ProgressEntry) []TranscriptItem {
	byID := make(map[string]*domain.QuestionDefinition, len(intake.Questions))
	for i := range intake.Questions {
		byID[intake.Questions[i].ID] = &intake.Questions[i]
	}

	items := make([]TranscriptItem, 0, len(transcript))
	for _, e := range transcript {
		answer := e.Answer
		answer.Other = e.EscapeText
		text := answer.Text
		if q, ok := byID[e.QuestionID]; ok {
			text = reflection.AnswerText(q, answer)
		} else if answer.IsList() {
			text = reflection.AnswerText(&domain.QuestionDefinition{}, answer)
		}
		items = append(items, TranscriptItem{
			Question:   e.QuestionPrompt,
			Answer:     text,
			Reflection: e.Reflection,
		})
	}
	return items
}
