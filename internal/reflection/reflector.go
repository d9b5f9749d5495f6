package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/llm"
)

// Generation parameters for reflections.
const (
	reflectionTemperature = 0.7
	reflectionMaxTokens   = 200
)

// Result is an executed plan.
type Result struct {
	Text  string
	Kind  domain.ReflectionKind
	Usage domain.Usage
}

// Reflector executes reflection plans.
type Reflector struct {
	client        llm.Client
	log           *zap.Logger
	timeout       time.Duration
	promptVersion llm.PromptVersion
}

// NewReflector creates a Reflector. A zero timeout means no deadline beyond ctx.
// client may be nil when no intake needs generated reflections.
func NewReflector(client llm.Client, log *zap.Logger, timeout time.Duration) *Reflector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reflector{
		client:        client,
		log:           log,
		timeout:       timeout,
		promptVersion: llm.PromptVersionV1,
	}
}

// Reflect decides the plan for q and executes it against a validated answer.
// Generation failures and timeouts wrap domain.ErrGeneration.
func (r *Reflector) Reflect(ctx context.Context, intake *domain.IntakeDefinition, q *domain.QuestionDefinition, answer domain.Answer) (*Result, error) {
	plan := Decide(intake, q)

	switch p := plan.(type) {
	case Skip:
		return &Result{Text: intake.Acknowledgment, Kind: p.Kind()}, nil

	case Template:
		text := Select(q, p.Table, answer.Values)
		if text == "" {
			r.log.Warn("no template tier matched, using acknowledgment",
				zap.String("intake", intake.Type),
				zap.String("question", q.ID),
				zap.Int("selected", len(answer.Values)))
			text = intake.Acknowledgment
		}
		return &Result{Text: text, Kind: p.Kind()}, nil

	case Generate:
		return r.generate(ctx, intake, q, answer)
	}
	return nil, fmt.Errorf("unknown reflection plan %T", plan)
}

func (r *Reflector) generate(ctx context.Context, intake *domain.IntakeDefinition, q *domain.QuestionDefinition, answer domain.Answer) (*Result, error) {
	if r.client == nil {
		return nil, fmt.Errorf("%w: no generator configured", domain.ErrGeneration)
	}

	system, err := llm.LoadPrompt(llm.RoleReflectionSystem, r.promptVersion)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}
	user, err := llm.LoadPrompt(llm.RoleReflection, r.promptVersion)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}

	req := llm.NewRequest(
		system.Render(map[string]string{"GUIDE": intake.ReflectionGuide}),
		user.Render(map[string]string{
			"QUESTION": q.Prompt,
			"ANSWER":   AnswerText(q, answer),
		}),
	)
	req.Temperature = reflectionTemperature
	req.MaxTokens = reflectionMaxTokens

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: reflection timed out after %s", domain.ErrGeneration, r.timeout)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
	}

	text := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if text == "" {
		return nil, fmt.Errorf("%w: empty reflection", domain.ErrGeneration)
	}
	return &Result{Text: text, Kind: domain.ReflectionKindGenerate, Usage: resp.Usage}, nil
}

// AnswerText renders an answer the way a person would read it: literal text,
// or the selected labels followed by any escape text.
func AnswerText(q *domain.QuestionDefinition, answer domain.Answer) string {
	if !answer.IsList() {
		return answer.Text
	}
	text := strings.Join(q.Labels(answer.Values), ", ")
	if answer.Other != "" {
		text += " (" + answer.Other + ")"
	}
	return text
}
