package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/dshills/intakeflow/internal/llm"

// tracedClient wraps a Client with a span and a usage log line per call.
type tracedClient struct {
	next   Client
	log    *zap.Logger
	tracer trace.Tracer
}

// WithTelemetry wraps c so every call is traced and its usage logged.
// Usage is passed through untouched.
func WithTelemetry(c Client, log *zap.Logger) Client {
	return &tracedClient{
		next:   c,
		log:    orNop(log),
		tracer: otel.Tracer(tracerName),
	}
}

func (t *tracedClient) Provider() Provider { return t.next.Provider() }
func (t *tracedClient) Model() string      { return t.next.Model() }

func (t *tracedClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := t.tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(
			attribute.String("llm.provider", string(t.next.Provider())),
			attribute.String("llm.model", t.next.Model()),
			attribute.Bool("llm.structured", len(req.Schema) > 0),
		),
	)
	defer span.End()

	resp, err := t.next.Complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		t.log.Warn("llm call failed",
			zap.String("provider", string(t.next.Provider())),
			zap.String("model", t.next.Model()),
			zap.Error(err))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.usage.prompt", resp.Usage.PromptUnits),
		attribute.Int("llm.usage.completion", resp.Usage.CompletionUnits),
		attribute.Int("llm.usage.total", resp.Usage.TotalUnits),
		attribute.Int64("llm.duration_ms", resp.Duration.Milliseconds()),
	)
	t.log.Info("llm call",
		zap.String("provider", string(t.next.Provider())),
		zap.String("model", resp.Model),
		zap.Int("prompt_units", resp.Usage.PromptUnits),
		zap.Int("completion_units", resp.Usage.CompletionUnits),
		zap.Int("total_units", resp.Usage.TotalUnits),
		zap.Int64("duration_ms", resp.Duration.Milliseconds()))
	return resp, nil
}
