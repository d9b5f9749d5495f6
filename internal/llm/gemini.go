package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient implements Client for Google Gemini through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		model:  model,
		log:    orNop(log).With(zap.String("provider", string(ProviderGoogle)), zap.String("model", model)),
	}, nil
}

func (c *GeminiClient) Provider() Provider { return ProviderGoogle }
func (c *GeminiClient) Model() string      { return c.model }

// Complete sends a generateContent request. A request schema is passed as a
// native JSON response schema.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	system, rest := SystemPrompt(req)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temperature := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Schema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(req.Schema, &schema); err != nil {
			return nil, fmt.Errorf("decode response schema: %w", err)
		}
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = schema
	}

	c.log.Debug("sending request", zap.Int("messages", len(contents)))
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderError, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrInvalidResponse)
	}
	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		return nil, fmt.Errorf("%w: response truncated (hit token limit)", ErrInvalidResponse)
	}

	content := resp.Text()
	if content == "" {
		return nil, fmt.Errorf("%w: no content in response", ErrInvalidResponse)
	}

	var usage domain.Usage
	if md := resp.UsageMetadata; md != nil {
		usage = domain.Usage{
			PromptUnits:     int(md.PromptTokenCount),
			CompletionUnits: int(md.CandidatesTokenCount),
			TotalUnits:      int(md.TotalTokenCount),
		}
	}

	return &Response{
		Content:  stripMarkdownCodeBlock(content),
		Model:    c.model,
		Usage:    usage,
		Duration: time.Since(start),
	}, nil
}
