package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"go.uber.org/zap"
)

const anthropicMessagesEndpoint = "https://api.anthropic.com/v1/messages"
const anthropicAPIVersion = "2023-06-01"

// AnthropicClient implements Client for Anthropic Claude.
type AnthropicClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, model string, log *zap.Logger) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicMessagesEndpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
		log:      orNop(log).With(zap.String("provider", string(ProviderAnthropic)), zap.String("model", model)),
	}
}

func (c *AnthropicClient) Provider() Provider { return ProviderAnthropic }
func (c *AnthropicClient) Model() string      { return c.model }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a messages request to Anthropic.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	system, rest := SystemPrompt(req)
	system += schemaInstruction(req.Schema)

	messages := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		messages = append(messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	areq := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		areq.Temperature = &t
	}

	body, status, err := postJSON(ctx, c.client, c.log, c.endpoint, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}, areq)
	if err != nil {
		return nil, err
	}

	var aresp anthropicResponse
	if err := json.Unmarshal(body, &aresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (status %d, body: %s)", err, status, truncate(body, 500))
	}
	if aresp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderError, aresp.Error.Message)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrProviderError, status)
	}

	var content string
	for _, part := range aresp.Content {
		if part.Type == "text" {
			content += part.Text
		}
	}
	if content == "" {
		return nil, fmt.Errorf("%w: no content in response", ErrInvalidResponse)
	}
	if aresp.StopReason == "max_tokens" {
		return nil, fmt.Errorf("%w: response truncated (hit token limit)", ErrInvalidResponse)
	}

	return &Response{
		Content: stripMarkdownCodeBlock(content),
		Model:   c.model,
		Usage: domain.Usage{
			PromptUnits:     aresp.Usage.InputTokens,
			CompletionUnits: aresp.Usage.OutputTokens,
			TotalUnits:      aresp.Usage.InputTokens + aresp.Usage.OutputTokens,
		},
		Duration: time.Since(start),
	}, nil
}
