package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
	"go.uber.org/zap"
)

const openAIEndpoint = "https://api.openai.com/v1/chat/completions"

// OpenAIClient implements Client for OpenAI.
type OpenAIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey, model string, log *zap.Logger) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: openAIEndpoint,
		client:   &http.Client{Timeout: 120 * time.Second},
		log:      orNop(log).With(zap.String("provider", string(ProviderOpenAI)), zap.String("model", model)),
	}
}

func (c *OpenAIClient) Provider() Provider { return ProviderOpenAI }
func (c *OpenAIClient) Model() string      { return c.model }

type openAIRequest struct {
	Model               string                `json:"model"`
	Messages            []openAIMessage       `json:"messages"`
	Temperature         float64               `json:"temperature,omitempty"`
	MaxTokens           int                   `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                   `json:"max_completion_tokens,omitempty"`
	Seed                *int                  `json:"seed,omitempty"`
	ResponseFormat      *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// usesCompletionTokens returns true if the model uses max_completion_tokens
// instead of max_tokens. Only legacy models (gpt-3.5, gpt-4 without suffix) use max_tokens.
func usesCompletionTokens(model string) bool {
	m := strings.ToLower(model)
	if strings.HasPrefix(m, "gpt-3.5") || m == "gpt-4" || strings.HasPrefix(m, "gpt-4-") {
		return false
	}
	return true
}

// Complete sends a chat completion request to OpenAI.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	messages := make([]openAIMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openAIMessage{Role: m.Role, Content: m.Content}
	}

	oreq := openAIRequest{
		Model:    c.model,
		Messages: messages,
		Seed:     req.Seed,
	}
	if usesCompletionTokens(c.model) {
		oreq.MaxCompletionTokens = req.MaxTokens
	} else {
		oreq.Temperature = req.Temperature
		oreq.MaxTokens = req.MaxTokens
	}
	if len(req.Schema) > 0 {
		oreq.ResponseFormat = &openAIResponseFormat{
			Type:       "json_schema",
			JSONSchema: &openAIJSONSchema{Name: "output", Schema: req.Schema},
		}
	}

	body, status, err := postJSON(ctx, c.client, c.log, c.endpoint, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, oreq)
	if err != nil {
		return nil, err
	}

	var oresp openAIResponse
	if err := json.Unmarshal(body, &oresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (status %d)", err, status)
	}
	if oresp.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderError, oresp.Error.Message)
	}
	if len(oresp.Choices) == 0 {
		return nil, ErrInvalidResponse
	}
	if oresp.Choices[0].FinishReason == "length" {
		return nil, fmt.Errorf("%w: response truncated (hit token limit)", ErrInvalidResponse)
	}

	return &Response{
		Content: oresp.Choices[0].Message.Content,
		Model:   oresp.Model,
		Usage: domain.Usage{
			PromptUnits:     oresp.Usage.PromptTokens,
			CompletionUnits: oresp.Usage.CompletionTokens,
			TotalUnits:      oresp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}
