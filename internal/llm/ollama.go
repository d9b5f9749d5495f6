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

// Default Ollama endpoint
const defaultOllamaHost = "http://localhost:11434"

// OllamaClient implements Client for an Ollama local LLM server.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
	log     *zap.Logger
}

// NewOllamaClient creates a new Ollama client. An empty host defaults to localhost:11434.
func NewOllamaClient(host, model string, log *zap.Logger) *OllamaClient {
	if host == "" {
		host = defaultOllamaHost
	}
	if model == "" {
		model = "llama3.2"
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(host, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second}, // local inference is slow
		log:     orNop(log).With(zap.String("provider", string(ProviderOllama)), zap.String("model", model)),
	}
}

func (c *OllamaClient) Provider() Provider { return ProviderOllama }
func (c *OllamaClient) Model() string      { return c.model }

// ollamaRequest represents the request to Ollama's /api/chat endpoint.
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	// Format is either "json" or a JSON schema object.
	Format json.RawMessage `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	Seed        int     `json:"seed,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"` // max tokens
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
	Error           string        `json:"error,omitempty"`
}

// Complete sends a chat request to Ollama.
func (c *OllamaClient) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, ollamaMessage{Role: m.Role, Content: m.Content})
	}

	options := &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens}
	if req.Seed != nil {
		options.Seed = *req.Seed
	}

	oreq := ollamaRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	}
	if len(req.Schema) > 0 {
		oreq.Format = req.Schema
	}

	body, status, err := postJSON(ctx, c.client, c.log, c.baseURL+"/api/chat", nil, oreq)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderError, status, truncate(body, 500))
	}

	var oresp ollamaResponse
	if err := json.Unmarshal(body, &oresp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w (body: %s)", err, truncate(body, 500))
	}
	if oresp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderError, oresp.Error)
	}
	if oresp.Message.Content == "" {
		return nil, fmt.Errorf("%w: no content in response", ErrInvalidResponse)
	}
	if oresp.DoneReason == "length" {
		return nil, fmt.Errorf("%w: response truncated (hit token limit)", ErrInvalidResponse)
	}

	return &Response{
		Content: stripMarkdownCodeBlock(oresp.Message.Content),
		Model:   c.model,
		Usage: domain.Usage{
			PromptUnits:     oresp.PromptEvalCount,
			CompletionUnits: oresp.EvalCount,
			TotalUnits:      oresp.PromptEvalCount + oresp.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}
