package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
)

// Provider represents an LLM provider.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderOllama    Provider = "ollama"
	ProviderMock      Provider = "mock"
)

// Request represents a generation request.
type Request struct {
	Messages    []Message
	Temperature float64
	Seed        *int
	MaxTokens   int
	// Schema, when set, asks the provider for JSON output matching it.
	Schema json.RawMessage
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Response represents a generation response.
// Content is raw text, or JSON matching Request.Schema when one was given.
type Response struct {
	Content  string
	Model    string
	Usage    domain.Usage
	Duration time.Duration
}

// Client is the interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Provider() Provider
	Model() string
}

// NewRequest builds a request from a system prompt and a user prompt.
func NewRequest(systemPrompt, prompt string) Request {
	var msgs []Message
	if systemPrompt != "" {
		msgs = append(msgs, Message{Role: "system", Content: systemPrompt})
	}
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return Request{Messages: msgs}
}

// SystemPrompt returns the system message content of req and the remaining messages.
func SystemPrompt(req Request) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}

var (
	// ErrInvalidResponse indicates the LLM returned an invalid response.
	ErrInvalidResponse = errors.New("invalid LLM response")

	// ErrRateLimit indicates rate limiting was hit.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrProviderError indicates a provider-specific error.
	ErrProviderError = errors.New("provider error")
)
