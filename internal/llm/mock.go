package llm

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/intakeflow/internal/domain"
)

// MockClient is a mock LLM client for testing. It is safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	// Response is returned once Responses is exhausted.
	Response string
	// Responses are returned in order, one per call.
	Responses []string
	// Handler, when set, computes the response from the request.
	Handler func(Request) (string, error)
	Error   error
	Delay   time.Duration
	Usage   domain.Usage

	CallCount   int
	LastRequest *Request
}

// NewMockClient creates a new mock LLM client.
func NewMockClient(response string) *MockClient {
	return &MockClient{
		Response: response,
		Usage:    domain.Usage{PromptUnits: 10, CompletionUnits: 5, TotalUnits: 15},
	}
}

// Complete returns the mock response.
func (c *MockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	c.mu.Lock()
	c.CallCount++
	c.LastRequest = &req
	delay, handler, mockErr := c.Delay, c.Handler, c.Error
	content := c.Response
	if len(c.Responses) > 0 {
		content = c.Responses[0]
		c.Responses = c.Responses[1:]
	}
	usage := c.Usage
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if mockErr != nil {
		return nil, mockErr
	}
	if handler != nil {
		var err error
		content, err = handler(req)
		if err != nil {
			return nil, err
		}
	}

	return &Response{
		Content:  content,
		Model:    "mock-model",
		Usage:    usage,
		Duration: delay,
	}, nil
}

// NewScriptedMockClient returns a mock that answers structured requests with a
// fixed completion payload and plain requests with a short reflection, so a
// full intake can run locally without a provider.
func NewScriptedMockClient() *MockClient {
	c := NewMockClient("")
	c.Handler = func(req Request) (string, error) {
		if len(req.Schema) > 0 {
			return scriptedCompletion, nil
		}
		return "Thank you for putting that into words. It sounds like this matters a lot to you.", nil
	}
	return c
}

const scriptedCompletion = `{"personalized_brief":"You shared what has been weighing on you and what you hope will change.","first_session_guide":"Your first session is a conversation about what you shared here. Bring anything that feels important.","experiments":["Notice one moment each day when you feel a little lighter."]}`

// Calls returns the number of Complete calls so far.
func (c *MockClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

// Last returns the most recent request, or nil.
func (c *MockClient) Last() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LastRequest
}

// Provider returns the mock provider.
func (c *MockClient) Provider() Provider {
	return ProviderMock
}

// Model returns the mock model name.
func (c *MockClient) Model() string {
	return "mock-model"
}

// Ensure MockClient implements Client
var _ Client = (*MockClient)(nil)
