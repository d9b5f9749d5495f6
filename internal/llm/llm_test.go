package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```JSON\n{}\n```", `{}`},
		{"```\nplain\n```", "plain"},
		{"  no fences  ", "no fences"},
	}
	for _, tt := range tests {
		if got := stripMarkdownCodeBlock(tt.in); got != tt.want {
			t.Errorf("stripMarkdownCodeBlock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSystemPrompt(t *testing.T) {
	system, rest := SystemPrompt(NewRequest("sys", "user"))
	if system != "sys" || len(rest) != 1 || rest[0].Role != "user" {
		t.Errorf("SystemPrompt = %q, %+v", system, rest)
	}

	system, rest = SystemPrompt(NewRequest("", "user"))
	if system != "" || len(rest) != 1 {
		t.Errorf("SystemPrompt without system = %q, %+v", system, rest)
	}
}

func TestPrompts(t *testing.T) {
	for _, role := range []string{RoleReflectionSystem, RoleReflection, RoleCompletionSystem, RoleCompletion} {
		t.Run(role, func(t *testing.T) {
			p, err := LoadPrompt(role, PromptVersionV1)
			if err != nil {
				t.Fatalf("LoadPrompt failed: %v", err)
			}
			if strings.TrimSpace(p.Template) == "" {
				t.Error("empty template")
			}
		})
	}

	if _, err := LoadPrompt("nope", PromptVersionV1); err == nil {
		t.Error("Expected error for unknown role")
	}
}

func TestRender(t *testing.T) {
	p := &PromptTemplate{Template: "  Q: {{QUESTION}}\nA: {{ANSWER}}{{UNSET}}\n"}
	got := p.Render(map[string]string{"QUESTION": "How are you?", "ANSWER": "Tired"})
	if got != "Q: How are you?\nA: Tired" {
		t.Errorf("Render = %q", got)
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient("fallback")
	m.Responses = []string{"first"}

	ctx := context.Background()
	r1, err := m.Complete(ctx, NewRequest("", "a"))
	if err != nil || r1.Content != "first" {
		t.Fatalf("first call = %+v, %v", r1, err)
	}
	r2, _ := m.Complete(ctx, NewRequest("", "b"))
	if r2.Content != "fallback" {
		t.Errorf("second call = %q, want fallback", r2.Content)
	}
	if m.Calls() != 2 || m.Last().Messages[0].Content != "b" {
		t.Errorf("Calls = %d, Last = %+v", m.Calls(), m.Last())
	}

	m.Error = errors.New("down")
	if _, err := m.Complete(ctx, NewRequest("", "c")); err == nil {
		t.Error("Expected configured error")
	}
}

func TestMockClientDelayHonorsContext(t *testing.T) {
	m := NewMockClient("slow")
	m.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Complete(ctx, NewRequest("", "a")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestMockClientConcurrent(t *testing.T) {
	m := NewMockClient("ok")
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Complete(context.Background(), NewRequest("", "x"))
		}()
	}
	wg.Wait()
	if m.Calls() != 16 {
		t.Errorf("Calls = %d, want 16", m.Calls())
	}
}

func TestScriptedMockClient(t *testing.T) {
	m := NewScriptedMockClient()
	req := NewRequest("", "x")

	plain, _ := m.Complete(context.Background(), req)
	if strings.HasPrefix(plain.Content, "{") {
		t.Errorf("plain request returned JSON: %q", plain.Content)
	}

	req.Schema = []byte(`{}`)
	structured, _ := m.Complete(context.Background(), req)
	if !strings.HasPrefix(structured.Content, "{") {
		t.Errorf("structured request returned %q", structured.Content)
	}
}

func TestFactory(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		provider Provider
		model    string
	}{
		{"none", Config{}, "", ""},
		{"anthropic preferred", Config{AnthropicKey: "a", OpenAIKey: "o"}, ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"google over openai", Config{GeminiKey: "g", OpenAIKey: "o"}, ProviderGoogle, "gemini-2.5-flash"},
		{"ollama host", Config{OllamaHost: "http://x"}, ProviderOllama, "llama3.2"},
		{"explicit", Config{Provider: ProviderMock, Model: "m1"}, ProviderMock, "m1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactory(tt.cfg, nil)
			if f.DefaultProvider() != tt.provider || f.DefaultModel() != tt.model {
				t.Errorf("default = %s/%s, want %s/%s", f.DefaultProvider(), f.DefaultModel(), tt.provider, tt.model)
			}
			if f.Available() != (tt.provider != "") {
				t.Errorf("Available = %v", f.Available())
			}
		})
	}
}

func TestFactoryCreateClient(t *testing.T) {
	f := NewFactory(Config{OpenAIKey: "o"}, nil)
	ctx := context.Background()

	c, err := f.CreateDefaultClient(ctx)
	if err != nil {
		t.Fatalf("CreateDefaultClient failed: %v", err)
	}
	if c.Provider() != ProviderOpenAI || c.Model() != "gpt-4o-mini" {
		t.Errorf("client = %s/%s", c.Provider(), c.Model())
	}

	if _, err := f.CreateClient(ctx, ProviderAnthropic, ""); err == nil {
		t.Error("Expected error for unconfigured provider")
	}

	providers := f.ListProviders()
	if len(providers) != 4 {
		t.Fatalf("ListProviders returned %d", len(providers))
	}
	for _, p := range providers {
		if p.Available != (p.ID == ProviderOpenAI) {
			t.Errorf("%s Available = %v", p.ID, p.Available)
		}
	}

	if _, err := NewFactory(Config{}, nil).CreateDefaultClient(ctx); err == nil {
		t.Error("Expected error without any provider")
	}
}

func TestWithTelemetry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mock := NewMockClient("ok")
	c := WithTelemetry(mock, zap.New(core))

	if _, err := c.Complete(context.Background(), NewRequest("", "x")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	entries := logs.FilterMessage("llm call").All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 usage log line, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["total_units"]; got != int64(15) {
		t.Errorf("total_units = %v, want 15", got)
	}

	mock.Error = errors.New("down")
	if _, err := c.Complete(context.Background(), NewRequest("", "x")); err == nil {
		t.Error("Expected error to pass through")
	}
	if logs.FilterMessage("llm call failed").Len() != 1 {
		t.Error("Expected failure log line")
	}
	if c.Provider() != ProviderMock || c.Model() != "mock-model" {
		t.Error("telemetry wrapper should delegate identity")
	}
}
