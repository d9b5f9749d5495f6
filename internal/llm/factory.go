package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config holds provider credentials and the requested default.
type Config struct {
	Provider     Provider // empty means auto-detect from available keys
	Model        string
	AnthropicKey string
	OpenAIKey    string
	GeminiKey    string
	OllamaHost   string
}

// ProviderInfo describes a configurable provider.
type ProviderInfo struct {
	ID           Provider `json:"id"`
	Name         string   `json:"name"`
	Available    bool     `json:"available"`
	DefaultModel string   `json:"default_model"`
}

// Factory creates LLM clients on demand.
type Factory struct {
	cfg        Config
	log        *zap.Logger
	defaultPrv Provider
	defaultMod string
}

// NewFactory creates a new LLM client factory.
// Without an explicit provider it prefers Anthropic > Google > OpenAI, and
// falls back to Ollama when only a host is configured.
func NewFactory(cfg Config, log *zap.Logger) *Factory {
	f := &Factory{cfg: cfg, log: orNop(log)}

	f.defaultPrv = cfg.Provider
	if f.defaultPrv == "" {
		switch {
		case cfg.AnthropicKey != "":
			f.defaultPrv = ProviderAnthropic
		case cfg.GeminiKey != "":
			f.defaultPrv = ProviderGoogle
		case cfg.OpenAIKey != "":
			f.defaultPrv = ProviderOpenAI
		case cfg.OllamaHost != "":
			f.defaultPrv = ProviderOllama
		}
	}

	f.defaultMod = cfg.Model
	if f.defaultMod == "" {
		f.defaultMod = defaultModel(f.defaultPrv)
	}
	return f
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderAnthropic:
		return "claude-sonnet-4-20250514"
	case ProviderGoogle:
		return "gemini-2.5-flash"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.2"
	case ProviderMock:
		return "mock-model"
	}
	return ""
}

func (f *Factory) available(p Provider) bool {
	switch p {
	case ProviderAnthropic:
		return f.cfg.AnthropicKey != ""
	case ProviderGoogle:
		return f.cfg.GeminiKey != ""
	case ProviderOpenAI:
		return f.cfg.OpenAIKey != ""
	case ProviderOllama:
		return f.cfg.OllamaHost != ""
	case ProviderMock:
		return true
	}
	return false
}

// Available returns true if the default provider can be used.
func (f *Factory) Available() bool {
	return f.defaultPrv != "" && f.available(f.defaultPrv)
}

// DefaultProvider returns the default provider.
func (f *Factory) DefaultProvider() Provider { return f.defaultPrv }

// DefaultModel returns the default model.
func (f *Factory) DefaultModel() string { return f.defaultMod }

// ListProviders returns all providers with their availability status.
func (f *Factory) ListProviders() []ProviderInfo {
	providers := []struct {
		id   Provider
		name string
	}{
		{ProviderAnthropic, "Anthropic Claude"},
		{ProviderGoogle, "Google Gemini"},
		{ProviderOpenAI, "OpenAI"},
		{ProviderOllama, "Ollama"},
	}
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{
			ID:           p.id,
			Name:         p.name,
			Available:    f.available(p.id),
			DefaultModel: defaultModel(p.id),
		})
	}
	return out
}

// CreateClient creates a client for the specified provider and model,
// wrapped with tracing and usage logging.
func (f *Factory) CreateClient(ctx context.Context, provider Provider, model string) (Client, error) {
	if !f.available(provider) {
		return nil, fmt.Errorf("provider %q not configured", provider)
	}

	var c Client
	switch provider {
	case ProviderAnthropic:
		c = NewAnthropicClient(f.cfg.AnthropicKey, model, f.log)
	case ProviderGoogle:
		gc, err := NewGeminiClient(ctx, f.cfg.GeminiKey, model, f.log)
		if err != nil {
			return nil, err
		}
		c = gc
	case ProviderOpenAI:
		c = NewOpenAIClient(f.cfg.OpenAIKey, model, f.log)
	case ProviderOllama:
		c = NewOllamaClient(f.cfg.OllamaHost, model, f.log)
	case ProviderMock:
		c = NewScriptedMockClient()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	return WithTelemetry(c, f.log), nil
}

// CreateDefaultClient creates a client with the default provider and model.
func (f *Factory) CreateDefaultClient(ctx context.Context) (Client, error) {
	if !f.Available() {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	return f.CreateClient(ctx, f.defaultPrv, f.defaultMod)
}
