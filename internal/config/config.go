// Package config loads server settings from an optional YAML file and INTAKE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dshills/intakeflow/internal/domain"
	"github.com/dshills/intakeflow/internal/llm"
)

// StoreKind selects the transcript store backend.
type StoreKind string

const (
	StoreSQLite StoreKind = "sqlite"
	StoreRedis  StoreKind = "redis"
	StoreMongo  StoreKind = "mongo"
	StoreMemory StoreKind = "memory"
)

// Config holds all runtime settings. API keys are read from the environment only.
type Config struct {
	Port        string    `yaml:"port"`
	Store       StoreKind `yaml:"store"`
	DBPath      string    `yaml:"db_path"`
	CORSOrigins string    `yaml:"cors_origins"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"-"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPrefix   string        `yaml:"redis_prefix"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`

	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	LLMProvider       string        `yaml:"llm_provider"`
	LLMModel          string        `yaml:"llm_model"`
	OllamaHost        string        `yaml:"ollama_host"`
	ReflectionTimeout time.Duration `yaml:"reflection_timeout"`
	CompletionTimeout time.Duration `yaml:"completion_timeout"`

	DefinitionsDir string `yaml:"definitions_dir"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	AnthropicKey string `yaml:"-"`
	OpenAIKey    string `yaml:"-"`
	GeminiKey    string `yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:              "8080",
		Store:             StoreSQLite,
		DBPath:            "data/intake.db",
		CORSOrigins:       "*",
		RedisAddr:         "localhost:6379",
		RedisPrefix:       "intake",
		MongoURI:          "mongodb://localhost:27017",
		MongoDatabase:     "intake",
		ReflectionTimeout: 20 * time.Second,
		CompletionTimeout: 90 * time.Second,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load reads path (if non-empty) over the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", domain.ErrConfiguration, path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrConfiguration, name, err)
		}
		*dst = d
		return nil
	}

	str("INTAKE_API_PORT", &c.Port)
	var store string
	str("INTAKE_STORE", &store)
	if store != "" {
		c.Store = StoreKind(strings.ToLower(store))
	}
	str("INTAKE_DB_PATH", &c.DBPath)
	str("INTAKE_CORS_ORIGINS", &c.CORSOrigins)
	str("INTAKE_REDIS_ADDR", &c.RedisAddr)
	str("INTAKE_REDIS_PASSWORD", &c.RedisPassword)
	str("INTAKE_REDIS_PREFIX", &c.RedisPrefix)
	if v, ok := os.LookupEnv("INTAKE_REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: INTAKE_REDIS_DB: %v", domain.ErrConfiguration, err)
		}
		c.RedisDB = n
	}
	str("INTAKE_MONGO_URI", &c.MongoURI)
	str("INTAKE_MONGO_DATABASE", &c.MongoDatabase)
	str("INTAKE_LLM_PROVIDER", &c.LLMProvider)
	str("INTAKE_LLM_MODEL", &c.LLMModel)
	str("OLLAMA_HOST", &c.OllamaHost)
	str("INTAKE_DEFINITIONS_DIR", &c.DefinitionsDir)
	str("INTAKE_LOG_LEVEL", &c.LogLevel)
	str("INTAKE_LOG_FORMAT", &c.LogFormat)
	str("ANTHROPIC_API_KEY", &c.AnthropicKey)
	str("OPENAI_API_KEY", &c.OpenAIKey)
	str("GEMINI_API_KEY", &c.GeminiKey)

	return errors.Join(
		dur("INTAKE_REDIS_TTL", &c.RedisTTL),
		dur("INTAKE_REFLECTION_TIMEOUT", &c.ReflectionTimeout),
		dur("INTAKE_COMPLETION_TIMEOUT", &c.CompletionTimeout),
	)
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite store"))
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis store"))
		}
	case StoreMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("mongo_uri and mongo_database are required for the mongo store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.ReflectionTimeout < 0 || c.CompletionTimeout < 0 || c.RedisTTL < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	switch llm.Provider(c.LLMProvider) {
	case "", llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGoogle, llm.ProviderOllama, llm.ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLMProvider))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	return nil
}

// LLM returns the provider settings for llm.NewFactory.
func (c *Config) LLM() llm.Config {
	return llm.Config{
		Provider:     llm.Provider(c.LLMProvider),
		Model:        c.LLMModel,
		AnthropicKey: c.AnthropicKey,
		OpenAIKey:    c.OpenAIKey,
		GeminiKey:    c.GeminiKey,
		OllamaHost:   c.OllamaHost,
	}
}

// Fields describes the configuration for a startup log line. Secrets are reported by presence only.
func (c *Config) Fields() []zap.Field {
	var keys []string
	for name, v := range map[string]string{
		"ANTHROPIC_API_KEY": c.AnthropicKey,
		"GEMINI_API_KEY":    c.GeminiKey,
		"OPENAI_API_KEY":    c.OpenAIKey,
	} {
		if v != "" {
			keys = append(keys, name)
		}
	}
	slices.Sort(keys)

	fields := []zap.Field{
		zap.String("port", c.Port),
		zap.String("store", string(c.Store)),
		zap.String("cors_origins", c.CORSOrigins),
		zap.String("llm_provider", orAuto(c.LLMProvider)),
		zap.String("llm_model", orAuto(c.LLMModel)),
		zap.Duration("reflection_timeout", c.ReflectionTimeout),
		zap.Duration("completion_timeout", c.CompletionTimeout),
		zap.Strings("api_keys", keys),
	}
	switch c.Store {
	case StoreSQLite:
		fields = append(fields, zap.String("db_path", c.DBPath))
	case StoreRedis:
		fields = append(fields, zap.String("redis_addr", c.RedisAddr), zap.Int("redis_db", c.RedisDB))
	case StoreMongo:
		fields = append(fields, zap.String("mongo_database", c.MongoDatabase))
	}
	if c.DefinitionsDir != "" {
		fields = append(fields, zap.String("definitions_dir", c.DefinitionsDir))
	}
	return fields
}

func orAuto(s string) string {
	if s == "" {
		return "(auto-detect)"
	}
	return s
}
