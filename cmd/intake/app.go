package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/intakeflow/internal/config"
	"github.com/dshills/intakeflow/internal/intake"
	"github.com/dshills/intakeflow/internal/llm"
	"github.com/dshills/intakeflow/internal/logging"
	"github.com/dshills/intakeflow/internal/reflection"
	"github.com/dshills/intakeflow/internal/registry"
	"github.com/dshills/intakeflow/internal/repository"
	"github.com/dshills/intakeflow/internal/repository/mock"
	"github.com/dshills/intakeflow/internal/repository/mongostore"
	"github.com/dshills/intakeflow/internal/repository/redisstore"
	"github.com/dshills/intakeflow/internal/repository/sqlite"
	"github.com/dshills/intakeflow/internal/synthesizer"
	"github.com/dshills/intakeflow/internal/validator"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *registry.Registry
	store    repository.TranscriptStore
	factory  *llm.Factory
	proc     *intake.Processor
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat))
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func loadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.DefinitionsDir != "" {
		return registry.Load(cfg.DefinitionsDir)
	}
	return registry.LoadDefault()
}

// openStore opens the configured backend. kind overrides cfg.Store when set.
func openStore(ctx context.Context, cfg *config.Config, kind config.StoreKind) (repository.TranscriptStore, error) {
	if kind == "" {
		kind = cfg.Store
	}
	switch kind {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		return sqlite.New(cfg.DBPath)
	case config.StoreRedis:
		client, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return redisstore.New(client, cfg.RedisPrefix, cfg.RedisTTL), nil
	case config.StoreMongo:
		return mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.StoreMemory:
		return mock.New(), nil
	}
	return nil, fmt.Errorf("unknown store %q", kind)
}

func newApp(ctx context.Context, storeKind config.StoreKind) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log.Info("configuration", cfg.Fields()...)

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	val, err := validator.New()
	if err != nil {
		return nil, fmt.Errorf("init validator: %w", err)
	}

	factory := llm.NewFactory(cfg.LLM(), log)
	var client llm.Client
	if factory.Available() {
		client, err = factory.CreateDefaultClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init llm client: %w", err)
		}
		log.Info("llm client initialized",
			zap.String("provider", string(client.Provider())),
			zap.String("model", client.Model()))
	} else {
		log.Warn("no LLM provider configured, generated reflections and completion will fail")
	}

	store, err := openStore(ctx, cfg, storeKind)
	if err != nil {
		return nil, err
	}

	proc := intake.NewProcessor(reg, store,
		reflection.NewReflector(client, log, cfg.ReflectionTimeout),
		synthesizer.NewService(client, val, log, cfg.CompletionTimeout),
		log)

	return &app{
		cfg:      cfg,
		log:      log,
		registry: reg,
		store:    store,
		factory:  factory,
		proc:     proc,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	_ = a.log.Sync()
}
