package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/catalogqa/internal/advisor"
	"github.com/MikeSquared-Agency/catalogqa/internal/anthropic"
	"github.com/MikeSquared-Agency/catalogqa/internal/cache"
	"github.com/MikeSquared-Agency/catalogqa/internal/catalog"
	"github.com/MikeSquared-Agency/catalogqa/internal/config"
	"github.com/MikeSquared-Agency/catalogqa/internal/extractor"
	"github.com/MikeSquared-Agency/catalogqa/internal/gateway"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
	"github.com/MikeSquared-Agency/catalogqa/internal/session"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  *catalog.Catalog
	sessions *session.Store
	gateway  *gateway.Gateway
	cache    cache.Cache
	proc     *processor.Processor
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...processor.Option) (*app, error) {
	cat, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(newProvider(cfg), gateway.Config{
		MaxAttempts:    cfg.ModelAttempts,
		AttemptTimeout: cfg.ModelAttemptTimeout,
		TotalBudget:    cfg.ModelTotalBudget,
	}, logger)
	if !gw.Mock() {
		logger.Info("model gateway ready", "provider", gw.Provider())
	}

	var advOpts []advisor.Option
	if cfg.AdvisorUseModel && !gw.Mock() {
		advOpts = append(advOpts, advisor.WithModel(gw, cfg.AdvisorTimeout))
	}

	answers, err := openCache(ctx, cfg, logger)
	if err != nil {
		cat.Close()
		return nil, err
	}

	sessions := session.NewStore(session.Config{
		Timeout:      cfg.SessionTimeout,
		MaxTurns:     cfg.SessionMaxTurns,
		MaxMessages:  cfg.SessionMaxMessages,
		ContextTurns: cfg.SessionContextTurns,
	}, logger)

	opts = append([]processor.Option{processor.WithCache(answers)}, opts...)
	proc := processor.New(sessions, gw, extractor.New(logger), advisor.New(logger, advOpts...), cat, logger, opts...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		catalog:  cat,
		sessions: sessions,
		gateway:  gw,
		cache:    answers,
		proc:     proc,
	}, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing answer cache", "error", err)
	}
	a.catalog.Close()
}

func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*catalog.Catalog, error) {
	if cfg.DatabaseURL != "" {
		cat, err := catalog.OpenPostgres(ctx, cfg.DatabaseURL, cfg.CatalogTable, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to catalog database: %w", err)
		}
		logger.Info("catalog connected", "backend", "postgres")
		return cat, nil
	}

	cat, err := catalog.OpenSQLite(ctx, cfg.SQLitePath, cfg.CatalogTable, logger)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite catalog: %w", err)
	}
	if cfg.SeedDemo {
		if err := cat.SeedDemo(ctx); err != nil {
			cat.Close()
			return nil, fmt.Errorf("seeding demo catalog: %w", err)
		}
	}
	logger.Info("catalog opened", "backend", "sqlite", "path", cfg.SQLitePath)
	return cat, nil
}

// newProvider returns nil when no credentials are configured; the gateway
// then falls back to the mock.
func newProvider(cfg *config.Config) gateway.Provider {
	switch cfg.ModelProvider() {
	case "anthropic":
		client := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, anthropic.WithBaseURL(cfg.AnthropicURL))
		return gateway.NewAnthropic(client, cfg.MaxTokens)
	case "openai":
		return gateway.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.MaxTokens)
	default:
		return nil
	}
}

func openCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if cfg.RedisURL == "" {
		return cache.NewLocal(cfg.CacheTTL), nil
	}
	c, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	logger.Info("answer cache ready", "backend", "redis")
	return c, nil
}
