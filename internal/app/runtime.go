package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"lore.fm/arcs/internal/config"
	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/embedding"
	"lore.fm/arcs/internal/logging"
	"lore.fm/arcs/internal/pipeline"
)

// runtime bundles the shared wiring every database-backed command needs.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
	svc    *pipeline.Service
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	client := embedding.NewClient(embedding.Options{
		Endpoint:       cfg.EmbeddingEndpoint,
		ModelName:      cfg.EmbeddingModelName,
		ModelVersion:   cfg.EmbeddingModelVersion,
		RequestTimeout: cfg.EmbeddingRequestTimeout,
		MaxAttempts:    cfg.EmbeddingMaxAttempts,
		MaxInFlight:    cfg.EmbeddingMaxInFlight,
	}, logger)
	cache := embedding.NewCache(pool, client)

	svc := pipeline.NewService(pool, cache, logger)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		pool:   pool,
		svc:    svc,
	}, nil
}

func (r *runtime) close() {
	if r == nil || r.pool == nil {
		return
	}
	if err := r.pool.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: close database pool: %v\n", err)
	}
}

func (r *runtime) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		KeyPointCap:    r.cfg.KeyPointCap,
		LookbackDays:   r.cfg.LookbackDays,
		MaxAgeDays:     r.cfg.MaxAgeDays,
		InactivityDays: r.cfg.InactivityDays,
	}
}

// resolveThreshold applies the configured suggestion when the operator did
// not pass -threshold. Engine calls always receive an explicit value.
func (r *runtime) resolveThreshold(flagValue float64) float64 {
	if flagValue > 0 {
		return flagValue
	}
	return r.cfg.SuggestedThreshold
}
