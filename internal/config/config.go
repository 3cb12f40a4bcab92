package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"ARCS_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"ARCS_DB_MAX_CONNS" default:"8"`

	EmbeddingEndpoint       string        `envconfig:"ARCS_EMBEDDING_ENDPOINT" default:"http://127.0.0.1:8844/embed"`
	EmbeddingModelName      string        `envconfig:"ARCS_EMBEDDING_MODEL_NAME" default:"Qwen3-Embedding-8B"`
	EmbeddingModelVersion   string        `envconfig:"ARCS_EMBEDDING_MODEL_VERSION" default:"v1"`
	EmbeddingRequestTimeout time.Duration `envconfig:"ARCS_EMBEDDING_REQUEST_TIMEOUT" default:"45s"`
	EmbeddingMaxAttempts    int           `envconfig:"ARCS_EMBEDDING_MAX_ATTEMPTS" default:"3"`
	EmbeddingMaxInFlight    int64         `envconfig:"ARCS_EMBEDDING_MAX_IN_FLIGHT" default:"4"`

	// SuggestedThreshold only seeds operator-facing flags. Matcher and
	// clustering calls always take an explicit threshold argument.
	SuggestedThreshold float64 `envconfig:"ARCS_SUGGESTED_THRESHOLD" default:"0.83"`

	KeyPointCap    int `envconfig:"ARCS_KEY_POINT_CAP" default:"12"`
	LookbackDays   int `envconfig:"ARCS_LOOKBACK_DAYS" default:"30"`
	MaxAgeDays     int `envconfig:"ARCS_MAX_AGE_DAYS" default:"90"`
	InactivityDays int `envconfig:"ARCS_INACTIVITY_DAYS" default:"14"`
	NewArcCap      int `envconfig:"ARCS_NEW_ARC_CAP" default:"10"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("ARCS_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("ARCS_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("ARCS_DB_MIN_CONNS (%d) cannot exceed ARCS_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.EmbeddingEndpoint) == "" {
		return fmt.Errorf("ARCS_EMBEDDING_ENDPOINT is required")
	}
	if c.EmbeddingRequestTimeout <= 0 {
		return fmt.Errorf("ARCS_EMBEDDING_REQUEST_TIMEOUT must be > 0")
	}
	if c.EmbeddingMaxAttempts < 1 {
		return fmt.Errorf("ARCS_EMBEDDING_MAX_ATTEMPTS must be >= 1")
	}
	if c.EmbeddingMaxInFlight < 1 {
		return fmt.Errorf("ARCS_EMBEDDING_MAX_IN_FLIGHT must be >= 1")
	}
	if c.SuggestedThreshold <= 0 || c.SuggestedThreshold > 1 {
		return fmt.Errorf("ARCS_SUGGESTED_THRESHOLD must be in (0, 1]")
	}
	if c.KeyPointCap < 1 {
		return fmt.Errorf("ARCS_KEY_POINT_CAP must be >= 1")
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("ARCS_LOOKBACK_DAYS must be >= 1")
	}
	if c.MaxAgeDays < 1 {
		return fmt.Errorf("ARCS_MAX_AGE_DAYS must be >= 1")
	}
	if c.InactivityDays < 1 {
		return fmt.Errorf("ARCS_INACTIVITY_DAYS must be >= 1")
	}
	if c.NewArcCap < 1 {
		return fmt.Errorf("ARCS_NEW_ARC_CAP must be >= 1")
	}
	return nil
}
