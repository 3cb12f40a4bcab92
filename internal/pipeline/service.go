package pipeline

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/embedding"
)

const (
	DefaultKeyPointCap    = 12
	DefaultLookbackDays   = 30
	DefaultMaxAgeDays     = 90
	DefaultInactivityDays = 14
)

// Config is the explicit tuning value passed into engine calls. It is never
// ambient state: two partitions may be processed with different values by
// the same process. The similarity threshold is deliberately absent; callers
// pass it explicitly on every matcher and clustering call.
type Config struct {
	KeyPointCap    int
	LookbackDays   int
	MaxAgeDays     int
	InactivityDays int
}

func (c Config) normalized() Config {
	out := c
	if out.KeyPointCap <= 0 {
		out.KeyPointCap = DefaultKeyPointCap
	}
	if out.LookbackDays <= 0 {
		out.LookbackDays = DefaultLookbackDays
	}
	if out.MaxAgeDays <= 0 {
		out.MaxAgeDays = DefaultMaxAgeDays
	}
	if out.InactivityDays <= 0 {
		out.InactivityDays = DefaultInactivityDays
	}
	return out
}

// Fragment is one proposed narrative mention arriving from the extraction
// boundary.
type Fragment struct {
	PartitionKey string
	Name         string
	Category     string
	Summary      string
	KeyPoints    []string
	Perspective  *string
	SourceID     string
	Relevance    float64
	OccurredAt   time.Time
}

func (f Fragment) validate() error {
	if embedding.NormalizeText(f.Name) == "" {
		return fmt.Errorf("fragment name is empty")
	}
	if embedding.NormalizeText(f.PartitionKey) == "" {
		return fmt.Errorf("fragment partition key is empty")
	}
	if embedding.NormalizeText(f.SourceID) == "" {
		return fmt.Errorf("fragment source id is empty")
	}
	return nil
}

// Service is the semantic deduplication and consolidation engine. All arc
// mutations flow through store operations inside transactions; the service
// never edits arc fields in place.
type Service struct {
	pool     *db.Pool
	embedder embedding.Embedder
	logger   zerolog.Logger
}

func NewService(pool *db.Pool, embedder embedding.Embedder, logger zerolog.Logger) *Service {
	return &Service{
		pool:     pool,
		embedder: embedder,
		logger:   logger,
	}
}

func validateThreshold(threshold float64) error {
	if threshold <= 0 || threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", threshold)
	}
	return nil
}
