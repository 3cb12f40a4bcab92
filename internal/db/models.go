package db

import (
	"encoding/json"
	"time"
)

// Arc maps arcs.arcs, the canonical record of one evolving narrative.
type Arc struct {
	ArcID          int64           `gorm:"column:arc_id;primaryKey;autoIncrement"`
	ArcUUID        string          `gorm:"column:arc_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	Slug           string          `gorm:"column:slug;type:text;not null;unique"`
	DisplayName    string          `gorm:"column:display_name;type:text;not null"`
	Category       string          `gorm:"column:category;type:text;not null;default:general"`
	PartitionKey   string          `gorm:"column:partition_key;type:text;not null"`
	Summary        *string         `gorm:"column:summary;type:text"`
	KeyPoints      json.RawMessage `gorm:"column:key_points;type:jsonb;not null;default:'[]'"`
	StartedAt      time.Time       `gorm:"column:started_at;type:timestamptz;not null"`
	LastUpdatedAt  time.Time       `gorm:"column:last_updated_at;type:timestamptz;not null"`
	EventCount     int             `gorm:"column:event_count;type:integer;not null;default:0"`
	SourceCount    int             `gorm:"column:source_count;type:integer;not null;default:0"`
	DigestBatchID  *int64          `gorm:"column:digest_batch_id;type:bigint"`
	DigestMarkedAt *time.Time      `gorm:"column:digest_marked_at;type:timestamptz"`
	Version        int64           `gorm:"column:version;type:bigint;not null;default:1"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (Arc) TableName() string { return "arcs.arcs" }

// ArcEvent maps arcs.arc_events, one timestamped evidence entry owned by an arc.
type ArcEvent struct {
	EventID     int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	EventUUID   string          `gorm:"column:event_uuid;type:uuid;not null;default:gen_random_uuid();unique"`
	ArcID       int64           `gorm:"column:arc_id;type:bigint;not null;index"`
	OccurredAt  time.Time       `gorm:"column:occurred_at;type:timestamptz;not null"`
	Summary     string          `gorm:"column:summary;type:text;not null"`
	KeyPoints   json.RawMessage `gorm:"column:key_points;type:jsonb;not null;default:'[]'"`
	Perspective *string         `gorm:"column:perspective;type:text"`
	SourceID    string          `gorm:"column:source_id;type:text;not null"`
	Relevance   float64         `gorm:"column:relevance;type:double precision;not null;default:1"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (ArcEvent) TableName() string { return "arcs.arc_events" }

// EmbeddingCacheEntry maps arcs.embedding_cache. Keyed by the sha256 of the
// normalized comparison text plus the model identity.
type EmbeddingCacheEntry struct {
	EntryID        int64           `gorm:"column:entry_id;primaryKey;autoIncrement"`
	TextHash       []byte          `gorm:"column:text_hash;type:bytea;not null;uniqueIndex:ux_embedding_cache_key,priority:1"`
	ModelName      string          `gorm:"column:model_name;type:text;not null;uniqueIndex:ux_embedding_cache_key,priority:2"`
	ModelVersion   string          `gorm:"column:model_version;type:text;not null;uniqueIndex:ux_embedding_cache_key,priority:3"`
	NormalizedText string          `gorm:"column:normalized_text;type:text;not null"`
	Vector         json.RawMessage `gorm:"column:vector;type:jsonb;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (EmbeddingCacheEntry) TableName() string { return "arcs.embedding_cache" }

// DigestBatch maps arcs.digest_batches. Creating a batch starts a new
// inclusion scope; existing stamps are never rewritten.
type DigestBatch struct {
	BatchID   int64     `gorm:"column:batch_id;primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DigestBatch) TableName() string { return "arcs.digest_batches" }

func autoMigrateModels() []any {
	return []any{
		&Arc{},
		&ArcEvent{},
		&EmbeddingCacheEntry{},
		&DigestBatch{},
	}
}
