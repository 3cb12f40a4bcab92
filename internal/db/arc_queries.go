package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ArcRecord is the read model handed to the matcher, clustering, and merge
// engines. It is a copy; mutations go back through store operations.
type ArcRecord struct {
	ArcID          int64      `json:"arc_id"`
	ArcUUID        string     `json:"arc_uuid"`
	Slug           string     `json:"slug"`
	DisplayName    string     `json:"display_name"`
	Category       string     `json:"category"`
	PartitionKey   string     `json:"partition_key"`
	Summary        *string    `json:"summary,omitempty"`
	KeyPoints      []string   `json:"key_points"`
	StartedAt      time.Time  `json:"started_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	EventCount     int        `json:"event_count"`
	SourceCount    int        `json:"source_count"`
	DigestBatchID  *int64     `json:"digest_batch_id,omitempty"`
	DigestMarkedAt *time.Time `json:"digest_marked_at,omitempty"`
	Version        int64      `json:"version"`
}

// ArcEventRecord is the read model for one evidence entry.
type ArcEventRecord struct {
	EventID     int64     `json:"event_id"`
	EventUUID   string    `json:"event_uuid"`
	ArcID       int64     `json:"arc_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Summary     string    `json:"summary"`
	KeyPoints   []string  `json:"key_points"`
	Perspective *string   `json:"perspective,omitempty"`
	SourceID    string    `json:"source_id"`
	Relevance   float64   `json:"relevance"`
}

// NewArc carries the fields for a first-unmatched-fragment insert.
type NewArc struct {
	Slug         string
	DisplayName  string
	Category     string
	PartitionKey string
	KeyPoints    []string
	StartedAt    time.Time
}

// NewArcEvent carries the fields for one evidence append.
type NewArcEvent struct {
	ArcID       int64
	OccurredAt  time.Time
	Summary     string
	KeyPoints   []string
	Perspective *string
	SourceID    string
	Relevance   float64
}

const arcSelectColumns = `
	a.arc_id,
	a.arc_uuid::text,
	a.slug,
	a.display_name,
	a.category,
	a.partition_key,
	a.summary,
	a.key_points,
	a.started_at,
	a.last_updated_at,
	a.event_count,
	a.source_count,
	a.digest_batch_id,
	a.digest_marked_at,
	a.version
`

func scanArcRecord(scan func(dest ...any) error) (ArcRecord, error) {
	var rec ArcRecord
	var keyPoints []byte
	err := scan(
		&rec.ArcID,
		&rec.ArcUUID,
		&rec.Slug,
		&rec.DisplayName,
		&rec.Category,
		&rec.PartitionKey,
		&rec.Summary,
		&keyPoints,
		&rec.StartedAt,
		&rec.LastUpdatedAt,
		&rec.EventCount,
		&rec.SourceCount,
		&rec.DigestBatchID,
		&rec.DigestMarkedAt,
		&rec.Version,
	)
	if err != nil {
		return ArcRecord{}, err
	}
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &rec.KeyPoints); err != nil {
			return ArcRecord{}, fmt.Errorf("decode key_points for arc_id=%d: %w", rec.ArcID, err)
		}
	}
	return rec, nil
}

// GetArc returns one arc by id.
func (p *Pool) GetArc(ctx context.Context, arcID int64) (ArcRecord, bool, error) {
	q := `SELECT` + arcSelectColumns + `FROM arcs.arcs a WHERE a.arc_id = $1`
	rec, err := scanArcRecord(p.QueryRow(ctx, q, arcID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return ArcRecord{}, false, nil
		}
		return ArcRecord{}, false, fmt.Errorf("get arc arc_id=%d: %w", arcID, err)
	}
	return rec, true, nil
}

// ListActiveArcs returns arcs in one partition with evidence activity at or
// after the cutoff, oldest first. The cutoff bounds the candidate set; the
// full historical table is never scanned by matcher or clustering callers.
func (p *Pool) ListActiveArcs(ctx context.Context, partitionKey string, cutoff time.Time) ([]ArcRecord, error) {
	q := `
SELECT` + arcSelectColumns + `
FROM arcs.arcs a
WHERE a.partition_key = $1
  AND a.last_updated_at >= $2
ORDER BY a.started_at ASC, a.arc_id ASC
`
	rows, err := p.Query(ctx, q, partitionKey, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list active arcs partition=%s: %w", partitionKey, err)
	}
	defer rows.Close()

	var records []ArcRecord
	for rows.Next() {
		rec, err := scanArcRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan active arc: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active arcs: %w", err)
	}
	return records, nil
}

// ListPartitions returns every distinct partition key with at least one arc.
func (p *Pool) ListPartitions(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT partition_key FROM arcs.arcs ORDER BY partition_key`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()

	var partitions []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan partition key: %w", err)
		}
		partitions = append(partitions, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partitions: %w", err)
	}
	return partitions, nil
}

// ListArcEvents returns an arc's evidence entries, oldest first.
func (p *Pool) ListArcEvents(ctx context.Context, arcID int64) ([]ArcEventRecord, error) {
	const q = `
SELECT
	e.event_id,
	e.event_uuid::text,
	e.arc_id,
	e.occurred_at,
	e.summary,
	e.key_points,
	e.perspective,
	e.source_id,
	e.relevance
FROM arcs.arc_events e
WHERE e.arc_id = $1
ORDER BY e.occurred_at ASC, e.event_id ASC
`
	rows, err := p.Query(ctx, q, arcID)
	if err != nil {
		return nil, fmt.Errorf("list arc events arc_id=%d: %w", arcID, err)
	}
	defer rows.Close()

	var events []ArcEventRecord
	for rows.Next() {
		var ev ArcEventRecord
		var keyPoints []byte
		if err := rows.Scan(
			&ev.EventID,
			&ev.EventUUID,
			&ev.ArcID,
			&ev.OccurredAt,
			&ev.Summary,
			&keyPoints,
			&ev.Perspective,
			&ev.SourceID,
			&ev.Relevance,
		); err != nil {
			return nil, fmt.Errorf("scan arc event: %w", err)
		}
		if len(keyPoints) > 0 {
			if err := json.Unmarshal(keyPoints, &ev.KeyPoints); err != nil {
				return nil, fmt.Errorf("decode key_points for event_id=%d: %w", ev.EventID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate arc events: %w", err)
	}
	return events, nil
}

// LockArcTx loads one arc under FOR UPDATE so that at most one writer mutates
// it for the duration of the transaction.
func LockArcTx(ctx context.Context, tx Tx, arcID int64) (ArcRecord, bool, error) {
	q := `SELECT` + arcSelectColumns + `FROM arcs.arcs a WHERE a.arc_id = $1 FOR UPDATE`
	rec, err := scanArcRecord(tx.QueryRow(ctx, q, arcID).Scan)
	if err != nil {
		if IsNoRows(err) {
			return ArcRecord{}, false, nil
		}
		return ArcRecord{}, false, fmt.Errorf("lock arc arc_id=%d: %w", arcID, err)
	}
	return rec, true, nil
}

// FindArcBySlugTx returns the arc holding a slug, locked for update.
func FindArcBySlugTx(ctx context.Context, tx Tx, slug string) (ArcRecord, bool, error) {
	q := `SELECT` + arcSelectColumns + `FROM arcs.arcs a WHERE a.slug = $1 FOR UPDATE`
	rec, err := scanArcRecord(tx.QueryRow(ctx, q, slug).Scan)
	if err != nil {
		if IsNoRows(err) {
			return ArcRecord{}, false, nil
		}
		return ArcRecord{}, false, fmt.Errorf("find arc by slug=%s: %w", slug, err)
	}
	return rec, true, nil
}

// InsertArcTx creates a new arc. The caller must append the first evidence
// entry within the same transaction: a persisted arc without evidence is an
// integrity violation.
func InsertArcTx(ctx context.Context, tx Tx, arc NewArc, now time.Time) (int64, error) {
	const q = `
INSERT INTO arcs.arcs (
	slug,
	display_name,
	category,
	partition_key,
	key_points,
	started_at,
	last_updated_at,
	event_count,
	source_count,
	version,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $6, 0, 0, 1, $7, $7)
RETURNING arc_id
`
	keyPointsJSON, err := json.Marshal(emptyIfNil(arc.KeyPoints))
	if err != nil {
		return 0, fmt.Errorf("marshal key_points for slug=%s: %w", arc.Slug, err)
	}

	var arcID int64
	err = tx.QueryRow(
		ctx,
		q,
		arc.Slug,
		arc.DisplayName,
		arc.Category,
		arc.PartitionKey,
		string(keyPointsJSON),
		arc.StartedAt.UTC(),
		now,
	).Scan(&arcID)
	if err != nil {
		return 0, fmt.Errorf("insert arc slug=%s: %w", arc.Slug, err)
	}
	return arcID, nil
}

// InsertArcEventTx appends one evidence entry. It does not touch the parent
// arc's aggregates; callers follow up with UpdateArcAggregateTx.
func InsertArcEventTx(ctx context.Context, tx Tx, event NewArcEvent, now time.Time) (int64, error) {
	const q = `
INSERT INTO arcs.arc_events (
	arc_id,
	occurred_at,
	summary,
	key_points,
	perspective,
	source_id,
	relevance,
	created_at
)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8)
RETURNING event_id
`
	keyPointsJSON, err := json.Marshal(emptyIfNil(event.KeyPoints))
	if err != nil {
		return 0, fmt.Errorf("marshal key_points for arc_id=%d: %w", event.ArcID, err)
	}

	var eventID int64
	err = tx.QueryRow(
		ctx,
		q,
		event.ArcID,
		event.OccurredAt.UTC(),
		event.Summary,
		string(keyPointsJSON),
		event.Perspective,
		event.SourceID,
		event.Relevance,
		now,
	).Scan(&eventID)
	if err != nil {
		return 0, fmt.Errorf("insert arc event arc_id=%d: %w", event.ArcID, err)
	}
	return eventID, nil
}

// ReparentArcEventsTx moves every evidence entry from one arc to another.
func ReparentArcEventsTx(ctx context.Context, tx Tx, fromArcID, toArcID int64) (int64, error) {
	const q = `UPDATE arcs.arc_events SET arc_id = $2 WHERE arc_id = $1`
	tag, err := tx.Exec(ctx, q, fromArcID, toArcID)
	if err != nil {
		return 0, fmt.Errorf("reparent arc events from=%d to=%d: %w", fromArcID, toArcID, err)
	}
	return tag.RowsAffected(), nil
}

// RecountArcTx recomputes the true event and distinct-source counts plus the
// latest evidence timestamp. True counts, not additions, so merged arcs that
// shared a source are never double counted.
func RecountArcTx(ctx context.Context, tx Tx, arcID int64) (eventCount, sourceCount int, lastEventAt time.Time, err error) {
	const q = `
SELECT
	COUNT(*)::INT,
	COUNT(DISTINCT e.source_id)::INT,
	COALESCE(MAX(e.occurred_at), 'epoch'::timestamptz)
FROM arcs.arc_events e
WHERE e.arc_id = $1
`
	if scanErr := tx.QueryRow(ctx, q, arcID).Scan(&eventCount, &sourceCount, &lastEventAt); scanErr != nil {
		return 0, 0, time.Time{}, fmt.Errorf("recount arc arc_id=%d: %w", arcID, scanErr)
	}
	return eventCount, sourceCount, lastEventAt, nil
}

// UpdateArcAggregateTx writes recomputed aggregates through the version CAS.
// Zero rows affected means another writer advanced the arc since the
// caller's snapshot; the caller observes ErrStaleVersion and retries.
func UpdateArcAggregateTx(
	ctx context.Context,
	tx Tx,
	arcID int64,
	expectedVersion int64,
	eventCount int,
	sourceCount int,
	keyPoints []string,
	lastUpdatedAt time.Time,
	now time.Time,
) error {
	const q = `
UPDATE arcs.arcs
SET
	event_count = $3,
	source_count = $4,
	key_points = $5::jsonb,
	last_updated_at = GREATEST(last_updated_at, $6),
	version = version + 1,
	updated_at = $7
WHERE arc_id = $1
  AND version = $2
`
	keyPointsJSON, err := json.Marshal(emptyIfNil(keyPoints))
	if err != nil {
		return fmt.Errorf("marshal key_points for arc_id=%d: %w", arcID, err)
	}

	tag, err := tx.Exec(ctx, q, arcID, expectedVersion, eventCount, sourceCount, string(keyPointsJSON), lastUpdatedAt.UTC(), now)
	if err != nil {
		return fmt.Errorf("update arc aggregate arc_id=%d: %w", arcID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update arc aggregate arc_id=%d version=%d: %w", arcID, expectedVersion, ErrStaleVersion)
	}
	return nil
}

// DeleteArcTx removes one arc; evidence entries cascade.
func DeleteArcTx(ctx context.Context, tx Tx, arcID int64) (bool, error) {
	const q = `DELETE FROM arcs.arcs WHERE arc_id = $1`
	tag, err := tx.Exec(ctx, q, arcID)
	if err != nil {
		return false, fmt.Errorf("delete arc arc_id=%d: %w", arcID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListSweepCandidates returns arcs in one partition violating either
// retention condition: started before ageCutoff OR last updated before
// inactivityCutoff.
func (p *Pool) ListSweepCandidates(ctx context.Context, partitionKey string, ageCutoff, inactivityCutoff time.Time) ([]ArcRecord, error) {
	q := `
SELECT` + arcSelectColumns + `
FROM arcs.arcs a
WHERE a.partition_key = $1
  AND (a.started_at < $2 OR a.last_updated_at < $3)
ORDER BY a.started_at ASC, a.arc_id ASC
`
	rows, err := p.Query(ctx, q, partitionKey, ageCutoff.UTC(), inactivityCutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates partition=%s: %w", partitionKey, err)
	}
	defer rows.Close()

	var records []ArcRecord
	for rows.Next() {
		rec, err := scanArcRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan sweep candidate: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweep candidates: %w", err)
	}
	return records, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
