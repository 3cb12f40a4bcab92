package db

import (
	"context"
	"fmt"
	"time"
)

// CreateDigestBatch opens a new inclusion scope and returns its id.
func (p *Pool) CreateDigestBatch(ctx context.Context, now time.Time) (int64, error) {
	const q = `INSERT INTO arcs.digest_batches (created_at) VALUES ($1) RETURNING batch_id`
	var batchID int64
	if err := p.QueryRow(ctx, q, now.UTC()).Scan(&batchID); err != nil {
		return 0, fmt.Errorf("create digest batch: %w", err)
	}
	return batchID, nil
}

// MarkArcsInDigest stamps arcs as included in one batch. An arc already
// stamped for this batch keeps its original stamp; stamps from earlier
// batches are superseded, never rewritten in place for the same batch.
func MarkArcsInDigestTx(ctx context.Context, tx Tx, batchID int64, arcIDs []int64, now time.Time) (int64, error) {
	if len(arcIDs) == 0 {
		return 0, nil
	}

	const q = `
UPDATE arcs.arcs
SET
	digest_batch_id = $1,
	digest_marked_at = $2,
	version = version + 1,
	updated_at = $2
WHERE arc_id = $3
  AND (digest_batch_id IS DISTINCT FROM $1)
`
	var marked int64
	for _, arcID := range arcIDs {
		tag, err := tx.Exec(ctx, q, batchID, now.UTC(), arcID)
		if err != nil {
			return marked, fmt.Errorf("mark arc arc_id=%d in digest batch_id=%d: %w", arcID, batchID, err)
		}
		marked += tag.RowsAffected()
	}
	return marked, nil
}

// ListDigestArcs returns the most active arcs per partition for stamping.
func (p *Pool) ListDigestArcs(ctx context.Context, partitionKey string, cutoff time.Time, limit int) ([]ArcRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
SELECT` + arcSelectColumns + `
FROM arcs.arcs a
WHERE a.partition_key = $1
  AND a.last_updated_at >= $2
ORDER BY a.event_count DESC, a.last_updated_at DESC, a.arc_id ASC
LIMIT $3
`
	rows, err := p.Query(ctx, q, partitionKey, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list digest arcs partition=%s: %w", partitionKey, err)
	}
	defer rows.Close()

	var records []ArcRecord
	for rows.Next() {
		rec, err := scanArcRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan digest arc: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate digest arcs: %w", err)
	}
	return records, nil
}
