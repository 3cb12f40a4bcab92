package pipeline

import (
	"context"
	"fmt"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// DigestOptions parameterizes one digest-stamping run.
type DigestOptions struct {
	// PartitionKey restricts the run to one partition; empty means all.
	PartitionKey string
	// Limit is the number of most-active arcs stamped per partition.
	Limit int
	// Config supplies the lookback window for activity.
	Config Config
}

// DigestPartition reports the arcs selected in one partition.
type DigestPartition struct {
	PartitionKey string  `json:"partition_key"`
	ArcIDs       []int64 `json:"arc_ids"`
	Marked       int64   `json:"marked"`
}

// DigestResult summarizes one BuildDigest call.
type DigestResult struct {
	BatchID    int64             `json:"batch_id"`
	Partitions []DigestPartition `json:"partitions"`
	Marked     int64             `json:"marked"`
}

// BuildDigest opens a new batch and stamps the most active arcs in each
// partition as included. Arcs carry the batch id rather than matching on
// text, so re-running the digest never re-marks an arc for the same batch.
func (s *Service) BuildDigest(ctx context.Context, opts DigestOptions) (DigestResult, error) {
	if s == nil || s.pool == nil {
		return DigestResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if opts.Limit <= 0 {
		return DigestResult{}, fmt.Errorf("digest limit must be > 0, got %d", opts.Limit)
	}
	conf := opts.Config.normalized()

	partitions, err := s.resolvePartitions(ctx, opts.PartitionKey)
	if err != nil {
		return DigestResult{}, err
	}

	now := globaltime.UTC()
	batchID, err := s.pool.CreateDigestBatch(ctx, now)
	if err != nil {
		return DigestResult{}, err
	}

	result := DigestResult{BatchID: batchID}
	cutoff := now.AddDate(0, 0, -conf.LookbackDays)
	for _, partitionKey := range partitions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		arcs, err := s.pool.ListDigestArcs(ctx, partitionKey, cutoff, opts.Limit)
		if err != nil {
			return result, err
		}
		if len(arcs) == 0 {
			continue
		}

		arcIDs := make([]int64, 0, len(arcs))
		for _, arc := range arcs {
			arcIDs = append(arcIDs, arc.ArcID)
		}

		tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
		if err != nil {
			return result, fmt.Errorf("begin digest tx: %w", err)
		}
		marked, err := db.MarkArcsInDigestTx(ctx, tx, batchID, arcIDs, now)
		if err != nil {
			_ = tx.Rollback(ctx)
			return result, err
		}
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return result, fmt.Errorf("commit digest tx partition=%s: %w", partitionKey, err)
		}

		result.Partitions = append(result.Partitions, DigestPartition{
			PartitionKey: partitionKey,
			ArcIDs:       arcIDs,
			Marked:       marked,
		})
		result.Marked += marked
	}

	s.logger.Info().
		Int64("batch_id", batchID).
		Int64("marked", result.Marked).
		Int("partitions", len(result.Partitions)).
		Msg("digest batch stamped")
	return result, nil
}
