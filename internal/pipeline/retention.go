package pipeline

import (
	"context"
	"fmt"
	"time"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// SweepResult summarizes one retention sweep over a partition.
type SweepResult struct {
	Examined      int
	Deleted       int
	DeletedArcIDs []int64
}

// SweepRetention deletes arcs in one partition whose age exceeds MaxAgeDays
// OR whose inactivity exceeds InactivityDays. Either condition alone fires
// deletion. In dry-run mode candidates are reported without any write.
func (s *Service) SweepRetention(ctx context.Context, partitionKey string, cfg Config, dryRun bool) (SweepResult, error) {
	if s == nil || s.pool == nil {
		return SweepResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	conf := cfg.normalized()

	now := globaltime.UTC()
	ageCutoff := now.AddDate(0, 0, -conf.MaxAgeDays)
	inactivityCutoff := now.AddDate(0, 0, -conf.InactivityDays)

	candidates, err := s.pool.ListSweepCandidates(ctx, partitionKey, ageCutoff, inactivityCutoff)
	if err != nil {
		return SweepResult{}, err
	}

	result := SweepResult{Examined: len(candidates)}
	if dryRun {
		for _, arc := range candidates {
			result.DeletedArcIDs = append(result.DeletedArcIDs, arc.ArcID)
		}
		result.Deleted = len(result.DeletedArcIDs)
		return result, nil
	}

	for _, arc := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := s.deleteArc(ctx, arc.ArcID, ageCutoff, inactivityCutoff)
		if err != nil {
			return result, err
		}
		if deleted {
			result.Deleted++
			result.DeletedArcIDs = append(result.DeletedArcIDs, arc.ArcID)
			s.logger.Debug().
				Int64("arc_id", arc.ArcID).
				Str("partition", partitionKey).
				Time("started_at", arc.StartedAt).
				Time("last_updated_at", arc.LastUpdatedAt).
				Msg("swept stale arc")
		}
	}

	return result, nil
}

// sweepDue reports whether either retention window alone has expired for an
// arc: started before the age cutoff, or last updated before the inactivity
// cutoff.
func sweepDue(arc db.ArcRecord, ageCutoff, inactivityCutoff time.Time) bool {
	return arc.StartedAt.Before(ageCutoff) || arc.LastUpdatedAt.Before(inactivityCutoff)
}

func (s *Service) deleteArc(ctx context.Context, arcID int64, ageCutoff, inactivityCutoff time.Time) (bool, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin sweep tx: %w", err)
	}

	locked, found, err := db.LockArcTx(ctx, tx, arcID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}
	if !found || !sweepDue(locked, ageCutoff, inactivityCutoff) {
		// Deleted since the candidate scan, or fresh evidence arrived and the
		// arc is active again.
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return false, fmt.Errorf("commit empty sweep tx: %w", err)
		}
		return false, nil
	}

	deleted, err := db.DeleteArcTx(ctx, tx, arcID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("commit sweep tx: %w", err)
	}
	return deleted, nil
}
