package pipeline

import (
	"context"
	"fmt"
	"time"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// MergeOutcome classifies the result of one group merge.
type MergeOutcome string

const (
	MergeOutcomeMerged          MergeOutcome = "merged"
	MergeOutcomeAlreadyResolved MergeOutcome = "already_resolved"
)

// MergeResult summarizes one MergeGroup call.
type MergeResult struct {
	Outcome        MergeOutcome
	CanonicalArcID int64
	MergedArcIDs   []int64
	EventsMoved    int64
}

// MergeGroup folds every non-canonical member of an ordered duplicate group
// into the canonical (group[0], the oldest member) inside one transaction:
// evidence entries are re-parented, counts recomputed as true counts, key
// points merged and capped, last_updated_at raised to the group maximum, and
// the non-canonical arcs deleted. Re-running the merge after its members are
// gone is a no-op reported as already resolved. A failure anywhere rolls the
// whole group back; no half-merged arc is ever committed.
func (s *Service) MergeGroup(ctx context.Context, group []db.ArcRecord, cfg Config) (MergeResult, error) {
	if s == nil || s.pool == nil {
		return MergeResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if len(group) < 2 {
		return MergeResult{}, fmt.Errorf("merge group must have at least 2 members, got %d", len(group))
	}
	conf := cfg.normalized()

	for _, member := range group[1:] {
		if arcOlder(member, group[0]) {
			return MergeResult{}, fmt.Errorf(
				"merge group is not ordered oldest-first: arc_id=%d precedes canonical arc_id=%d",
				member.ArcID, group[0].ArcID,
			)
		}
	}

	now := globaltime.UTC()
	canonicalID := group[0].ArcID

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return MergeResult{}, fmt.Errorf("begin merge tx: %w", err)
	}

	result, err := mergeGroupTx(ctx, tx, canonicalID, group[1:], conf, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return MergeResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return MergeResult{}, fmt.Errorf("commit merge tx for arc_id=%d: %w", canonicalID, err)
	}

	if result.Outcome == MergeOutcomeMerged {
		s.logger.Info().
			Int64("canonical_arc_id", result.CanonicalArcID).
			Ints64("merged_arc_ids", result.MergedArcIDs).
			Int64("events_moved", result.EventsMoved).
			Msg("merged duplicate group")
	}
	return result, nil
}

func mergeGroupTx(
	ctx context.Context,
	tx db.Tx,
	canonicalID int64,
	members []db.ArcRecord,
	cfg Config,
	now time.Time,
) (MergeResult, error) {
	canonical, canonicalFound, err := db.LockArcTx(ctx, tx, canonicalID)
	if err != nil {
		return MergeResult{}, err
	}

	result := MergeResult{CanonicalArcID: canonicalID}

	keyPoints := canonical.KeyPoints
	lastUpdated := canonical.LastUpdatedAt
	for _, member := range members {
		if member.ArcID == canonicalID {
			continue
		}

		locked, found, err := db.LockArcTx(ctx, tx, member.ArcID)
		if err != nil {
			return MergeResult{}, err
		}
		if !found {
			// Already consumed by an earlier pass.
			continue
		}
		if !canonicalFound {
			return MergeResult{}, fmt.Errorf(
				"merge group canonical arc_id=%d is missing but member arc_id=%d exists",
				canonicalID, member.ArcID,
			)
		}

		moved, err := db.ReparentArcEventsTx(ctx, tx, locked.ArcID, canonicalID)
		if err != nil {
			return MergeResult{}, err
		}
		result.EventsMoved += moved

		keyPoints = mergeKeyPoints(keyPoints, locked.KeyPoints, cfg.KeyPointCap)
		if locked.LastUpdatedAt.After(lastUpdated) {
			lastUpdated = locked.LastUpdatedAt
		}

		deleted, err := db.DeleteArcTx(ctx, tx, locked.ArcID)
		if err != nil {
			return MergeResult{}, err
		}
		if !deleted {
			return MergeResult{}, fmt.Errorf("delete merged arc arc_id=%d affected no rows", locked.ArcID)
		}
		result.MergedArcIDs = append(result.MergedArcIDs, locked.ArcID)
	}

	if len(result.MergedArcIDs) == 0 {
		result.Outcome = MergeOutcomeAlreadyResolved
		return result, nil
	}

	eventCount, sourceCount, _, err := db.RecountArcTx(ctx, tx, canonicalID)
	if err != nil {
		return MergeResult{}, err
	}
	if eventCount < 1 {
		return MergeResult{}, fmt.Errorf("merged canonical arc_id=%d would have no evidence", canonicalID)
	}

	if err := db.UpdateArcAggregateTx(
		ctx,
		tx,
		canonicalID,
		canonical.Version,
		eventCount,
		sourceCount,
		keyPoints,
		lastUpdated,
		now,
	); err != nil {
		return MergeResult{}, err
	}

	result.Outcome = MergeOutcomeMerged
	return result, nil
}
