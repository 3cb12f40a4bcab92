package pipeline

import (
	"context"
	"fmt"
	"time"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// ResolveOutcome classifies where a fragment ended up.
type ResolveOutcome string

const (
	// ResolveOutcomeMatched means the fragment was appended to a
	// semantically matching arc.
	ResolveOutcomeMatched ResolveOutcome = "matched"
	// ResolveOutcomeCreated means a new arc was started for the fragment.
	ResolveOutcomeCreated ResolveOutcome = "created"
	// ResolveOutcomeSlugReused means the fragment's derived slug already
	// named an arc in the same partition, so the fragment was appended there
	// instead of creating a duplicate.
	ResolveOutcomeSlugReused ResolveOutcome = "slug_reused"
)

// ResolveResult summarizes one fragment resolution.
type ResolveResult struct {
	Outcome            ResolveOutcome `json:"outcome"`
	ArcID              int64          `json:"arc_id"`
	EventID            int64          `json:"event_id"`
	Score              float64        `json:"score,omitempty"`
	SkippedComparisons int            `json:"skipped_comparisons,omitempty"`
}

// BatchResult summarizes one ResolveBatch call. Deferred holds the indexes of
// fragments that found no match after the run's new-arc budget was spent;
// they are reported back for a later run rather than silently dropped.
type BatchResult struct {
	Results  []ResolveResult `json:"results"`
	Deferred []int           `json:"deferred,omitempty"`
	Created  int             `json:"created"`
}

// ResolveFragment routes one fragment: append to the best matching arc at or
// above the threshold, otherwise start a new arc carrying the fragment as its
// first evidence entry. A derived slug already held by a same-partition arc
// is treated as the same story and appended to; the same slug held by an arc
// in another partition is a data integrity error.
func (s *Service) ResolveFragment(ctx context.Context, fragment Fragment, threshold float64, cfg Config) (ResolveResult, error) {
	if s == nil || s.pool == nil {
		return ResolveResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if err := validateThreshold(threshold); err != nil {
		return ResolveResult{}, err
	}
	if err := fragment.validate(); err != nil {
		return ResolveResult{}, err
	}
	conf := cfg.normalized()

	cutoff := globaltime.UTC().AddDate(0, 0, -conf.LookbackDays)
	candidates, err := s.pool.ListActiveArcs(ctx, fragment.PartitionKey, cutoff)
	if err != nil {
		return ResolveResult{}, err
	}

	outcome, err := s.FindMatchingArc(ctx, fragment, candidates, threshold)
	if err != nil {
		return ResolveResult{}, err
	}

	if outcome.Match != nil {
		result, err := s.appendEvidence(ctx, outcome.Match.Arc.ArcID, fragment, conf)
		if err != nil {
			return ResolveResult{}, err
		}
		result.Outcome = ResolveOutcomeMatched
		result.Score = outcome.Match.Score
		result.SkippedComparisons = outcome.SkippedComparisons
		s.logger.Debug().
			Int64("arc_id", result.ArcID).
			Float64("score", result.Score).
			Str("partition", fragment.PartitionKey).
			Msg("fragment matched existing arc")
		return result, nil
	}

	result, err := s.createArc(ctx, fragment, conf)
	if err != nil {
		return ResolveResult{}, err
	}
	result.SkippedComparisons = outcome.SkippedComparisons
	return result, nil
}

// ResolveBatch resolves fragments in order under a new-arc budget. Fragments
// that match existing arcs always proceed; once newArcCap arcs have been
// created in this call, unmatched fragments are deferred instead of creating
// more. A per-fragment failure is recorded and the batch continues.
func (s *Service) ResolveBatch(ctx context.Context, fragments []Fragment, threshold float64, cfg Config, newArcCap int) (BatchResult, error) {
	if s == nil || s.pool == nil {
		return BatchResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	if err := validateThreshold(threshold); err != nil {
		return BatchResult{}, err
	}
	conf := cfg.normalized()

	var batch BatchResult
	for i, fragment := range fragments {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		if err := fragment.validate(); err != nil {
			return batch, fmt.Errorf("fragment %d: %w", i, err)
		}

		cutoff := globaltime.UTC().AddDate(0, 0, -conf.LookbackDays)
		candidates, err := s.pool.ListActiveArcs(ctx, fragment.PartitionKey, cutoff)
		if err != nil {
			return batch, err
		}

		outcome, err := s.FindMatchingArc(ctx, fragment, candidates, threshold)
		if err != nil {
			return batch, fmt.Errorf("fragment %d: %w", i, err)
		}

		if outcome.Match != nil {
			result, err := s.appendEvidence(ctx, outcome.Match.Arc.ArcID, fragment, conf)
			if err != nil {
				return batch, fmt.Errorf("fragment %d: %w", i, err)
			}
			result.Outcome = ResolveOutcomeMatched
			result.Score = outcome.Match.Score
			result.SkippedComparisons = outcome.SkippedComparisons
			batch.Results = append(batch.Results, result)
			continue
		}

		if newArcCap > 0 && batch.Created >= newArcCap {
			batch.Deferred = append(batch.Deferred, i)
			s.logger.Info().
				Str("partition", fragment.PartitionKey).
				Str("name", fragment.Name).
				Int("new_arc_cap", newArcCap).
				Msg("deferring unmatched fragment; new arc budget spent")
			continue
		}

		result, err := s.createArc(ctx, fragment, conf)
		if err != nil {
			return batch, fmt.Errorf("fragment %d: %w", i, err)
		}
		result.SkippedComparisons = outcome.SkippedComparisons
		if result.Outcome == ResolveOutcomeCreated {
			batch.Created++
		}
		batch.Results = append(batch.Results, result)
	}

	return batch, nil
}

// appendEvidence adds one fragment to an existing arc inside a transaction:
// the evidence row is inserted, key points merged under the cap, and the
// aggregates recomputed from the evidence table.
func (s *Service) appendEvidence(ctx context.Context, arcID int64, fragment Fragment, cfg Config) (ResolveResult, error) {
	now := globaltime.UTC()

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("begin append tx: %w", err)
	}

	arc, found, err := db.LockArcTx(ctx, tx, arcID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}
	if !found {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, fmt.Errorf("arc arc_id=%d vanished before evidence append", arcID)
	}

	eventID, err := db.InsertArcEventTx(ctx, tx, db.NewArcEvent{
		ArcID:       arcID,
		OccurredAt:  eventOccurredAt(fragment, now),
		Summary:     fragment.Summary,
		KeyPoints:   fragment.KeyPoints,
		Perspective: fragment.Perspective,
		SourceID:    fragment.SourceID,
		Relevance:   fragment.Relevance,
	}, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	keyPoints := mergeKeyPoints(arc.KeyPoints, fragment.KeyPoints, cfg.KeyPointCap)

	eventCount, sourceCount, lastEventAt, err := db.RecountArcTx(ctx, tx, arcID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	if err := db.UpdateArcAggregateTx(ctx, tx, arcID, arc.Version, eventCount, sourceCount, keyPoints, lastEventAt, now); err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, fmt.Errorf("commit append tx for arc_id=%d: %w", arcID, err)
	}

	return ResolveResult{ArcID: arcID, EventID: eventID}, nil
}

// createArc starts a new arc for an unmatched fragment. The slug is derived
// from the fragment name; when another arc already holds it, the fragment is
// appended there if the partitions agree.
func (s *Service) createArc(ctx context.Context, fragment Fragment, cfg Config) (ResolveResult, error) {
	now := globaltime.UTC()
	slug := Slugify(fragment.Name)
	if slug == "" {
		return ResolveResult{}, fmt.Errorf("fragment name %q produced an empty slug", fragment.Name)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("begin create tx: %w", err)
	}

	existing, found, err := db.FindArcBySlugTx(ctx, tx, slug)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}
	if found {
		if existing.PartitionKey != fragment.PartitionKey {
			_ = tx.Rollback(ctx)
			return ResolveResult{}, fmt.Errorf(
				"slug %q already belongs to arc_id=%d in partition=%s, fragment partition=%s",
				slug, existing.ArcID, existing.PartitionKey, fragment.PartitionKey,
			)
		}
		result, err := s.appendToLockedArc(ctx, tx, existing, fragment, cfg, now)
		if err != nil {
			_ = tx.Rollback(ctx)
			return ResolveResult{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			_ = tx.Rollback(ctx)
			return ResolveResult{}, fmt.Errorf("commit slug-reuse tx for arc_id=%d: %w", existing.ArcID, err)
		}
		result.Outcome = ResolveOutcomeSlugReused
		s.logger.Debug().
			Int64("arc_id", result.ArcID).
			Str("slug", slug).
			Msg("fragment appended to arc holding its slug")
		return result, nil
	}

	arcID, err := db.InsertArcTx(ctx, tx, db.NewArc{
		Slug:         slug,
		DisplayName:  fragment.Name,
		Category:     arcCategory(fragment),
		PartitionKey: fragment.PartitionKey,
		KeyPoints:    capKeyPoints(fragment.KeyPoints, cfg.KeyPointCap),
		StartedAt:    eventOccurredAt(fragment, now),
	}, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	eventID, err := db.InsertArcEventTx(ctx, tx, db.NewArcEvent{
		ArcID:       arcID,
		OccurredAt:  eventOccurredAt(fragment, now),
		Summary:     fragment.Summary,
		KeyPoints:   fragment.KeyPoints,
		Perspective: fragment.Perspective,
		SourceID:    fragment.SourceID,
		Relevance:   fragment.Relevance,
	}, now)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	eventCount, sourceCount, lastEventAt, err := db.RecountArcTx(ctx, tx, arcID)
	if err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}
	if err := db.UpdateArcAggregateTx(ctx, tx, arcID, 1, eventCount, sourceCount, capKeyPoints(fragment.KeyPoints, cfg.KeyPointCap), lastEventAt, now); err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(ctx)
		return ResolveResult{}, fmt.Errorf("commit create tx for slug=%s: %w", slug, err)
	}

	s.logger.Info().
		Int64("arc_id", arcID).
		Str("slug", slug).
		Str("partition", fragment.PartitionKey).
		Msg("started new arc")
	return ResolveResult{Outcome: ResolveOutcomeCreated, ArcID: arcID, EventID: eventID}, nil
}

// appendToLockedArc appends the fragment's evidence to an arc already locked
// in the caller's transaction. The caller commits.
func (s *Service) appendToLockedArc(ctx context.Context, tx db.Tx, arc db.ArcRecord, fragment Fragment, cfg Config, now time.Time) (ResolveResult, error) {
	eventID, err := db.InsertArcEventTx(ctx, tx, db.NewArcEvent{
		ArcID:       arc.ArcID,
		OccurredAt:  eventOccurredAt(fragment, now),
		Summary:     fragment.Summary,
		KeyPoints:   fragment.KeyPoints,
		Perspective: fragment.Perspective,
		SourceID:    fragment.SourceID,
		Relevance:   fragment.Relevance,
	}, now)
	if err != nil {
		return ResolveResult{}, err
	}

	keyPoints := mergeKeyPoints(arc.KeyPoints, fragment.KeyPoints, cfg.KeyPointCap)

	eventCount, sourceCount, lastEventAt, err := db.RecountArcTx(ctx, tx, arc.ArcID)
	if err != nil {
		return ResolveResult{}, err
	}
	if err := db.UpdateArcAggregateTx(ctx, tx, arc.ArcID, arc.Version, eventCount, sourceCount, keyPoints, lastEventAt, now); err != nil {
		return ResolveResult{}, err
	}

	return ResolveResult{ArcID: arc.ArcID, EventID: eventID}, nil
}

func arcCategory(fragment Fragment) string {
	if fragment.Category != "" {
		return fragment.Category
	}
	return "general"
}

func eventOccurredAt(fragment Fragment, fallback time.Time) time.Time {
	if fragment.OccurredAt.IsZero() {
		return fallback
	}
	return fragment.OccurredAt.UTC()
}
