package pipeline

import (
	"context"
	"errors"
	"fmt"

	"lore.fm/arcs/internal/db"
)

// MatchResult is the best candidate returned by FindMatchingArc.
type MatchResult struct {
	Arc   db.ArcRecord
	Score float64
}

// MatchOutcome reports the matcher decision plus any candidates that could
// not be compared because their embedding failed.
type MatchOutcome struct {
	Match              *MatchResult
	SkippedComparisons int
}

// GroupingResult is the output of FindDuplicateGroups.
type GroupingResult struct {
	Groups             [][]db.ArcRecord
	SkippedComparisons int
}

// FindMatchingArc compares one fragment against a bounded, partition-scoped
// candidate set and returns the highest-scoring candidate at or above the
// threshold, or no match. Ties prefer the older arc. A failed embedding for
// one candidate skips that comparison; it never fails the whole call.
func (s *Service) FindMatchingArc(
	ctx context.Context,
	fragment Fragment,
	candidates []db.ArcRecord,
	threshold float64,
) (MatchOutcome, error) {
	if err := validateThreshold(threshold); err != nil {
		return MatchOutcome{}, err
	}
	if err := fragment.validate(); err != nil {
		return MatchOutcome{}, err
	}
	if len(candidates) == 0 {
		return MatchOutcome{}, nil
	}

	fragmentVector, err := s.embedder.Vector(ctx, ComparisonText(fragment.Name, fragment.KeyPoints))
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("embed fragment %q: %w", fragment.Name, err)
	}

	var outcome MatchOutcome
	for _, candidate := range candidates {
		if candidate.PartitionKey != fragment.PartitionKey {
			return MatchOutcome{}, fmt.Errorf(
				"candidate arc_id=%d partition=%s does not belong to fragment partition=%s",
				candidate.ArcID, candidate.PartitionKey, fragment.PartitionKey,
			)
		}

		candidateVector, err := s.embedder.Vector(ctx, ComparisonText(candidate.DisplayName, candidate.KeyPoints))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return MatchOutcome{}, err
			}
			outcome.SkippedComparisons++
			s.logger.Warn().
				Err(err).
				Int64("arc_id", candidate.ArcID).
				Msg("skipping candidate with failed embedding")
			continue
		}

		score, err := CosineSimilarity(fragmentVector, candidateVector)
		if err != nil {
			outcome.SkippedComparisons++
			s.logger.Warn().
				Err(err).
				Int64("arc_id", candidate.ArcID).
				Msg("skipping candidate with incomparable vector")
			continue
		}
		if score < threshold {
			continue
		}

		if outcome.Match == nil ||
			score > outcome.Match.Score ||
			(score == outcome.Match.Score && arcOlder(candidate, outcome.Match.Arc)) {
			outcome.Match = &MatchResult{Arc: candidate, Score: score}
		}
	}

	return outcome, nil
}

// FindDuplicateGroups computes pairwise similarity for all distinct pairs in
// one partition's candidate set and returns transitive duplicate groups of
// size two or more, oldest-first. O(n^2) on the candidate set, which is
// bounded by the consolidation lookback window.
func (s *Service) FindDuplicateGroups(
	ctx context.Context,
	arcs []db.ArcRecord,
	threshold float64,
) (GroupingResult, error) {
	if err := validateThreshold(threshold); err != nil {
		return GroupingResult{}, err
	}
	if len(arcs) < 2 {
		return GroupingResult{}, nil
	}

	partitionKey := arcs[0].PartitionKey
	for _, arc := range arcs[1:] {
		if arc.PartitionKey != partitionKey {
			return GroupingResult{}, fmt.Errorf(
				"duplicate grouping crosses partitions: %s vs %s", partitionKey, arc.PartitionKey,
			)
		}
	}

	var result GroupingResult
	vectors := make([][]float64, len(arcs))
	for i, arc := range arcs {
		vector, err := s.embedder.Vector(ctx, ComparisonText(arc.DisplayName, arc.KeyPoints))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return GroupingResult{}, err
			}
			result.SkippedComparisons++
			s.logger.Warn().
				Err(err).
				Int64("arc_id", arc.ArcID).
				Msg("excluding arc with failed embedding from clustering")
			continue
		}
		vectors[i] = vector
	}

	var edges [][2]int
	for i := 0; i < len(arcs); i++ {
		if vectors[i] == nil {
			continue
		}
		for j := i + 1; j < len(arcs); j++ {
			if vectors[j] == nil {
				continue
			}
			score, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				result.SkippedComparisons++
				continue
			}
			if score >= threshold {
				edges = append(edges, [2]int{i, j})
			}
		}
	}

	result.Groups = buildGroups(arcs, edges)
	return result, nil
}
