package pipeline

import (
	"context"
	"errors"
	"fmt"

	"lore.fm/arcs/internal/db"
	"lore.fm/arcs/internal/globaltime"
)

// ConsolidateOptions parameterizes one consolidation run.
type ConsolidateOptions struct {
	// PartitionKey restricts the run to one partition; empty means all.
	PartitionKey string
	// Threshold is the semantic duplicate threshold. Required; there is no
	// default because deployments disagree on the right value.
	Threshold float64
	// DryRun reports intended merges and deletions without writing.
	DryRun bool
	// Rules are the curated keyword pre-clustering patterns.
	Rules []KeywordRule
	// Config carries the cap and window tuning for this run.
	Config Config
}

// GroupReport describes one duplicate group found during a pass.
type GroupReport struct {
	Origin         string  `json:"origin"` // "keyword" or "semantic"
	CanonicalArcID int64   `json:"canonical_arc_id"`
	MemberArcIDs   []int64 `json:"member_arc_ids"`
}

// PartitionReport is the per-partition summary a consolidation pass emits
// even when individual groups fail.
type PartitionReport struct {
	PartitionKey          string        `json:"partition_key"`
	ArcsScanned           int           `json:"arcs_scanned"`
	KeywordGroups         int           `json:"keyword_groups"`
	SemanticGroups        int           `json:"semantic_groups"`
	GroupsMerged          int           `json:"groups_merged"`
	GroupsAlreadyResolved int           `json:"groups_already_resolved"`
	GroupsFailed          int           `json:"groups_failed"`
	ArcsDeleted           int           `json:"arcs_deleted"`
	SkippedComparisons    int           `json:"skipped_comparisons"`
	Groups                []GroupReport `json:"groups,omitempty"`
	Failed                bool          `json:"failed"`
	FailureReason         string        `json:"failure_reason,omitempty"`
}

// RunReport aggregates every partition processed by one run.
type RunReport struct {
	DryRun     bool              `json:"dry_run"`
	Partitions []PartitionReport `json:"partitions"`
}

// FailedPartitions counts partitions that failed outright, as opposed to
// partitions that merely skipped individual groups.
func (r RunReport) FailedPartitions() int {
	failed := 0
	for _, p := range r.Partitions {
		if p.Failed {
			failed++
		}
	}
	return failed
}

// Consolidate runs one pass per partition: keyword pre-clustering, semantic
// clustering over the remainder, merging, then the retention sweep.
// Partitions are processed sequentially and independently; a partition
// failure is recorded and the run continues with the next partition.
func (s *Service) Consolidate(ctx context.Context, opts ConsolidateOptions) (RunReport, error) {
	if s == nil || s.pool == nil {
		return RunReport{}, fmt.Errorf("pipeline service is not initialized")
	}
	if err := validateThreshold(opts.Threshold); err != nil {
		return RunReport{}, err
	}

	partitions, err := s.resolvePartitions(ctx, opts.PartitionKey)
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{DryRun: opts.DryRun}
	for _, partitionKey := range partitions {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		partitionReport := s.consolidatePartition(ctx, partitionKey, opts)
		report.Partitions = append(report.Partitions, partitionReport)

		event := s.logger.Info()
		if partitionReport.Failed {
			event = s.logger.Error().Str("failure_reason", partitionReport.FailureReason)
		}
		event.
			Str("partition", partitionKey).
			Bool("dry_run", opts.DryRun).
			Int("arcs_scanned", partitionReport.ArcsScanned).
			Int("keyword_groups", partitionReport.KeywordGroups).
			Int("semantic_groups", partitionReport.SemanticGroups).
			Int("groups_merged", partitionReport.GroupsMerged).
			Int("groups_already_resolved", partitionReport.GroupsAlreadyResolved).
			Int("groups_failed", partitionReport.GroupsFailed).
			Int("arcs_deleted", partitionReport.ArcsDeleted).
			Int("skipped_comparisons", partitionReport.SkippedComparisons).
			Msg("consolidation pass finished")
	}

	return report, nil
}

func (s *Service) resolvePartitions(ctx context.Context, filter string) ([]string, error) {
	if filter != "" {
		return []string{filter}, nil
	}
	partitions, err := s.pool.ListPartitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve partitions: %w", err)
	}
	return partitions, nil
}

func groupReport(origin string, group []db.ArcRecord) GroupReport {
	gr := GroupReport{Origin: origin, CanonicalArcID: group[0].ArcID}
	for _, member := range group[1:] {
		gr.MemberArcIDs = append(gr.MemberArcIDs, member.ArcID)
	}
	return gr
}

func (s *Service) consolidatePartition(ctx context.Context, partitionKey string, opts ConsolidateOptions) PartitionReport {
	report := PartitionReport{PartitionKey: partitionKey}
	conf := opts.Config.normalized()

	cutoff := globaltime.UTC().AddDate(0, 0, -conf.LookbackDays)
	arcs, err := s.pool.ListActiveArcs(ctx, partitionKey, cutoff)
	if err != nil {
		report.Failed = true
		report.FailureReason = err.Error()
		return report
	}
	report.ArcsScanned = len(arcs)

	keywordGroups, remaining := preCluster(arcs, partitionKey, opts.Rules)
	report.KeywordGroups = len(keywordGroups)

	grouping, err := s.FindDuplicateGroups(ctx, remaining, opts.Threshold)
	if err != nil {
		report.Failed = true
		report.FailureReason = err.Error()
		return report
	}
	report.SemanticGroups = len(grouping.Groups)
	report.SkippedComparisons = grouping.SkippedComparisons

	for _, group := range keywordGroups {
		report.Groups = append(report.Groups, groupReport("keyword", group))
	}
	for _, group := range grouping.Groups {
		report.Groups = append(report.Groups, groupReport("semantic", group))
	}

	// Merge phase. Cancellation is honored between groups, never mid-group;
	// a single failed group is skipped so the rest of the partition proceeds.
	allGroups := make([][]db.ArcRecord, 0, len(keywordGroups)+len(grouping.Groups))
	allGroups = append(allGroups, keywordGroups...)
	allGroups = append(allGroups, grouping.Groups...)
	for _, group := range allGroups {
		if err := ctx.Err(); err != nil {
			report.Failed = true
			report.FailureReason = err.Error()
			return report
		}

		if opts.DryRun {
			continue
		}

		result, err := s.MergeGroup(ctx, group, conf)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				report.Failed = true
				report.FailureReason = err.Error()
				return report
			}
			report.GroupsFailed++
			s.logger.Error().
				Err(err).
				Str("partition", partitionKey).
				Int64("canonical_arc_id", group[0].ArcID).
				Msg("merge failed; skipping group")
			continue
		}

		switch result.Outcome {
		case MergeOutcomeMerged:
			report.GroupsMerged++
		case MergeOutcomeAlreadyResolved:
			report.GroupsAlreadyResolved++
		}
	}

	sweep, err := s.SweepRetention(ctx, partitionKey, conf, opts.DryRun)
	if err != nil {
		report.Failed = true
		report.FailureReason = err.Error()
		return report
	}
	report.ArcsDeleted = sweep.Deleted

	return report
}
