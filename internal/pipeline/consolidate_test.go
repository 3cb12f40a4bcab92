package pipeline

import (
	"testing"

	"lore.fm/arcs/internal/db"
)

func TestGroupReport_SplitsCanonicalFromMembers(t *testing.T) {
	t.Parallel()

	group := []db.ArcRecord{{ArcID: 7}, {ArcID: 9}, {ArcID: 11}}
	gr := groupReport("semantic", group)
	if gr.Origin != "semantic" {
		t.Fatalf("unexpected origin: %q", gr.Origin)
	}
	if gr.CanonicalArcID != 7 {
		t.Fatalf("unexpected canonical: %d", gr.CanonicalArcID)
	}
	if len(gr.MemberArcIDs) != 2 || gr.MemberArcIDs[0] != 9 || gr.MemberArcIDs[1] != 11 {
		t.Fatalf("unexpected members: %v", gr.MemberArcIDs)
	}
}

func TestRunReport_FailedPartitionsCountsOutrightFailuresOnly(t *testing.T) {
	t.Parallel()

	report := RunReport{Partitions: []PartitionReport{
		{PartitionKey: "metro", Failed: true, FailureReason: "scan failed"},
		{PartitionKey: "sports", GroupsFailed: 3},
		{PartitionKey: "world"},
	}}
	if got := report.FailedPartitions(); got != 1 {
		t.Fatalf("FailedPartitions = %d, want 1", got)
	}
}
