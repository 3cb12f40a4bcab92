package pipeline

import (
	"context"
	"testing"
	"time"

	"lore.fm/arcs/internal/db"
)

// vanishedTx answers every row lookup with no rows, modeling a group whose
// arcs were all consumed by an earlier pass.
type vanishedTx struct {
	queryRows int
	execs     int
}

func (t *vanishedTx) QueryRow(_ context.Context, _ string, _ ...any) *db.Row {
	t.queryRows++
	return &db.Row{}
}

func (t *vanishedTx) Query(_ context.Context, _ string, _ ...any) (*db.Rows, error) {
	return &db.Rows{}, nil
}

func (t *vanishedTx) Exec(_ context.Context, _ string, _ ...any) (db.CommandTag, error) {
	t.execs++
	return db.CommandTag{}, nil
}

func (t *vanishedTx) Commit(_ context.Context) error   { return nil }
func (t *vanishedTx) Rollback(_ context.Context) error { return nil }

func TestMergeGroupTx_RerunAfterMembersGoneIsAlreadyResolved(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	members := []db.ArcRecord{
		{ArcID: 2, StartedAt: now.AddDate(0, 0, -2)},
		{ArcID: 3, StartedAt: now.AddDate(0, 0, -1)},
	}

	tx := &vanishedTx{}
	result, err := mergeGroupTx(context.Background(), tx, 1, members, Config{}.normalized(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != MergeOutcomeAlreadyResolved {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
	if len(result.MergedArcIDs) != 0 || result.EventsMoved != 0 {
		t.Fatalf("already-resolved merge reported work: %+v", result)
	}
	if tx.execs != 0 {
		t.Fatalf("already-resolved merge issued %d writes", tx.execs)
	}
}

func TestMergeGroupTx_SkipsMemberEqualToCanonical(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	members := []db.ArcRecord{{ArcID: 1, StartedAt: now}}

	tx := &vanishedTx{}
	result, err := mergeGroupTx(context.Background(), tx, 1, members, Config{}.normalized(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != MergeOutcomeAlreadyResolved {
		t.Fatalf("unexpected outcome: %q", result.Outcome)
	}
	// Only the canonical lock is attempted; the self-member never is.
	if tx.queryRows != 1 {
		t.Fatalf("expected 1 row lookup, got %d", tx.queryRows)
	}
}
