package pipeline

import (
	"testing"
	"time"

	"lore.fm/arcs/internal/db"
)

func keywordArc(id int64, name string, points ...string) db.ArcRecord {
	return db.ArcRecord{
		ArcID:        id,
		DisplayName:  name,
		KeyPoints:    points,
		PartitionKey: "metro",
		StartedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	}
}

func TestPreCluster_GroupsMatchingArcs(t *testing.T) {
	t.Parallel()

	arcs := []db.ArcRecord{
		keywordArc(2, "Port shutdown continues"),
		keywordArc(1, "Harbor strike", "port shutdown looms"),
		keywordArc(3, "Mayor race heats up"),
	}
	rules := []KeywordRule{
		{Name: "port-strike", Phrases: []string{"port shutdown"}},
	}

	groups, remaining := preCluster(arcs, "metro", rules)
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if groups[0][0].ArcID != 1 || groups[0][1].ArcID != 2 {
		t.Fatalf("expected oldest-first group 1,2, got %d,%d", groups[0][0].ArcID, groups[0][1].ArcID)
	}
	if len(remaining) != 1 || remaining[0].ArcID != 3 {
		t.Fatalf("expected arc 3 to remain, got %v", remaining)
	}
}

func TestPreCluster_SingleMatchIsNotConsumed(t *testing.T) {
	t.Parallel()

	arcs := []db.ArcRecord{
		keywordArc(1, "Harbor strike"),
		keywordArc(2, "Mayor race"),
	}
	rules := []KeywordRule{
		{Name: "strike", Phrases: []string{"strike"}},
	}

	groups, remaining := preCluster(arcs, "metro", rules)
	if len(groups) != 0 {
		t.Fatalf("expected no groups from a single match, got %d", len(groups))
	}
	if len(remaining) != 2 {
		t.Fatalf("expected both arcs to remain, got %d", len(remaining))
	}
}

func TestPreCluster_PartitionScopedRule(t *testing.T) {
	t.Parallel()

	arcs := []db.ArcRecord{
		keywordArc(1, "Harbor strike"),
		keywordArc(2, "Harbor strike grows"),
	}
	rules := []KeywordRule{
		{Name: "strike", PartitionKey: "coastal", Phrases: []string{"strike"}},
	}

	groups, remaining := preCluster(arcs, "metro", rules)
	if len(groups) != 0 {
		t.Fatalf("expected rule scoped to another partition to be skipped, got %d groups", len(groups))
	}
	if len(remaining) != 2 {
		t.Fatalf("expected both arcs to remain, got %d", len(remaining))
	}
}

func TestPreCluster_FirstMatchingRuleWins(t *testing.T) {
	t.Parallel()

	arcs := []db.ArcRecord{
		keywordArc(1, "Harbor strike shutdown"),
		keywordArc(2, "Harbor strike grows"),
		keywordArc(3, "Shutdown at the docks"),
	}
	rules := []KeywordRule{
		{Name: "strike", Phrases: []string{"strike"}},
		{Name: "shutdown", Phrases: []string{"shutdown"}},
	}

	groups, remaining := preCluster(arcs, "metro", rules)
	if len(groups) != 1 {
		t.Fatalf("expected only the strike group, got %d", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Fatalf("expected 2 members in strike group, got %d", len(groups[0]))
	}
	// Arc 3 matched the shutdown rule alone, so it stays.
	if len(remaining) != 1 || remaining[0].ArcID != 3 {
		t.Fatalf("expected arc 3 to remain, got %v", remaining)
	}
}
