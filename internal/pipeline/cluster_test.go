package pipeline

import (
	"testing"
	"time"

	"lore.fm/arcs/internal/db"
)

func testArc(id int64, name string, startedAt time.Time) db.ArcRecord {
	return db.ArcRecord{
		ArcID:        id,
		DisplayName:  name,
		PartitionKey: "metro",
		StartedAt:    startedAt,
	}
}

func TestBuildGroups_TransitiveComponent(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	arcs := []db.ArcRecord{
		testArc(3, "c", base.Add(2*time.Hour)),
		testArc(1, "a", base),
		testArc(2, "b", base.Add(time.Hour)),
		testArc(4, "d", base.Add(3*time.Hour)),
	}

	// a-c and c-b link transitively; d stays a singleton.
	groups := buildGroups(arcs, [][2]int{{0, 1}, {0, 2}})
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	group := groups[0]
	if len(group) != 3 {
		t.Fatalf("expected 3 members, got %d", len(group))
	}
	if group[0].ArcID != 1 || group[1].ArcID != 2 || group[2].ArcID != 3 {
		t.Fatalf("expected oldest-first ordering 1,2,3, got %d,%d,%d", group[0].ArcID, group[1].ArcID, group[2].ArcID)
	}
}

func TestBuildGroups_DiscardsSingletons(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	arcs := []db.ArcRecord{
		testArc(1, "a", base),
		testArc(2, "b", base.Add(time.Hour)),
	}

	if groups := buildGroups(arcs, nil); groups != nil {
		t.Fatalf("expected no groups without edges, got %v", groups)
	}
}

func TestBuildGroups_DeterministicAcrossEdgeOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	arcs := []db.ArcRecord{
		testArc(1, "a", base),
		testArc(2, "b", base.Add(time.Hour)),
		testArc(3, "c", base.Add(2*time.Hour)),
		testArc(4, "d", base.Add(3*time.Hour)),
	}

	forward := buildGroups(arcs, [][2]int{{0, 1}, {2, 3}})
	reversed := buildGroups(arcs, [][2]int{{2, 3}, {0, 1}})

	if len(forward) != 2 || len(reversed) != 2 {
		t.Fatalf("expected 2 groups both ways, got %d and %d", len(forward), len(reversed))
	}
	for g := range forward {
		if len(forward[g]) != len(reversed[g]) {
			t.Fatalf("group %d size differs across edge orders", g)
		}
		for i := range forward[g] {
			if forward[g][i].ArcID != reversed[g][i].ArcID {
				t.Fatalf("group %d member %d differs across edge orders", g, i)
			}
		}
	}
}

func TestArcOlder_TieBreaksOnArcID(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a := testArc(1, "a", ts)
	b := testArc(2, "b", ts)

	if !arcOlder(a, b) {
		t.Fatalf("expected lower arc_id to win the tie")
	}
	if arcOlder(b, a) {
		t.Fatalf("expected higher arc_id to lose the tie")
	}
}
