package pipeline

import (
	"sort"

	"lore.fm/arcs/internal/db"
)

// unionFind is a disjoint-set forest with path compression and union by
// rank. Indices refer to positions in the candidate slice.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	rootA, rootB := uf.find(a), uf.find(b)
	if rootA == rootB {
		return
	}
	switch {
	case uf.rank[rootA] < uf.rank[rootB]:
		uf.parent[rootA] = rootB
	case uf.rank[rootA] > uf.rank[rootB]:
		uf.parent[rootB] = rootA
	default:
		uf.parent[rootB] = rootA
		uf.rank[rootA]++
	}
}

// buildGroups flattens union-find components into duplicate groups. Each
// group is ordered oldest-first (started_at, then arc_id), singletons are
// discarded, and groups themselves are ordered by their canonical member so
// the output is deterministic for a given edge set regardless of edge order.
func buildGroups(arcs []db.ArcRecord, edges [][2]int) [][]db.ArcRecord {
	if len(arcs) == 0 {
		return nil
	}

	uf := newUnionFind(len(arcs))
	for _, edge := range edges {
		uf.union(edge[0], edge[1])
	}

	members := make(map[int][]int, len(arcs))
	for i := range arcs {
		root := uf.find(i)
		members[root] = append(members[root], i)
	}

	var groups [][]db.ArcRecord
	for _, indices := range members {
		if len(indices) < 2 {
			continue
		}
		group := make([]db.ArcRecord, 0, len(indices))
		for _, i := range indices {
			group = append(group, arcs[i])
		}
		sortGroupOldestFirst(group)
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return arcOlder(groups[i][0], groups[j][0])
	})
	return groups
}

func sortGroupOldestFirst(group []db.ArcRecord) {
	sort.Slice(group, func(i, j int) bool {
		return arcOlder(group[i], group[j])
	})
}

func arcOlder(a, b db.ArcRecord) bool {
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	return a.ArcID < b.ArcID
}
