package synthesis

import "github.com/ShayCichocki/hopper/pkg/models"

// Conflicting reports whether a and b share a content key with unequal values.
func Conflicting(a, b models.HopResult) bool {
	small, large := a.Content, b.Content
	if len(small) > len(large) {
		small, large = large, small
	}
	for k, va := range small {
		if vb, ok := large[k]; ok && !models.ValuesEqual(va, vb) {
			return true
		}
	}
	return false
}

// unionFind is a disjoint-set forest over result indexes.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}

// GroupConflicts partitions results into connected components of the
// conflict relation: two results share a group when a chain of pairwise
// conflicts links them. Groups and their members keep input order.
func GroupConflicts(results []models.HopResult) [][]models.HopResult {
	u := newUnionFind(len(results))
	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if Conflicting(results[i], results[j]) {
				u.union(i, j)
			}
		}
	}

	index := make(map[int]int)
	var groups [][]models.HopResult
	for i, r := range results {
		root := u.find(i)
		g, ok := index[root]
		if !ok {
			g = len(groups)
			index[root] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], r)
	}
	return groups
}
