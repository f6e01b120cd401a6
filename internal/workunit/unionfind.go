package workunit

import (
	"time"

	"github.com/rohankatakam/workgraph/internal/models"
)

// unionFind tracks components together with their time bounds and the
// partition decisions recorded against them.
type unionFind struct {
	parent   []int
	size     []int
	minT     []time.Time
	maxT     []time.Time
	evidence [][]models.Evidence
}

func newUnionFind(nodes []models.Node) *unionFind {
	uf := &unionFind{
		parent:   make([]int, len(nodes)),
		size:     make([]int, len(nodes)),
		minT:     make([]time.Time, len(nodes)),
		maxT:     make([]time.Time, len(nodes)),
		evidence: make([][]models.Evidence, len(nodes)),
	}
	for i, n := range nodes {
		uf.parent[i] = i
		uf.size[i] = 1
		uf.minT[i] = n.ActivityTime()
		uf.maxT[i] = n.ActivityTime()
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// bounds returns the time range the two components would cover if merged.
// Zero times belong to untimed nodes and are ignored.
func (u *unionFind) bounds(ra, rb int) (time.Time, time.Time) {
	lo, hi := u.minT[ra], u.maxT[ra]
	if lo.IsZero() || (!u.minT[rb].IsZero() && u.minT[rb].Before(lo)) {
		lo = u.minT[rb]
	}
	if hi.IsZero() || u.maxT[rb].After(hi) {
		hi = u.maxT[rb]
	}
	return lo, hi
}

func (u *unionFind) union(ra, rb int) int {
	lo, hi := u.bounds(ra, rb)
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
	u.minT[ra], u.maxT[ra] = lo, hi
	u.evidence[ra] = append(u.evidence[ra], u.evidence[rb]...)
	u.evidence[rb] = nil
	return ra
}

func (u *unionFind) record(root int, ev models.Evidence) {
	u.evidence[root] = append(u.evidence[root], ev)
}
