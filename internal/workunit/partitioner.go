package workunit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Structural evidence types recorded by the partitioner
const (
	EvidencePartitionWindow     = "partition_window"
	EvidenceSingleton           = "singleton"
	EvidenceWindowSplit         = "window_split"
	EvidenceAmbiguousMembership = "ambiguous_membership"
)

// Options control how the graph is cut into units
type Options struct {
	// MaxSpan is the longest time range a unit may cover unless its members
	// are joined by explicit causal edges. Required.
	MaxSpan time.Duration
}

// Candidate is a closed component of the evidence graph. It references
// nodes and edges by ID only.
type Candidate struct {
	ID        string
	From      time.Time
	To        time.Time
	NodeIDs   []string
	EdgeIDs   []string
	Singleton bool
	Evidence  []models.Evidence
}

// Stats summarises one partitioning pass
type Stats struct {
	Units         int
	Singletons    int
	RefusedMerges int
}

// Partitioner yields the work unit candidates of one graph snapshot. It
// makes a single pass and cannot be restarted; build a new one to re-run.
type Partitioner struct {
	store  *graph.Store
	opts   Options
	logger logrus.FieldLogger

	built bool
	units []Candidate
	pos   int
	stats Stats
}

// New creates a partitioner over store
func New(store *graph.Store, opts Options, logger logrus.FieldLogger) (*Partitioner, error) {
	if opts.MaxSpan <= 0 {
		return nil, errors.ConfigErrorf("partition max span must be positive, got %s", opts.MaxSpan)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Partitioner{store: store, opts: opts, logger: logger}, nil
}

// ID derives the unit identifier from its member nodes. The result does not
// depend on the order of nodes.
func ID(nodes []models.Node) string {
	tokens := make([]string, len(nodes))
	for i, n := range nodes {
		tokens[i] = n.Token()
	}
	sort.Strings(tokens)
	sum := sha256.Sum256([]byte(strings.Join(tokens, "|")))
	return hex.EncodeToString(sum[:])
}

// Next returns the next candidate, or false once the sequence is exhausted.
func (p *Partitioner) Next() (Candidate, bool) {
	if !p.built {
		p.build()
	}
	if p.pos >= len(p.units) {
		p.units = nil
		return Candidate{}, false
	}
	c := p.units[p.pos]
	p.pos++
	return c, true
}

// Stats returns counters for the pass. Valid once Next has been called.
func (p *Partitioner) Stats() Stats {
	return p.stats
}

func (p *Partitioner) build() {
	p.built = true

	nodes := p.store.Nodes()
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	uf := newUnionFind(nodes)

	edges := p.store.Edges()
	edgeTime := func(e models.Edge) time.Time {
		a := nodes[index[e.Source]].ActivityTime()
		b := nodes[index[e.Target]].ActivityTime()
		if b.After(a) {
			return b
		}
		return a
	}
	// Files attach after work has been grouped so they never bridge it.
	sort.SliceStable(edges, func(i, j int) bool {
		ti, tj := edges[i].Kind == models.EdgeTouches, edges[j].Kind == models.EdgeTouches
		if ti != tj {
			return !ti
		}
		ei, ej := edgeTime(edges[i]), edgeTime(edges[j])
		if !ei.Equal(ej) {
			return ei.Before(ej)
		}
		return edges[i].ID < edges[j].ID
	})

	for _, e := range edges {
		a, b := index[e.Source], index[e.Target]
		ra, rb := uf.find(a), uf.find(b)
		if ra == rb {
			continue
		}

		if e.Kind == models.EdgeTouches {
			p.attachFile(uf, nodes, e, a, b)
			continue
		}

		explicitChain := e.Provenance == models.ProvenanceExplicit && e.Kind.IsCausal()
		if explicitChain {
			uf.union(ra, rb)
			continue
		}

		if gap := timeGap(nodes[a].ActivityTime(), nodes[b].ActivityTime()); gap > p.opts.MaxSpan {
			p.refuse(uf, ra, rb, models.Evidence{
				Type:        EvidenceWindowSplit,
				EdgeID:      e.ID,
				Description: fmt.Sprintf("%s edge endpoints %.1f days apart exceed %.1f day window", e.Kind, gap.Hours()/24, p.maxSpanDays()),
			})
			continue
		}

		lo, hi := uf.bounds(ra, rb)
		if span := hi.Sub(lo); span > p.opts.MaxSpan {
			// Both sides already hold earlier qualifying edges; each node
			// keeps the assignment it received first.
			p.refuse(uf, ra, rb, models.Evidence{
				Type:        EvidenceAmbiguousMembership,
				EdgeID:      e.ID,
				Description: fmt.Sprintf("merge via %s would span %.1f days; earliest assignment kept", e.Kind, span.Hours()/24),
			})
			continue
		}

		uf.union(ra, rb)
	}

	p.units = p.collect(uf, nodes, edges, index)
	p.stats.Units = len(p.units)

	p.logger.WithFields(logrus.Fields{
		"nodes":          len(nodes),
		"edges":          len(edges),
		"units":          p.stats.Units,
		"singletons":     p.stats.Singletons,
		"refused_merges": p.stats.RefusedMerges,
		"max_span_days":  p.maxSpanDays(),
	}).Info("Partitioned evidence graph")
}

// attachFile joins a file to the first commit that touched it. A file that
// already belongs to a unit stays there.
func (p *Partitioner) attachFile(uf *unionFind, nodes []models.Node, e models.Edge, a, b int) {
	file, other := b, a
	if nodes[a].Kind == models.NodeKindFile {
		file, other = a, b
	}
	rf, ro := uf.find(file), uf.find(other)

	if nodes[file].Kind != models.NodeKindFile || uf.size[rf] == 1 {
		uf.union(rf, ro)
		return
	}
	p.refuse(uf, rf, ro, models.Evidence{
		Type:        EvidenceAmbiguousMembership,
		NodeID:      nodes[file].ID,
		EdgeID:      e.ID,
		Description: "file already attached to an earlier unit",
	})
}

func (p *Partitioner) refuse(uf *unionFind, ra, rb int, ev models.Evidence) {
	p.stats.RefusedMerges++
	uf.record(ra, ev)
	uf.record(rb, ev)
}

func (p *Partitioner) collect(uf *unionFind, nodes []models.Node, edges []models.Edge, index map[string]int) []Candidate {
	members := make(map[int][]int)
	for i := range nodes {
		r := uf.find(i)
		members[r] = append(members[r], i)
	}
	internal := make(map[int][]string)
	for _, e := range edges {
		ra, rb := uf.find(index[e.Source]), uf.find(index[e.Target])
		if ra == rb {
			internal[ra] = append(internal[ra], e.ID)
		}
	}

	window := models.Evidence{
		Type:        EvidencePartitionWindow,
		Description: "max_span_days",
		Value:       models.Float(p.maxSpanDays()),
	}

	units := make([]Candidate, 0, len(members))
	for root, idx := range members {
		memberNodes := make([]models.Node, len(idx))
		ids := make([]string, len(idx))
		for i, n := range idx {
			memberNodes[i] = nodes[n]
			ids[i] = nodes[n].ID
		}
		sort.Strings(ids)
		edgeIDs := internal[root]
		sort.Strings(edgeIDs)

		c := Candidate{
			ID:        ID(memberNodes),
			From:      uf.minT[root],
			To:        uf.maxT[root],
			NodeIDs:   ids,
			EdgeIDs:   edgeIDs,
			Singleton: len(ids) == 1,
			Evidence:  append([]models.Evidence{window}, uf.evidence[root]...),
		}
		if c.Singleton {
			p.stats.Singletons++
			c.Evidence = append(c.Evidence, models.Evidence{
				Type:        EvidenceSingleton,
				NodeID:      ids[0],
				Description: "no qualifying edges",
			})
		}
		units = append(units, c)
	}

	sort.Slice(units, func(i, j int) bool {
		if !units[i].From.Equal(units[j].From) {
			return units[i].From.Before(units[j].From)
		}
		return units[i].ID < units[j].ID
	})
	return units
}

func (p *Partitioner) maxSpanDays() float64 {
	return p.opts.MaxSpan.Hours() / 24
}

// timeGap is the distance between two activity times; untimed nodes never
// widen a gap.
func timeGap(a, b time.Time) time.Duration {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	if a.After(b) {
		return a.Sub(b)
	}
	return b.Sub(a)
}
