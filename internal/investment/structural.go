package investment

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Unit is a partitioned work unit resolved against the graph store.
type Unit struct {
	ID        string
	Nodes     []models.Node
	Edges     []models.Edge
	Singleton bool
	// Evidence carries partition decisions into the structural evidence list.
	Evidence []models.Evidence
}

// StructuralScore is the pre-text result for one unit
type StructuralScore struct {
	// Raw is the unnormalized category vector.
	Raw map[string]float64
	// Shares is Raw scaled to sum to one; all zeros when Raw is empty.
	Shares map[string]float64

	Confidence float64
	Provenance float64
	Temporal   float64
	Density    float64

	Evidence         []models.Evidence
	TemporalEvidence []models.Evidence
}

const (
	pathClassTest       = "test"
	pathClassDependency = "dependency"
	pathClassCI         = "ci"
	pathClassDocs       = "docs"
	pathClassSource     = "source"
)

var dependencyManifests = map[string]bool{
	"go.mod": true, "go.sum": true, "package.json": true, "package-lock.json": true,
	"yarn.lock": true, "pnpm-lock.yaml": true, "requirements.txt": true, "poetry.lock": true,
	"pipfile.lock": true, "pyproject.toml": true, "cargo.toml": true, "cargo.lock": true,
	"gemfile": true, "gemfile.lock": true, "pom.xml": true, "build.gradle": true,
}

// classifyPath buckets a file path by the kind of work it usually signals.
func classifyPath(p string) string {
	lower := strings.ToLower(p)
	base := path.Base(lower)

	switch {
	case dependencyManifests[base]:
		return pathClassDependency
	case strings.Contains(lower, ".github/workflows/"), strings.Contains(lower, ".circleci/"),
		base == ".gitlab-ci.yml", base == "jenkinsfile":
		return pathClassCI
	case strings.Contains(base, "_test."), strings.Contains(base, ".test."), strings.Contains(base, ".spec."),
		strings.HasPrefix(base, "test_"), strings.Contains(lower, "/tests/"), strings.HasPrefix(lower, "tests/"),
		strings.Contains(lower, "/test/"), strings.HasPrefix(lower, "test/"):
		return pathClassTest
	case strings.HasSuffix(base, ".md"), strings.HasSuffix(base, ".rst"),
		strings.HasPrefix(lower, "docs/"), strings.Contains(lower, "/docs/"):
		return pathClassDocs
	default:
		return pathClassSource
	}
}

// ScoreStructure derives the raw category vector and structural confidence
// from graph shape alone.
func ScoreStructure(u Unit, w *WeightTable) (*StructuralScore, error) {
	for _, n := range u.Nodes {
		if err := n.Validate(); err != nil {
			return nil, errors.ScoringErrorf(u.ID, "malformed node: %v", err)
		}
	}

	nodes := append([]models.Node(nil), u.Nodes...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	edges := append([]models.Edge(nil), u.Edges...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	raw := zeroVector()
	evidence := append([]models.Evidence(nil), u.Evidence...)

	scale := 1.0
	if u.Singleton {
		scale = w.SingletonTypeWeight
		for _, c := range categories {
			raw[c] += 1.0 / float64(len(categories))
		}
		evidence = append(evidence, models.Evidence{
			Type:        "uniform_prior",
			Description: "singleton unit",
			Weight:      1,
		})
	}

	add := func(weights map[string]float64, factor float64) {
		for cat, v := range weights {
			raw[cat] += v * factor
		}
	}

	for _, n := range nodes {
		switch n.Kind {
		case models.NodeKindIssue:
			issueType := strings.ToLower(n.Issue.Type)
			weights, ok := w.IssueTypeWeights[issueType]
			if !ok {
				issueType = "unknown"
				weights = w.IssueTypeWeights["unknown"]
			}
			add(weights, scale)
			evidence = append(evidence, models.Evidence{
				Type:        "issue_type",
				NodeID:      n.ID,
				Description: issueType,
				Weight:      scale,
			})

		case models.NodeKindCommit:
			c := n.Commit
			total := c.FilesAdded + c.FilesModified + c.FilesDeleted
			if total == 0 {
				continue
			}
			ratio := float64(c.FilesAdded) / float64(total)
			add(w.NewFileWeights, ratio*scale)
			add(w.ModifyWeights, (1-ratio)*scale)
			evidence = append(evidence, models.Evidence{
				Type:        "commit_shape",
				NodeID:      n.ID,
				Description: "new file ratio",
				Value:       models.Float(ratio),
			})

		case models.NodeKindFile:
			class := classifyPath(n.File.Path)
			weights, ok := w.PathClassWeights[class]
			if !ok {
				continue
			}
			add(weights, scale)
			evidence = append(evidence, models.Evidence{
				Type:        "path_class",
				NodeID:      n.ID,
				Description: class,
				Weight:      scale,
			})
		}
	}

	for _, e := range edges {
		weights, ok := w.EdgeKindWeights[string(e.Kind)]
		if !ok {
			continue
		}
		factor := e.Confidence * provenanceFactor(e, w)
		add(weights, factor)
		evidence = append(evidence, models.Evidence{
			Type:        "edge_kind",
			EdgeID:      e.ID,
			Description: fmt.Sprintf("%s (%s)", e.Kind, e.Provenance),
			Weight:      factor,
		})
	}

	shares := zeroVector()
	var total float64
	for _, c := range categories {
		total += raw[c]
	}
	if total > 0 {
		for _, c := range categories {
			shares[c] = raw[c] / total
		}
	}
	for _, c := range categories {
		if shares[c] > 0 {
			evidence = append(evidence, models.Evidence{
				Type:     "structural_share",
				Category: c,
				Value:    models.Float(shares[c]),
			})
		}
	}

	score := &StructuralScore{
		Raw:        raw,
		Shares:     shares,
		Provenance: provenanceScore(edges, w),
		Density:    densityScore(nodes, edges),
	}
	var span time.Duration
	score.Temporal, span = temporalScore(nodes, w)

	cw := w.Confidence
	score.Confidence = clamp((cw.Provenance*score.Provenance+cw.Temporal*score.Temporal+cw.Density*score.Density)/
		(cw.Provenance+cw.Temporal+cw.Density), 0, 1)

	score.Evidence = append(evidence,
		models.Evidence{Type: "provenance_mix", Value: models.Float(score.Provenance), Description: fmt.Sprintf("%d edges", len(edges))},
		models.Evidence{Type: "graph_density", Value: models.Float(score.Density), Description: fmt.Sprintf("%d nodes", len(nodes))},
	)
	score.TemporalEvidence = []models.Evidence{{
		Type:        "temporal_coherence",
		Value:       models.Float(score.Temporal),
		Description: fmt.Sprintf("span %.2f days over %.0f day window", span.Hours()/24, cw.TemporalWindowDays),
	}}
	return score, nil
}

func provenanceFactor(e models.Edge, w *WeightTable) float64 {
	if e.Provenance == models.ProvenanceExplicit {
		return 1
	}
	return w.InferredEdgeFactor
}

// provenanceScore is the mean provenance-weighted edge confidence.
func provenanceScore(edges []models.Edge, w *WeightTable) float64 {
	if len(edges) == 0 {
		return 0
	}
	var sum float64
	for _, e := range edges {
		sum += e.Confidence * provenanceFactor(e, w)
	}
	return clamp(sum/float64(len(edges)), 0, 1)
}

// temporalScore rewards units whose activity is tightly clustered.
func temporalScore(nodes []models.Node, w *WeightTable) (float64, time.Duration) {
	var lo, hi time.Time
	timed := 0
	for _, n := range nodes {
		t := n.ActivityTime()
		if t.IsZero() {
			continue
		}
		timed++
		if lo.IsZero() || t.Before(lo) {
			lo = t
		}
		if hi.IsZero() || t.After(hi) {
			hi = t
		}
	}
	if timed < 2 {
		return w.Confidence.TemporalFallback, 0
	}
	span := hi.Sub(lo)
	window := time.Duration(w.Confidence.TemporalWindowDays * 24 * float64(time.Hour))
	return clamp(1-float64(span)/float64(window), 0, 1), span
}

// densityScore is the share of node pairs linked by at least one edge.
func densityScore(nodes []models.Node, edges []models.Edge) float64 {
	n := len(nodes)
	if n < 2 {
		return 0
	}
	pairs := make(map[[2]string]bool)
	for _, e := range edges {
		if e.Source == e.Target {
			continue
		}
		a, b := e.Source, e.Target
		if b < a {
			a, b = b, a
		}
		pairs[[2]string{a, b}] = true
	}
	possible := float64(n*(n-1)) / 2
	return clamp(float64(len(pairs))/possible, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
