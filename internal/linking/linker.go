package linking

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Confidence assigned to inferred edges
const (
	ClosingConfidence = 0.9
	MentionConfidence = 0.6
)

// Options tune the linker
type Options struct {
	// HeuristicWindow links otherwise unlinked issues to PRs opened within
	// this long after them. Zero disables heuristic links.
	HeuristicWindow     time.Duration
	HeuristicConfidence float64
}

// DefaultOptions returns the 7 day, 0.3 confidence heuristic
func DefaultOptions() Options {
	return Options{HeuristicWindow: 7 * 24 * time.Hour, HeuristicConfidence: 0.3}
}

// Stats counts the edges a pass added
type Stats struct {
	ReferenceEdges int
	HeuristicEdges int
	Unresolved     int
}

// Linker derives inferred edges from text references and timing
type Linker struct {
	opts   Options
	logger logrus.FieldLogger
}

// NewLinker creates a linker
func NewLinker(opts Options, logger logrus.FieldLogger) *Linker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Linker{opts: opts, logger: logger}
}

// Link adds inferred edges to store. Pairs that already share an edge are
// left alone, so Link can run on a store that already holds explicit links.
func (l *Linker) Link(store *graph.Store) (Stats, error) {
	var stats Stats
	nodes := store.Nodes()
	index := indexIssues(nodes)

	for _, n := range nodes {
		if n.PullRequest == nil && n.Commit == nil {
			continue
		}
		for _, text := range n.Texts() {
			for _, ref := range ExtractReferences(text) {
				target, ok := index.resolve(ref, n.RepoID)
				if !ok {
					stats.Unresolved++
					continue
				}
				if target == n.ID || store.HasEdgeBetween(n.ID, target) {
					continue
				}
				conf := MentionConfidence
				if ref.Type != RefMentions {
					conf = ClosingConfidence
				}
				_, err := store.AddEdge(models.Edge{
					Source:     n.ID,
					Target:     target,
					Kind:       ref.Type.EdgeKind(),
					Provenance: models.ProvenanceInferred,
					Confidence: conf,
					Evidence:   fmt.Sprintf("%s: %q", ref.Location, ref.Text),
				})
				if err != nil {
					return stats, err
				}
				stats.ReferenceEdges++
			}
		}
	}

	if l.opts.HeuristicWindow > 0 {
		n, err := l.linkByTime(store, nodes)
		if err != nil {
			return stats, err
		}
		stats.HeuristicEdges = n
	}

	l.logger.WithFields(logrus.Fields{
		"reference_edges": stats.ReferenceEdges,
		"heuristic_edges": stats.HeuristicEdges,
		"unresolved_refs": stats.Unresolved,
	}).Info("Linked evidence graph")
	return stats, nil
}

// linkByTime relates each issue with no code link to the PRs of the same
// repository opened within the window after it.
func (l *Linker) linkByTime(store *graph.Store, nodes []models.Node) (int, error) {
	var prs []models.Node
	for _, n := range nodes {
		if n.PullRequest != nil && n.RepoID != "" {
			prs = append(prs, n)
		}
	}
	sort.SliceStable(prs, func(i, j int) bool { return prs[i].CreatedAt.Before(prs[j].CreatedAt) })

	days := int(l.opts.HeuristicWindow.Hours() / 24)
	evidence := fmt.Sprintf("time_window_%dd", days)
	added := 0

	for _, issue := range nodes {
		if issue.Issue == nil || issue.RepoID == "" || hasCodeLink(store, issue.ID) {
			continue
		}
		lo, hi := issue.CreatedAt, issue.CreatedAt.Add(l.opts.HeuristicWindow)
		for _, pr := range prs {
			if pr.CreatedAt.Before(lo) {
				continue
			}
			if pr.CreatedAt.After(hi) {
				break
			}
			if pr.RepoID != issue.RepoID || store.HasEdgeBetween(pr.ID, issue.ID) {
				continue
			}
			_, err := store.AddEdge(models.Edge{
				Source:     pr.ID,
				Target:     issue.ID,
				Kind:       models.EdgeRelates,
				Provenance: models.ProvenanceInferred,
				Confidence: l.opts.HeuristicConfidence,
				Evidence:   evidence,
			})
			if err != nil {
				return added, err
			}
			added++
		}
	}
	return added, nil
}

func hasCodeLink(store *graph.Store, issueID string) bool {
	for _, nb := range store.Neighbors(issueID) {
		if n, ok := store.GetNode(nb.NodeID); ok && (n.PullRequest != nil || n.Commit != nil) {
			return true
		}
	}
	return false
}

type issueIndex map[string][]string

func indexIssues(nodes []models.Node) issueIndex {
	idx := issueIndex{}
	for _, n := range nodes {
		if n.Issue == nil {
			continue
		}
		key := strings.ToUpper(n.Issue.Key)
		if key == "" {
			if i := strings.LastIndex(n.ID, "#"); i >= 0 {
				key = n.ID[i:]
			}
		}
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, "#") {
			key = n.RepoID + key
		}
		idx[key] = append(idx[key], n.ID)
	}
	return idx
}

// resolve finds the single issue a reference points at. Ambiguous keys are
// left unresolved.
func (idx issueIndex) resolve(ref Reference, repoID string) (string, bool) {
	key := ref.Key
	if strings.HasPrefix(key, "#") {
		repo := ref.Repo
		if repo == "" {
			repo = repoID
		}
		key = repo + key
	}
	ids := idx[key]
	if len(ids) != 1 {
		return "", false
	}
	return ids[0], true
}
