package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind identifies what a graph node represents
type NodeKind string

const (
	NodeKindIssue       NodeKind = "issue"
	NodeKindPullRequest NodeKind = "pull_request"
	NodeKindCommit      NodeKind = "commit"
	NodeKindFile        NodeKind = "file"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindIssue, NodeKindPullRequest, NodeKindCommit, NodeKindFile:
		return true
	}
	return false
}

// EdgeKind identifies the relationship between two nodes
type EdgeKind string

const (
	EdgeBlocks     EdgeKind = "blocks"
	EdgeRelates    EdgeKind = "relates"
	EdgeDuplicates EdgeKind = "duplicates"
	EdgeParentOf   EdgeKind = "parent_of"
	EdgeImplements EdgeKind = "implements"
	EdgeFixes      EdgeKind = "fixes"
	EdgeReferences EdgeKind = "references"
	EdgeContains   EdgeKind = "contains"
	EdgeTouches    EdgeKind = "touches"
)

// Valid reports whether k is a known edge kind.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeBlocks, EdgeRelates, EdgeDuplicates, EdgeParentOf, EdgeImplements,
		EdgeFixes, EdgeReferences, EdgeContains, EdgeTouches:
		return true
	}
	return false
}

// IsCausal reports whether the edge records one piece of work producing or
// gating another.
func (k EdgeKind) IsCausal() bool {
	switch k {
	case EdgeImplements, EdgeFixes, EdgeContains, EdgeParentOf, EdgeBlocks:
		return true
	}
	return false
}

// Provenance records how an edge was established
type Provenance string

const (
	ProvenanceExplicit Provenance = "explicit" // provider-native link
	ProvenanceInferred Provenance = "inferred" // derived from text or timing
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	return p == ProvenanceExplicit || p == ProvenanceInferred
}

// IssueFields holds work-item specific data
type IssueFields struct {
	Key         string `json:"key,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"` // story, bug, incident, ...
}

// PullRequestFields holds pull-request specific data
type PullRequestFields struct {
	Number      int        `json:"number"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	MergedAt    *time.Time `json:"merged_at,omitempty"`
}

// CommitFields holds commit specific data
type CommitFields struct {
	SHA           string `json:"sha"`
	Message       string `json:"message"`
	Additions     int    `json:"additions"`
	Deletions     int    `json:"deletions"`
	FilesAdded    int    `json:"files_added"`
	FilesModified int    `json:"files_modified"`
	FilesDeleted  int    `json:"files_deleted"`
}

// FileFields holds file specific data
type FileFields struct {
	Path string `json:"path"`
}

// Node is one piece of delivery evidence. Exactly one of the kind-specific
// field groups is set and it must match Kind.
type Node struct {
	ID        string    `json:"id"`
	Kind      NodeKind  `json:"kind"`
	Provider  string    `json:"provider"`
	RepoID    string    `json:"repo_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Author    string    `json:"author,omitempty"`
	State     string    `json:"state,omitempty"`

	Issue       *IssueFields       `json:"issue,omitempty"`
	PullRequest *PullRequestFields `json:"pull_request,omitempty"`
	Commit      *CommitFields      `json:"commit,omitempty"`
	File        *FileFields        `json:"file,omitempty"`

	// Metadata is the raw provider payload, kept for evidence display only.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Validate checks that the kind-specific payload matches Kind.
func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is empty")
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("node %s: unknown kind %q", n.ID, n.Kind)
	}

	set := 0
	for _, present := range []bool{n.Issue != nil, n.PullRequest != nil, n.Commit != nil, n.File != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("node %s: expected exactly one %s payload, found %d", n.ID, n.Kind, set)
	}

	var ok bool
	switch n.Kind {
	case NodeKindIssue:
		ok = n.Issue != nil
	case NodeKindPullRequest:
		ok = n.PullRequest != nil
	case NodeKindCommit:
		ok = n.Commit != nil
	case NodeKindFile:
		ok = n.File != nil
	}
	if !ok {
		return fmt.Errorf("node %s: payload does not match kind %s", n.ID, n.Kind)
	}
	return nil
}

// ActivityTime is the time used for windowing. Files carry no time.
func (n Node) ActivityTime() time.Time {
	if n.Kind == NodeKindFile {
		return time.Time{}
	}
	return n.CreatedAt
}

// Token is the "kind:id" form used to derive work unit identities.
func (n Node) Token() string {
	return string(n.Kind) + ":" + n.ID
}

// Edge is a directed relationship between two nodes
type Edge struct {
	ID         string     `json:"id,omitempty"`
	Source     string     `json:"source"`
	Target     string     `json:"target"`
	Kind       EdgeKind   `json:"kind"`
	Provenance Provenance `json:"provenance"`
	Confidence float64    `json:"confidence"`
	Evidence   string     `json:"evidence,omitempty"`
}

// EdgeID derives the stable identifier for an edge.
func EdgeID(source string, kind EdgeKind, target string) string {
	sum := sha256.Sum256([]byte(source + "|" + string(kind) + "|" + target))
	return hex.EncodeToString(sum[:16])
}

// Validate checks the provenance and confidence invariants.
func (e Edge) Validate() error {
	if e.Source == "" || e.Target == "" {
		return fmt.Errorf("edge endpoints must be set")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("edge %s->%s: unknown kind %q", e.Source, e.Target, e.Kind)
	}
	if !e.Provenance.Valid() {
		return fmt.Errorf("edge %s->%s: invalid provenance %q", e.Source, e.Target, e.Provenance)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("edge %s->%s: confidence %.3f outside [0,1]", e.Source, e.Target, e.Confidence)
	}
	if e.Provenance == ProvenanceInferred && e.Evidence == "" {
		return fmt.Errorf("edge %s->%s: inferred edge requires evidence", e.Source, e.Target)
	}
	return nil
}

// Texts returns the free-text fields of a node keyed by source name.
func (n Node) Texts() []Text {
	var out []Text
	add := func(source, value string) {
		if value != "" {
			out = append(out, Text{Source: source, SourceID: n.ID, Value: value})
		}
	}
	switch {
	case n.Issue != nil:
		add(SourceIssueTitle, n.Issue.Title)
		add(SourceIssueDescription, n.Issue.Description)
	case n.PullRequest != nil:
		add(SourcePRTitle, n.PullRequest.Title)
		add(SourcePRDescription, n.PullRequest.Description)
	case n.Commit != nil:
		add(SourceCommitMessage, n.Commit.Message)
	}
	return out
}

// Text sources recognised by the textual modifier
const (
	SourceIssueTitle       = "issue_title"
	SourceIssueDescription = "issue_description"
	SourcePRTitle          = "pr_title"
	SourcePRDescription    = "pr_description"
	SourceCommitMessage    = "commit_message"
)

// Text is one piece of unit text with where it came from
type Text struct {
	Source   string
	SourceID string
	Value    string
}

// Evidence is one entry in a unit's structural, temporal or textual
// evidence list. Only the fields relevant to Type are set.
type Evidence struct {
	Type          string   `json:"type"`
	Description   string   `json:"description,omitempty"`
	NodeID        string   `json:"node_id,omitempty"`
	EdgeID        string   `json:"edge_id,omitempty"`
	RelatedEdgeID string   `json:"related_edge_id,omitempty"`
	Category      string   `json:"category,omitempty"`
	Keyword       string   `json:"keyword,omitempty"`
	Source        string   `json:"source,omitempty"`
	SourceID      string   `json:"source_id,omitempty"`
	Weight        float64  `json:"weight,omitempty"`
	Contribution  float64  `json:"contribution,omitempty"`
	Value         *float64 `json:"value,omitempty"`
	Quote         string   `json:"quote,omitempty"`
}

// Float returns a pointer to v, for optional evidence values.
func Float(v float64) *float64 {
	return &v
}

// Records is a batch of normalized nodes and edges from one provider
type Records struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Append adds other's nodes and edges to r.
func (r *Records) Append(other *Records) {
	if other == nil {
		return
	}
	r.Nodes = append(r.Nodes, other.Nodes...)
	r.Edges = append(r.Edges, other.Edges...)
}
