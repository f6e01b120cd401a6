package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNodeValidate(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantErr bool
	}{
		{"valid issue", Node{ID: "jira:A-1", Kind: NodeKindIssue, Issue: &IssueFields{Title: "x"}}, false},
		{"valid file", Node{ID: "file:r/a.go", Kind: NodeKindFile, File: &FileFields{Path: "a.go"}}, false},
		{"empty id", Node{Kind: NodeKindIssue, Issue: &IssueFields{}}, true},
		{"unknown kind", Node{ID: "x", Kind: "epic", Issue: &IssueFields{}}, true},
		{"missing payload", Node{ID: "c1", Kind: NodeKindCommit}, true},
		{"mismatched payload", Node{ID: "c1", Kind: NodeKindCommit, Issue: &IssueFields{}}, true},
		{"two payloads", Node{ID: "c1", Kind: NodeKindCommit, Commit: &CommitFields{}, File: &FileFields{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.node.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEdgeValidate(t *testing.T) {
	tests := []struct {
		name    string
		edge    Edge
		wantErr bool
	}{
		{"explicit", Edge{Source: "a", Target: "b", Kind: EdgeContains, Provenance: ProvenanceExplicit, Confidence: 1}, false},
		{"inferred with evidence", Edge{Source: "a", Target: "b", Kind: EdgeFixes, Provenance: ProvenanceInferred, Confidence: 0.9, Evidence: "Fixes #1"}, false},
		{"inferred without evidence", Edge{Source: "a", Target: "b", Kind: EdgeFixes, Provenance: ProvenanceInferred, Confidence: 0.9}, true},
		{"missing provenance", Edge{Source: "a", Target: "b", Kind: EdgeFixes, Confidence: 0.9}, true},
		{"confidence above one", Edge{Source: "a", Target: "b", Kind: EdgeFixes, Provenance: ProvenanceExplicit, Confidence: 1.2}, true},
		{"unknown kind", Edge{Source: "a", Target: "b", Kind: "owns", Provenance: ProvenanceExplicit, Confidence: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edge.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEdgeIDStable(t *testing.T) {
	a := EdgeID("pr:1", EdgeContains, "commit:abc")
	assert.Equal(t, a, EdgeID("pr:1", EdgeContains, "commit:abc"))
	assert.NotEqual(t, a, EdgeID("commit:abc", EdgeContains, "pr:1"))
	assert.Len(t, a, 32)
}

func TestActivityTimeAndTexts(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	file := Node{ID: "f", Kind: NodeKindFile, CreatedAt: now, File: &FileFields{Path: "a"}}
	assert.True(t, file.ActivityTime().IsZero())

	pr := Node{ID: "gh:r#2", Kind: NodeKindPullRequest, CreatedAt: now,
		PullRequest: &PullRequestFields{Number: 2, Title: "Fix login", Description: ""}}
	assert.Equal(t, now, pr.ActivityTime())
	assert.Equal(t, "pull_request:gh:r#2", pr.Token())

	texts := pr.Texts()
	assert.Len(t, texts, 1)
	assert.Equal(t, SourcePRTitle, texts[0].Source)
	assert.Equal(t, "gh:r#2", texts[0].SourceID)
}
