package github

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

var fixtures = map[string]string{
	"/repos/acme/shop/issues": `[
		{"number": 3, "title": "Checkout crash", "body": "stack trace", "state": "closed",
		 "created_at": "2024-03-01T09:00:00Z", "updated_at": "2024-03-02T09:00:00Z",
		 "user": {"login": "ana"}, "labels": [{"name": "bug"}]},
		{"number": 5, "title": "Fix crash", "state": "closed",
		 "created_at": "2024-03-02T09:00:00Z", "updated_at": "2024-03-02T09:00:00Z",
		 "pull_request": {"url": "https://api.github.com/repos/acme/shop/pulls/5"}},
		{"number": 1, "title": "Old", "state": "open",
		 "created_at": "2023-01-01T09:00:00Z", "updated_at": "2024-03-02T09:00:00Z"}
	]`,
	"/repos/acme/shop/pulls": `[
		{"number": 5, "title": "Fix crash", "body": "Fixes #3", "state": "closed",
		 "created_at": "2024-03-02T09:00:00Z", "updated_at": "2024-03-02T12:00:00Z",
		 "merged_at": "2024-03-02T12:00:00Z", "user": {"login": "bo"}},
		{"number": 2, "title": "Ancient", "state": "closed",
		 "created_at": "2023-01-01T09:00:00Z", "updated_at": "2023-01-01T09:00:00Z"}
	]`,
	"/repos/acme/shop/pulls/5/commits": `[{"sha": "abc"}, {"sha": "zzz"}]`,
	"/repos/acme/shop/commits":         `[{"sha": "abc"}]`,
	"/repos/acme/shop/commits/abc": `{
		"sha": "abc",
		"commit": {"message": "guard nil cart", "author": {"date": "2024-03-02T10:00:00Z"}},
		"author": {"login": "bo"},
		"stats": {"additions": 12, "deletions": 3},
		"files": [
			{"filename": "cart.go", "status": "modified"},
			{"filename": "cart_test.go", "status": "added"}
		]
	}`,
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := fixtures[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewClient("test-token", 1000)
	require.NoError(t, c.SetBaseURL(srv.URL))
	return c
}

func TestIssueType(t *testing.T) {
	tests := []struct {
		labels []string
		want   string
	}{
		{[]string{"bug"}, "bug"},
		{[]string{"P1", "Incident"}, "incident"},
		{[]string{"enhancement"}, "story"},
		{[]string{"dependencies"}, "chore"},
		{[]string{"security", "bug"}, "security"},
		{nil, "issue"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IssueType(tt.labels), "%v", tt.labels)
	}
}

func TestExtractorRecords(t *testing.T) {
	logger, _ := test.NewNullLogger()
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ex, err := NewExtractor(newTestClient(t), "acme/shop", since, time.Time{}, logger)
	require.NoError(t, err)

	recs, err := ex.Records(context.Background())
	require.NoError(t, err)

	byID := map[string]models.Node{}
	for _, n := range recs.Nodes {
		byID[n.ID] = n
	}
	require.Len(t, byID, 5)

	issue := byID["gh:acme/shop#3"]
	require.NotNil(t, issue.Issue)
	assert.Equal(t, "bug", issue.Issue.Type)
	assert.Equal(t, "#3", issue.Issue.Key)
	assert.Equal(t, "acme/shop", issue.RepoID)

	pr := byID["gh:acme/shop#5"]
	require.NotNil(t, pr.PullRequest)
	assert.Equal(t, models.NodeKindPullRequest, pr.Kind)
	require.NotNil(t, pr.PullRequest.MergedAt)
	assert.Equal(t, "Fixes #3", pr.PullRequest.Description)

	commit := byID["commit:abc"]
	require.NotNil(t, commit.Commit)
	assert.Equal(t, 12, commit.Commit.Additions)
	assert.Equal(t, 1, commit.Commit.FilesAdded)
	assert.Equal(t, 1, commit.Commit.FilesModified)

	assert.Contains(t, byID, "file:acme/shop/cart.go")
	assert.Contains(t, byID, "file:acme/shop/cart_test.go")

	kinds := map[models.EdgeKind]int{}
	for _, e := range recs.Edges {
		kinds[e.Kind]++
		assert.Equal(t, models.ProvenanceExplicit, e.Provenance)
		require.NoError(t, e.Validate())
	}
	assert.Equal(t, 1, kinds[models.EdgeContains], "commit zzz is outside the range")
	assert.Equal(t, 2, kinds[models.EdgeTouches])
}

func TestFetchErrorsAreNetworkErrors(t *testing.T) {
	c := newTestClient(t)
	_, err := c.FetchIssues(context.Background(), "acme", "missing", time.Time{}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeNetwork, errors.GetType(err))
	assert.True(t, errors.IsRetryable(err))
	assert.Contains(t, err.Error(), "fetch issues")

	var apiErr *gh.ErrorResponse
	require.True(t, stderrors.As(stderrors.Unwrap(err), &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Response.StatusCode)
}

func TestNewExtractorValidatesRepo(t *testing.T) {
	for _, repo := range []string{"", "acme", "acme/", "a/b/c"} {
		_, err := NewExtractor(NewClient("", 1), repo, time.Time{}, time.Time{}, nil)
		assert.Error(t, err, repo)
	}
}
