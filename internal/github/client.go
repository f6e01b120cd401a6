package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Provider is the provider name stamped on every node
const Provider = "github"

// Client wraps the GitHub API client with rate limiting
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
}

// NewClient creates a new GitHub client allowing rateLimit requests per second
func NewClient(token string, rateLimit float64) *Client {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if rateLimit <= 0 {
		rateLimit = 10
	}
	return &Client{
		client:      client,
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// SetBaseURL points the client at a GitHub Enterprise or test server
func (c *Client) SetBaseURL(raw string) error {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.ConfigErrorf("invalid GitHub base URL %q: %v", raw, err)
	}
	c.client.BaseURL = u
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func repoID(owner, name string) string {
	return owner + "/" + name
}

// IssueID is the node ID of an issue or pull request
func IssueID(owner, name string, number int) string {
	return fmt.Sprintf("gh:%s/%s#%d", owner, name, number)
}

// CommitID is the node ID of a commit
func CommitID(sha string) string {
	return "commit:" + sha
}

// FileID is the node ID of a repository file
func FileID(owner, name, path string) string {
	return fmt.Sprintf("file:%s/%s/%s", owner, name, path)
}

// FetchIssues retrieves issues created in [since, until). Pull requests,
// which the issues API also returns, are skipped.
func (c *Client) FetchIssues(ctx context.Context, owner, name string, since, until time.Time) ([]models.Node, error) {
	opts := &github.IssueListByRepoOptions{
		State:     "all",
		Since:     since,
		Sort:      "created",
		Direction: "asc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var nodes []models.Node
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, errors.NetworkErrorf(err, "fetch issues")
		}

		for _, issue := range issues {
			created := issue.GetCreatedAt().Time
			if issue.IsPullRequest() || !inRange(created, since, until) {
				continue
			}
			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.GetName())
			}
			nodes = append(nodes, models.Node{
				ID:        IssueID(owner, name, issue.GetNumber()),
				Kind:      models.NodeKindIssue,
				Provider:  Provider,
				RepoID:    repoID(owner, name),
				CreatedAt: created.UTC(),
				UpdatedAt: issue.GetUpdatedAt().Time.UTC(),
				Author:    issue.GetUser().GetLogin(),
				State:     issue.GetState(),
				Issue: &models.IssueFields{
					Key:         fmt.Sprintf("#%d", issue.GetNumber()),
					Title:       issue.GetTitle(),
					Description: issue.GetBody(),
					Type:        IssueType(labels),
				},
				Metadata: metadata(map[string]any{"labels": labels, "html_url": issue.GetHTMLURL()}),
			})
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return nodes, nil
}

// PullRequest is a pull request node with the SHAs of its commits
type PullRequest struct {
	Node       models.Node
	CommitSHAs []string
}

// FetchPullRequests retrieves pull requests created in [since, until)
func (c *Client) FetchPullRequests(ctx context.Context, owner, name string, since, until time.Time) ([]PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var out []PullRequest
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}

		prs, resp, err := c.client.PullRequests.List(ctx, owner, name, opts)
		if err != nil {
			return nil, errors.NetworkErrorf(err, "fetch pull requests")
		}

		done := false
		for _, pr := range prs {
			created := pr.GetCreatedAt().Time
			if !since.IsZero() && created.Before(since) {
				// Sorted newest first, nothing older can match.
				done = true
				break
			}
			if !inRange(created, since, until) {
				continue
			}

			fields := &models.PullRequestFields{
				Number:      pr.GetNumber(),
				Title:       pr.GetTitle(),
				Description: pr.GetBody(),
			}
			if pr.MergedAt != nil {
				t := pr.GetMergedAt().Time.UTC()
				fields.MergedAt = &t
			}

			shas, err := c.fetchPRCommits(ctx, owner, name, pr.GetNumber())
			if err != nil {
				return nil, err
			}

			out = append(out, PullRequest{
				Node: models.Node{
					ID:          IssueID(owner, name, pr.GetNumber()),
					Kind:        models.NodeKindPullRequest,
					Provider:    Provider,
					RepoID:      repoID(owner, name),
					CreatedAt:   created.UTC(),
					UpdatedAt:   pr.GetUpdatedAt().Time.UTC(),
					Author:      pr.GetUser().GetLogin(),
					State:       pr.GetState(),
					PullRequest: fields,
					Metadata: metadata(map[string]any{
						"html_url":    pr.GetHTMLURL(),
						"base_branch": pr.GetBase().GetRef(),
						"head_branch": pr.GetHead().GetRef(),
					}),
				},
				CommitSHAs: shas,
			})
		}

		if done || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

func (c *Client) fetchPRCommits(ctx context.Context, owner, name string, number int) ([]string, error) {
	opts := &github.ListOptions{PerPage: 100}
	var shas []string
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, owner, name, number, opts)
		if err != nil {
			return nil, errors.NetworkErrorf(err, "fetch commits for PR #%d", number)
		}
		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return shas, nil
}

// Commit is a commit node with the files it changed
type Commit struct {
	Node  models.Node
	Files []string
}

// FetchCommits retrieves commits authored in [since, until) with their
// file stats. Each commit costs one extra request for its details.
func (c *Client) FetchCommits(ctx context.Context, owner, name string, since, until time.Time) ([]Commit, error) {
	opts := &github.CommitsListOptions{
		Since: since,
		Until: until,
		ListOptions: github.ListOptions{
			PerPage: 100,
		},
	}

	var shas []string
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		commits, resp, err := c.client.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, errors.NetworkErrorf(err, "fetch commits")
		}
		for _, commit := range commits {
			shas = append(shas, commit.GetSHA())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	out := make([]Commit, 0, len(shas))
	for _, sha := range shas {
		commit, err := c.fetchCommit(ctx, owner, name, sha)
		if err != nil {
			return nil, err
		}
		out = append(out, commit)
	}
	return out, nil
}

func (c *Client) fetchCommit(ctx context.Context, owner, name, sha string) (Commit, error) {
	if err := c.wait(ctx); err != nil {
		return Commit{}, err
	}
	rc, _, err := c.client.Repositories.GetCommit(ctx, owner, name, sha, nil)
	if err != nil {
		return Commit{}, errors.NetworkErrorf(err, "fetch commit %s", sha)
	}

	fields := &models.CommitFields{
		SHA:       rc.GetSHA(),
		Message:   rc.GetCommit().GetMessage(),
		Additions: rc.GetStats().GetAdditions(),
		Deletions: rc.GetStats().GetDeletions(),
	}
	files := make([]string, 0, len(rc.Files))
	for _, f := range rc.Files {
		switch f.GetStatus() {
		case "added":
			fields.FilesAdded++
		case "removed":
			fields.FilesDeleted++
		default:
			fields.FilesModified++
		}
		files = append(files, f.GetFilename())
	}

	authored := rc.GetCommit().GetAuthor().GetDate().Time.UTC()
	return Commit{
		Node: models.Node{
			ID:        CommitID(rc.GetSHA()),
			Kind:      models.NodeKindCommit,
			Provider:  Provider,
			RepoID:    repoID(owner, name),
			CreatedAt: authored,
			UpdatedAt: authored,
			Author:    rc.GetAuthor().GetLogin(),
			Commit:    fields,
		},
		Files: files,
	}, nil
}

func inRange(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && !t.Before(until) {
		return false
	}
	return true
}

func metadata(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// IssueType maps issue labels onto the issue types the scorer knows. The
// first label with a mapping wins; unlabeled issues are "issue".
func IssueType(labels []string) string {
	for _, label := range labels {
		switch strings.ToLower(label) {
		case "bug", "regression", "defect":
			return "bug"
		case "incident", "outage", "production-issue", "hotfix":
			return "incident"
		case "security", "vulnerability", "cve":
			return "security"
		case "chore", "maintenance", "dependencies", "tech-debt":
			return "chore"
		case "enhancement", "feature", "feature-request", "story":
			return "story"
		case "epic":
			return "epic"
		case "support", "question":
			return "support"
		case "task":
			return "task"
		}
	}
	return "issue"
}
