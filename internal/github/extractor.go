package github

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// Extractor turns one repository's GitHub activity into normalized records
type Extractor struct {
	client *Client
	owner  string
	name   string
	since  time.Time
	until  time.Time
	logger *logrus.Logger
}

// NewExtractor creates an extractor for owner/name over [since, until).
// Zero bounds are open.
func NewExtractor(client *Client, repo string, since, until time.Time, logger *logrus.Logger) (*Extractor, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, errors.ConfigErrorf("invalid GitHub repository %q, expected owner/name", repo)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Extractor{client: client, owner: owner, name: name, since: since, until: until, logger: logger}, nil
}

// Name implements ingestion.Source
func (e *Extractor) Name() string {
	return "github:" + repoID(e.owner, e.name)
}

// Records implements ingestion.Source
func (e *Extractor) Records(ctx context.Context) (*models.Records, error) {
	startTime := time.Now()
	e.logger.WithFields(logrus.Fields{
		"owner": e.owner,
		"name":  e.name,
		"since": e.since,
		"until": e.until,
	}).Info("Starting repository extraction")

	var (
		issues  []models.Node
		prs     []PullRequest
		commits []Commit
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = e.client.FetchIssues(ctx, e.owner, e.name, e.since, e.until)
		return err
	})
	g.Go(func() error {
		var err error
		prs, err = e.client.FetchPullRequests(ctx, e.owner, e.name, e.since, e.until)
		return err
	})
	g.Go(func() error {
		var err error
		commits, err = e.client.FetchCommits(ctx, e.owner, e.name, e.since, e.until)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recs := e.assemble(issues, prs, commits)

	e.logger.WithFields(logrus.Fields{
		"issues":   len(issues),
		"prs":      len(prs),
		"commits":  len(commits),
		"nodes":    len(recs.Nodes),
		"edges":    len(recs.Edges),
		"duration": time.Since(startTime).String(),
	}).Info("Repository extraction completed")
	return recs, nil
}

// assemble builds nodes and the explicit contains and touches edges.
// Commits outside the fetched range are not linked.
func (e *Extractor) assemble(issues []models.Node, prs []PullRequest, commits []Commit) *models.Records {
	recs := &models.Records{}
	recs.Nodes = append(recs.Nodes, issues...)

	known := make(map[string]bool, len(commits))
	files := map[string]models.Node{}
	for _, c := range commits {
		recs.Nodes = append(recs.Nodes, c.Node)
		known[c.Node.Commit.SHA] = true
		for _, path := range c.Files {
			id := FileID(e.owner, e.name, path)
			if _, ok := files[id]; !ok {
				files[id] = models.Node{
					ID:       id,
					Kind:     models.NodeKindFile,
					Provider: Provider,
					RepoID:   repoID(e.owner, e.name),
					File:     &models.FileFields{Path: path},
				}
			}
			recs.Edges = append(recs.Edges, explicitEdge(c.Node.ID, models.EdgeTouches, id))
		}
	}

	fileIDs := make([]string, 0, len(files))
	for id := range files {
		fileIDs = append(fileIDs, id)
	}
	sort.Strings(fileIDs)
	for _, id := range fileIDs {
		recs.Nodes = append(recs.Nodes, files[id])
	}

	skipped := 0
	for _, pr := range prs {
		recs.Nodes = append(recs.Nodes, pr.Node)
		for _, sha := range pr.CommitSHAs {
			if !known[sha] {
				skipped++
				continue
			}
			recs.Edges = append(recs.Edges, explicitEdge(pr.Node.ID, models.EdgeContains, CommitID(sha)))
		}
	}
	if skipped > 0 {
		e.logger.WithField("commits", skipped).Debug("Skipped PR commits outside the extraction range")
	}
	return recs
}

func explicitEdge(source string, kind models.EdgeKind, target string) models.Edge {
	return models.Edge{
		Source:     source,
		Target:     target,
		Kind:       kind,
		Provenance: models.ProvenanceExplicit,
		Confidence: 1,
		Evidence:   fmt.Sprintf("github %s", kind),
	}
}
