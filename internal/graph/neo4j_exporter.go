package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/models"
)

// DefaultExportBatchSize is the number of rows per UNWIND statement
const DefaultExportBatchSize = 1000

// QueryWithParams is a Cypher statement with its parameters
type QueryWithParams struct {
	Query  string
	Params map[string]any
}

// queryRunner executes one statement; swapped out in tests
type queryRunner func(ctx context.Context, q QueryWithParams) error

// ExportStats summarises one export
type ExportStats struct {
	Nodes      int
	Edges      int
	Statements int
	Duration   time.Duration
}

// Neo4jExporter writes the evidence graph to Neo4j for inspection in graph
// tooling. Exports are idempotent: nodes and edges are merged by ID.
type Neo4jExporter struct {
	driver    neo4j.DriverWithContext
	run       queryRunner
	batchSize int
	logger    logrus.FieldLogger
}

// NewNeo4jExporter connects to Neo4j and verifies connectivity
func NewNeo4jExporter(ctx context.Context, uri, username, password, database string, logger logrus.FieldLogger) (*Neo4jExporter, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, errors.ConfigErrorf("failed to create Neo4j driver: %v", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, errors.NetworkErrorf(err, "failed to connect to Neo4j at %s", uri)
	}

	e := newExporter(nil, logger)
	e.driver = driver
	e.run = func(ctx context.Context, q QueryWithParams) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, q.Query, q.Params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(database))
		return err
	}
	return e, nil
}

func newExporter(run queryRunner, logger logrus.FieldLogger) *Neo4jExporter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Neo4jExporter{run: run, batchSize: DefaultExportBatchSize, logger: logger}
}

// SetBatchSize overrides the rows per statement
func (e *Neo4jExporter) SetBatchSize(n int) {
	if n > 0 {
		e.batchSize = n
	}
}

// Export merges every node, then every edge, of store
func (e *Neo4jExporter) Export(ctx context.Context, store *Store) (*ExportStats, error) {
	start := time.Now()
	queries, err := e.plan(store)
	if err != nil {
		return nil, err
	}

	for i, q := range queries {
		if err := e.run(ctx, q); err != nil {
			return nil, errors.NetworkErrorf(err, "neo4j statement %d of %d failed", i+1, len(queries))
		}
	}

	stats := &ExportStats{
		Nodes:      store.NodeCount(),
		Edges:      store.EdgeCount(),
		Statements: len(queries),
		Duration:   time.Since(start),
	}
	e.logger.WithFields(logrus.Fields{
		"nodes":      stats.Nodes,
		"edges":      stats.Edges,
		"statements": stats.Statements,
		"duration":   stats.Duration.String(),
	}).Info("Exported evidence graph to Neo4j")
	return stats, nil
}

// plan builds the statements for an export: the constraint, node batches
// grouped by label, then edge batches grouped by relationship type.
func (e *Neo4jExporter) plan(store *Store) ([]QueryWithParams, error) {
	queries := []QueryWithParams{{
		Query: fmt.Sprintf("CREATE CONSTRAINT evidence_id IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE", EvidenceLabel),
	}}

	nodeRows := map[string][]map[string]any{}
	for _, n := range store.Nodes() {
		label := nodeLabel(n.Kind)
		nodeRows[label] = append(nodeRows[label], map[string]any{"id": n.ID, "props": nodeProps(n)})
	}
	for _, label := range sortedKeys(nodeRows) {
		for _, batch := range chunk(nodeRows[label], e.batchSize) {
			b := NewCypherBuilder()
			q, err := b.BuildMergeNodes(label, batch)
			if err != nil {
				return nil, err
			}
			queries = append(queries, QueryWithParams{Query: q, Params: b.Params()})
		}
	}

	edgeRows := map[string][]map[string]any{}
	for _, edge := range store.Edges() {
		rel := relType(edge.Kind)
		edgeRows[rel] = append(edgeRows[rel], map[string]any{
			"id":     edge.ID,
			"source": edge.Source,
			"target": edge.Target,
			"props": map[string]any{
				"provenance": string(edge.Provenance),
				"confidence": edge.Confidence,
				"evidence":   edge.Evidence,
			},
		})
	}
	for _, rel := range sortedKeys(edgeRows) {
		for _, batch := range chunk(edgeRows[rel], e.batchSize) {
			b := NewCypherBuilder()
			q, err := b.BuildMergeEdges(rel, batch)
			if err != nil {
				return nil, err
			}
			queries = append(queries, QueryWithParams{Query: q, Params: b.Params()})
		}
	}
	return queries, nil
}

// Close closes the Neo4j driver connection
func (e *Neo4jExporter) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

func nodeLabel(kind models.NodeKind) string {
	switch kind {
	case models.NodeKindIssue:
		return "Issue"
	case models.NodeKindPullRequest:
		return "PullRequest"
	case models.NodeKindCommit:
		return "Commit"
	case models.NodeKindFile:
		return "File"
	}
	return "Unknown"
}

func relType(kind models.EdgeKind) string {
	return strings.ToUpper(string(kind))
}

// nodeProps flattens a node into Neo4j-storable properties
func nodeProps(n models.Node) map[string]any {
	props := map[string]any{
		"kind":     string(n.Kind),
		"provider": n.Provider,
		"repo_id":  n.RepoID,
		"author":   n.Author,
		"state":    n.State,
	}
	if !n.CreatedAt.IsZero() {
		props["created_at"] = n.CreatedAt.UTC().Format(time.RFC3339)
	}
	switch {
	case n.Issue != nil:
		props["key"] = n.Issue.Key
		props["title"] = n.Issue.Title
		props["issue_type"] = n.Issue.Type
	case n.PullRequest != nil:
		props["number"] = n.PullRequest.Number
		props["title"] = n.PullRequest.Title
		if n.PullRequest.MergedAt != nil {
			props["merged_at"] = n.PullRequest.MergedAt.UTC().Format(time.RFC3339)
		}
	case n.Commit != nil:
		props["sha"] = n.Commit.SHA
		props["additions"] = n.Commit.Additions
		props["deletions"] = n.Commit.Deletions
	case n.File != nil:
		props["path"] = n.File.Path
	}
	return props
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func chunk(rows []map[string]any, size int) [][]map[string]any {
	var out [][]map[string]any
	for size < len(rows) {
		rows, out = rows[size:], append(out, rows[:size])
	}
	return append(out, rows)
}
