package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/graph"
)

var exportGraphCmd = &cobra.Command{
	Use:   "export-graph",
	Short: "Export the linked evidence graph to Neo4j",
	Long: `Builds the evidence graph exactly as 'workgraph run' does and merges it
into Neo4j. Re-exporting the same evidence is idempotent.

Examples:
  workgraph export-graph --input evidence.json
  NEO4J_URI=bolt://localhost:7687 workgraph export-graph --github acme/shop`,
	RunE: runExportGraph,
}

var exportSources sourceFlags

func init() {
	exportSources.register(exportGraphCmd)
}

func runExportGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := validate(append(exportSources.validationContexts(), config.ValidationContextExport)...); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	store, err := exportSources.buildGraph(ctx, out)
	if err != nil {
		return err
	}

	exporter, err := graph.NewNeo4jExporter(ctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
	if err != nil {
		return err
	}
	defer exporter.Close(ctx)
	exporter.SetBatchSize(cfg.Neo4j.BatchSize)

	stats, err := exporter.Export(ctx, store)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d nodes and %d edges in %d statements (%s)\n",
		stats.Nodes, stats.Edges, stats.Statements, stats.Duration.Round(time.Millisecond))
	return nil
}
