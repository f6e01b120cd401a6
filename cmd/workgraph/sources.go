package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/github"
	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/ingestion"
	"github.com/rohankatakam/workgraph/internal/linking"
)

// sourceFlags select where evidence comes from; shared by run and export-graph
type sourceFlags struct {
	inputs []string
	repos  []string
	since  string
	until  string
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.inputs, "input", "i", nil, "evidence records file (JSON), repeatable")
	cmd.Flags().StringSliceVar(&f.repos, "github", nil, "GitHub repository owner/name to ingest, repeatable")
	cmd.Flags().StringVar(&f.since, "since", "", "only ingest GitHub activity at or after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "only ingest GitHub activity before this time (RFC3339 or YYYY-MM-DD)")
}

func (f *sourceFlags) validationContexts() []config.ValidationContext {
	if len(f.repos) > 0 {
		return []config.ValidationContext{config.ValidationContextGitHub}
	}
	return nil
}

func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.ValidationErrorf("--%s %q is not RFC3339 or YYYY-MM-DD", flag, value)
}

func (f *sourceFlags) sources() ([]ingestion.Source, error) {
	if len(f.inputs) == 0 && len(f.repos) == 0 {
		return nil, errors.ValidationErrorf("no evidence sources: pass --input and/or --github")
	}

	var sources []ingestion.Source
	for _, path := range f.inputs {
		sources = append(sources, ingestion.FileSource{Path: path})
	}
	if len(f.repos) == 0 {
		return sources, nil
	}

	since, err := parseTime("since", f.since)
	if err != nil {
		return nil, err
	}
	until, err := parseTime("until", f.until)
	if err != nil {
		return nil, err
	}

	client := github.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)
	if cfg.GitHub.BaseURL != "" {
		if err := client.SetBaseURL(cfg.GitHub.BaseURL); err != nil {
			return nil, err
		}
	}
	for _, repo := range f.repos {
		ex, err := github.NewExtractor(client, repo, since, until, logger.Logger)
		if err != nil {
			return nil, err
		}
		sources = append(sources, ex)
	}
	return sources, nil
}

// buildGraph ingests every selected source and links the result
func (f *sourceFlags) buildGraph(ctx context.Context, out io.Writer) (*graph.Store, error) {
	sources, err := f.sources()
	if err != nil {
		return nil, err
	}

	var linker *linking.Linker
	if cfg.Linking.Enabled {
		linker = linking.NewLinker(linking.Options{
			HeuristicWindow:     cfg.HeuristicWindow(),
			HeuristicConfidence: cfg.Linking.HeuristicConfidence,
		}, logger)
	}

	store, result, err := ingestion.NewOrchestrator(sources, linker, logger.Logger).Build(ctx)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Evidence graph: %d nodes, %d edges (%d reference links, %d heuristic links) in %s\n",
		result.Nodes, result.Edges, result.ReferenceEdges, result.HeuristicEdges, result.Duration.Round(time.Millisecond))
	return store, nil
}

// validate runs the config validator, logging warnings
func validate(contexts ...config.ValidationContext) error {
	result := cfg.Validate(contexts...)
	for _, w := range result.Warnings {
		logger.Warn(w)
	}
	if result.HasErrors() {
		return errors.ConfigErrorf("%s", result.Error())
	}
	return nil
}
