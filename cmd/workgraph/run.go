package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/checkpoint"
	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/dlq"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/investment"
	"github.com/rohankatakam/workgraph/internal/lock"
	"github.com/rohankatakam/workgraph/internal/materialize"
	"github.com/rohankatakam/workgraph/internal/pipeline"
	"github.com/rohankatakam/workgraph/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the evidence graph and categorize every work unit",
	Long: `Ingests evidence from records files and/or GitHub, links references,
partitions the graph into work units and writes one investment row per unit.

Examples:
  # Categorize a records export with a 14 day span bound
  workgraph run --input evidence.json --max-span-days 14

  # Ingest a GitHub repository directly
  workgraph run --github acme/shop --since 2024-01-01 --max-span-days 14

  # Resume an interrupted run (requires checkpoint.path)
  workgraph run --input evidence.json --run-id 3f0c...

  # Recompute every unit of an earlier run, ignoring its checkpoints
  workgraph run --input evidence.json --run-id 3f0c... --fresh`,
	RunE: runRun,
}

var (
	runSources     sourceFlags
	runRunID       string
	runMaxSpanDays float64
	runWorkers     int
	runFresh       bool
)

func init() {
	runSources.register(runCmd)
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "categorization run id (resume an earlier run)")
	runCmd.Flags().Float64Var(&runMaxSpanDays, "max-span-days", 0, "maximum time span of a work unit, in days")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "concurrent scoring workers (default: pipeline.workers or NumCPU)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "drop the checkpoints of --run-id before running")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cmd.Flags().Changed("max-span-days") {
		cfg.Partition.MaxSpanDays = runMaxSpanDays
	}
	if cmd.Flags().Changed("workers") {
		cfg.Pipeline.Workers = runWorkers
	}
	if err := validate(append(runSources.validationContexts(), config.ValidationContextRun)...); err != nil {
		return err
	}

	weights, err := loadWeights()
	if err != nil {
		return err
	}
	categorizer, err := investment.NewCategorizer(weights)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	store, err := runSources.buildGraph(ctx, out)
	if err != nil {
		return err
	}

	sqlSink, err := openSink(ctx)
	if err != nil {
		return err
	}
	defer sqlSink.Close()

	opts := []materialize.Option{
		materialize.WithLogger(logger),
		materialize.WithRetryPolicy(materialize.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
	}

	if cfg.Redis.URL != "" {
		locker, err := lock.NewRedisLocker(ctx, lock.RedisOptions{
			URL:    cfg.Redis.URL,
			Prefix: cfg.Redis.Prefix,
			TTL:    cfg.Redis.LockTTL,
		}, logger)
		if err != nil {
			return err
		}
		defer locker.Close()
		opts = append(opts, materialize.WithLocker(locker))
	}

	if cfg.DLQ.Enabled {
		queue, err := dlq.NewQueue(ctx, sqlSink.DB(), cfg.Sink.TablePrefix, logger)
		if err != nil {
			return err
		}
		opts = append(opts, materialize.WithDeadLetters(queue))
	}

	var skipper pipeline.Skipper
	if cfg.Checkpoint.Path != "" {
		cp, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			return err
		}
		defer cp.Close()
		if runFresh && runRunID != "" {
			if err := cp.DropRun(runRunID); err != nil {
				return err
			}
			logger.WithField("run_id", runRunID).Info("Dropped checkpoints for run")
		}
		opts = append(opts, materialize.WithCheckpoints(cp))
		skipper = cp
	} else if runRunID != "" && !runFresh {
		logger.Warn("--run-id without checkpoint.path recomputes every unit; the sink still deduplicates")
	}

	runner, err := pipeline.NewRunner(
		categorizer,
		materialize.NewWriter(sqlSink, opts...),
		skipper,
		logger.Logger,
		pipeline.Options{
			Workers: cfg.Pipeline.Workers,
			MaxSpan: cfg.MaxSpan(),
			RunID:   runRunID,
		},
	)
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx, store)
	if report != nil {
		printReport(out, report)
	}
	if err != nil && report != nil {
		switch {
		case report.Cancelled:
			fmt.Fprintf(out, "\nRun interrupted. Resume with: workgraph run --run-id %s\n", report.RunID)
		case errors.IsSinkWrite(err):
			fmt.Fprintf(out, "\nSome units were not written. Inspect with: workgraph dlq stats --run-id %s\n", report.RunID)
		}
	}
	return err
}

func loadWeights() (*investment.WeightTable, error) {
	if cfg.Categorization.WeightsPath == "" {
		return investment.DefaultWeights(), nil
	}
	return investment.LoadWeights(cfg.Categorization.WeightsPath)
}

func openSink(ctx context.Context) (*sink.SQLSink, error) {
	return sink.NewSQLSink(ctx, sink.SQLOptions{
		Driver:      cfg.Sink.Driver,
		DSN:         cfg.Sink.DSN,
		TablePrefix: cfg.Sink.TablePrefix,
	}, logger)
}

func printReport(w io.Writer, r *pipeline.RunReport) {
	fmt.Fprintf(w, "\nRun %s (model %s)\n", r.RunID, r.ModelVersion)
	fmt.Fprintf(w, "  Work units:    %d (%d singletons, %d merges refused)\n",
		r.Total, r.Partition.Singletons, r.Partition.RefusedMerges)
	fmt.Fprintf(w, "  Scored:        %d\n", r.Scored)
	fmt.Fprintf(w, "  Errored:       %d\n", r.Errored)
	fmt.Fprintf(w, "  Written:       %d\n", r.Written)
	if r.Skipped > 0 {
		fmt.Fprintf(w, "  Skipped:       %d (already written)\n", r.Skipped)
	}
	if r.WriteFailed > 0 {
		fmt.Fprintf(w, "  Write failed:  %d\n", r.WriteFailed)
	}
	if r.Incomplete > 0 {
		fmt.Fprintf(w, "  Incomplete:    %d\n", r.Incomplete)
	}
	fmt.Fprintf(w, "  Duration:      %s\n", r.Duration.Round(time.Millisecond))
}
