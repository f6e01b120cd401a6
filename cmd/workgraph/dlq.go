package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/dlq"
	"github.com/rohankatakam/workgraph/internal/sink"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and replay work units whose writes failed",
}

var dlqStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead letter counts for a run",
	RunE:  runDLQStats,
}

var dlqReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-deliver parked rows of a run to the sink",
	RunE:  runDLQReplay,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete dead letters older than the retention period",
	RunE:  runDLQPurge,
}

var (
	dlqRunID     string
	dlqOlderThan time.Duration
)

func init() {
	dlqCmd.AddCommand(dlqStatsCmd)
	dlqCmd.AddCommand(dlqReplayCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)

	for _, c := range []*cobra.Command{dlqStatsCmd, dlqReplayCmd} {
		c.Flags().StringVar(&dlqRunID, "run-id", "", "categorization run id")
		c.MarkFlagRequired("run-id")
	}
	dlqPurgeCmd.Flags().DurationVar(&dlqOlderThan, "older-than", 0, "age threshold (default: dlq.retention)")
}

func openQueue(cmd *cobra.Command) (*sink.SQLSink, *dlq.Queue, error) {
	if err := validate(config.ValidationContextRead); err != nil {
		return nil, nil, err
	}
	s, err := openSink(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	q, err := dlq.NewQueue(cmd.Context(), s.DB(), cfg.Sink.TablePrefix, logger)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return s, q, nil
}

func runDLQStats(cmd *cobra.Command, args []string) error {
	s, q, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := q.GetStats(cmd.Context(), dlqRunID, cfg.DLQ.MaxRetries)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s\n", stats.RunID)
	fmt.Fprintf(out, "  Parked:     %d\n", stats.TotalEntries)
	fmt.Fprintf(out, "  Retryable:  %d\n", stats.RetryableEntries)
	fmt.Fprintf(out, "  Exhausted:  %d (max %d retries)\n", stats.ExhaustedRetries, cfg.DLQ.MaxRetries)
	return nil
}

func runDLQReplay(cmd *cobra.Command, args []string) error {
	s, q, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	resolved, err := q.Replay(cmd.Context(), s, dlqRunID, cfg.DLQ.MaxRetries)
	if err != nil {
		return err
	}
	stats, err := q.GetStats(cmd.Context(), dlqRunID, cfg.DLQ.MaxRetries)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d work units, %d still parked\n", resolved, stats.TotalEntries)
	return nil
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	s, q, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	olderThan := dlqOlderThan
	if olderThan <= 0 {
		olderThan = cfg.DLQ.Retention
	}
	n, err := q.PurgeOld(cmd.Context(), olderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d dead letters older than %s\n", n, olderThan)
	return nil
}
