package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/workgraph/internal/config"
	"github.com/rohankatakam/workgraph/internal/materialize"
	"github.com/rohankatakam/workgraph/internal/sink"
)

var showCmd = &cobra.Command{
	Use:   "show <work_unit_id>",
	Short: "Print the materialized investment of a work unit",
	Long: `Reads a work unit's investment back from the sink without recomputing it.
Without --run-id the most recently computed run is shown.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var (
	showRunID  string
	showQuotes bool
)

func init() {
	showCmd.Flags().StringVar(&showRunID, "run-id", "", "categorization run id (default: latest)")
	showCmd.Flags().BoolVar(&showQuotes, "quotes", false, "include the text excerpts that shaped the distribution")
}

type showOutput struct {
	*materialize.Payload
	Status       string              `json:"categorization_status"`
	RunID        string              `json:"categorization_run_id"`
	ModelVersion string              `json:"categorization_model_version"`
	Themes       map[string]float64  `json:"themes,omitempty"`
	Errors       []map[string]string `json:"errors,omitempty"`
	Quotes       []sink.QuoteRow     `json:"quotes,omitempty"`
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := validate(config.ValidationContextRead); err != nil {
		return err
	}

	s, err := openSink(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	unitID := args[0]
	var row *sink.InvestmentRow
	if showRunID != "" {
		row, err = s.FetchWorkUnitInvestment(ctx, unitID, showRunID)
	} else {
		row, err = s.FetchLatestWorkUnitInvestment(ctx, unitID)
	}
	if stderrors.Is(err, sink.ErrNotFound) {
		return fmt.Errorf("work unit %s has no materialized investment", unitID)
	}
	if err != nil {
		return err
	}

	payload, err := materialize.DecodePayload(row)
	if err != nil {
		return err
	}
	out := showOutput{
		Payload:      payload,
		Status:       row.CategorizationStatus,
		RunID:        row.CategorizationRunID,
		ModelVersion: row.CategorizationModelVersion,
	}
	if row.ThemeDistributionJSON != "" {
		if err := json.Unmarshal([]byte(row.ThemeDistributionJSON), &out.Themes); err != nil {
			return fmt.Errorf("decode theme distribution: %w", err)
		}
	}
	if row.CategorizationErrorsJSON != "" {
		if err := json.Unmarshal([]byte(row.CategorizationErrorsJSON), &out.Errors); err != nil {
			return fmt.Errorf("decode categorization errors: %w", err)
		}
	}
	if showQuotes {
		out.Quotes, err = s.FetchWorkUnitInvestmentQuotes(ctx, unitID, row.CategorizationRunID)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
