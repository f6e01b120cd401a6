package sink

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches a read
var ErrNotFound = errors.New("work unit investment not found")

// InvestmentRow is one materialized work unit for one categorization run.
// (WorkUnitID, CategorizationRunID) is the deduplication key.
type InvestmentRow struct {
	WorkUnitID                  string     `db:"work_unit_id" json:"work_unit_id"`
	WorkUnitType                string     `db:"work_unit_type" json:"work_unit_type"`
	WorkUnitName                string     `db:"work_unit_name" json:"work_unit_name"`
	FromTS                      *time.Time `db:"from_ts" json:"from_ts"` // nil when no member carries a time
	ToTS                        *time.Time `db:"to_ts" json:"to_ts"`
	RepoID                      string     `db:"repo_id" json:"repo_id"`
	Provider                    string     `db:"provider" json:"provider"`
	EffortMetric                string     `db:"effort_metric" json:"effort_metric"`
	EffortValue                 float64    `db:"effort_value" json:"effort_value"`
	ThemeDistributionJSON       string     `db:"theme_distribution_json" json:"theme_distribution_json"`
	SubcategoryDistributionJSON string     `db:"subcategory_distribution_json" json:"subcategory_distribution_json"`
	StructuralEvidenceJSON      string     `db:"structural_evidence_json" json:"structural_evidence_json"`
	EvidenceQuality             float64    `db:"evidence_quality" json:"evidence_quality"`
	EvidenceQualityBand         string     `db:"evidence_quality_band" json:"evidence_quality_band"`
	CategorizationStatus        string     `db:"categorization_status" json:"categorization_status"`
	CategorizationErrorsJSON    string     `db:"categorization_errors_json" json:"categorization_errors_json"`
	CategorizationModelVersion  string     `db:"categorization_model_version" json:"categorization_model_version"`
	CategorizationInputHash     string     `db:"categorization_input_hash" json:"categorization_input_hash"`
	CategorizationRunID         string     `db:"categorization_run_id" json:"categorization_run_id"`
	PayloadJSON                 string     `db:"payload_json" json:"payload_json"`
	ComputedAt                  time.Time  `db:"computed_at" json:"computed_at"`
}

// QuoteRow is a text excerpt that contributed textual evidence to a unit
type QuoteRow struct {
	WorkUnitID          string `db:"work_unit_id" json:"work_unit_id"`
	Quote               string `db:"quote" json:"quote"`
	SourceType          string `db:"source_type" json:"source_type"`
	SourceID            string `db:"source_id" json:"source_id"`
	CategorizationRunID string `db:"categorization_run_id" json:"categorization_run_id"`
}

// Sink receives materialized rows. Callers deliver at least once; the sink
// deduplicates on the primary key.
type Sink interface {
	WriteWorkUnitInvestments(ctx context.Context, rows []InvestmentRow) error
	WriteWorkUnitInvestmentQuotes(ctx context.Context, rows []QuoteRow) error
}

// Reader reads materialized rows back without recomputing anything
type Reader interface {
	FetchWorkUnitInvestment(ctx context.Context, workUnitID, runID string) (*InvestmentRow, error)
	FetchLatestWorkUnitInvestment(ctx context.Context, workUnitID string) (*InvestmentRow, error)
	FetchWorkUnitInvestmentQuotes(ctx context.Context, workUnitID, runID string) ([]QuoteRow, error)
}

// Store is a sink that can also be read from
type Store interface {
	Sink
	Reader
	Close() error
}
