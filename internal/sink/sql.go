package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPgx      = "pgx"
	DriverPostgres = "postgres" // lib/pq
)

// SQLSink persists rows through sqlx to SQLite or Postgres
type SQLSink struct {
	db          *sqlx.DB
	driver      string
	investments string
	quotes      string
	logger      logrus.FieldLogger
}

// SQLOptions configure an SQLSink
type SQLOptions struct {
	Driver      string
	DSN         string
	TablePrefix string
}

// NewSQLSink connects and creates tables if needed
func NewSQLSink(ctx context.Context, opts SQLOptions, logger logrus.FieldLogger) (*SQLSink, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	switch opts.Driver {
	case DriverSQLite:
		if opts.DSN != ":memory:" && !strings.HasPrefix(opts.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(opts.DSN), 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	case DriverPgx, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported sink driver %q", opts.Driver)
	}

	db, err := sqlx.ConnectContext(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			logger.WithError(err).WithField("dsn", opts.DSN).Warn("Failed to enable SQLite WAL mode")
		}
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLSink{
		db:          db,
		driver:      opts.Driver,
		investments: pq.QuoteIdentifier(opts.TablePrefix + "work_unit_investments"),
		quotes:      pq.QuoteIdentifier(opts.TablePrefix + "work_unit_investment_quotes"),
		logger:      logger.WithField("component", "sink"),
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// DB exposes the connection for collaborators sharing the database
func (s *SQLSink) DB() *sqlx.DB {
	return s.db
}

func (s *SQLSink) initSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.driver != DriverSQLite {
		ts = "TIMESTAMPTZ"
	}

	statements := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			work_unit_id TEXT NOT NULL,
			work_unit_type TEXT NOT NULL,
			work_unit_name TEXT NOT NULL DEFAULT '',
			from_ts %[2]s,
			to_ts %[2]s,
			repo_id TEXT NOT NULL DEFAULT '',
			provider TEXT NOT NULL DEFAULT '',
			effort_metric TEXT NOT NULL,
			effort_value DOUBLE PRECISION NOT NULL,
			theme_distribution_json TEXT NOT NULL,
			subcategory_distribution_json TEXT NOT NULL,
			structural_evidence_json TEXT NOT NULL,
			evidence_quality DOUBLE PRECISION NOT NULL,
			evidence_quality_band TEXT NOT NULL,
			categorization_status TEXT NOT NULL,
			categorization_errors_json TEXT NOT NULL DEFAULT '[]',
			categorization_model_version TEXT NOT NULL,
			categorization_input_hash TEXT NOT NULL,
			categorization_run_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			computed_at %[2]s NOT NULL,
			PRIMARY KEY (work_unit_id, categorization_run_id)
		)`, s.investments, ts),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			work_unit_id TEXT NOT NULL,
			quote TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			categorization_run_id TEXT NOT NULL,
			PRIMARY KEY (work_unit_id, categorization_run_id, source_type, source_id)
		)`, s.quotes),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// WriteWorkUnitInvestments upserts rows in one transaction
func (s *SQLSink) WriteWorkUnitInvestments(ctx context.Context, rows []InvestmentRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			work_unit_id, work_unit_type, work_unit_name, from_ts, to_ts, repo_id, provider,
			effort_metric, effort_value, theme_distribution_json, subcategory_distribution_json,
			structural_evidence_json, evidence_quality, evidence_quality_band,
			categorization_status, categorization_errors_json, categorization_model_version,
			categorization_input_hash, categorization_run_id, payload_json, computed_at
		) VALUES (
			:work_unit_id, :work_unit_type, :work_unit_name, :from_ts, :to_ts, :repo_id, :provider,
			:effort_metric, :effort_value, :theme_distribution_json, :subcategory_distribution_json,
			:structural_evidence_json, :evidence_quality, :evidence_quality_band,
			:categorization_status, :categorization_errors_json, :categorization_model_version,
			:categorization_input_hash, :categorization_run_id, :payload_json, :computed_at
		)
		ON CONFLICT (work_unit_id, categorization_run_id) DO UPDATE SET
			work_unit_type = excluded.work_unit_type,
			work_unit_name = excluded.work_unit_name,
			from_ts = excluded.from_ts,
			to_ts = excluded.to_ts,
			repo_id = excluded.repo_id,
			provider = excluded.provider,
			effort_metric = excluded.effort_metric,
			effort_value = excluded.effort_value,
			theme_distribution_json = excluded.theme_distribution_json,
			subcategory_distribution_json = excluded.subcategory_distribution_json,
			structural_evidence_json = excluded.structural_evidence_json,
			evidence_quality = excluded.evidence_quality,
			evidence_quality_band = excluded.evidence_quality_band,
			categorization_status = excluded.categorization_status,
			categorization_errors_json = excluded.categorization_errors_json,
			categorization_model_version = excluded.categorization_model_version,
			categorization_input_hash = excluded.categorization_input_hash,
			payload_json = excluded.payload_json,
			computed_at = excluded.computed_at
	`, s.investments)

	for i := range rows {
		if _, err := tx.NamedExecContext(ctx, query, &rows[i]); err != nil {
			return fmt.Errorf("upsert work unit %s: %w", rows[i].WorkUnitID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit work unit investments: %w", err)
	}

	s.logger.WithField("rows", len(rows)).Debug("Wrote work unit investments")
	return nil
}

// WriteWorkUnitInvestmentQuotes upserts quote rows in one transaction
func (s *SQLSink) WriteWorkUnitInvestmentQuotes(ctx context.Context, rows []QuoteRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (work_unit_id, quote, source_type, source_id, categorization_run_id)
		VALUES (:work_unit_id, :quote, :source_type, :source_id, :categorization_run_id)
		ON CONFLICT (work_unit_id, categorization_run_id, source_type, source_id)
		DO UPDATE SET quote = excluded.quote
	`, s.quotes)

	for i := range rows {
		if _, err := tx.NamedExecContext(ctx, query, &rows[i]); err != nil {
			return fmt.Errorf("upsert quote for %s: %w", rows[i].WorkUnitID, err)
		}
	}
	return tx.Commit()
}

// FetchWorkUnitInvestment reads the row stored for one run
func (s *SQLSink) FetchWorkUnitInvestment(ctx context.Context, workUnitID, runID string) (*InvestmentRow, error) {
	var row InvestmentRow
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT * FROM %s WHERE work_unit_id = ? AND categorization_run_id = ?`, s.investments))
	if err := s.db.GetContext(ctx, &row, query, workUnitID, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch work unit %s: %w", workUnitID, err)
	}
	return normalizeTimes(&row), nil
}

// FetchLatestWorkUnitInvestment reads the most recently computed row
func (s *SQLSink) FetchLatestWorkUnitInvestment(ctx context.Context, workUnitID string) (*InvestmentRow, error) {
	var row InvestmentRow
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT * FROM %s WHERE work_unit_id = ? ORDER BY computed_at DESC, categorization_run_id DESC LIMIT 1`, s.investments))
	if err := s.db.GetContext(ctx, &row, query, workUnitID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch latest work unit %s: %w", workUnitID, err)
	}
	return normalizeTimes(&row), nil
}

// FetchWorkUnitInvestmentQuotes reads the quotes stored for one run
func (s *SQLSink) FetchWorkUnitInvestmentQuotes(ctx context.Context, workUnitID, runID string) ([]QuoteRow, error) {
	var rows []QuoteRow
	query := s.db.Rebind(fmt.Sprintf(
		`SELECT * FROM %s WHERE work_unit_id = ? AND categorization_run_id = ? ORDER BY source_type, source_id`, s.quotes))
	if err := s.db.SelectContext(ctx, &rows, query, workUnitID, runID); err != nil {
		return nil, fmt.Errorf("fetch quotes for %s: %w", workUnitID, err)
	}
	return rows, nil
}

// Close closes the database connection
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func normalizeTimes(row *InvestmentRow) *InvestmentRow {
	for _, t := range []*time.Time{row.FromTS, row.ToTS} {
		if t != nil {
			*t = t.UTC()
		}
	}
	row.ComputedAt = row.ComputedAt.UTC()
	return row
}
