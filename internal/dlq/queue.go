package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/sink"
)

// Entry is a work unit whose rows could not be written after all retries
type Entry struct {
	WorkUnitID          string     `db:"work_unit_id"`
	CategorizationRunID string     `db:"categorization_run_id"`
	ErrorMessage        string     `db:"error_message"`
	RetryCount          int        `db:"retry_count"`
	RowJSON             string     `db:"row_json"`
	QuotesJSON          string     `db:"quotes_json"`
	LastRetryAt         *time.Time `db:"last_retry_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Row decodes the stored investment row
func (e Entry) Row() (sink.InvestmentRow, error) {
	var row sink.InvestmentRow
	err := json.Unmarshal([]byte(e.RowJSON), &row)
	return row, err
}

// Quotes decodes the stored quote rows
func (e Entry) Quotes() ([]sink.QuoteRow, error) {
	var quotes []sink.QuoteRow
	if e.QuotesJSON == "" {
		return nil, nil
	}
	err := json.Unmarshal([]byte(e.QuotesJSON), &quotes)
	return quotes, err
}

// Stats contains DLQ statistics for a run
type Stats struct {
	RunID            string
	TotalEntries     int
	RetryableEntries int
	ExhaustedRetries int
}

// Queue parks failed unit writes so they can be replayed later
type Queue struct {
	db     *sqlx.DB
	table  string
	logger logrus.FieldLogger
}

// NewQueue creates a DLQ on db, creating its table if needed. tablePrefix
// matches the sink's so several deployments can share one database.
func NewQueue(ctx context.Context, db *sqlx.DB, tablePrefix string, logger logrus.FieldLogger) (*Queue, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	q := &Queue{
		db:     db,
		table:  pq.QuoteIdentifier(tablePrefix + "work_unit_dead_letters"),
		logger: logger.WithField("component", "dlq"),
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			work_unit_id TEXT NOT NULL,
			categorization_run_id TEXT NOT NULL,
			error_message TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			row_json TEXT NOT NULL,
			quotes_json TEXT NOT NULL DEFAULT '',
			last_retry_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (work_unit_id, categorization_run_id)
		)`, q.table))
	if err != nil {
		return nil, fmt.Errorf("failed to create DLQ table: %w", err)
	}
	return q, nil
}

// Enqueue parks a failed write. If the unit is already queued for the run,
// its retry count is incremented.
func (q *Queue) Enqueue(ctx context.Context, row sink.InvestmentRow, quotes []sink.QuoteRow, cause error) error {
	rowJSON, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	quotesJSON, err := json.Marshal(quotes)
	if err != nil {
		return fmt.Errorf("failed to marshal quotes: %w", err)
	}

	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, q.db.Rebind(fmt.Sprintf(`
		INSERT INTO %[1]s
			(work_unit_id, categorization_run_id, error_message, retry_count, row_json, quotes_json, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?)
		ON CONFLICT (work_unit_id, categorization_run_id) DO UPDATE
		SET retry_count = %[1]s.retry_count + 1,
		    error_message = excluded.error_message,
		    row_json = excluded.row_json,
		    quotes_json = excluded.quotes_json,
		    updated_at = excluded.updated_at,
		    last_retry_at = excluded.updated_at
	`, q.table)), row.WorkUnitID, row.CategorizationRunID, cause.Error(), string(rowJSON), string(quotesJSON), now, now)
	if err != nil {
		return fmt.Errorf("failed to enqueue work unit to DLQ: %w", err)
	}

	q.logger.WithFields(logrus.Fields{
		"work_unit_id": row.WorkUnitID,
		"run_id":       row.CategorizationRunID,
		"error":        cause.Error(),
	}).Warn("Work unit enqueued to DLQ")
	return nil
}

// Pending returns entries for a run that have been retried fewer than
// maxRetries times
func (q *Queue) Pending(ctx context.Context, runID string, maxRetries int) ([]Entry, error) {
	var entries []Entry
	err := q.db.SelectContext(ctx, &entries, q.db.Rebind(fmt.Sprintf(`
		SELECT work_unit_id, categorization_run_id, error_message, retry_count, row_json, quotes_json,
		       last_retry_at, created_at, updated_at
		FROM %s
		WHERE categorization_run_id = ? AND retry_count < ?
		ORDER BY created_at ASC, work_unit_id ASC
	`, q.table)), runID, maxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to query DLQ: %w", err)
	}
	return entries, nil
}

// MarkResolved removes a unit from the DLQ after a successful replay
func (q *Queue) MarkResolved(ctx context.Context, workUnitID, runID string) error {
	result, err := q.db.ExecContext(ctx, q.db.Rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE work_unit_id = ? AND categorization_run_id = ?
	`, q.table)), workUnitID, runID)
	if err != nil {
		return fmt.Errorf("failed to delete DLQ entry: %w", err)
	}

	if rows, _ := result.RowsAffected(); rows > 0 {
		q.logger.WithFields(logrus.Fields{
			"work_unit_id": workUnitID,
			"run_id":       runID,
		}).Info("Work unit resolved and removed from DLQ")
	}
	return nil
}

// Replay re-delivers pending entries to s, resolving those that succeed and
// bumping the retry count of those that fail again.
func (q *Queue) Replay(ctx context.Context, s sink.Sink, runID string, maxRetries int) (resolved int, err error) {
	entries, err := q.Pending(ctx, runID, maxRetries)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}
		row, err := e.Row()
		if err != nil {
			return resolved, fmt.Errorf("decode DLQ row %s: %w", e.WorkUnitID, err)
		}
		quotes, err := e.Quotes()
		if err != nil {
			return resolved, fmt.Errorf("decode DLQ quotes %s: %w", e.WorkUnitID, err)
		}

		writeErr := s.WriteWorkUnitInvestments(ctx, []sink.InvestmentRow{row})
		if writeErr == nil {
			writeErr = s.WriteWorkUnitInvestmentQuotes(ctx, quotes)
		}
		if writeErr != nil {
			if err := q.Enqueue(ctx, row, quotes, writeErr); err != nil {
				return resolved, err
			}
			continue
		}
		if err := q.MarkResolved(ctx, e.WorkUnitID, runID); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// GetStats returns DLQ statistics for a run
func (q *Queue) GetStats(ctx context.Context, runID string, maxRetries int) (*Stats, error) {
	stats := Stats{RunID: runID}
	err := q.db.QueryRowxContext(ctx, q.db.Rebind(fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN retry_count >= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN retry_count < ? THEN 1 ELSE 0 END), 0)
		FROM %s
		WHERE categorization_run_id = ?
	`, q.table)), maxRetries, maxRetries, runID).Scan(&stats.TotalEntries, &stats.ExhaustedRetries, &stats.RetryableEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to get DLQ stats: %w", err)
	}
	return &stats, nil
}

// PurgeOld removes DLQ entries older than the specified duration
func (q *Queue) PurgeOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := q.db.ExecContext(ctx, q.db.Rebind(fmt.Sprintf(`
		DELETE FROM %s
		WHERE created_at < ?
	`, q.table)), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old DLQ entries: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows > 0 {
		q.logger.WithFields(logrus.Fields{
			"count":      rows,
			"older_than": olderThan,
		}).Info("Purged old DLQ entries")
	}
	return int(rows), nil
}
