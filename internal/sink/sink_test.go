package sink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t time.Time) *time.Time { return &t }

func sampleRow(unit, run string, computedAt time.Time) InvestmentRow {
	return InvestmentRow{
		WorkUnitID:                  unit,
		WorkUnitType:                "component",
		WorkUnitName:                "Fix login crash",
		FromTS:                      at(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		ToTS:                        at(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)),
		RepoID:                      "acme/web",
		Provider:                    "github",
		EffortMetric:                "churn_loc",
		EffortValue:                 120,
		ThemeDistributionJSON:       `{"quality":1}`,
		SubcategoryDistributionJSON: `{"quality.bugfix":1}`,
		StructuralEvidenceJSON:      `[]`,
		EvidenceQuality:             0.9,
		EvidenceQualityBand:         "high",
		CategorizationStatus:        "ok",
		CategorizationErrorsJSON:    `[]`,
		CategorizationModelVersion:  "wu-structural-v1",
		CategorizationInputHash:     "hash",
		CategorizationRunID:         run,
		PayloadJSON:                 `{}`,
		ComputedAt:                  computedAt,
	}
}

func newSQLiteSink(t *testing.T) *SQLSink {
	t.Helper()
	logger, _ := test.NewNullLogger()
	s, err := NewSQLSink(context.Background(), SQLOptions{Driver: DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemorySink(),
		"sqlite": newSQLiteSink(t),
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	computed := time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			row := sampleRow("wu1", "run-a", computed)
			require.NoError(t, s.WriteWorkUnitInvestments(ctx, []InvestmentRow{row}))

			got, err := s.FetchWorkUnitInvestment(ctx, "wu1", "run-a")
			require.NoError(t, err)
			assert.Equal(t, row, *got)

			_, err = s.FetchWorkUnitInvestment(ctx, "wu1", "run-missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUnknownTimeRangeRoundTrips(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			row := sampleRow("wu-files", "run-a", time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC))
			row.FromTS, row.ToTS = nil, nil
			require.NoError(t, s.WriteWorkUnitInvestments(ctx, []InvestmentRow{row}))

			got, err := s.FetchWorkUnitInvestment(ctx, "wu-files", "run-a")
			require.NoError(t, err)
			assert.Nil(t, got.FromTS)
			assert.Nil(t, got.ToTS)
		})
	}
}

func TestUpsertDeduplicatesByRun(t *testing.T) {
	ctx := context.Background()
	computed := time.Date(2024, 6, 4, 12, 0, 0, 0, time.UTC)

	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			row := sampleRow("wu1", "run-a", computed)
			require.NoError(t, s.WriteWorkUnitInvestments(ctx, []InvestmentRow{row}))
			require.NoError(t, s.WriteWorkUnitInvestments(ctx, []InvestmentRow{row}))

			later := sampleRow("wu1", "run-b", computed.Add(time.Hour))
			later.EvidenceQuality = 0.5
			require.NoError(t, s.WriteWorkUnitInvestments(ctx, []InvestmentRow{later}))

			latest, err := s.FetchLatestWorkUnitInvestment(ctx, "wu1")
			require.NoError(t, err)
			assert.Equal(t, "run-b", latest.CategorizationRunID)

			first, err := s.FetchWorkUnitInvestment(ctx, "wu1", "run-a")
			require.NoError(t, err)
			assert.Equal(t, 0.9, first.EvidenceQuality)
		})
	}
}

func TestQuotes(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			quotes := []QuoteRow{
				{WorkUnitID: "wu1", Quote: "Fix crash", SourceType: "pr_title", SourceID: "gh:r#1", CategorizationRunID: "run-a"},
				{WorkUnitID: "wu1", Quote: "crash on login", SourceType: "issue_title", SourceID: "jira:A-1", CategorizationRunID: "run-a"},
			}
			require.NoError(t, s.WriteWorkUnitInvestmentQuotes(ctx, quotes))
			require.NoError(t, s.WriteWorkUnitInvestmentQuotes(ctx, quotes[:1]))

			got, err := s.FetchWorkUnitInvestmentQuotes(ctx, "wu1", "run-a")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "issue_title", got[0].SourceType)
		})
	}
}

func TestSQLiteFileSinkCreatesDirectory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "nested", "workgraph.db")
	s, err := NewSQLSink(context.Background(), SQLOptions{Driver: DriverSQLite, DSN: path, TablePrefix: "wg_"}, logger)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WriteWorkUnitInvestments(context.Background(), []InvestmentRow{sampleRow("wu2", "r", time.Now().UTC())}))
}

func TestSQLiteJournalMode(t *testing.T) {
	tests := []struct {
		name string
		dsn  func(t *testing.T) string
		want string
	}{
		{"file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "wal.db") }, "wal"},
		{"memory", func(t *testing.T) string { return ":memory:" }, "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, hook := test.NewNullLogger()
			s, err := NewSQLSink(context.Background(), SQLOptions{Driver: DriverSQLite, DSN: tt.dsn(t)}, logger)
			require.NoError(t, err)
			defer s.Close()

			var mode string
			require.NoError(t, s.DB().Get(&mode, "PRAGMA journal_mode"))
			assert.Equal(t, tt.want, mode)
			for _, e := range hook.AllEntries() {
				assert.NotEqual(t, "Failed to enable SQLite WAL mode", e.Message)
			}
		})
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := NewSQLSink(context.Background(), SQLOptions{Driver: "mysql", DSN: "x"}, nil)
	assert.Error(t, err)
}
