package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/workgraph/internal/checkpoint"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/investment"
	"github.com/rohankatakam/workgraph/internal/materialize"
	"github.com/rohankatakam/workgraph/internal/models"
	"github.com/rohankatakam/workgraph/internal/sink"
	"github.com/rohankatakam/workgraph/internal/workunit"
)

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func fixtureStore(t *testing.T) *graph.Store {
	t.Helper()
	s := graph.NewStore()
	nodes := []models.Node{
		{ID: "jira:PAY-7", Kind: models.NodeKindIssue, Provider: "jira", CreatedAt: base,
			Issue: &models.IssueFields{Key: "PAY-7", Title: "Checkout crash", Type: "bug"}},
		{ID: "gh:acme/shop#12", Kind: models.NodeKindPullRequest, Provider: "github", RepoID: "acme/shop", CreatedAt: base.Add(24 * time.Hour),
			PullRequest: &models.PullRequestFields{Number: 12, Title: "Fix checkout crash"}},
		{ID: "commit:abc", Kind: models.NodeKindCommit, Provider: "github", RepoID: "acme/shop", CreatedAt: base.Add(20 * time.Hour),
			Commit: &models.CommitFields{SHA: "abc", Message: "fix nil cart", Additions: 12, Deletions: 3, FilesModified: 1}},
		{ID: "file:acme/shop/cart.go", Kind: models.NodeKindFile, Provider: "github", RepoID: "acme/shop",
			File: &models.FileFields{Path: "cart.go"}},
		{ID: "jira:OPS-1", Kind: models.NodeKindIssue, Provider: "jira", CreatedAt: base.Add(90 * 24 * time.Hour),
			Issue: &models.IssueFields{Key: "OPS-1", Title: "Rotate certificates", Type: "task"}},
	}
	for _, n := range nodes {
		require.NoError(t, s.AddNode(n))
	}
	edges := []models.Edge{
		{Source: "gh:acme/shop#12", Target: "jira:PAY-7", Kind: models.EdgeFixes, Provenance: models.ProvenanceExplicit, Confidence: 1},
		{Source: "gh:acme/shop#12", Target: "commit:abc", Kind: models.EdgeContains, Provenance: models.ProvenanceExplicit, Confidence: 1},
		{Source: "commit:abc", Target: "file:acme/shop/cart.go", Kind: models.EdgeTouches, Provenance: models.ProvenanceExplicit, Confidence: 1},
	}
	for _, e := range edges {
		_, err := s.AddEdge(e)
		require.NoError(t, err)
	}
	return s
}

func newRunner(t *testing.T, s sink.Sink, skipper Skipper, opts Options, wopts ...materialize.Option) *Runner {
	t.Helper()
	logger, _ := test.NewNullLogger()
	c, err := investment.NewCategorizer(nil)
	require.NoError(t, err)
	w := materialize.NewWriter(s, append([]materialize.Option{materialize.WithLogger(logger)}, wopts...)...)
	if opts.MaxSpan == 0 {
		opts.MaxSpan = 14 * 24 * time.Hour
	}
	opts.Now = func() time.Time { return base.Add(100 * 24 * time.Hour) }
	r, err := NewRunner(c, w, skipper, logger, opts)
	require.NoError(t, err)
	return r
}

func TestRunWritesEveryUnit(t *testing.T) {
	mem := sink.NewMemorySink()
	r := newRunner(t, mem, nil, Options{Workers: 2, RunID: "run-a"})

	report, err := r.Run(context.Background(), fixtureStore(t))
	require.NoError(t, err)

	assert.Equal(t, "run-a", report.RunID)
	assert.Equal(t, investment.DefaultModelVersion, report.ModelVersion)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Scored)
	assert.Equal(t, 2, report.Written)
	assert.Zero(t, report.Errored)
	assert.Zero(t, report.Incomplete)
	assert.False(t, report.Cancelled)
	assert.Equal(t, 1, report.Partition.Singletons)
	assert.Equal(t, 2, mem.Len())
}

func TestRunIsIdempotentAcrossRepeats(t *testing.T) {
	mem := sink.NewMemorySink()
	store := fixtureStore(t)

	for i := 0; i < 2; i++ {
		r := newRunner(t, mem, nil, Options{RunID: "run-b"})
		_, err := r.Run(context.Background(), store)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, mem.Len())
	assert.Equal(t, 4, mem.Writes())
}

func TestRunGeneratesRunID(t *testing.T) {
	r := newRunner(t, sink.NewMemorySink(), nil, Options{})
	report, err := r.Run(context.Background(), fixtureStore(t))
	require.NoError(t, err)
	assert.Len(t, report.RunID, 36)
}

func TestResumeSkipsCheckpointedUnits(t *testing.T) {
	cp, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	defer cp.Close()

	mem := sink.NewMemorySink()
	store := fixtureStore(t)

	first := newRunner(t, mem, cp, Options{RunID: "run-c"}, materialize.WithCheckpoints(cp))
	report, err := first.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Written)

	second := newRunner(t, mem, cp, Options{RunID: "run-c"}, materialize.WithCheckpoints(cp))
	report, err = second.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Zero(t, report.Written)
	assert.Equal(t, 2, mem.Writes())

	// A different span changes the input hash, so nothing is skipped.
	third := newRunner(t, mem, cp, Options{RunID: "run-c", MaxSpan: 30 * 24 * time.Hour}, materialize.WithCheckpoints(cp))
	report, err = third.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Zero(t, report.Skipped)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mem := sink.NewMemorySink()
	r := newRunner(t, mem, nil, Options{})
	report, err := r.Run(ctx, fixtureStore(t))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Cancelled)
	assert.Zero(t, mem.Len())
}

func TestRunEmptyGraph(t *testing.T) {
	r := newRunner(t, sink.NewMemorySink(), nil, Options{})
	report, err := r.Run(context.Background(), graph.NewStore())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
}

func TestNewRunnerRequiresSpan(t *testing.T) {
	c, err := investment.NewCategorizer(nil)
	require.NoError(t, err)
	_, err = NewRunner(c, materialize.NewWriter(sink.NewMemorySink()), nil, nil, Options{})
	assert.Error(t, err)
}

// failingSink rejects every write
type failingSink struct{ calls atomic.Int64 }

func (f *failingSink) WriteWorkUnitInvestments(ctx context.Context, rows []sink.InvestmentRow) error {
	f.calls.Add(1)
	return fmt.Errorf("connection reset")
}

func (f *failingSink) WriteWorkUnitInvestmentQuotes(ctx context.Context, rows []sink.QuoteRow) error {
	return fmt.Errorf("connection reset")
}

type recordingDLQ struct {
	mu    sync.Mutex
	units []string
}

func (d *recordingDLQ) Enqueue(ctx context.Context, row sink.InvestmentRow, quotes []sink.QuoteRow, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.units = append(d.units, row.WorkUnitID)
	return nil
}

func TestRunRecordsMalformedUnitAsError(t *testing.T) {
	store := fixtureStore(t)
	bad := models.Node{ID: "commit:bad", Kind: models.NodeKindCommit, Provider: "github", RepoID: "acme/shop",
		CreatedAt: base.Add(40 * 24 * time.Hour)}
	require.NoError(t, store.AddNode(bad))

	mem := sink.NewMemorySink()
	r := newRunner(t, mem, nil, Options{Workers: 2, RunID: "run-e"})
	report, err := r.Run(context.Background(), store)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Scored)
	assert.Equal(t, 1, report.Errored)
	assert.Equal(t, 3, report.Written)
	assert.Zero(t, report.Incomplete)
	assert.Equal(t, 3, mem.Len())

	row, err := mem.FetchWorkUnitInvestment(context.Background(), workunit.ID([]models.Node{bad}), "run-e")
	require.NoError(t, err)
	assert.Equal(t, materialize.StatusError, row.CategorizationStatus)
	assert.NotEmpty(t, row.CategorizationErrorsJSON)
	assert.Contains(t, row.CategorizationErrorsJSON, "ScoringError")
}

func TestRunCountsExhaustedWrites(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		withDLQ     bool
	}{
		{"single attempt", 1, false},
		{"retried then parked", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failing := &failingSink{}
			dead := &recordingDLQ{}
			wopts := []materialize.Option{materialize.WithRetryPolicy(materialize.RetryPolicy{
				MaxAttempts: tt.maxAttempts,
				BaseDelay:   time.Millisecond,
				MaxDelay:    time.Millisecond,
			})}
			if tt.withDLQ {
				wopts = append(wopts, materialize.WithDeadLetters(dead))
			}

			r := newRunner(t, failing, nil, Options{Workers: 2, RunID: "run-f"}, wopts...)
			report, err := r.Run(context.Background(), fixtureStore(t))
			require.Error(t, err)
			require.NotNil(t, report)

			assert.True(t, errors.IsSinkWrite(err))
			assert.Equal(t, errors.ErrorTypeSink, errors.GetType(err))
			assert.Contains(t, err.Error(), "2 work units failed to write")
			assert.False(t, report.Cancelled)

			assert.Equal(t, 2, report.Total)
			assert.Equal(t, 2, report.Scored)
			assert.Zero(t, report.Written)
			assert.Equal(t, 2, report.WriteFailed)
			assert.Equal(t, 2, report.Incomplete)
			assert.Equal(t, int64(2*tt.maxAttempts), failing.calls.Load())

			if tt.withDLQ {
				sort.Strings(dead.units)
				assert.Len(t, dead.units, 2)
				assert.NotEqual(t, dead.units[0], dead.units[1])
			} else {
				assert.Empty(t, dead.units)
			}
		})
	}
}
