package pipeline

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/graph"
	"github.com/rohankatakam/workgraph/internal/investment"
	"github.com/rohankatakam/workgraph/internal/materialize"
	"github.com/rohankatakam/workgraph/internal/models"
	"github.com/rohankatakam/workgraph/internal/workunit"
)

// Options configure one run
type Options struct {
	Workers int
	MaxSpan time.Duration
	// RunID resumes an earlier run when set; a fresh UUID is used otherwise.
	RunID string
	Now   func() time.Time
}

// Skipper reports units already written with the same inputs
type Skipper interface {
	AlreadyWritten(runID, unitID, inputHash string) (bool, error)
}

// RunReport summarises a run
type RunReport struct {
	RunID        string
	ModelVersion string
	Total        int
	Scored       int
	Errored      int
	Written      int
	WriteFailed  int
	Skipped      int
	Incomplete   int
	Cancelled    bool
	Partition    workunit.Stats
	Duration     time.Duration
}

// Runner partitions a graph snapshot and categorizes every unit
type Runner struct {
	categorizer *investment.Categorizer
	writer      *materialize.Writer
	skipper     Skipper
	logger      *logrus.Logger
	opts        Options
}

// NewRunner creates a runner. skipper may be nil.
func NewRunner(
	categorizer *investment.Categorizer,
	writer *materialize.Writer,
	skipper Skipper,
	logger *logrus.Logger,
	opts Options,
) (*Runner, error) {
	if opts.MaxSpan <= 0 {
		return nil, errors.ConfigErrorf("partition max span must be positive, got %s", opts.MaxSpan)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		categorizer: categorizer,
		writer:      writer,
		skipper:     skipper,
		logger:      logger,
		opts:        opts,
	}, nil
}

type counters struct {
	scored, errored, written, writeFailed, skipped, done atomic.Int64
}

// Run categorizes every unit of store. Scoring failures are recorded on the
// report and written as error rows; only cancellation aborts the run. Units
// whose writes were exhausted count as incomplete and make Run return a
// sink write error alongside the report.
func (r *Runner) Run(ctx context.Context, store *graph.Store) (*RunReport, error) {
	start := time.Now()
	runID := r.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	computedAt := r.opts.Now().UTC()

	log := r.logger.WithFields(logrus.Fields{
		"run_id":        runID,
		"model_version": r.categorizer.ModelVersion(),
		"workers":       r.opts.Workers,
	})
	log.WithFields(logrus.Fields{
		"nodes": store.NodeCount(),
		"edges": store.EdgeCount(),
	}).Info("Starting categorization run")

	partitioner, err := workunit.New(store, workunit.Options{MaxSpan: r.opts.MaxSpan}, log)
	if err != nil {
		return nil, err
	}

	report := &RunReport{RunID: runID, ModelVersion: r.categorizer.ModelVersion()}
	var c counters

	g := new(errgroup.Group)
	g.SetLimit(r.opts.Workers)

	for {
		if ctx.Err() != nil {
			break
		}
		cand, ok := partitioner.Next()
		if !ok {
			break
		}
		report.Total++
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r.process(ctx, store, cand, runID, computedAt, &c, log)
			return nil
		})
	}
	_ = g.Wait()

	report.Scored = int(c.scored.Load())
	report.Errored = int(c.errored.Load())
	report.Written = int(c.written.Load())
	report.WriteFailed = int(c.writeFailed.Load())
	report.Skipped = int(c.skipped.Load())
	report.Incomplete = report.Total - int(c.done.Load())
	report.Partition = partitioner.Stats()
	report.Duration = time.Since(start)

	fields := logrus.Fields{
		"units":        report.Total,
		"scored":       report.Scored,
		"errored":      report.Errored,
		"written":      report.Written,
		"write_failed": report.WriteFailed,
		"skipped":      report.Skipped,
		"duration":     report.Duration.String(),
	}
	if err := ctx.Err(); err != nil {
		report.Cancelled = true
		log.WithFields(fields).WithField("incomplete", report.Incomplete).Warn("Categorization run cancelled")
		return report, err
	}
	if report.WriteFailed > 0 {
		err := errors.SinkWritesFailed(runID, report.WriteFailed)
		log.WithFields(fields).WithFields(err.Fields()).WithField("incomplete", report.Incomplete).Error("Categorization run incomplete")
		return report, err
	}
	log.WithFields(fields).Info("Categorization run completed")
	return report, nil
}

func (r *Runner) process(ctx context.Context, store *graph.Store, cand workunit.Candidate, runID string, computedAt time.Time, c *counters, log *logrus.Entry) {
	unit := resolve(store, cand)
	ulog := log.WithField("work_unit_id", unit.ID)
	life := materialize.NewLifecycle(unit.ID)

	hash, err := materialize.InputHash(unit, r.categorizer.ModelVersion(), map[string]float64{
		"max_span_days": r.opts.MaxSpan.Hours() / 24,
	})
	if err != nil {
		ulog.WithError(err).Error("Failed to hash work unit inputs")
		return
	}

	if r.skipper != nil {
		done, err := r.skipper.AlreadyWritten(runID, unit.ID, hash)
		if err != nil {
			ulog.WithError(err).Warn("Failed to read checkpoint")
		} else if done {
			c.skipped.Add(1)
			c.done.Add(1)
			return
		}
	}

	rec := &materialize.Record{
		Unit:         unit,
		RunID:        runID,
		ModelVersion: r.categorizer.ModelVersion(),
		InputHash:    hash,
		ComputedAt:   computedAt,
	}

	_ = life.Transition(materialize.StateScoring)
	score, err := r.categorizer.Structural(unit)
	if err == nil {
		_ = life.Transition(materialize.StateScored)
		rec.Result, err = r.categorizer.Finalize(unit, score)
	}
	if err != nil {
		rec.Err = err
		_ = life.Fail()
		c.errored.Add(1)
		ulog.WithError(err).Warn("Work unit categorization failed")
	} else {
		_ = life.Transition(materialize.StateNormalized)
		c.scored.Add(1)
	}

	if ctx.Err() != nil {
		return
	}
	if err := r.writer.Write(ctx, rec); err != nil {
		if ctx.Err() != nil {
			return
		}
		// Not done: the unit has no row in the sink for this run.
		c.writeFailed.Add(1)
		ulog.WithError(err).Error("Failed to write work unit")
		return
	}
	_ = life.Transition(materialize.StateWritten)
	c.written.Add(1)
	c.done.Add(1)
	ulog.WithFields(logrus.Fields{
		"status": rec.Status(),
		"states": life.History(),
	}).Debug("Work unit written")
}

// resolve loads the candidate's members from the store
func resolve(store *graph.Store, cand workunit.Candidate) investment.Unit {
	u := investment.Unit{
		ID:        cand.ID,
		Singleton: cand.Singleton,
		Evidence:  cand.Evidence,
		Nodes:     make([]models.Node, 0, len(cand.NodeIDs)),
		Edges:     make([]models.Edge, 0, len(cand.EdgeIDs)),
	}
	for _, id := range cand.NodeIDs {
		if n, ok := store.GetNode(id); ok {
			u.Nodes = append(u.Nodes, n)
		}
	}
	for _, id := range cand.EdgeIDs {
		if e, ok := store.GetEdge(id); ok {
			u.Edges = append(u.Edges, e)
		}
	}
	return u
}
