package materialize

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/workgraph/internal/checkpoint"
	"github.com/rohankatakam/workgraph/internal/errors"
	"github.com/rohankatakam/workgraph/internal/lock"
	"github.com/rohankatakam/workgraph/internal/sink"
)

// RetryPolicy bounds sink write retries
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries up to five times starting at 200ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Delay returns the backoff before the given retry (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// DeadLetters receives units whose writes were exhausted
type DeadLetters interface {
	Enqueue(ctx context.Context, row sink.InvestmentRow, quotes []sink.QuoteRow, cause error) error
}

// Checkpointer records units that reached the sink
type Checkpointer interface {
	MarkWritten(runID, unitID string, e checkpoint.Entry) error
}

// Writer hands records to the sink. Writes for one unit never overlap, are
// retried with backoff, and are safe to repeat since the sink deduplicates
// on (work_unit_id, categorization_run_id).
type Writer struct {
	sink        sink.Sink
	locker      lock.Locker
	retry       RetryPolicy
	deadLetters DeadLetters
	checkpoints Checkpointer
	logger      logrus.FieldLogger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Writer
type Option func(*Writer)

func WithLocker(l lock.Locker) Option        { return func(w *Writer) { w.locker = l } }
func WithRetryPolicy(p RetryPolicy) Option   { return func(w *Writer) { w.retry = p } }
func WithDeadLetters(d DeadLetters) Option   { return func(w *Writer) { w.deadLetters = d } }
func WithCheckpoints(c Checkpointer) Option  { return func(w *Writer) { w.checkpoints = c } }
func WithLogger(l logrus.FieldLogger) Option { return func(w *Writer) { w.logger = l } }

// NewWriter creates a writer for s. Without options it uses an in-process
// keyed mutex and the default retry policy.
func NewWriter(s sink.Sink, opts ...Option) *Writer {
	w := &Writer{
		sink:   s,
		locker: lock.NewKeyedMutex(),
		retry:  DefaultRetryPolicy(),
		logger: logrus.StandardLogger(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.retry.MaxAttempts < 1 {
		w.retry.MaxAttempts = 1
	}
	return w
}

// Write materializes one record
func (w *Writer) Write(ctx context.Context, rec *Record) error {
	row, quotes, err := BuildRows(rec)
	if err != nil {
		return errors.InternalErrorf("build rows for %s: %v", rec.Unit.ID, err)
	}

	unlock, err := w.locker.Lock(ctx, rec.Unit.ID)
	if err != nil {
		return err
	}
	defer unlock()

	log := w.logger.WithFields(logrus.Fields{
		"work_unit_id": rec.Unit.ID,
		"run_id":       rec.RunID,
	})

	var lastErr error
	attempts := w.retry.MaxAttempts
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := w.sleep(ctx, w.retry.Delay(attempt-1)); err != nil {
				return err
			}
		}

		lastErr = w.writeOnce(ctx, row, quotes)
		if lastErr == nil {
			w.checkpoint(rec, row, log)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("Sink write failed")
		if !errors.IsRetryable(lastErr) {
			attempts = attempt
			break
		}
	}

	werr := errors.SinkWriteError(lastErr, rec.Unit.ID).WithContext("attempts", attempts)
	log.WithFields(werr.Fields()).WithError(lastErr).Error("Sink write retries exhausted")
	if w.deadLetters != nil {
		if err := w.deadLetters.Enqueue(ctx, row, quotes, werr); err != nil {
			log.WithError(err).Error("Failed to enqueue work unit to DLQ")
		}
	}
	return werr
}

func (w *Writer) writeOnce(ctx context.Context, row sink.InvestmentRow, quotes []sink.QuoteRow) error {
	if err := w.sink.WriteWorkUnitInvestments(ctx, []sink.InvestmentRow{row}); err != nil {
		return err
	}
	return w.sink.WriteWorkUnitInvestmentQuotes(ctx, quotes)
}

func (w *Writer) checkpoint(rec *Record, row sink.InvestmentRow, log logrus.FieldLogger) {
	if w.checkpoints == nil {
		return
	}
	err := w.checkpoints.MarkWritten(rec.RunID, rec.Unit.ID, checkpoint.Entry{
		InputHash: rec.InputHash,
		Status:    row.CategorizationStatus,
		WrittenAt: row.ComputedAt,
	})
	if err != nil {
		// Row is already in the sink; a resumed run rewrites it.
		log.WithError(err).Warn("Failed to record checkpoint")
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
