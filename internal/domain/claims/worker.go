package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bluebutton/bfd/internal/platform/telemetry"
)

// FetchRequest is the immutable input of one category worker.
type FetchRequest struct {
	BeneficiaryID string
	Category      Category
	LastUpdated   DateRange
	ServiceDate   DateRange
	ExcludeSAMHSA bool
	Entitlement   Entitlement
}

// redact reports whether sensitive records must be dropped.
func (r FetchRequest) redact() bool {
	return r.ExcludeSAMHSA && !r.Entitlement.SAMHSA
}

// Result is the terminal state of a worker: Records on success, Err on
// failure, never both.
type Result struct {
	Category Category
	Records  []*Record
	Err      error
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.Err == nil }

// WorkerDeps are the collaborators injected into a single worker. Conns must
// hand out a fresh handle on each Acquire.
type WorkerDeps struct {
	Conns       ConnFactory
	Rows        RowSource
	Tags        TagSource
	Transformer Transformer
	Classifier  Classifier
	// Shadow classifies every record and logs would-be removals without
	// dropping anything unless redaction is requested.
	Shadow  bool
	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
}

// Worker fetches, transforms and filters the claims of one category. A
// worker runs once; build a new one per dispatched category.
type Worker struct {
	deps       WorkerDeps
	req        FetchRequest
	configured bool
	done       bool
	records    []*Record
	err        error
	removed    int
	kept       int
}

// NewWorker creates an unconfigured worker.
func NewWorker(deps WorkerDeps) *Worker {
	return &Worker{deps: deps}
}

// Configure sets the request the worker will execute.
func (w *Worker) Configure(req FetchRequest) *Worker {
	w.req = req
	w.configured = true
	return w
}

// Run executes the worker. Calling Run again after completion is a no-op.
func (w *Worker) Run(ctx context.Context) *Worker {
	if w.done {
		return w
	}
	start := time.Now()
	w.err = w.runSafely(ctx)
	if w.err != nil {
		w.records = nil
	}
	w.done = true

	w.deps.Metrics.RecordWorker(ctx, w.req.Category.String(), time.Since(start), w.err)
	if w.req.redact() {
		w.deps.Metrics.RecordSAMHSA(ctx, w.req.Category.String(), w.removed, w.kept)
	}

	evt := w.deps.Logger.Debug()
	if w.err != nil {
		evt = w.deps.Logger.Error().Err(w.err)
	}
	evt.Str("category", w.req.Category.String()).
		Int("records", len(w.records)).
		Int("samhsa_removed", w.removed).
		Int("samhsa_kept", w.kept).
		Dur("elapsed", time.Since(start)).
		Msg("category fetch finished")
	return w
}

// Succeeded reports whether the worker finished without error.
func (w *Worker) Succeeded() bool { return w.done && w.err == nil }

// Records returns the records of a successful run.
func (w *Worker) Records() []*Record { return w.records }

// Failure returns the failure cause, or nil.
func (w *Worker) Failure() error {
	if !w.done {
		return errors.New("worker has not run")
	}
	return w.err
}

// Removed is the number of records dropped by SAMHSA redaction.
func (w *Worker) Removed() int { return w.removed }

// Kept is the number of records that passed SAMHSA redaction.
func (w *Worker) Kept() int { return w.kept }

// Result returns the worker's terminal state.
func (w *Worker) Result() Result {
	if err := w.Failure(); err != nil {
		return Result{Category: w.req.Category, Err: err}
	}
	return Result{Category: w.req.Category, Records: w.records}
}

func (w *Worker) runSafely(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s worker: %v", w.req.Category, r)
		}
	}()
	return w.run(ctx)
}

func (w *Worker) run(ctx context.Context) error {
	if !w.configured {
		return errors.New("worker not configured")
	}
	if w.deps.Conns == nil || w.deps.Rows == nil || w.deps.Transformer == nil {
		return errors.New("worker dependencies incomplete")
	}

	conn, err := w.deps.Conns.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := w.deps.Rows.Fetch(ctx, conn, w.req.Category, w.req.BeneficiaryID, w.req.LastUpdated)
	if err != nil {
		return fmt.Errorf("fetch rows: %w", err)
	}
	rows = filterServiceDate(rows, w.req.ServiceDate)

	var tags map[string][]string
	if w.deps.Tags != nil && len(rows) > 0 {
		ids := make([]string, len(rows))
		for i, r := range rows {
			ids[i] = r.ClaimID()
		}
		tags, err = w.deps.Tags.Tags(ctx, conn, w.req.Category, ids)
		if err != nil {
			return fmt.Errorf("fetch security tags: %w", err)
		}
	}

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := w.deps.Transformer.Transform(row, w.req.Entitlement)
		if err != nil {
			return fmt.Errorf("transform claim %s: %w", row.ClaimID(), err)
		}
		applySecurityTags(rec, tags[row.ClaimID()])
		records = append(records, rec)
	}

	w.records, err = w.filterSAMHSA(records)
	return err
}

func (w *Worker) filterSAMHSA(records []*Record) ([]*Record, error) {
	redact := w.req.redact()
	if !redact && !w.deps.Shadow {
		return records, nil
	}
	if w.deps.Classifier == nil {
		if redact {
			return nil, errors.New("redaction requested but no classifier configured")
		}
		return records, nil
	}

	out := records[:0]
	for _, rec := range records {
		sensitive := w.deps.Classifier.IsSensitive(rec)
		if sensitive && redact {
			w.removed++
			continue
		}
		if sensitive && w.deps.Shadow {
			w.deps.Logger.Info().
				Str("category", rec.Category.String()).
				Str("claim_id", rec.ID).
				Msg("shadow: record classified sensitive")
		}
		if redact {
			w.kept++
		}
		out = append(out, rec)
	}
	return out, nil
}

// filterServiceDate keeps rows whose service-end date falls in r. Rows with
// no service-end date are dropped when r is set.
func filterServiceDate(rows []Row, r DateRange) []Row {
	if r.IsZero() {
		return rows
	}
	out := rows[:0]
	for _, row := range rows {
		end := row.ServiceEnd()
		if end != nil && r.Contains(*end) {
			out = append(out, row)
		}
	}
	return out
}
