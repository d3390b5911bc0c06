package claims

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bluebutton/bfd/internal/platform/telemetry"
)

// DefaultPoolSize is used when AggregatorConfig.PoolSize is not positive.
const DefaultPoolSize = 8

// Query is one beneficiary EOB request.
type Query struct {
	BeneficiaryID string
	// Types limits the categories searched. Empty means all.
	Types         CategorySet
	LastUpdated   DateRange
	ServiceDate   DateRange
	ExcludeSAMHSA bool
	Entitlement   Entitlement
}

// AggregatorConfig wires an Aggregator. Loaded, Tags and Classifier are
// optional.
type AggregatorConfig struct {
	Availability AvailabilityChecker
	Loaded       LoadedFilter
	Conns        ConnFactory
	Rows         RowSource
	Tags         TagSource
	Transformers Transformers
	Classifier   Classifier
	Shadow       bool
	// PoolSize bounds the workers running at once across all requests
	// served by this Aggregator.
	PoolSize int
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

// Aggregator fans a beneficiary request out to one worker per available
// category and merges the results into a deterministic order.
type Aggregator struct {
	cfg   AggregatorConfig
	slots *semaphore.Weighted
}

// NewAggregator creates an Aggregator with a worker pool of cfg.PoolSize.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.Transformers == nil {
		cfg.Transformers = DefaultTransformers()
	}
	return &Aggregator{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.PoolSize)),
	}
}

// newWorker builds a fresh worker for c. Workers never share state.
func (a *Aggregator) newWorker(c Category, beneID string) (*Worker, error) {
	tr, err := a.cfg.Transformers.For(c)
	if err != nil {
		return nil, err
	}
	logger := a.cfg.Logger.With().
		Str("category", c.String()).
		Str("beneficiary_hash", HashBeneficiary(beneID)).
		Logger()
	return NewWorker(WorkerDeps{
		Conns:       a.cfg.Conns,
		Rows:        a.cfg.Rows,
		Tags:        a.cfg.Tags,
		Transformer: tr,
		Classifier:  a.cfg.Classifier,
		Shadow:      a.cfg.Shadow,
		Logger:      logger,
		Metrics:     a.cfg.Metrics,
	}), nil
}

// Fetch returns every record of the beneficiary matching q, sorted by id and
// then category. Any worker failure fails the whole request.
func (a *Aggregator) Fetch(ctx context.Context, q Query) ([]*Record, error) {
	if q.BeneficiaryID == "" {
		return nil, &ValidationError{Param: "patient", Msg: "beneficiary id is required"}
	}

	if a.cfg.Loaded != nil && a.cfg.Loaded.IsResultSetEmpty(q.BeneficiaryID, q.LastUpdated) {
		a.cfg.Logger.Debug().
			Str("beneficiary_hash", HashBeneficiary(q.BeneficiaryID)).
			Msg("loaded filter: no claims in window")
		return []*Record{}, nil
	}

	avail, err := a.cfg.Availability.Check(ctx, q.BeneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("check claim availability: %w", err)
	}
	cats := avail.Intersect(q.Types)
	if len(cats) == 0 {
		return []*Record{}, nil
	}

	results := a.dispatch(ctx, q, cats)
	return mergeResults(results)
}

// dispatch runs one worker per category on the shared pool and waits for
// all of them. A failing worker does not cancel its siblings.
func (a *Aggregator) dispatch(ctx context.Context, q Query, cats []Category) []Result {
	results := make([]Result, len(cats))
	var g errgroup.Group
	for i, c := range cats {
		i, c := i, c
		w, err := a.newWorker(c, q.BeneficiaryID)
		if err != nil {
			results[i] = Result{Category: c, Err: err}
			continue
		}
		w.Configure(FetchRequest{
			BeneficiaryID: q.BeneficiaryID,
			Category:      c,
			LastUpdated:   q.LastUpdated,
			ServiceDate:   q.ServiceDate,
			ExcludeSAMHSA: q.ExcludeSAMHSA,
			Entitlement:   q.Entitlement,
		})
		g.Go(func() error {
			if err := a.slots.Acquire(ctx, 1); err != nil {
				results[i] = Result{Category: c, Err: fmt.Errorf("wait for worker slot: %w", err)}
				return nil
			}
			defer a.slots.Release(1)
			results[i] = w.Run(ctx).Result()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// mergeResults surfaces a validation failure unchanged, wraps the first other
// failure, and otherwise concatenates and sorts all records.
func mergeResults(results []Result) ([]*Record, error) {
	for _, r := range results {
		var ve *ValidationError
		if r.Err != nil && errors.As(r.Err, &ve) {
			return nil, ve
		}
	}
	total := 0
	for _, r := range results {
		if r.Err != nil {
			return nil, &CategoryError{Category: r.Category, Err: r.Err}
		}
		total += len(r.Records)
	}
	out := make([]*Record, 0, total)
	for _, r := range results {
		out = append(out, r.Records...)
	}
	SortRecords(out)
	return out, nil
}
