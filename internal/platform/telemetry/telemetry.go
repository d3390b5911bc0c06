// Package telemetry exposes the service's OpenTelemetry instruments. Metrics
// are recorded against the global MeterProvider, which is a no-op until
// Setup installs an OTLP exporting provider.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter name used for all instruments.
const InstrumentationName = "github.com/bluebutton/bfd"

// Metrics holds the application instruments. A nil *Metrics records nothing.
type Metrics struct {
	WorkerDuration  metric.Float64Histogram
	WorkerFailures  metric.Int64Counter
	RecordsReturned metric.Int64Counter
	SAMHSARemoved   metric.Int64Counter
	SAMHSAKept      metric.Int64Counter
	CacheHitCount   metric.Int64Counter
	CacheMissCount  metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter. A nil meter uses the global
// provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}
	var (
		m   Metrics
		err error
	)
	if m.WorkerDuration, err = meter.Float64Histogram("eob.worker.duration",
		metric.WithDescription("Category worker run time"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.WorkerFailures, err = meter.Int64Counter("eob.worker.failures",
		metric.WithDescription("Category workers that ended in failure")); err != nil {
		return nil, err
	}
	if m.RecordsReturned, err = meter.Int64Counter("eob.records.returned",
		metric.WithDescription("Records returned by category workers")); err != nil {
		return nil, err
	}
	if m.SAMHSARemoved, err = meter.Int64Counter("eob.samhsa.removed",
		metric.WithDescription("Records removed by SAMHSA redaction")); err != nil {
		return nil, err
	}
	if m.SAMHSAKept, err = meter.Int64Counter("eob.samhsa.kept",
		metric.WithDescription("Records that passed SAMHSA redaction")); err != nil {
		return nil, err
	}
	if m.CacheHitCount, err = meter.Int64Counter("eob.availability.cache.hits"); err != nil {
		return nil, err
	}
	if m.CacheMissCount, err = meter.Int64Counter("eob.availability.cache.misses"); err != nil {
		return nil, err
	}
	if m.RequestDuration, err = meter.Float64Histogram("eob.request.duration",
		metric.WithDescription("End-to-end EOB search time"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// RecordWorker records one finished category worker.
func (m *Metrics) RecordWorker(ctx context.Context, category string, d time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.WorkerDuration.Record(ctx, ms(d), attrs)
	if err != nil {
		m.WorkerFailures.Add(ctx, 1, attrs)
	}
}

// RecordSAMHSA records redaction counts for one worker.
func (m *Metrics) RecordSAMHSA(ctx context.Context, category string, removed, kept int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category))
	m.SAMHSARemoved.Add(ctx, int64(removed), attrs)
	m.SAMHSAKept.Add(ctx, int64(kept), attrs)
}

// RecordCache records an availability cache lookup.
func (m *Metrics) RecordCache(ctx context.Context, tier string, hit bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("tier", tier))
	if hit {
		m.CacheHitCount.Add(ctx, 1, attrs)
		return
	}
	m.CacheMissCount.Add(ctx, 1, attrs)
}

// RecordRequest records one EOB search.
func (m *Metrics) RecordRequest(ctx context.Context, d time.Duration, records int, status int) {
	if m == nil {
		return
	}
	m.RequestDuration.Record(ctx, ms(d), metric.WithAttributes(attribute.Int("status", status)))
	m.RecordsReturned.Add(ctx, int64(records))
}
