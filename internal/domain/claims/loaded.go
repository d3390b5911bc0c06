package claims

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog"
)

// DefaultLoadedRefresh is how often the loaded-batch snapshot is reloaded.
const DefaultLoadedRefresh = 5 * time.Minute

// LoadedBatch is one committed load: the beneficiaries whose claims it wrote
// and the last-updated window of those writes.
type LoadedBatch struct {
	Started       time.Time
	Created       time.Time
	Beneficiaries map[string]struct{}
}

func (b LoadedBatch) has(beneID string) bool {
	_, ok := b.Beneficiaries[beneID]
	return ok
}

// loadedSnapshot is an immutable view of the loaded batches.
type loadedSnapshot struct {
	batches  []LoadedBatch
	earliest time.Time
}

// LoadedFilterManager answers whether a beneficiary had claims written in a
// last-updated window, using an in-memory snapshot of loaded_batches.
type LoadedFilterManager struct {
	conns  ConnFactory
	logger zerolog.Logger

	mu       sync.RWMutex
	snapshot *loadedSnapshot
}

// NewLoadedFilterManager creates a manager. It answers "unknown" until the
// first successful Refresh.
func NewLoadedFilterManager(conns ConnFactory, logger zerolog.Logger) *LoadedFilterManager {
	return &LoadedFilterManager{conns: conns, logger: logger}
}

// IsResultSetEmpty reports true only when the snapshot proves that no batch
// touched beneID inside lastUpdated. Windows without a lower bound, or
// reaching back before the earliest tracked batch, are never provably empty.
func (m *LoadedFilterManager) IsResultSetEmpty(beneID string, lastUpdated DateRange) bool {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	if snap == nil || len(snap.batches) == 0 || lastUpdated.From == nil {
		return false
	}
	if lastUpdated.From.Before(snap.earliest) {
		return false
	}
	for _, b := range snap.batches {
		if lastUpdated.Overlaps(b.Started, b.Created) && b.has(beneID) {
			return false
		}
	}
	return true
}

// SetBatches replaces the snapshot.
func (m *LoadedFilterManager) SetBatches(batches []LoadedBatch) {
	snap := &loadedSnapshot{batches: batches}
	for i, b := range batches {
		if i == 0 || b.Started.Before(snap.earliest) {
			snap.earliest = b.Started
		}
	}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

// Refresh reloads the snapshot from loaded_batches. On error the previous
// snapshot stays in place.
func (m *LoadedFilterManager) Refresh(ctx context.Context) error {
	query, args, err := dialect.From("loaded_batches").
		Prepared(true).
		Select("beneficiaries", "started", "created").
		Order(goqu.I("created").Asc()).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build loaded batch query: %w", err)
	}

	conn, err := m.conns.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query loaded_batches: %w", err)
	}
	defer rows.Close()

	var batches []LoadedBatch
	for rows.Next() {
		var (
			benes []string
			b     LoadedBatch
		)
		if err := rows.Scan(&benes, &b.Started, &b.Created); err != nil {
			return fmt.Errorf("scan loaded batch: %w", err)
		}
		b.Beneficiaries = make(map[string]struct{}, len(benes))
		for _, id := range benes {
			b.Beneficiaries[id] = struct{}{}
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate loaded batches: %w", err)
	}

	m.SetBatches(batches)
	m.logger.Debug().Int("batches", len(batches)).Msg("loaded filter refreshed")
	return nil
}

// Run refreshes the snapshot every interval until ctx is done.
func (m *LoadedFilterManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultLoadedRefresh
	}
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("loaded filter refresh failed")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				m.logger.Warn().Err(err).Msg("loaded filter refresh failed")
			}
		}
	}
}
