package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batch(started, created *time.Time, benes ...string) LoadedBatch {
	b := LoadedBatch{Started: *started, Created: *created, Beneficiaries: map[string]struct{}{}}
	for _, id := range benes {
		b.Beneficiaries[id] = struct{}{}
	}
	return b
}

func since(t *testing.T, value string) DateRange {
	t.Helper()
	r, err := ParseDateRange("_lastUpdated", []string{value})
	require.NoError(t, err)
	return r
}

func TestLoadedFilter_UnknownWithoutSnapshot(t *testing.T) {
	m := NewLoadedFilterManager(&fakeConns{}, zerolog.Nop())
	assert.False(t, m.IsResultSetEmpty("567834", since(t, "ge2024-01-01")))
}

func TestLoadedFilter_ProvesEmptyWindow(t *testing.T) {
	m := NewLoadedFilterManager(&fakeConns{}, zerolog.Nop())
	m.SetBatches([]LoadedBatch{
		batch(date(2024, 1, 1), date(2024, 1, 2), "567834", "100"),
		batch(date(2024, 2, 1), date(2024, 2, 2), "100"),
	})

	assert.True(t, m.IsResultSetEmpty("567834", since(t, "ge2024-01-15")), "only later batch, without beneficiary")
	assert.False(t, m.IsResultSetEmpty("100", since(t, "ge2024-01-15")))
	assert.False(t, m.IsResultSetEmpty("567834", since(t, "ge2024-01-01")))
}

func TestLoadedFilter_UnboundedOrOlderWindowsAreUnknown(t *testing.T) {
	m := NewLoadedFilterManager(&fakeConns{}, zerolog.Nop())
	m.SetBatches([]LoadedBatch{batch(date(2024, 2, 1), date(2024, 2, 2), "100")})

	assert.False(t, m.IsResultSetEmpty("567834", DateRange{}))
	assert.False(t, m.IsResultSetEmpty("567834", since(t, "le2024-03-01")))
	assert.False(t, m.IsResultSetEmpty("567834", since(t, "ge2023-12-01")), "window predates tracked batches")
	assert.True(t, m.IsResultSetEmpty("567834", since(t, "ge2024-02-01")))
}

func TestLoadedFilter_EmptySnapshotIsUnknown(t *testing.T) {
	m := NewLoadedFilterManager(&fakeConns{}, zerolog.Nop())
	m.SetBatches(nil)
	assert.False(t, m.IsResultSetEmpty("567834", since(t, "ge2024-01-01")))
}

func TestLoadedFilter_RefreshErrorKeepsSnapshot(t *testing.T) {
	conns := &fakeConns{err: errors.New("too many connections")}
	m := NewLoadedFilterManager(conns, zerolog.Nop())
	m.SetBatches([]LoadedBatch{batch(date(2024, 2, 1), date(2024, 2, 2), "100")})

	require.Error(t, m.Refresh(context.Background()))
	assert.True(t, m.IsResultSetEmpty("567834", since(t, "ge2024-02-01")))
}

func TestLoadedFilter_RunStopsOnCancel(t *testing.T) {
	m := NewLoadedFilterManager(&fakeConns{err: errors.New("down")}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
