package claims

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Querier is the part of a database handle used by the row sources.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Conn is a data-source handle owned by exactly one worker until Release.
type Conn interface {
	Querier
	Release()
}

// ConnFactory hands out independent handles, one per worker.
type ConnFactory interface {
	Acquire(ctx context.Context) (Conn, error)
}

// RowSource loads all rows of a category for a beneficiary, optionally
// bounded by last-updated time.
type RowSource interface {
	Fetch(ctx context.Context, q Querier, c Category, beneID string, lastUpdated DateRange) ([]Row, error)
}

// TagSource loads the security tags of claims, keyed by claim id.
type TagSource interface {
	Tags(ctx context.Context, q Querier, c Category, claimIDs []string) (map[string][]string, error)
}

// AvailabilityChecker reports which categories hold any rows for a
// beneficiary.
type AvailabilityChecker interface {
	Check(ctx context.Context, beneID string) (Availability, error)
}

// LoadedFilter answers, without touching claim tables, whether a
// beneficiary can have claims updated within a window. A false answer means
// "unknown", never "has data".
type LoadedFilter interface {
	IsResultSetEmpty(beneID string, lastUpdated DateRange) bool
}

// Classifier decides whether a record must be suppressed when redaction is
// requested.
type Classifier interface {
	IsSensitive(rec *Record) bool
}
