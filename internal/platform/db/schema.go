package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema holds the claim tables unless configured otherwise.
const DefaultSchema = "public"

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidSchema reports whether name is safe to interpolate as a schema
// identifier.
func ValidSchema(name string) bool {
	return schemaPattern.MatchString(name)
}

// ConnPool hands out pooled connections scoped to one schema. Each Acquire
// returns a connection that belongs to the caller alone until Release.
type ConnPool struct {
	pool   *pgxpool.Pool
	schema string
}

// NewConnPool wraps pool so that acquired connections resolve unqualified
// table names in schema.
func NewConnPool(pool *pgxpool.Pool, schema string) (*ConnPool, error) {
	if schema == "" {
		schema = DefaultSchema
	}
	if !ValidSchema(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &ConnPool{pool: pool, schema: schema}, nil
}

// Schema returns the schema connections are scoped to.
func (p *ConnPool) Schema() string { return p.schema }

// Pool returns the underlying pool.
func (p *ConnPool) Pool() *pgxpool.Pool { return p.pool }

// Acquire takes a connection from the pool and sets its search_path.
func (p *ConnPool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	if p.schema != DefaultSchema {
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", p.schema)); err != nil {
			conn.Release()
			return nil, fmt.Errorf("set search_path to %s: %w", p.schema, err)
		}
	}
	return conn, nil
}
