package claims

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"

	"github.com/bluebutton/bfd/internal/platform/db"
)

var dialect = goqu.Dialect("postgres")

// linesAggregate folds a claim's lines into a JSON array ordered by line
// number. The table name comes from the category table, never from input.
const linesAggregate = `COALESCE((SELECT json_agg(json_build_object(
	'line_num', l.line_num, 'hcpcs_cd', l.hcpcs_cd, 'rev_cntr', l.rev_cntr,
	'units', l.units, 'pmt_amt', l.pmt_amt) ORDER BY l.line_num)
	FROM %s l WHERE l.clm_id = c.clm_id), '[]'::json)`

type poolConns struct {
	pool *db.ConnPool
}

// NewPoolConns hands out one pooled connection per Acquire.
func NewPoolConns(pool *db.ConnPool) ConnFactory {
	return &poolConns{pool: pool}
}

func (p *poolConns) Acquire(ctx context.Context) (Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type rowSourcePG struct{}

// NewRowSource returns the PostgreSQL RowSource.
func NewRowSource() RowSource {
	return rowSourcePG{}
}

func (rowSourcePG) Fetch(ctx context.Context, q Querier, c Category, beneID string, lastUpdated DateRange) ([]Row, error) {
	query, args, err := selectRows(c, beneID, lastUpdated)
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", c, err)
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c.Table(), err)
	}
	return collectRows(rows, c)
}

func selectRows(c Category, beneID string, lastUpdated DateRange) (string, []interface{}, error) {
	ds := dialect.From(goqu.T(c.Table()).As("c")).
		Prepared(true).
		Select(selectColumns(c)...).
		Where(goqu.I("c.bene_id").Eq(beneID)).
		Order(goqu.I("c." + c.IDColumn()).Asc())
	ds = ds.Where(rangeExpressions("c.last_updated", lastUpdated)...)
	return ds.ToSQL()
}

func selectColumns(c Category) []interface{} {
	col := func(name string) interface{} { return goqu.I("c." + name) }

	if c == PDE {
		return []interface{}{
			col("pde_id"), col("bene_id"), col("srvc_dt"), col("prod_srvc_id"),
			col("qty_dspnsd_num"), col("days_suply_num"), col("tot_rx_cst_amt"),
			col("last_updated"),
		}
	}

	cols := []interface{}{
		col("clm_id"), col("bene_id"), col("clm_from_dt"), col("clm_thru_dt"),
		col("clm_pmt_amt"), col("prvdr_num"), col("diagnoses"), col("last_updated"),
		goqu.L(fmt.Sprintf(linesAggregate, c.LinesTable())).As("lines"),
	}
	switch c {
	case Carrier, DME:
		cols = append(cols, col("tax_num"))
	case Inpatient, SNF:
		cols = append(cols, col("clm_drg_cd"), col("procedures"))
	case Outpatient:
		cols = append(cols, col("procedures"))
	}
	return cols
}

// rangeExpressions renders r as comparisons on column.
func rangeExpressions(column string, r DateRange) []exp.Expression {
	var out []exp.Expression
	id := goqu.I(column)
	if r.From != nil {
		if r.FromInclusive {
			out = append(out, id.Gte(*r.From))
		} else {
			out = append(out, id.Gt(*r.From))
		}
	}
	if r.To != nil {
		if r.ToInclusive {
			out = append(out, id.Lte(*r.To))
		} else {
			out = append(out, id.Lt(*r.To))
		}
	}
	return out
}

func collectRows(rows pgx.Rows, c Category) ([]Row, error) {
	switch c {
	case Carrier:
		return collect[CarrierClaim](rows)
	case Inpatient:
		return collect[InpatientClaim](rows)
	case Outpatient:
		return collect[OutpatientClaim](rows)
	case SNF:
		return collect[SNFClaim](rows)
	case DME:
		return collect[DMEClaim](rows)
	case HHA:
		return collect[HHAClaim](rows)
	case Hospice:
		return collect[HospiceClaim](rows)
	case PDE:
		return collect[PartDEvent](rows)
	}
	rows.Close()
	return nil, fmt.Errorf("unknown category %d", int(c))
}

func collect[T any, PT interface {
	*T
	Row
}](rows pgx.Rows) ([]Row, error) {
	items, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[T])
	if err != nil {
		return nil, fmt.Errorf("scan rows: %w", err)
	}
	out := make([]Row, len(items))
	for i, it := range items {
		out[i] = PT(it)
	}
	return out, nil
}

type tagSourcePG struct{}

// NewTagSource returns the PostgreSQL TagSource backed by claim_tags.
func NewTagSource() TagSource {
	return tagSourcePG{}
}

func (tagSourcePG) Tags(ctx context.Context, q Querier, c Category, claimIDs []string) (map[string][]string, error) {
	tags := make(map[string][]string)
	if len(claimIDs) == 0 {
		return tags, nil
	}

	query, args, err := dialect.From("claim_tags").
		Prepared(true).
		Select("clm_id", "tag").
		Where(goqu.Ex{"category": c.String(), "clm_id": claimIDs}).
		Order(goqu.I("clm_id").Asc(), goqu.I("tag").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build tag query: %w", err)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query claim_tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return nil, fmt.Errorf("scan claim tag: %w", err)
		}
		tags[id] = append(tags[id], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim tags: %w", err)
	}
	return tags, nil
}

type availabilityPG struct {
	conns ConnFactory
}

// NewAvailabilityChecker returns the checker backed by check_claims_mask.
func NewAvailabilityChecker(conns ConnFactory) AvailabilityChecker {
	return &availabilityPG{conns: conns}
}

func (a *availabilityPG) Check(ctx context.Context, beneID string) (Availability, error) {
	conn, err := a.conns.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var mask int32
	if err := conn.QueryRow(ctx, `SELECT * FROM check_claims_mask($1)`, beneID).Scan(&mask); err != nil {
		return 0, fmt.Errorf("check claims mask: %w", err)
	}
	return Availability(mask & int32(AllAvailable)), nil
}
