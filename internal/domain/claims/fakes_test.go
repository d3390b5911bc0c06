package claims

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

type fakeConn struct {
	released *atomic.Int32
}

func (fakeConn) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (fakeConn) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return nil
}

func (c fakeConn) Release() { c.released.Add(1) }

type fakeConns struct {
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (f *fakeConns) Acquire(context.Context) (Conn, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired.Add(1)
	return fakeConn{released: &f.released}, nil
}

// fakeRows serves canned rows per category and tracks how many fetches run
// at once.
type fakeRows struct {
	rows  map[Category][]Row
	errs  map[Category]error
	panic map[Category]bool
	delay time.Duration
	// delayFor, when set, overrides delay per call.
	delayFor func(Category) time.Duration

	mu          sync.Mutex
	calls       []Category
	lastUpdated map[Category]DateRange
	running     int32
	maxRunning  int32
}

func (f *fakeRows) Fetch(ctx context.Context, _ Querier, c Category, _ string, lastUpdated DateRange) ([]Row, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	if f.lastUpdated == nil {
		f.lastUpdated = map[Category]DateRange{}
	}
	f.lastUpdated[c] = lastUpdated
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	delay := f.delay
	if f.delayFor != nil {
		delay = f.delayFor(c)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.panic[c] {
		panic("corrupt row")
	}
	if err := f.errs[c]; err != nil {
		return nil, err
	}
	// Hand out a copy; workers filter in place.
	return append([]Row(nil), f.rows[c]...), nil
}

func (f *fakeRows) called() []Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Category(nil), f.calls...)
}

type fakeTags struct {
	tags map[string][]string
	err  error
}

func (f fakeTags) Tags(_ context.Context, _ Querier, _ Category, ids []string) (map[string][]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string][]string{}
	for _, id := range ids {
		if t, ok := f.tags[id]; ok {
			out[id] = t
		}
	}
	return out, nil
}

type fakeAvailability struct {
	mask  Availability
	err   error
	calls atomic.Int32
}

func (f *fakeAvailability) Check(context.Context, string) (Availability, error) {
	f.calls.Add(1)
	return f.mask, f.err
}

type fakeLoaded struct{ empty bool }

func (f fakeLoaded) IsResultSetEmpty(string, DateRange) bool { return f.empty }

// codeClassifier marks records carrying any diagnosis code in codes.
type codeClassifier map[string]bool

func (c codeClassifier) IsSensitive(rec *Record) bool {
	for _, d := range rec.Diagnoses {
		if c[d.Coding.Code] {
			return true
		}
	}
	return false
}

var testUpdated = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func hdr(id string, dx ...string) ClaimHeader {
	h := ClaimHeader{ID: id, BeneficiaryID: "567834", LastUpdated: testUpdated, Thru: date(2023, 6, 15)}
	for _, code := range dx {
		h.Diagnoses = append(h.Diagnoses, DiagnosisCode{Code: code, Version: "0"})
	}
	return h
}

func inpatient(id string, dx ...string) Row  { return &InpatientClaim{ClaimHeader: hdr(id, dx...)} }
func outpatient(id string, dx ...string) Row { return &OutpatientClaim{ClaimHeader: hdr(id, dx...)} }
func carrier(id string, dx ...string) Row    { return &CarrierClaim{ClaimHeader: hdr(id, dx...)} }

func ids(recs []*Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.FHIRID()
	}
	return out
}
