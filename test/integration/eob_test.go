//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluebutton/bfd/internal/domain/claims"
	"github.com/bluebutton/bfd/internal/domain/samhsa"
	"github.com/bluebutton/bfd/internal/platform/auth"
	"github.com/bluebutton/bfd/internal/platform/fhir"
)

type eobBundle struct {
	Total *int              `json:"total"`
	Link  []fhir.BundleLink `json:"link"`
	Entry []struct {
		Resource struct {
			ID   string `json:"id"`
			Meta struct {
				Security []fhir.Coding `json:"security"`
			} `json:"meta"`
		} `json:"resource"`
	} `json:"entry"`
}

func (b eobBundle) ids() []string {
	out := make([]string, len(b.Entry))
	for i, e := range b.Entry {
		out[i] = e.Resource.ID
	}
	return out
}

// newServer wires the aggregator against the integration database the way
// the server command does, minus the shared caches.
func newServer(t *testing.T) *echo.Echo {
	t.Helper()
	logger := zerolog.Nop()
	factory := claims.NewPoolConns(globalDB.Conns)

	loaded := claims.NewLoadedFilterManager(factory, logger)
	require.NoError(t, loaded.Refresh(testContext(t)))

	classifier, err := samhsa.NewDefault(samhsa.Current)
	require.NoError(t, err)

	aggregator := claims.NewAggregator(claims.AggregatorConfig{
		Availability: claims.NewAvailabilityChecker(factory),
		Loaded:       loaded,
		Conns:        factory,
		Rows:         claims.NewRowSource(),
		Tags:         claims.NewTagSource(),
		Classifier:   classifier,
		PoolSize:     4,
		Logger:       logger,
	})

	e := echo.New()
	e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	claims.NewHandler(claims.NewService(aggregator), logger, nil).RegisterRoutes(e.Group("/fhir"))
	return e
}

func seedBeneficiary(t *testing.T) {
	t.Helper()
	truncateAll(t)

	execSQL(t, `INSERT INTO carrier_claims (clm_id, bene_id, clm_from_dt, clm_thru_dt, clm_pmt_amt, prvdr_num, tax_num, diagnoses)
		VALUES ('1001', '100', '2024-03-01', '2024-03-02', 125.50, 'P1', '123456789', '[{"code":"F10.10","version":"0"}]')`)
	execSQL(t, `INSERT INTO carrier_claim_lines (clm_id, line_num, hcpcs_cd, units, pmt_amt)
		VALUES ('1001', 1, '99213', 1, 125.50)`)

	execSQL(t, `INSERT INTO inpatient_claims (clm_id, bene_id, clm_from_dt, clm_thru_dt, clm_pmt_amt, prvdr_num, clm_drg_cd, diagnoses)
		VALUES ('2001', '100', '2024-04-01', '2024-04-05', 9800.00, 'P2', '470', '[{"code":"M17.11","version":"0"}]')`)
	execSQL(t, `INSERT INTO inpatient_claim_lines (clm_id, line_num, rev_cntr, units, pmt_amt)
		VALUES ('2001', 1, '0120', 4, 9800.00)`)
	execSQL(t, `INSERT INTO claim_tags (clm_id, category, tag) VALUES ('2001', 'INPATIENT', 'R')`)

	execSQL(t, `INSERT INTO partd_events (pde_id, bene_id, srvc_dt, prod_srvc_id, qty_dspnsd_num, days_suply_num, tot_rx_cst_amt)
		VALUES ('3001', '100', '2024-05-01', '00093721401', 30, 30, 12.40)`)

	execSQL(t, `INSERT INTO loaded_batches (beneficiaries, started, created)
		VALUES (ARRAY['100'], NOW() - INTERVAL '1 hour', NOW())`)
}

func search(t *testing.T, e *echo.Echo, query url.Values, header http.Header) (int, eobBundle) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/fhir/ExplanationOfBenefit?"+query.Encode(), nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var b eobBundle
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	}
	return rec.Code, b
}

func TestEOBSearch_AllCategories(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"100"}}, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, b.Total)
	assert.Equal(t, 3, *b.Total)
	assert.Equal(t, []string{"carrier-1001", "inpatient-2001", "pde-3001"}, b.ids())
}

func TestEOBSearch_ExcludeSAMHSA(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)
	q := url.Values{"patient": {"Patient/100"}, "excludeSAMHSA": {"true"}}

	code, b := search(t, e, q, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2, *b.Total)
	assert.NotContains(t, b.ids(), "carrier-1001")

	code, b = search(t, e, q, http.Header{auth.DevSAMHSAHeader: {"true"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, *b.Total, "authorized callers keep sensitive claims")
}

func TestEOBSearch_TypeFilter(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"100"}, "type": {"pde"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"pde-3001"}, b.ids())

	code, _ = search(t, e, url.Values{"patient": {"100"}, "type": {"nonsense"}}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEOBSearch_UnknownBeneficiary(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"999"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, *b.Total)
	assert.Empty(t, b.Entry)
}

func TestEOBSearch_LastUpdatedAfterLoads(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"100"}, "_lastUpdated": {"ge2099-01-01"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, *b.Total)
}

func TestEOBSearch_SecurityTags(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"100"}, "type": {"inpatient"}}, nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, b.Entry, 1)
	require.Len(t, b.Entry[0].Resource.Meta.Security, 1)
	assert.Equal(t, claims.SystemSecurityTag, b.Entry[0].Resource.Meta.Security[0].System)
	assert.Equal(t, "R", b.Entry[0].Resource.Meta.Security[0].Code)
}

func TestEOBSearch_Paging(t *testing.T) {
	seedBeneficiary(t)
	e := newServer(t)

	code, b := search(t, e, url.Values{"patient": {"100"}, "_count": {"1"}, "startIndex": {"1"}}, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, *b.Total)
	assert.Equal(t, []string{"inpatient-2001"}, b.ids())

	links := map[string]string{}
	for _, l := range b.Link {
		links[l.Relation] = l.URL
	}
	assert.Contains(t, links["next"], "startIndex=2")
	assert.Contains(t, links["previous"], "startIndex=0")
	assert.Contains(t, links["last"], "startIndex=2")
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
