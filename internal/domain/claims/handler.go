package claims

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bluebutton/bfd/internal/platform/auth"
	"github.com/bluebutton/bfd/internal/platform/fhir"
	"github.com/bluebutton/bfd/internal/platform/telemetry"
	"github.com/bluebutton/bfd/pkg/pagination"
)

// Search parameter and header names.
const (
	ParamPatient       = "patient"
	ParamType          = "type"
	ParamLastUpdated   = "_lastUpdated"
	ParamServiceDate   = "service-date"
	ParamExcludeSAMHSA = "excludeSAMHSA"

	HeaderIncludeTaxNumbers = "IncludeTaxNumbers"
)

type Handler struct {
	svc     *Service
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func NewHandler(svc *Service, logger zerolog.Logger, metrics *telemetry.Metrics) *Handler {
	return &Handler{svc: svc, logger: logger, metrics: metrics}
}

func (h *Handler) RegisterRoutes(fhirGroup *echo.Group) {
	fhirRead := fhirGroup.Group("", auth.RequireScope("ExplanationOfBenefit", "read"))
	fhirRead.GET("/ExplanationOfBenefit", h.SearchEOB)
	fhirRead.POST("/ExplanationOfBenefit/_search", h.SearchEOB)
}

// RegisterCapabilities advertises the EOB search in the CapabilityStatement.
func (h *Handler) RegisterCapabilities(b *fhir.CapabilityBuilder) {
	b.AddResource("ExplanationOfBenefit", []string{"search-type"}, []fhir.SearchParam{
		{Name: ParamPatient, Type: "reference"},
		{Name: ParamType, Type: "token", Documentation: "Comma separated claim types"},
		{Name: ParamLastUpdated, Type: "date"},
		{Name: ParamServiceDate, Type: "date"},
		{Name: ParamExcludeSAMHSA, Type: "token"},
		{Name: pagination.ParamStartIndex, Type: "number"},
		{Name: pagination.ParamCount, Type: "number"},
	})
}

// SearchEOB handles the ExplanationOfBenefit search by patient.
func (h *Handler) SearchEOB(c echo.Context) error {
	start := time.Now()
	ctx := c.Request().Context()

	values, err := searchValues(c)
	if err != nil {
		return h.respondError(c, start, &ValidationError{Msg: "malformed form body"})
	}

	if strings.TrimSpace(values.Get(ParamPatient)) == "" {
		return h.respond(c, start, http.StatusBadRequest, fhir.RequiredFieldOutcome(ParamPatient))
	}

	q, err := h.parseQuery(c, values)
	if err != nil {
		return h.respondError(c, start, err)
	}

	page, err := pagination.FromValues(values)
	if err != nil {
		var pe *pagination.Error
		if errors.As(err, &pe) {
			err = &ValidationError{Param: pe.Param, Msg: pe.Msg}
		}
		return h.respondError(c, start, err)
	}

	result, err := h.svc.SearchEOB(ctx, q, page)
	if err != nil {
		return h.respondError(c, start, err)
	}

	resources := make([]map[string]interface{}, len(result.Records))
	for i, r := range result.Records {
		resources[i] = r.Resource
	}

	bundle := fhir.NewEOBBundle(resources, fhir.SearchBundleParams{
		BaseURL:    requestBaseURL(c),
		Query:      values,
		StartIndex: page.StartIndex,
		Count:      page.Count,
		Total:      result.Total,
	}, result.TransactionTime)

	h.metrics.RecordRequest(ctx, time.Since(start), len(resources), http.StatusOK)
	return c.JSON(http.StatusOK, bundle)
}

func (h *Handler) parseQuery(c echo.Context, values url.Values) (Query, error) {
	beneID, err := parsePatient(values.Get(ParamPatient))
	if err != nil {
		return Query{}, err
	}
	types, err := ParseTypeParam(values[ParamType])
	if err != nil {
		return Query{}, err
	}
	lastUpdated, err := ParseDateRange(ParamLastUpdated, values[ParamLastUpdated])
	if err != nil {
		return Query{}, err
	}
	serviceDate, err := ParseDateRange(ParamServiceDate, values[ParamServiceDate])
	if err != nil {
		return Query{}, err
	}
	exclude, err := parseBool(ParamExcludeSAMHSA, values.Get(ParamExcludeSAMHSA))
	if err != nil {
		return Query{}, err
	}
	taxNumbers, err := parseBool(HeaderIncludeTaxNumbers, c.Request().Header.Get(HeaderIncludeTaxNumbers))
	if err != nil {
		return Query{}, err
	}

	return Query{
		BeneficiaryID: beneID,
		Types:         types,
		LastUpdated:   lastUpdated,
		ServiceDate:   serviceDate,
		ExcludeSAMHSA: exclude,
		Entitlement: Entitlement{
			SAMHSA:     auth.SAMHSAAuthorizedFromContext(c.Request().Context()),
			TaxNumbers: taxNumbers,
		},
	}, nil
}

func (h *Handler) respondError(c echo.Context, start time.Time, err error) error {
	var (
		status  int
		outcome *fhir.OperationOutcome
		ve      *ValidationError
		ce      *CategoryError
	)
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
		outcome = fhir.ValidationOutcome(ve.Param, ve.Msg)
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		outcome = fhir.TimeoutOutcome("search timed out")
	case errors.As(err, &ce):
		status = http.StatusInternalServerError
		outcome = fhir.InternalErrorOutcome("failed to fetch " + ce.Category.String() + " claims")
	default:
		status = http.StatusInternalServerError
		outcome = fhir.InternalErrorOutcome("failed to search ExplanationOfBenefit resources")
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("eob search failed")
	}
	return h.respond(c, start, status, outcome)
}

func (h *Handler) respond(c echo.Context, start time.Time, status int, outcome *fhir.OperationOutcome) error {
	h.metrics.RecordRequest(c.Request().Context(), time.Since(start), 0, status)
	return c.JSON(status, outcome)
}

// searchValues returns the search parameters of a GET query, or the form
// body (which already includes the URL query) of a POST _search.
func searchValues(c echo.Context) (url.Values, error) {
	if c.Request().Method != http.MethodPost {
		return c.QueryParams(), nil
	}
	return c.FormParams()
}

// parsePatient accepts "Patient/<id>" or a bare id.
func parsePatient(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "Patient/")
	if id == "" {
		return "", &ValidationError{Param: ParamPatient, Msg: "patient is required"}
	}
	if strings.ContainsAny(id, "/ ") {
		return "", &ValidationError{Param: ParamPatient, Msg: "invalid patient reference " + raw}
	}
	return id, nil
}

func parseBool(param, raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return false, nil
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, &ValidationError{Param: param, Msg: "must be true or false"}
}

// requestBaseURL is the GET search endpoint that paging links point at.
func requestBaseURL(c echo.Context) string {
	path := strings.TrimSuffix(c.Request().URL.Path, "/_search")
	return c.Scheme() + "://" + c.Request().Host + path
}
