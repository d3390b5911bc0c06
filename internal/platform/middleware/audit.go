package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bluebutton/bfd/internal/platform/auth"
)

// AuditEntry is one claims-data access.
type AuditEntry struct {
	UserID           string
	UserRoles        []string
	ResourceType     string
	Beneficiary      string // digest, never the raw id
	Action           string // read or search
	SAMHSAAuthorized bool
	IPAddress        string
	UserAgent        string
	Path             string
	Method           string
	Timestamp        time.Time
	RequestID        string
	StatusCode       int
}

// Audit logs every access under /fhir/ after the handler has run.
// Beneficiary ids are passed through hash before they are logged.
func Audit(logger zerolog.Logger, hash func(string) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isAuditablePath(path) {
				return next(c)
			}

			err := next(c)

			// Auth middleware replaces the request, so read it again.
			ctx := c.Request().Context()
			entry := AuditEntry{
				Timestamp:        time.Now().UTC(),
				Path:             path,
				Method:           req.Method,
				IPAddress:        c.RealIP(),
				UserAgent:        req.UserAgent(),
				StatusCode:       c.Response().Status,
				UserID:           auth.UserIDFromContext(ctx),
				UserRoles:        auth.RolesFromContext(ctx),
				SAMHSAAuthorized: auth.SAMHSAAuthorizedFromContext(ctx),
				RequestID:        RequestIDFrom(c),
				Action:           auditAction(req.Method, path),
				ResourceType:     extractResourceType(path),
			}
			if bene := extractPatientID(c); bene != "" && hash != nil {
				entry.Beneficiary = hash(bene)
			}

			logger.Info().
				Str("type", "claims_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("bene", entry.Beneficiary).
				Str("action", entry.Action).
				Bool("samhsa_authorized", entry.SAMHSAAuthorized).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("user_agent", entry.UserAgent).
				Time("at", entry.Timestamp).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("claims_access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/fhir/") && path != "/fhir/metadata"
}

func auditAction(method, path string) string {
	if method == http.MethodPost && strings.HasSuffix(path, "/_search") {
		return "search"
	}
	if method == http.MethodGet && strings.Count(strings.TrimPrefix(path, "/fhir/"), "/") == 0 {
		return "search"
	}
	return "read"
}

// extractResourceType parses the FHIR resource type from a URL path.
//
//   - /fhir/ExplanationOfBenefit          -> ExplanationOfBenefit
//   - /fhir/ExplanationOfBenefit/_search  -> ExplanationOfBenefit
func extractResourceType(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/fhir/"), "/")
	if len(segments) > 0 && segments[0] != "" {
		return segments[0]
	}
	return "unknown"
}

// extractPatientID finds the patient search parameter in the query string
// or, for POST _search, the form body.
func extractPatientID(c echo.Context) string {
	patient := c.QueryParam("patient")
	if patient == "" && c.Request().Method == http.MethodPost {
		if form, err := c.FormParams(); err == nil {
			patient = form.Get("patient")
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(patient), "Patient/")
}
