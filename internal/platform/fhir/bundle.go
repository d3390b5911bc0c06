package fhir

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// Paging parameter names.
const (
	ParamStartIndex = "startIndex"
	ParamCount      = "_count"
)

// SearchBundleParams holds pagination and link information for a search bundle.
type SearchBundleParams struct {
	// BaseURL is the search endpoint, e.g. "https://host/fhir/ExplanationOfBenefit".
	BaseURL string
	// Query holds the search parameters without the paging parameters.
	Query url.Values
	// StartIndex is the zero-based offset of the first entry on this page.
	StartIndex int
	// Count is the page size. Zero means the search is not paged.
	Count int
	Total int
}

// Paged reports whether the search asked for a page.
func (p SearchBundleParams) Paged() bool { return p.Count > 0 }

// NewSearchBundleWithLinks creates a searchset Bundle with proper pagination links.
func NewSearchBundleWithLinks(resources []interface{}, params SearchBundleParams) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  extractFullURL(r, params.BaseURL),
			Resource: raw,
			Search: &BundleSearch{
				Mode: "match",
			},
		}
	}

	total := params.Total
	return &Bundle{
		ResourceType: "Bundle",
		ID:           uuid.New().String(),
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         buildPaginationLinks(params),
		Entry:        entries,
	}
}

// NewEOBBundle creates the searchset returned by ExplanationOfBenefit
// searches. resources is the current page. transactionTime is stamped into
// the bundle meta so clients can resume incremental pulls from it.
func NewEOBBundle(resources []map[string]interface{}, params SearchBundleParams, transactionTime time.Time) *Bundle {
	items := make([]interface{}, len(resources))
	for i, r := range resources {
		items[i] = r
	}
	b := NewSearchBundleWithLinks(items, params)
	b.Meta = &Meta{LastUpdated: transactionTime.UTC()}
	return b
}

// extractFullURL builds a fullUrl from a resource's resourceType and id.
func extractFullURL(r interface{}, baseURL string) string {
	m, ok := r.(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	if id == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s", baseURL, id)
}

// buildPaginationLinks creates self, first, previous, next and last links.
// Unpaged searches only carry a self link.
func buildPaginationLinks(params SearchBundleParams) []BundleLink {
	if !params.Paged() {
		return []BundleLink{{Relation: "self", URL: pageURL(params, -1)}}
	}

	links := []BundleLink{
		{Relation: "self", URL: pageURL(params, params.StartIndex)},
		{Relation: "first", URL: pageURL(params, 0)},
	}

	if params.StartIndex > 0 {
		prev := params.StartIndex - params.Count
		if prev < 0 {
			prev = 0
		}
		links = append(links, BundleLink{Relation: "previous", URL: pageURL(params, prev)})
	}

	if next := params.StartIndex + params.Count; next < params.Total {
		links = append(links, BundleLink{Relation: "next", URL: pageURL(params, next)})
	}

	last := 0
	if params.Total > 0 {
		last = ((params.Total - 1) / params.Count) * params.Count
	}
	links = append(links, BundleLink{Relation: "last", URL: pageURL(params, last)})
	return links
}

// pageURL renders the search URL for the page starting at start. A negative
// start omits the paging parameters.
func pageURL(params SearchBundleParams, start int) string {
	q := url.Values{}
	for k, v := range params.Query {
		if k == ParamStartIndex || k == ParamCount {
			continue
		}
		q[k] = v
	}
	if start >= 0 {
		q.Set(ParamStartIndex, strconv.Itoa(start))
		q.Set(ParamCount, strconv.Itoa(params.Count))
	}
	if len(q) == 0 {
		return params.BaseURL
	}
	return params.BaseURL + "?" + q.Encode()
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
