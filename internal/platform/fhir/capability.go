package fhir

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// SearchParam describes a search parameter advertised in the
// CapabilityStatement.
type SearchParam struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	Documentation string `json:"documentation,omitempty"`
}

type resourceEntry struct {
	interactions []string
	searchParams []SearchParam
	profiles     []string
}

// CapabilityBuilder collects the resources handlers register at startup and
// renders the /fhir/metadata CapabilityStatement from them.
type CapabilityBuilder struct {
	mu        sync.RWMutex
	resources map[string]*resourceEntry

	BaseURL       string
	ServerVersion string
	TokenURL      string
	started       time.Time
}

func NewCapabilityBuilder(baseURL, version string) *CapabilityBuilder {
	return &CapabilityBuilder{
		resources:     make(map[string]*resourceEntry),
		BaseURL:       baseURL,
		ServerVersion: version,
		started:       time.Now().UTC(),
	}
}

// SetTokenURL advertises the OAuth token endpoint in the security section.
func (b *CapabilityBuilder) SetTokenURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.TokenURL = u
}

// AddResource registers a resource type. Repeated calls for the same type
// merge their interactions and search parameters.
func (b *CapabilityBuilder) AddResource(resourceType string, interactions []string, params []SearchParam, profiles ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.resources[resourceType]
	if !ok {
		e = &resourceEntry{}
		b.resources[resourceType] = e
	}
	e.interactions = mergeStrings(e.interactions, interactions)
	e.profiles = mergeStrings(e.profiles, profiles)
	for _, p := range params {
		if !hasParam(e.searchParams, p.Name) {
			e.searchParams = append(e.searchParams, p)
		}
	}
}

func mergeStrings(dst, src []string) []string {
	for _, s := range src {
		found := false
		for _, d := range dst {
			if d == s {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, s)
		}
	}
	return dst
}

func hasParam(params []SearchParam, name string) bool {
	for _, p := range params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Build renders the CapabilityStatement.
func (b *CapabilityBuilder) Build() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	// Sort resource types for deterministic output
	types := make([]string, 0, len(b.resources))
	for rt := range b.resources {
		types = append(types, rt)
	}
	sort.Strings(types)

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		e := b.resources[rt]
		interactions := make([]map[string]string, len(e.interactions))
		for i, code := range e.interactions {
			interactions[i] = map[string]string{"code": code}
		}
		res := map[string]interface{}{
			"type":        rt,
			"interaction": interactions,
		}
		if len(e.searchParams) > 0 {
			res["searchParam"] = e.searchParams
		}
		if len(e.profiles) > 0 {
			res["supportedProfile"] = e.profiles
		}
		resources = append(resources, res)
	}

	rest := map[string]interface{}{
		"mode":     "server",
		"resource": resources,
	}
	if b.TokenURL != "" {
		rest["security"] = map[string]interface{}{
			"cors": true,
			"extension": []map[string]interface{}{{
				"url": "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
				"extension": []map[string]string{
					{"url": "token", "valueUri": b.TokenURL},
				},
			}},
		}
	}

	return map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         b.started.Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"json", "application/fhir+json"},
		"software": map[string]string{
			"name":    "Beneficiary FHIR Data Server",
			"version": b.ServerVersion,
		},
		"implementation": map[string]string{
			"description": "Medicare beneficiary claims as ExplanationOfBenefit resources",
			"url":         b.BaseURL,
		},
		"rest": []interface{}{rest},
	}
}

// Handler serves the CapabilityStatement.
func (b *CapabilityBuilder) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, b.Build())
	}
}
