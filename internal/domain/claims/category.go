package claims

import (
	"strings"
)

// EOBTypeSystem is the coding system for ExplanationOfBenefit type tokens.
const EOBTypeSystem = "https://bluebutton.cms.gov/resources/codesystem/eob-type"

// Category is one of the claim categories served by the EOB endpoint. The
// declaration order is the enumeration order used as the sort tie-break.
type Category int

const (
	Carrier Category = iota
	Inpatient
	Outpatient
	SNF
	DME
	HHA
	Hospice
	PDE
)

// categoryInfo describes how a category is stored.
type categoryInfo struct {
	code     string
	table    string
	idColumn string
	lines    string // line table fetched with the header, empty when the category has none
	bit      uint
}

var categoryTable = [...]categoryInfo{
	Carrier:    {code: "CARRIER", table: "carrier_claims", idColumn: "clm_id", lines: "carrier_claim_lines", bit: 0},
	Inpatient:  {code: "INPATIENT", table: "inpatient_claims", idColumn: "clm_id", lines: "inpatient_claim_lines", bit: 1},
	Outpatient: {code: "OUTPATIENT", table: "outpatient_claims", idColumn: "clm_id", lines: "outpatient_claim_lines", bit: 2},
	SNF:        {code: "SNF", table: "snf_claims", idColumn: "clm_id", lines: "snf_claim_lines", bit: 3},
	DME:        {code: "DME", table: "dme_claims", idColumn: "clm_id", lines: "dme_claim_lines", bit: 4},
	HHA:        {code: "HHA", table: "hha_claims", idColumn: "clm_id", lines: "hha_claim_lines", bit: 5},
	Hospice:    {code: "HOSPICE", table: "hospice_claims", idColumn: "clm_id", lines: "hospice_claim_lines", bit: 6},
	PDE:        {code: "PDE", table: "partd_events", idColumn: "pde_id", bit: 7},
}

// Categories returns every category in enumeration order.
func Categories() []Category {
	return []Category{Carrier, Inpatient, Outpatient, SNF, DME, HHA, Hospice, PDE}
}

func (c Category) valid() bool { return c >= Carrier && c <= PDE }

// String returns the upper-case category code, e.g. "CARRIER".
func (c Category) String() string {
	if !c.valid() {
		return "UNKNOWN"
	}
	return categoryTable[c].code
}

// Table is the backing row table.
func (c Category) Table() string { return categoryTable[c].table }

// IDColumn is the column holding the category's natural key.
func (c Category) IDColumn() string { return categoryTable[c].idColumn }

// LinesTable is the line-item table loaded with each row, or "" for none.
func (c Category) LinesTable() string { return categoryTable[c].lines }

// Mask is the availability bit for the category.
func (c Category) Mask() Availability { return Availability(1) << categoryTable[c].bit }

// IDPrefix is the lower-case prefix used to build FHIR resource ids.
func (c Category) IDPrefix() string { return strings.ToLower(c.String()) }

// ParseCategory resolves a type token such as "carrier" or "PDE".
func ParseCategory(token string) (Category, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	for _, c := range Categories() {
		if categoryTable[c].code == t {
			return c, nil
		}
	}
	return 0, &ValidationError{Param: "type", Msg: "unsupported claim type " + token}
}

// CategorySet is a caller-requested set of categories. The zero value means
// "all categories".
type CategorySet map[Category]bool

// NewCategorySet builds a set from the given categories.
func NewCategorySet(cats ...Category) CategorySet {
	s := make(CategorySet, len(cats))
	for _, c := range cats {
		s[c] = true
	}
	return s
}

// Contains reports whether c was requested. An empty set contains everything.
func (s CategorySet) Contains(c Category) bool {
	if len(s) == 0 {
		return true
	}
	return s[c]
}

// ParseTypeParam parses the EOB "type" search parameter. Tokens are comma
// separated and may carry the EOB type system as "system|code".
func ParseTypeParam(values []string) (CategorySet, error) {
	set := CategorySet{}
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok == "" {
				continue
			}
			if i := strings.LastIndex(tok, "|"); i >= 0 {
				system := tok[:i]
				if system != "" && system != EOBTypeSystem {
					return nil, &ValidationError{Param: "type", Msg: "unsupported type system " + system}
				}
				tok = tok[i+1:]
			}
			c, err := ParseCategory(tok)
			if err != nil {
				return nil, err
			}
			set[c] = true
		}
	}
	return set, nil
}

// Availability is a bitmask with one bit per category that has at least one
// row for a beneficiary.
type Availability uint8

// AllAvailable has every category bit set.
const AllAvailable Availability = 0xFF

// Has reports whether the category's bit is set.
func (a Availability) Has(c Category) bool { return a&c.Mask() != 0 }

// Empty reports whether no category has data.
func (a Availability) Empty() bool { return a == 0 }

// Intersect returns, in enumeration order, the requested categories that
// have data.
func (a Availability) Intersect(requested CategorySet) []Category {
	var out []Category
	for _, c := range Categories() {
		if a.Has(c) && requested.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// AvailabilityOf builds a mask from categories.
func AvailabilityOf(cats ...Category) Availability {
	var a Availability
	for _, c := range cats {
		a |= c.Mask()
	}
	return a
}
