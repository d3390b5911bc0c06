package claims

import (
	"sort"
	"time"
)

// Coding is a code within a coding system.
type Coding struct {
	System  string
	Code    string
	Display string
}

// Diagnosis is one diagnosis entry of a record. PackageCode carries the
// bundled-payment group (DRG) when the claim has one.
type Diagnosis struct {
	Sequence    int
	Coding      Coding
	PackageCode *Coding
}

// Procedure is one procedure entry of a record.
type Procedure struct {
	Sequence int
	Coding   Coding
	Date     *time.Time
}

// LineItem is one billed line of a record.
type LineItem struct {
	Sequence         int
	ProductOrService []Coding
}

// Record is the category-independent view of a transformed claim. Resource
// holds the ExplanationOfBenefit rendering returned to clients. PackageCodes
// holds claim-level DRG codings, present even when the claim has no
// diagnoses.
type Record struct {
	ID            string
	Category      Category
	BeneficiaryID string
	ServiceEnd    *time.Time
	LastUpdated   time.Time
	Diagnoses     []Diagnosis
	Procedures    []Procedure
	Items         []LineItem
	PackageCodes  []Coding
	SecurityTags  []string
	Resource      map[string]interface{}
}

// FHIRID is the resource id, e.g. "carrier-1234".
func (r *Record) FHIRID() string {
	return r.Category.IDPrefix() + "-" + r.ID
}

// SortRecords orders records by natural identifier, then by category
// enumeration order. The order is independent of input order.
func SortRecords(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].ID != recs[j].ID {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Category < recs[j].Category
	})
}
