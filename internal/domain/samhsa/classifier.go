package samhsa

import (
	"fmt"
	"os"

	"github.com/bluebutton/bfd/internal/domain/claims"
)

// Kind is the part of a claim a single code is checked as.
type Kind string

const (
	KindDiagnosis Kind = "diagnosis"
	KindProcedure Kind = "procedure"
	KindPackage   Kind = "package"
	KindItem      Kind = "item"
)

// ParseKind parses a code kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDiagnosis, KindProcedure, KindPackage, KindItem:
		return k, nil
	}
	return "", fmt.Errorf("unknown code kind %q", s)
}

// Classifier reports whether records are SAMHSA sensitive. It is immutable
// and safe for concurrent use by any number of workers.
type Classifier struct {
	rules *ruleset
}

// New creates a Classifier applying ruleset version v over t.
func New(t *Tables, v Version) (*Classifier, error) {
	if t == nil {
		return nil, fmt.Errorf("samhsa: nil tables")
	}
	rules, err := newRuleset(v, t)
	if err != nil {
		return nil, err
	}
	return &Classifier{rules: rules}, nil
}

// NewDefault creates a Classifier over the embedded tables.
func NewDefault(v Version) (*Classifier, error) {
	t, err := DefaultTables()
	if err != nil {
		return nil, fmt.Errorf("load SAMHSA tables: %w", err)
	}
	return New(t, v)
}

// NewFromDir creates a Classifier over the six reference files in dir. An
// empty dir falls back to the embedded tables.
func NewFromDir(dir string, v Version) (*Classifier, error) {
	if dir == "" {
		return NewDefault(v)
	}
	t, err := LoadTables(os.DirFS(dir))
	if err != nil {
		return nil, fmt.Errorf("load SAMHSA tables from %s: %w", dir, err)
	}
	return New(t, v)
}

// Version returns the ruleset version in use.
func (c *Classifier) Version() Version { return c.rules.version }

// IsSensitive reports whether rec carries any sensitive code. Unknown coding
// systems count as sensitive. Part D events are never sensitive.
func (c *Classifier) IsSensitive(rec *claims.Record) bool {
	if rec == nil {
		return false
	}
	switch rec.Category {
	case claims.PDE:
		return false
	case claims.Carrier, claims.DME, claims.HHA, claims.Hospice:
		return c.diagnosesSensitive(rec.Diagnoses) || c.itemsSensitive(rec.Items)
	case claims.Inpatient, claims.Outpatient, claims.SNF:
		return c.packagesSensitive(rec.PackageCodes) ||
			c.diagnosesSensitive(rec.Diagnoses) ||
			c.proceduresSensitive(rec.Procedures) ||
			c.itemsSensitive(rec.Items)
	}
	// Unknown category.
	return true
}

// CheckCode classifies a single code as the given kind.
func (c *Classifier) CheckCode(kind Kind, system, code string) bool {
	coding := claims.Coding{System: system, Code: code}
	switch kind {
	case KindDiagnosis:
		return c.rules.diagnosisSensitive(coding)
	case KindProcedure:
		return c.rules.procedureSensitive(coding)
	case KindPackage:
		return c.rules.packageSensitive(coding)
	case KindItem:
		return c.rules.itemSensitive([]claims.Coding{coding})
	}
	return true
}

func (c *Classifier) diagnosesSensitive(dxs []claims.Diagnosis) bool {
	for _, d := range dxs {
		if c.rules.diagnosisSensitive(d.Coding) {
			return true
		}
		if d.PackageCode != nil && c.rules.packageSensitive(*d.PackageCode) {
			return true
		}
	}
	return false
}

func (c *Classifier) packagesSensitive(codes []claims.Coding) bool {
	for _, p := range codes {
		if c.rules.packageSensitive(p) {
			return true
		}
	}
	return false
}

func (c *Classifier) proceduresSensitive(procs []claims.Procedure) bool {
	for _, p := range procs {
		if c.rules.procedureSensitive(p.Coding) {
			return true
		}
	}
	return false
}

func (c *Classifier) itemsSensitive(items []claims.LineItem) bool {
	for _, it := range items {
		if c.rules.itemSensitive(it.ProductOrService) {
			return true
		}
	}
	return false
}
