package samhsa

import (
	"fmt"
	"strings"

	"github.com/bluebutton/bfd/internal/domain/claims"
)

// Version selects the rule generation applied by a Classifier.
type Version string

const (
	// Legacy keeps ICD-9 and ICD-10 tables apart and only recognises the
	// original coding systems.
	Legacy Version = "legacy"
	// Current merges ICD-9 and ICD-10 tables per kind, recognises the CM and
	// Medicare ICD systems and accepts data-absent line items.
	Current Version = "current"
)

// ParseVersion parses a configured ruleset name.
func ParseVersion(s string) (Version, error) {
	switch v := Version(strings.ToLower(strings.TrimSpace(s))); v {
	case Legacy, Current:
		return v, nil
	}
	return "", fmt.Errorf("unknown SAMHSA ruleset %q", s)
}

// ruleset binds coding systems to the tables their codes are checked against.
// A system missing from a map is unknown and therefore sensitive.
type ruleset struct {
	version    Version
	diagnosis  map[string]CodeSet
	procedure  map[string]CodeSet
	drg        CodeSet
	cpt        CodeSet
	itemAllows map[string]bool
}

func newRuleset(v Version, t *Tables) (*ruleset, error) {
	switch v {
	case Legacy:
		return &ruleset{
			version: v,
			diagnosis: map[string]CodeSet{
				claims.SystemICD9:  t.ICD9Diagnosis,
				claims.SystemICD10: t.ICD10Diagnosis,
			},
			procedure: map[string]CodeSet{
				claims.SystemICD9:  t.ICD9Procedure,
				claims.SystemICD10: t.ICD10Procedure,
			},
			drg: t.DRG,
			cpt: t.CPT,
			itemAllows: map[string]bool{
				claims.SystemHCPCS:   true,
				claims.SystemHCPCSCD: true,
			},
		}, nil
	case Current:
		dx := t.ICD9Diagnosis.union(t.ICD10Diagnosis)
		px := t.ICD9Procedure.union(t.ICD10Procedure)
		return &ruleset{
			version: v,
			diagnosis: map[string]CodeSet{
				claims.SystemICD9:    dx,
				claims.SystemICD10:   dx,
				claims.SystemICD10CM: dx,
			},
			procedure: map[string]CodeSet{
				claims.SystemICD9:          px,
				claims.SystemICD9Medicare:  px,
				claims.SystemICD10:         px,
				claims.SystemICD10Medicare: px,
			},
			drg: t.DRG,
			cpt: t.CPT,
			itemAllows: map[string]bool{
				claims.SystemHCPCS:      true,
				claims.SystemHCPCSCD:    true,
				claims.SystemDataAbsent: true,
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown SAMHSA ruleset %q", v)
}

func (r *ruleset) sensitiveIn(tables map[string]CodeSet, c claims.Coding) bool {
	set, ok := tables[c.System]
	if !ok {
		return true
	}
	return set.Has(NormalizeICD(c.Code))
}

func (r *ruleset) diagnosisSensitive(c claims.Coding) bool {
	return r.sensitiveIn(r.diagnosis, c)
}

func (r *ruleset) procedureSensitive(c claims.Coding) bool {
	return r.sensitiveIn(r.procedure, c)
}

func (r *ruleset) packageSensitive(c claims.Coding) bool {
	if c.System != claims.SystemDRG {
		return true
	}
	return r.drg.Has(NormalizeDRG(c.Code))
}

// itemSensitive checks the codings of one line item. An item without codings
// carries nothing to classify.
func (r *ruleset) itemSensitive(codings []claims.Coding) bool {
	for _, c := range codings {
		if c.System == claims.SystemHCPCS && r.cpt.Has(NormalizeHCPCS(c.Code)) {
			return true
		}
		if !r.itemAllows[c.System] {
			return true
		}
	}
	return false
}
