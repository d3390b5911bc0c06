package claims

import (
	"fmt"
	"strings"

	"github.com/bluebutton/bfd/internal/platform/fhir"
)

// Entitlement captures what the caller is allowed to see.
type Entitlement struct {
	// SAMHSA allows records carrying substance-abuse related codes to be
	// returned even when redaction is requested.
	SAMHSA bool
	// TaxNumbers includes provider tax numbers in carrier and DME output.
	TaxNumbers bool
}

// Transformer converts one raw row of a category into a Record.
type Transformer interface {
	Transform(row Row, ent Entitlement) (*Record, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(row Row, ent Entitlement) (*Record, error)

func (f TransformerFunc) Transform(row Row, ent Entitlement) (*Record, error) { return f(row, ent) }

// Transformers resolves the transformer of each category.
type Transformers map[Category]Transformer

// DefaultTransformers returns the ExplanationOfBenefit transformer of every
// category.
func DefaultTransformers() Transformers {
	return Transformers{
		Carrier:    TransformerFunc(transformCarrier),
		DME:        TransformerFunc(transformDME),
		HHA:        TransformerFunc(transformHHA),
		Hospice:    TransformerFunc(transformHospice),
		Inpatient:  TransformerFunc(transformInpatient),
		Outpatient: TransformerFunc(transformOutpatient),
		SNF:        TransformerFunc(transformSNF),
		PDE:        TransformerFunc(transformPDE),
	}
}

// For returns the transformer registered for c.
func (t Transformers) For(c Category) (Transformer, error) {
	tr, ok := t[c]
	if !ok {
		return nil, fmt.Errorf("no transformer registered for %s", c)
	}
	return tr, nil
}

func unexpectedRow(row Row, c Category) error {
	return fmt.Errorf("unexpected row type %T for %s", row, c)
}

func transformCarrier(row Row, ent Entitlement) (*Record, error) {
	c, ok := row.(*CarrierClaim)
	if !ok {
		return nil, unexpectedRow(row, Carrier)
	}
	rec := newFFSRecord(Carrier, &c.ClaimHeader, nil, nil)
	if ent.TaxNumbers && c.TaxNumber != nil {
		rec.Resource["careTeam"] = []map[string]interface{}{taxNumberCareTeam(*c.TaxNumber)}
	}
	return rec, nil
}

func transformDME(row Row, ent Entitlement) (*Record, error) {
	c, ok := row.(*DMEClaim)
	if !ok {
		return nil, unexpectedRow(row, DME)
	}
	rec := newFFSRecord(DME, &c.ClaimHeader, nil, nil)
	if ent.TaxNumbers && c.TaxNumber != nil {
		rec.Resource["careTeam"] = []map[string]interface{}{taxNumberCareTeam(*c.TaxNumber)}
	}
	return rec, nil
}

func transformHHA(row Row, _ Entitlement) (*Record, error) {
	c, ok := row.(*HHAClaim)
	if !ok {
		return nil, unexpectedRow(row, HHA)
	}
	return newFFSRecord(HHA, &c.ClaimHeader, nil, nil), nil
}

func transformHospice(row Row, _ Entitlement) (*Record, error) {
	c, ok := row.(*HospiceClaim)
	if !ok {
		return nil, unexpectedRow(row, Hospice)
	}
	return newFFSRecord(Hospice, &c.ClaimHeader, nil, nil), nil
}

func transformInpatient(row Row, _ Entitlement) (*Record, error) {
	c, ok := row.(*InpatientClaim)
	if !ok {
		return nil, unexpectedRow(row, Inpatient)
	}
	return newFFSRecord(Inpatient, &c.ClaimHeader, c.Procedures, c.DRG), nil
}

func transformOutpatient(row Row, _ Entitlement) (*Record, error) {
	c, ok := row.(*OutpatientClaim)
	if !ok {
		return nil, unexpectedRow(row, Outpatient)
	}
	return newFFSRecord(Outpatient, &c.ClaimHeader, c.Procedures, nil), nil
}

func transformSNF(row Row, _ Entitlement) (*Record, error) {
	c, ok := row.(*SNFClaim)
	if !ok {
		return nil, unexpectedRow(row, SNF)
	}
	return newFFSRecord(SNF, &c.ClaimHeader, c.Procedures, c.DRG), nil
}

func transformPDE(row Row, _ Entitlement) (*Record, error) {
	p, ok := row.(*PartDEvent)
	if !ok {
		return nil, unexpectedRow(row, PDE)
	}
	rec := &Record{
		ID:            p.ID,
		Category:      PDE,
		BeneficiaryID: p.BeneficiaryID,
		ServiceEnd:    p.FillDate,
		LastUpdated:   p.LastUpdated,
	}
	res := baseResource(rec, SystemPDEID)
	if p.FillDate != nil {
		res["billablePeriod"] = fhir.Period{Start: p.FillDate, End: p.FillDate}
	}
	item := map[string]interface{}{"sequence": 1}
	if p.NDC != nil {
		item["productOrService"] = fhir.CodeableConcept{Coding: []fhir.Coding{{System: SystemNDC, Code: *p.NDC}}}
	}
	if p.Quantity != nil {
		item["quantity"] = map[string]interface{}{"value": *p.Quantity}
	}
	if p.DaysSupply != nil {
		res["supportingInfo"] = []map[string]interface{}{{
			"sequence": 1,
			"category": fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "dayssupply"}}},
			"valueQuantity": map[string]interface{}{
				"value": *p.DaysSupply,
			},
		}}
	}
	res["item"] = []map[string]interface{}{item}
	if p.DrugCost != nil {
		res["total"] = []map[string]interface{}{money("submitted", *p.DrugCost)}
	}
	rec.Resource = res
	return rec, nil
}

// newFFSRecord builds the record and resource shared by the fee-for-service
// categories. procs and drg are nil for categories without them.
func newFFSRecord(c Category, h *ClaimHeader, procs []ProcedureCode, drg *string) *Record {
	rec := &Record{
		ID:            h.ID,
		Category:      c,
		BeneficiaryID: h.BeneficiaryID,
		ServiceEnd:    h.Thru,
		LastUpdated:   h.LastUpdated,
	}

	var pkg *Coding
	if drg != nil && strings.TrimSpace(*drg) != "" {
		pkg = &Coding{System: SystemDRG, Code: strings.TrimSpace(*drg)}
		rec.PackageCodes = []Coding{*pkg}
	}
	for i, d := range h.Diagnoses {
		dx := Diagnosis{Sequence: i + 1, Coding: Coding{System: icdSystem(d.Version), Code: d.Code}}
		if i == 0 {
			dx.PackageCode = pkg
		}
		rec.Diagnoses = append(rec.Diagnoses, dx)
	}
	for i, p := range procs {
		rec.Procedures = append(rec.Procedures, Procedure{
			Sequence: i + 1,
			Coding:   Coding{System: icdSystem(p.Version), Code: p.Code},
			Date:     p.Date,
		})
	}
	for _, l := range h.Lines {
		item := LineItem{Sequence: l.Number}
		if l.HCPCS != nil && strings.TrimSpace(*l.HCPCS) != "" {
			item.ProductOrService = []Coding{{System: SystemHCPCS, Code: *l.HCPCS}}
		} else {
			item.ProductOrService = []Coding{{System: SystemDataAbsent, Code: "not-applicable"}}
		}
		rec.Items = append(rec.Items, item)
	}

	res := baseResource(rec, SystemClaimID)
	if h.From != nil || h.Thru != nil {
		res["billablePeriod"] = fhir.Period{Start: h.From, End: h.Thru}
	}
	if h.ProviderID != nil {
		res["provider"] = fhir.Reference{Display: *h.ProviderID}
	}
	if len(rec.Diagnoses) > 0 {
		res["diagnosis"] = diagnosisResources(rec.Diagnoses)
	}
	if len(rec.Procedures) > 0 {
		res["procedure"] = procedureResources(rec.Procedures)
	}
	if pkg != nil {
		res["supportingInfo"] = []map[string]interface{}{{
			"sequence": 1,
			"category": fhir.CodeableConcept{Coding: []fhir.Coding{{Code: "drg"}}},
			"code":     codeable(*pkg),
		}}
	}
	if len(h.Lines) > 0 {
		res["item"] = itemResources(h.Lines, rec.Items)
	}
	if h.PaymentAmount != nil {
		res["payment"] = map[string]interface{}{
			"amount": map[string]interface{}{"value": *h.PaymentAmount, "currency": "USD"},
		}
	}
	rec.Resource = res
	return rec
}

func baseResource(rec *Record, idSystem string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "ExplanationOfBenefit",
		"id":           rec.FHIRID(),
		"meta":         fhir.Meta{LastUpdated: rec.LastUpdated},
		"status":       "active",
		"use":          "claim",
		"outcome":      "complete",
		"type": fhir.CodeableConcept{Coding: []fhir.Coding{
			{System: EOBTypeSystem, Code: rec.Category.String()},
		}},
		"patient":    fhir.Reference{Reference: fhir.FormatReference("Patient", rec.BeneficiaryID)},
		"identifier": []fhir.Identifier{{System: idSystem, Value: rec.ID}},
		"insurer":    fhir.Reference{Identifier: &fhir.Identifier{Value: "CMS"}},
	}
}

func diagnosisResources(dxs []Diagnosis) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(dxs))
	for _, d := range dxs {
		m := map[string]interface{}{
			"sequence":                 d.Sequence,
			"diagnosisCodeableConcept": codeable(d.Coding),
		}
		if d.PackageCode != nil {
			m["packageCode"] = codeable(*d.PackageCode)
		}
		out = append(out, m)
	}
	return out
}

func procedureResources(procs []Procedure) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(procs))
	for _, p := range procs {
		m := map[string]interface{}{
			"sequence":                 p.Sequence,
			"procedureCodeableConcept": codeable(p.Coding),
		}
		if p.Date != nil {
			m["date"] = p.Date.Format("2006-01-02")
		}
		out = append(out, m)
	}
	return out
}

func itemResources(lines []ClaimLine, items []LineItem) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(lines))
	for i, l := range lines {
		cc := fhir.CodeableConcept{}
		for _, c := range items[i].ProductOrService {
			cc.Coding = append(cc.Coding, fhir.Coding{System: c.System, Code: c.Code})
		}
		m := map[string]interface{}{
			"sequence":         l.Number,
			"productOrService": cc,
		}
		if l.RevenueCenter != nil {
			m["revenue"] = fhir.CodeableConcept{Coding: []fhir.Coding{{System: SystemRevenueCenter, Code: *l.RevenueCenter}}}
		}
		if l.Units != nil {
			m["quantity"] = map[string]interface{}{"value": *l.Units}
		}
		if l.PaymentAmount != nil {
			m["net"] = map[string]interface{}{"value": *l.PaymentAmount, "currency": "USD"}
		}
		out = append(out, m)
	}
	return out
}

func codeable(c Coding) fhir.CodeableConcept {
	return fhir.CodeableConcept{Coding: []fhir.Coding{{System: c.System, Code: c.Code, Display: c.Display}}}
}

func money(category string, value float64) map[string]interface{} {
	return map[string]interface{}{
		"category": fhir.CodeableConcept{Coding: []fhir.Coding{{Code: category}}},
		"amount":   map[string]interface{}{"value": value, "currency": "USD"},
	}
}

func taxNumberCareTeam(tax string) map[string]interface{} {
	return map[string]interface{}{
		"sequence": 1,
		"provider": fhir.Reference{Identifier: &fhir.Identifier{
			System: "http://terminology.hl7.org/CodeSystem/v2-0203",
			Value:  tax,
		}},
	}
}

// applySecurityTags records the claim's security tags on the record and its
// resource meta.
func applySecurityTags(rec *Record, tags []string) {
	if len(tags) == 0 {
		return
	}
	rec.SecurityTags = append([]string(nil), tags...)
	meta, _ := rec.Resource["meta"].(fhir.Meta)
	meta.LastUpdated = rec.LastUpdated
	for _, t := range tags {
		meta.Security = append(meta.Security, fhir.Coding{System: SystemSecurityTag, Code: t})
	}
	rec.Resource["meta"] = meta
}
