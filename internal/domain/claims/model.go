package claims

import (
	"time"
)

// Row is a raw claim row of one category as loaded from the database.
type Row interface {
	ClaimID() string
	Category() Category
	Beneficiary() string
	ServiceEnd() *time.Time
	Updated() time.Time
}

// DiagnosisCode is a diagnosis as stored on a claim row. Version is the CCW
// ICD version indicator ("9" or "0").
type DiagnosisCode struct {
	Code    string `db:"code" json:"code"`
	Version string `db:"version" json:"version"`
}

// ProcedureCode is a procedure as stored on a claim row.
type ProcedureCode struct {
	Code    string     `db:"code" json:"code"`
	Version string     `db:"version" json:"version"`
	Date    *time.Time `db:"date" json:"date,omitempty"`
}

// ClaimLine is a line of a fee-for-service claim.
type ClaimLine struct {
	Number        int      `db:"line_num" json:"line_num"`
	HCPCS         *string  `db:"hcpcs_cd" json:"hcpcs_cd,omitempty"`
	RevenueCenter *string  `db:"rev_cntr" json:"rev_cntr,omitempty"`
	Units         *float64 `db:"units" json:"units,omitempty"`
	PaymentAmount *float64 `db:"pmt_amt" json:"pmt_amt,omitempty"`
}

// ClaimHeader holds the columns common to all fee-for-service claim tables.
type ClaimHeader struct {
	ID            string          `db:"clm_id" json:"clm_id"`
	BeneficiaryID string          `db:"bene_id" json:"bene_id"`
	From          *time.Time      `db:"clm_from_dt" json:"clm_from_dt,omitempty"`
	Thru          *time.Time      `db:"clm_thru_dt" json:"clm_thru_dt,omitempty"`
	PaymentAmount *float64        `db:"clm_pmt_amt" json:"clm_pmt_amt,omitempty"`
	ProviderID    *string         `db:"prvdr_num" json:"prvdr_num,omitempty"`
	Diagnoses     []DiagnosisCode `db:"diagnoses" json:"diagnoses"`
	Lines         []ClaimLine     `db:"lines" json:"lines"`
	LastUpdated   time.Time       `db:"last_updated" json:"last_updated"`
}

func (h *ClaimHeader) ClaimID() string        { return h.ID }
func (h *ClaimHeader) Beneficiary() string    { return h.BeneficiaryID }
func (h *ClaimHeader) ServiceEnd() *time.Time { return h.Thru }
func (h *ClaimHeader) Updated() time.Time     { return h.LastUpdated }

// CarrierClaim maps to carrier_claims (professional claims).
type CarrierClaim struct {
	ClaimHeader
	TaxNumber *string `db:"tax_num" json:"tax_num,omitempty"`
}

func (*CarrierClaim) Category() Category { return Carrier }

// DMEClaim maps to dme_claims (durable medical equipment).
type DMEClaim struct {
	ClaimHeader
	TaxNumber *string `db:"tax_num" json:"tax_num,omitempty"`
}

func (*DMEClaim) Category() Category { return DME }

// HHAClaim maps to hha_claims (home health).
type HHAClaim struct{ ClaimHeader }

func (*HHAClaim) Category() Category { return HHA }

// HospiceClaim maps to hospice_claims.
type HospiceClaim struct{ ClaimHeader }

func (*HospiceClaim) Category() Category { return Hospice }

// InpatientClaim maps to inpatient_claims.
type InpatientClaim struct {
	ClaimHeader
	DRG        *string         `db:"clm_drg_cd" json:"clm_drg_cd,omitempty"`
	Procedures []ProcedureCode `db:"procedures" json:"procedures"`
}

func (*InpatientClaim) Category() Category { return Inpatient }

// OutpatientClaim maps to outpatient_claims.
type OutpatientClaim struct {
	ClaimHeader
	Procedures []ProcedureCode `db:"procedures" json:"procedures"`
}

func (*OutpatientClaim) Category() Category { return Outpatient }

// SNFClaim maps to snf_claims (skilled nursing facility).
type SNFClaim struct {
	ClaimHeader
	DRG        *string         `db:"clm_drg_cd" json:"clm_drg_cd,omitempty"`
	Procedures []ProcedureCode `db:"procedures" json:"procedures"`
}

func (*SNFClaim) Category() Category { return SNF }

// PartDEvent maps to partd_events (prescription drug events).
type PartDEvent struct {
	ID            string     `db:"pde_id" json:"pde_id"`
	BeneficiaryID string     `db:"bene_id" json:"bene_id"`
	FillDate      *time.Time `db:"srvc_dt" json:"srvc_dt,omitempty"`
	NDC           *string    `db:"prod_srvc_id" json:"prod_srvc_id,omitempty"`
	Quantity      *float64   `db:"qty_dspnsd_num" json:"qty_dspnsd_num,omitempty"`
	DaysSupply    *int       `db:"days_suply_num" json:"days_suply_num,omitempty"`
	DrugCost      *float64   `db:"tot_rx_cst_amt" json:"tot_rx_cst_amt,omitempty"`
	LastUpdated   time.Time  `db:"last_updated" json:"last_updated"`
}

func (p *PartDEvent) ClaimID() string        { return p.ID }
func (*PartDEvent) Category() Category       { return PDE }
func (p *PartDEvent) Beneficiary() string    { return p.BeneficiaryID }
func (p *PartDEvent) ServiceEnd() *time.Time { return p.FillDate }
func (p *PartDEvent) Updated() time.Time     { return p.LastUpdated }
