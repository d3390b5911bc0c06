package claims

// Coding systems written by the transformers and recognised by the SAMHSA
// rulesets.
const (
	SystemICD9          = "http://hl7.org/fhir/sid/icd-9-cm"
	SystemICD10         = "http://hl7.org/fhir/sid/icd-10"
	SystemICD10CM       = "http://hl7.org/fhir/sid/icd-10-cm"
	SystemICD9Medicare  = "http://www.cms.gov/Medicare/Coding/ICD9"
	SystemICD10Medicare = "http://www.cms.gov/Medicare/Coding/ICD10"
	SystemHCPCS         = "https://bluebutton.cms.gov/resources/codesystem/hcpcs"
	SystemHCPCSCD       = "https://bluebutton.cms.gov/resources/variables/hcpcs_cd"
	SystemDRG           = "https://bluebutton.cms.gov/resources/variables/clm_drg_cd"
	SystemDataAbsent    = "http://terminology.hl7.org/CodeSystem/data-absent-reason"
	SystemNDC           = "http://hl7.org/fhir/sid/ndc"
	SystemRevenueCenter = "https://bluebutton.cms.gov/resources/variables/rev_cntr"
	SystemClaimID       = "https://bluebutton.cms.gov/resources/variables/clm_id"
	SystemPDEID         = "https://bluebutton.cms.gov/resources/variables/pde_id"
	SystemSecurityTag   = "https://bluebutton.cms.gov/resources/codesystem/security-tag"
)

// ICD version indicators as stored on claim rows.
const (
	icdVersion9  = "9"
	icdVersion10 = "0"
)

// icdSystem maps a row's ICD version indicator to a coding system. Unknown
// indicators yield an empty system, which the classifier treats as sensitive.
func icdSystem(version string) string {
	switch version {
	case icdVersion9:
		return SystemICD9
	case icdVersion10, "":
		return SystemICD10
	}
	return ""
}
