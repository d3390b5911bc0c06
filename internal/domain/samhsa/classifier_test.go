package samhsa

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluebutton/bfd/internal/domain/claims"
)

func testTables(t *testing.T) *Tables {
	t.Helper()
	fsys := fstest.MapFS{
		fileICD9Diagnosis:  {Data: []byte("ICD-9-CM Diagnosis Code,Description\n250.00,test\n303.90,alcohol\n")},
		fileICD10Diagnosis: {Data: []byte("Description,ICD-10-CM Diagnosis Code\nalcohol,F10.10\n")},
		fileICD9Procedure:  {Data: []byte("ICD-9-CM\n94.61\n")},
		fileICD10Procedure: {Data: []byte("ICD-10-PCS Code\nHZ2ZZZZ\n")},
		fileDRG:            {Data: []byte("MS-DRGs\nMS-DRG 895\n")},
		fileCPT:            {Data: []byte("CPT Code\n90837\nh0005\n")},
	}
	tables, err := LoadTables(fsys)
	require.NoError(t, err)
	return tables
}

func newClassifier(t *testing.T, v Version) *Classifier {
	t.Helper()
	c, err := New(testTables(t), v)
	require.NoError(t, err)
	return c
}

func dx(system, code string) claims.Diagnosis {
	return claims.Diagnosis{Sequence: 1, Coding: claims.Coding{System: system, Code: code}}
}

func item(codings ...claims.Coding) claims.LineItem {
	return claims.LineItem{Sequence: 1, ProductOrService: codings}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, NormalizeICD("25000"), NormalizeICD(" 250.00 "))
	assert.Equal(t, "F1010", NormalizeICD("f10.10"))
	assert.Equal(t, "T400X1A", NormalizeICD("T40.0X1A"))
	assert.Equal(t, "A1.2", NormalizeICD("A.1.2"))
	assert.Equal(t, "522", NormalizeDRG(" MS-DRG 522"))
	assert.Equal(t, "H0005", NormalizeHCPCS(" h0005 "))
}

func TestLoadTables_MissingColumn(t *testing.T) {
	fsys := fstest.MapFS{
		fileICD9Diagnosis: {Data: []byte("Code\n250.00\n")},
	}
	_, err := LoadTables(fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), columnICD9Diagnosis)
}

func TestLoadTables_MissingFile(t *testing.T) {
	_, err := LoadTables(fstest.MapFS{})
	require.Error(t, err)
}

func TestNewFromDir(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		fileICD9Diagnosis:  "ICD-9-CM Diagnosis Code\n291.0\n",
		fileICD10Diagnosis: "ICD-10-CM Diagnosis Code\nF11.20\n",
		fileICD9Procedure:  "ICD-9-CM\n94.61\n",
		fileICD10Procedure: "ICD-10-PCS Code\nHZ2ZZZZ\n",
		fileDRG:            "MS-DRGs\nMS-DRG 897\n",
		fileCPT:            "CPT Code\nH0020\n",
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600))
	}

	c, err := NewFromDir(dir, Current)
	require.NoError(t, err)
	assert.True(t, c.CheckCode(KindDiagnosis, claims.SystemICD10, "F11.20"))
	assert.False(t, c.CheckCode(KindDiagnosis, claims.SystemICD10, "F10.10"), "embedded tables are not merged in")
	assert.True(t, c.CheckCode(KindItem, claims.SystemHCPCS, "H0020"))

	_, err = NewFromDir(t.TempDir(), Current)
	require.Error(t, err)

	embeddedOnly, err := NewFromDir("", Legacy)
	require.NoError(t, err)
	assert.Equal(t, Legacy, embeddedOnly.Version())
}

func TestDefaultTables(t *testing.T) {
	tables, err := DefaultTables()
	require.NoError(t, err)

	assert.True(t, tables.ICD10Diagnosis.Has("F1010"))
	assert.True(t, tables.ICD9Diagnosis.Has("30390"))
	assert.True(t, tables.ICD9Procedure.Has("9461"))
	assert.True(t, tables.ICD10Procedure.Has("HZ2ZZZZ"))
	assert.True(t, tables.DRG.Has("895"))
	assert.True(t, tables.CPT.Has("90837"))

	again, err := DefaultTables()
	require.NoError(t, err)
	assert.Same(t, tables, again)
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion(" Legacy ")
	require.NoError(t, err)
	assert.Equal(t, Legacy, v)

	v, err = ParseVersion("current")
	require.NoError(t, err)
	assert.Equal(t, Current, v)

	_, err = ParseVersion("v3")
	assert.Error(t, err)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, Current)
	assert.Error(t, err)

	_, err = New(testTables(t), Version("nope"))
	assert.Error(t, err)
}

func TestIsSensitive_UnknownDiagnosisSystem(t *testing.T) {
	for _, v := range []Version{Legacy, Current} {
		c := newClassifier(t, v)
		for _, system := range []string{"", "http://example.org/unknown"} {
			rec := &claims.Record{Category: claims.Carrier, Diagnoses: []claims.Diagnosis{dx(system, "Z00.00")}}
			assert.True(t, c.IsSensitive(rec), "version %s system %q", v, system)
		}
	}
}

func TestIsSensitive_NormalizedDiagnosis(t *testing.T) {
	c := newClassifier(t, Legacy)
	dotted := &claims.Record{Category: claims.Carrier, Diagnoses: []claims.Diagnosis{dx(claims.SystemICD9, "250.00")}}
	plain := &claims.Record{Category: claims.Carrier, Diagnoses: []claims.Diagnosis{dx(claims.SystemICD9, "25000")}}

	assert.True(t, c.IsSensitive(dotted))
	assert.Equal(t, c.IsSensitive(dotted), c.IsSensitive(plain))
}

func TestIsSensitive_PartDNeverSensitive(t *testing.T) {
	c := newClassifier(t, Current)
	rec := &claims.Record{
		Category:  claims.PDE,
		Diagnoses: []claims.Diagnosis{dx("", "F10.10")},
		Items:     []claims.LineItem{item(claims.Coding{System: "unknown", Code: "x"})},
	}
	assert.False(t, c.IsSensitive(rec))
}

func TestIsSensitive_CPTLineItem(t *testing.T) {
	c := newClassifier(t, Current)
	rec := &claims.Record{
		Category: claims.Carrier,
		Items:    []claims.LineItem{item(claims.Coding{System: claims.SystemHCPCS, Code: "90837"})},
	}
	assert.True(t, c.IsSensitive(rec))

	rec.Items = []claims.LineItem{item(claims.Coding{System: claims.SystemHCPCS, Code: "99213"})}
	assert.False(t, c.IsSensitive(rec))

	rec.Items = []claims.LineItem{item(claims.Coding{System: claims.SystemHCPCS, Code: " H0005"})}
	assert.True(t, c.IsSensitive(rec))
}

func TestIsSensitive_LineItemSystems(t *testing.T) {
	c := newClassifier(t, Legacy)
	base := &claims.Record{Category: claims.DME}

	base.Items = []claims.LineItem{item()}
	assert.False(t, c.IsSensitive(base), "empty coding")

	base.Items = []claims.LineItem{item(
		claims.Coding{System: claims.SystemHCPCS, Code: "99213"},
		claims.Coding{System: claims.SystemHCPCSCD, Code: "99213"},
	)}
	assert.False(t, c.IsSensitive(base), "backwards compatible HCPCS systems")

	base.Items = []claims.LineItem{item(claims.Coding{System: "http://www.ama-assn.org/go/cpt", Code: "99213"})}
	assert.True(t, c.IsSensitive(base), "unknown item system")
}

func TestIsSensitive_DataAbsentItem(t *testing.T) {
	rec := &claims.Record{
		Category: claims.Outpatient,
		Items:    []claims.LineItem{item(claims.Coding{System: claims.SystemDataAbsent, Code: "not-applicable"})},
	}
	assert.True(t, newClassifier(t, Legacy).IsSensitive(rec))
	assert.False(t, newClassifier(t, Current).IsSensitive(rec))
}

func TestIsSensitive_PackageCode(t *testing.T) {
	c := newClassifier(t, Current)
	d := dx(claims.SystemICD10, "Z00.00")

	d.PackageCode = &claims.Coding{System: claims.SystemDRG, Code: "895"}
	assert.True(t, c.IsSensitive(&claims.Record{Category: claims.Inpatient, Diagnoses: []claims.Diagnosis{d}}))

	d.PackageCode = &claims.Coding{System: claims.SystemDRG, Code: "470"}
	assert.False(t, c.IsSensitive(&claims.Record{Category: claims.Inpatient, Diagnoses: []claims.Diagnosis{d}}))

	d.PackageCode = &claims.Coding{System: "http://example.org/drg", Code: "470"}
	assert.True(t, c.IsSensitive(&claims.Record{Category: claims.Inpatient, Diagnoses: []claims.Diagnosis{d}}))
}

func TestIsSensitive_ClaimLevelDRG(t *testing.T) {
	c := newClassifier(t, Current)
	drg := func(code string) []claims.Coding { return []claims.Coding{{System: claims.SystemDRG, Code: code}} }

	assert.True(t, c.IsSensitive(&claims.Record{Category: claims.Inpatient, PackageCodes: drg("895")}))
	assert.True(t, c.IsSensitive(&claims.Record{Category: claims.SNF, PackageCodes: drg("MS-DRG 895")}))
	assert.False(t, c.IsSensitive(&claims.Record{Category: claims.Inpatient, PackageCodes: drg("470")}))
	assert.True(t, c.IsSensitive(&claims.Record{
		Category:     claims.Inpatient,
		PackageCodes: []claims.Coding{{System: "http://example.org/drg", Code: "470"}},
	}))
}

func TestIsSensitive_TransformedInpatientDRGOnly(t *testing.T) {
	drg := "895"
	row := &claims.InpatientClaim{ClaimHeader: claims.ClaimHeader{ID: "1", BeneficiaryID: "567834"}, DRG: &drg}

	rec, err := claims.DefaultTransformers()[claims.Inpatient].Transform(row, claims.Entitlement{})
	require.NoError(t, err)
	require.Empty(t, rec.Diagnoses)

	assert.True(t, newClassifier(t, Current).IsSensitive(rec))
	assert.True(t, newClassifier(t, Legacy).IsSensitive(rec))
}

func TestIsSensitive_Procedures(t *testing.T) {
	proc := func(system, code string) []claims.Procedure {
		return []claims.Procedure{{Sequence: 1, Coding: claims.Coding{System: system, Code: code}}}
	}

	legacy := newClassifier(t, Legacy)
	current := newClassifier(t, Current)

	rec := &claims.Record{Category: claims.SNF, Procedures: proc(claims.SystemICD10, "HZ2ZZZZ")}
	assert.True(t, legacy.IsSensitive(rec))
	assert.True(t, current.IsSensitive(rec))

	// Merged tables in the current ruleset catch miscategorised ICD versions.
	rec.Procedures = proc(claims.SystemICD10, "94.61")
	assert.False(t, legacy.IsSensitive(rec))
	assert.True(t, current.IsSensitive(rec))

	rec.Procedures = proc(claims.SystemICD10Medicare, "0DTJ4ZZ")
	assert.True(t, legacy.IsSensitive(rec), "medicare system unknown to legacy")
	assert.False(t, current.IsSensitive(rec))

	// Carrier claims do not carry procedures.
	rec.Category = claims.Carrier
	rec.Procedures = proc("unknown", "x")
	assert.False(t, current.IsSensitive(rec))
}

func TestIsSensitive_ICD10CM(t *testing.T) {
	rec := &claims.Record{Category: claims.HHA, Diagnoses: []claims.Diagnosis{dx(claims.SystemICD10CM, "J45.909")}}
	assert.True(t, newClassifier(t, Legacy).IsSensitive(rec))
	assert.False(t, newClassifier(t, Current).IsSensitive(rec))
}

func TestIsSensitive_CleanRecord(t *testing.T) {
	c := newClassifier(t, Current)
	rec := &claims.Record{
		Category:   claims.Inpatient,
		Diagnoses:  []claims.Diagnosis{dx(claims.SystemICD10, "J45.909")},
		Procedures: []claims.Procedure{{Sequence: 1, Coding: claims.Coding{System: claims.SystemICD10, Code: "0DTJ4ZZ"}}},
		Items:      []claims.LineItem{item(claims.Coding{System: claims.SystemHCPCS, Code: "99213"})},
	}
	assert.False(t, c.IsSensitive(rec))
	assert.False(t, c.IsSensitive(nil))
}

func TestCheckCode(t *testing.T) {
	c := newClassifier(t, Current)

	assert.True(t, c.CheckCode(KindDiagnosis, claims.SystemICD10, "F10.10"))
	assert.False(t, c.CheckCode(KindDiagnosis, claims.SystemICD10, "J45.909"))
	assert.True(t, c.CheckCode(KindProcedure, claims.SystemICD9, "94.61"))
	assert.True(t, c.CheckCode(KindPackage, claims.SystemDRG, "MS-DRG 895"))
	assert.True(t, c.CheckCode(KindItem, claims.SystemHCPCS, "90837"))
	assert.False(t, c.CheckCode(KindItem, claims.SystemHCPCS, "99213"))
	assert.True(t, c.CheckCode(Kind("other"), claims.SystemHCPCS, "99213"))

	k, err := ParseKind("procedure")
	require.NoError(t, err)
	assert.Equal(t, KindProcedure, k)
	_, err = ParseKind("drug")
	assert.Error(t, err)
}

func TestNewDefault(t *testing.T) {
	c, err := NewDefault(Current)
	require.NoError(t, err)
	assert.Equal(t, Current, c.Version())

	rec := &claims.Record{Category: claims.Outpatient, Diagnoses: []claims.Diagnosis{dx(claims.SystemICD10, "F11.20")}}
	assert.True(t, c.IsSensitive(rec))
}

func TestClassifierSatisfiesClaimsInterface(t *testing.T) {
	var _ claims.Classifier = newClassifier(t, Current)
}
