// Package samhsa decides whether a claim record carries substance-abuse
// related codes that must be withheld from callers who asked for redaction.
package samhsa

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
)

//go:embed data/*.csv
var embedded embed.FS

// Reference table files and the column holding the code in each.
const (
	fileICD9Diagnosis  = "codes-icd-9-diagnosis.csv"
	fileICD10Diagnosis = "codes-icd-10-diagnosis.csv"
	fileICD9Procedure  = "codes-icd-9-procedure.csv"
	fileICD10Procedure = "codes-icd-10-procedure.csv"
	fileDRG            = "codes-drg.csv"
	fileCPT            = "codes-cpt.csv"

	columnICD9Diagnosis  = "ICD-9-CM Diagnosis Code"
	columnICD10Diagnosis = "ICD-10-CM Diagnosis Code"
	columnICD9Procedure  = "ICD-9-CM"
	columnICD10Procedure = "ICD-10-PCS Code"
	columnDRG            = "MS-DRGs"
	columnCPT            = "CPT Code"
)

// CodeSet is a set of normalized codes.
type CodeSet map[string]struct{}

// Has reports whether the already normalized code is in the set.
func (s CodeSet) Has(code string) bool {
	_, ok := s[code]
	return ok
}

func (s CodeSet) union(other CodeSet) CodeSet {
	out := make(CodeSet, len(s)+len(other))
	for c := range s {
		out[c] = struct{}{}
	}
	for c := range other {
		out[c] = struct{}{}
	}
	return out
}

// Tables holds the sensitive-code reference tables. Codes are stored
// normalized. Tables are read-only after loading.
type Tables struct {
	ICD9Diagnosis  CodeSet
	ICD10Diagnosis CodeSet
	ICD9Procedure  CodeSet
	ICD10Procedure CodeSet
	DRG            CodeSet
	CPT            CodeSet
}

// NormalizeICD trims, drops the first decimal point and upper-cases, so
// "250.00" and "25000" compare equal.
func NormalizeICD(code string) string {
	code = strings.TrimSpace(code)
	code = strings.Replace(code, ".", "", 1)
	return strings.ToUpper(code)
}

// NormalizeDRG trims and strips the "MS-DRG " prefix, e.g. "MS-DRG 522" -> "522".
func NormalizeDRG(code string) string {
	code = strings.TrimSpace(code)
	return strings.ReplaceAll(code, "MS-DRG ", "")
}

// NormalizeHCPCS trims and upper-cases.
func NormalizeHCPCS(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

var (
	defaultOnce   sync.Once
	defaultTables *Tables
	defaultErr    error
)

// DefaultTables returns the tables compiled into the binary. They are parsed
// once per process.
func DefaultTables() (*Tables, error) {
	defaultOnce.Do(func() {
		sub, err := fs.Sub(embedded, "data")
		if err != nil {
			defaultErr = err
			return
		}
		defaultTables, defaultErr = LoadTables(sub)
	})
	return defaultTables, defaultErr
}

// LoadTables reads the six reference CSV files from fsys. A missing file or
// column is an error.
func LoadTables(fsys fs.FS) (*Tables, error) {
	var (
		t   Tables
		err error
	)
	load := []struct {
		dst       *CodeSet
		file      string
		column    string
		normalize func(string) string
	}{
		{&t.ICD9Diagnosis, fileICD9Diagnosis, columnICD9Diagnosis, NormalizeICD},
		{&t.ICD10Diagnosis, fileICD10Diagnosis, columnICD10Diagnosis, NormalizeICD},
		{&t.ICD9Procedure, fileICD9Procedure, columnICD9Procedure, NormalizeICD},
		{&t.ICD10Procedure, fileICD10Procedure, columnICD10Procedure, NormalizeICD},
		{&t.DRG, fileDRG, columnDRG, NormalizeDRG},
		{&t.CPT, fileCPT, columnCPT, NormalizeHCPCS},
	}
	for _, l := range load {
		if *l.dst, err = readColumn(fsys, l.file, l.column, l.normalize); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func readColumn(fsys fs.FS, name, column string, normalize func(string) string) (CodeSet, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s header: %w", name, err)
	}
	idx := -1
	for i, h := range header {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s: column %q not found", name, column)
	}

	set := CodeSet{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if idx >= len(rec) {
			continue
		}
		if code := normalize(rec[idx]); code != "" {
			set[code] = struct{}{}
		}
	}
	return set, nil
}
