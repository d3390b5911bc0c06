package claims

import (
	"strings"
	"time"
)

// DateRange is a half-open or closed date window built from FHIR date search
// values. A nil bound is unbounded.
type DateRange struct {
	From          *time.Time
	FromInclusive bool
	To            *time.Time
	ToInclusive   bool
}

// IsZero reports whether neither bound is set.
func (r DateRange) IsZero() bool { return r.From == nil && r.To == nil }

// Contains reports whether t falls within the range.
func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil {
		if r.FromInclusive && t.Before(*r.From) {
			return false
		}
		if !r.FromInclusive && !t.After(*r.From) {
			return false
		}
	}
	if r.To != nil {
		if r.ToInclusive && t.After(*r.To) {
			return false
		}
		if !r.ToInclusive && !t.Before(*r.To) {
			return false
		}
	}
	return true
}

// Overlaps reports whether any instant in [start, end] lies within the range.
func (r DateRange) Overlaps(start, end time.Time) bool {
	if r.From != nil {
		if end.Before(*r.From) || (!r.FromInclusive && end.Equal(*r.From)) {
			return false
		}
	}
	if r.To != nil {
		if start.After(*r.To) || (!r.ToInclusive && start.Equal(*r.To)) {
			return false
		}
	}
	return true
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func parseFHIRDate(s string) (time.Time, string, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), layout, true
		}
	}
	return time.Time{}, "", false
}

// endOf returns the exclusive end of the precision window of t.
func endOf(t time.Time, layout string) time.Time {
	switch layout {
	case "2006":
		return t.AddDate(1, 0, 0)
	case "2006-01":
		return t.AddDate(0, 1, 0)
	case "2006-01-02":
		return t.AddDate(0, 0, 1)
	}
	return t
}

// ParseDateRange combines FHIR date search values ("ge2020-01-01",
// "lt2021-01-01", "2020-05") into one range for the named parameter.
func ParseDateRange(param string, values []string) (DateRange, error) {
	var r DateRange
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		prefix := "eq"
		if len(raw) > 2 && raw[0] >= 'a' && raw[0] <= 'z' {
			prefix, raw = raw[:2], raw[2:]
		}
		t, layout, ok := parseFHIRDate(raw)
		if !ok {
			return DateRange{}, &ValidationError{Param: param, Msg: "invalid date " + raw}
		}
		switch prefix {
		case "ge", "gt":
			if r.From != nil {
				return DateRange{}, &ValidationError{Param: param, Msg: "more than one lower bound"}
			}
			from, end := t, endOf(t, layout)
			if prefix == "gt" && !end.Equal(t) {
				from = end
				r.FromInclusive = true
			} else {
				r.FromInclusive = prefix == "ge"
			}
			r.From = &from
		case "le", "lt":
			if r.To != nil {
				return DateRange{}, &ValidationError{Param: param, Msg: "more than one upper bound"}
			}
			to, end := t, endOf(t, layout)
			if prefix == "le" && !end.Equal(t) {
				to = end
				r.ToInclusive = false
			} else {
				r.ToInclusive = prefix == "le"
			}
			r.To = &to
		case "eq":
			if r.From != nil || r.To != nil {
				return DateRange{}, &ValidationError{Param: param, Msg: "eq cannot be combined with other bounds"}
			}
			from, to := t, endOf(t, layout)
			r.From, r.FromInclusive = &from, true
			r.To, r.ToInclusive = &to, to.Equal(t)
		default:
			return DateRange{}, &ValidationError{Param: param, Msg: "unsupported prefix " + prefix}
		}
	}
	if r.From != nil && r.To != nil && r.From.After(*r.To) {
		return DateRange{}, &ValidationError{Param: param, Msg: "lower bound is after upper bound"}
	}
	return r, nil
}
