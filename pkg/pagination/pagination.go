package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names.
const (
	ParamStartIndex = "startIndex"
	ParamCount      = "_count"
)

const (
	DefaultCount = 10
	MaxCount     = 1000
)

// Params holds the offset paging requested by a search. Count zero means
// the client did not ask for paging and every result is returned.
type Params struct {
	StartIndex int
	Count      int
}

// Error reports an invalid paging parameter.
type Error struct {
	Param string
	Msg   string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Param, e.Msg) }

// FromValues extracts paging parameters from search values. Paging is
// requested when either parameter is present; a missing _count then
// defaults to DefaultCount.
func FromValues(values url.Values) (Params, error) {
	startRaw := strings.TrimSpace(values.Get(ParamStartIndex))
	countRaw := strings.TrimSpace(values.Get(ParamCount))
	if startRaw == "" && countRaw == "" {
		return Params{}, nil
	}

	p := Params{Count: DefaultCount}
	if countRaw != "" {
		n, err := strconv.Atoi(countRaw)
		if err != nil || n < 1 {
			return Params{}, &Error{Param: ParamCount, Msg: "must be a positive integer"}
		}
		if n > MaxCount {
			n = MaxCount
		}
		p.Count = n
	}
	if startRaw != "" {
		n, err := strconv.Atoi(startRaw)
		if err != nil || n < 0 {
			return Params{}, &Error{Param: ParamStartIndex, Msg: "must be a non-negative integer"}
		}
		p.StartIndex = n
	}
	return p, nil
}

// Paged reports whether paging was requested.
func (p Params) Paged() bool { return p.Count > 0 }

// Window returns the slice bounds of the page over total results. It fails
// when StartIndex lies past the end of a non-empty result.
func (p Params) Window(total int) (start, end int, err error) {
	if !p.Paged() {
		return 0, total, nil
	}
	if p.StartIndex > 0 && p.StartIndex >= total {
		return 0, 0, &Error{
			Param: ParamStartIndex,
			Msg:   fmt.Sprintf("%d is beyond the %d matching results", p.StartIndex, total),
		}
	}
	end = p.StartIndex + p.Count
	if end > total {
		end = total
	}
	return p.StartIndex, end, nil
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Paged() && p.StartIndex+p.Count < total
}

// HasPrevious returns true if there are results before the current page.
func (p Params) HasPrevious() bool {
	return p.Paged() && p.StartIndex > 0
}
