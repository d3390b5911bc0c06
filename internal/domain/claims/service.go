package claims

import (
	"context"
	"errors"
	"time"

	"github.com/bluebutton/bfd/pkg/pagination"
)

// Fetcher returns the merged records of one beneficiary request.
type Fetcher interface {
	Fetch(ctx context.Context, q Query) ([]*Record, error)
}

// SearchResult is one page of an EOB search.
type SearchResult struct {
	Records []*Record
	// Total is the number of matching records across all pages.
	Total int
	// TransactionTime is the newest last-updated time of the matching
	// records, or the search time when nothing matched.
	TransactionTime time.Time
}

// Service runs EOB searches.
type Service struct {
	fetcher Fetcher
	now     func() time.Time
}

func NewService(fetcher Fetcher) *Service {
	return &Service{fetcher: fetcher, now: time.Now}
}

// SearchEOB fetches every matching record of the beneficiary and cuts out
// the requested page.
func (s *Service) SearchEOB(ctx context.Context, q Query, page pagination.Params) (*SearchResult, error) {
	records, err := s.fetcher.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	start, end, err := page.Window(len(records))
	if err != nil {
		var pe *pagination.Error
		if errors.As(err, &pe) {
			return nil, &ValidationError{Param: pe.Param, Msg: pe.Msg}
		}
		return nil, err
	}

	return &SearchResult{
		Records:         records[start:end],
		Total:           len(records),
		TransactionTime: s.transactionTime(records),
	}, nil
}

func (s *Service) transactionTime(records []*Record) time.Time {
	var newest time.Time
	for _, r := range records {
		if r.LastUpdated.After(newest) {
			newest = r.LastUpdated
		}
	}
	if newest.IsZero() {
		return s.now().UTC()
	}
	return newest
}
