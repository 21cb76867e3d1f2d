// Package report defines the vendor-agnostic report request and the
// normalized tabular result shared by all vendor clients and sinks.
package report

import (
	"time"

	"github.com/tidemark-io/tidemark/pkg/errors"
)

// DateFormat is the canonical civil-date layout used across the pipeline.
const DateFormat = "2006-01-02"

// DateRange is an inclusive civil-date range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseDate parses a canonical yyyy-mm-dd civil date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid date")
	}
	return t, nil
}

// MustDate parses a canonical civil date and panics on failure. Test helper.
func MustDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Request describes what to fetch, independent of vendor. Immutable once
// issued; vendor clients and the normalizer never modify it.
type Request struct {
	// DateRange bounds the report, inclusive on both ends
	DateRange DateRange `json:"date_range"`
	// Dimensions are categorical grouping attributes, in declared order
	Dimensions []string `json:"dimensions"`
	// Metrics are numeric measurements, in declared order
	Metrics []string `json:"metrics"`
	// AccountID identifies the vendor account, view, or site
	AccountID string `json:"account_id"`
	// PageSize is the maximum rows per vendor page
	PageSize int `json:"page_size"`
	// Filters are optional vendor dimension filters (name -> expression)
	Filters map[string]string `json:"filters,omitempty"`
}

// Validate checks the request invariants.
func (r *Request) Validate() error {
	if len(r.Dimensions) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one dimension is required")
	}
	if len(r.Metrics) == 0 {
		return errors.New(errors.ErrorTypeConfig, "at least one metric is required")
	}
	if r.AccountID == "" {
		return errors.New(errors.ErrorTypeConfig, "account_id is required")
	}
	if r.DateRange.Start.IsZero() || r.DateRange.End.IsZero() {
		return errors.New(errors.ErrorTypeConfig, "date_range is required")
	}
	if r.DateRange.End.Before(r.DateRange.Start) {
		return errors.New(errors.ErrorTypeConfig, "date_range start must not be after end")
	}
	if r.PageSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "page_size must be positive")
	}
	return nil
}

// ColumnNames returns the fixed downstream column order: dimensions then
// metrics, each in declared order.
func (r *Request) ColumnNames() []string {
	names := make([]string, 0, len(r.Dimensions)+len(r.Metrics))
	names = append(names, r.Dimensions...)
	names = append(names, r.Metrics...)
	return names
}
