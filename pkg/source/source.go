// Package source defines the vendor client contract and the shared
// pagination and retry engine used by every vendor implementation.
package source

import (
	"context"

	"github.com/tidemark-io/tidemark/pkg/report"
)

// RawPage is one vendor page with rows already reconciled into the flat
// downstream order: dimension values followed by metric values, each in
// the order the request declared them. Values are untyped strings or
// vendor-native scalars; the normalizer coerces them later.
type RawPage struct {
	// Rows holds the flattened cell values for this page
	Rows [][]interface{}
	// NextToken is the zero-indexed continuation token, empty when this is
	// the last page
	NextToken string
	// RowCount is the number of rows in this page
	RowCount int
}

// FetchOutput is the complete paged result of one report request.
type FetchOutput struct {
	// Pages in fetch order; row order within and across pages is preserved
	Pages []*RawPage
	// PagesFetched is the total page count
	PagesFetched int
	// RetriesUsed counts throttle and transient retries spent on this request
	RetriesUsed int
}

// Rows returns the total row count across all pages.
func (o *FetchOutput) Rows() int {
	n := 0
	for _, p := range o.Pages {
		n += p.RowCount
	}
	return n
}

// Client fetches paged raw report data from one vendor. Implementations are
// safe for concurrent use by multiple workers.
type Client interface {
	// Vendor returns the vendor identifier ("google" or "baidu")
	Vendor() string

	// Fetch retrieves all pages for the request, driving pagination,
	// throttle backoff, and transient retries internally. The returned
	// error carries the terminal classification.
	Fetch(ctx context.Context, req *report.Request) (*FetchOutput, error)
}
