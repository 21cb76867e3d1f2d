// Package baidu implements the Baidu Tongji report client against the
// ReportService/getData endpoint. Tongji has no continuation tokens; paging
// is emulated through the start_index/max_results window until a short page
// arrives. Credentials travel inside every request body.
package baidu

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/tidemark-io/tidemark/pkg/auth"
	"github.com/tidemark-io/tidemark/pkg/clients"
	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/logger"
	"github.com/tidemark-io/tidemark/pkg/report"
	"github.com/tidemark-io/tidemark/pkg/source"
)

const (
	defaultEndpoint = "https://api.baidu.com/json/tongji/v1/ReportService/getData"

	// defaultMethod is the visited-page report, the workhorse report of the
	// data-export service
	defaultMethod = "visit/toppage/a"

	// wireDateFormat is the compact yyyymmdd layout the API expects
	wireDateFormat = "20060102"

	// MissingValue is the vendor's marker for an absent cell
	MissingValue = "--"
)

// Tongji header.status codes that matter for classification.
const (
	statusOK            = 0
	statusAuthFailure   = 1
	statusQuotaExceeded = 4
)

// Options tunes the client.
type Options struct {
	Endpoint string
	// Method selects the Tongji report, e.g. "visit/toppage/a" or
	// "overview/getTimeTrendRpt"
	Method string
}

// Source is the Baidu Tongji vendor client.
type Source struct {
	caller  *auth.BaiduCaller
	cfg     *config.PipelineConfig
	opts    Options
	limiter clients.RateLimiter
	logger  *zap.Logger
}

// New creates a Tongji client.
func New(caller *auth.BaiduCaller, cfg *config.PipelineConfig, opts Options) *Source {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Method == "" {
		opts.Method = defaultMethod
	}

	s := &Source{
		caller: caller,
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(zap.String("vendor", "baidu"), zap.String("method", opts.Method)),
	}
	if cfg.Reliability.IsRateLimited() {
		s.limiter = clients.NewRateLimiter(cfg.Reliability.RateLimitPerSec, cfg.Reliability.RateLimitPerSec)
	}
	return s
}

// Vendor returns the vendor identifier.
func (s *Source) Vendor() string {
	return "baidu"
}

// Fetch retrieves all pages for the request.
func (s *Source) Fetch(ctx context.Context, req *report.Request) (*source.FetchOutput, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	paginator := &source.Paginator{
		MaxPages:          s.cfg.Performance.MaxPages,
		ThrottleAttempts:  s.cfg.Reliability.ThrottleAttempts,
		TransientAttempts: s.cfg.Reliability.TransientAttempts,
		Backoff:           source.NewBackoff(s.cfg.Reliability),
		Limiter:           s.limiter,
		Auth:              s.caller,
		Logger:            s.logger,
	}

	return paginator.Run(ctx, func(ctx context.Context, token string) (*source.RawPage, error) {
		return s.fetchPage(ctx, req, token)
	})
}

// wire types

type wireRequest struct {
	Header wireHeader `json:"header"`
	Body   wireBody   `json:"body"`
}

type wireHeader struct {
	AccountType int    `json:"account_type"`
	Password    string `json:"password"`
	Token       string `json:"token"`
	Username    string `json:"username"`
}

type wireBody struct {
	SiteID     string `json:"siteId"`
	Method     string `json:"method"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Metrics    string `json:"metrics"`
	StartIndex int    `json:"start_index"`
	MaxResults int    `json:"max_results"`
}

type wireResponse struct {
	Header struct {
		Status int    `json:"status"`
		Desc   string `json:"desc"`
	} `json:"header"`
	Body struct {
		Data []wireData `json:"data"`
	} `json:"body"`
}

type wireData struct {
	Result wireResult `json:"result"`
}

type wireResult struct {
	// Items[0] holds dimension tuples, Items[1] metric tuples, zipped row
	// by row
	Items [][][]interface{} `json:"items"`
}

func (s *Source) fetchPage(ctx context.Context, req *report.Request, token string) (*source.RawPage, error) {
	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeInternal, "malformed continuation token %q", token)
		}
		offset = n
	}

	creds := s.caller.Credentials()
	body := wireRequest{
		Header: wireHeader{
			AccountType: 1,
			Password:    creds.Password,
			Token:       creds.Token,
			Username:    creds.Username,
		},
		Body: wireBody{
			SiteID:     req.AccountID,
			Method:     s.opts.Method,
			StartDate:  req.DateRange.Start.Format(wireDateFormat),
			EndDate:    req.DateRange.End.Format(wireDateFormat),
			Metrics:    strings.Join(req.Metrics, ","),
			StartIndex: offset,
			MaxResults: req.PageSize,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode getData request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build getData request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.caller.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "vendor call failed")
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to read vendor response")
	}
	if httpResp.StatusCode >= 500 {
		return nil, errors.Newf(errors.ErrorTypeTransient, "vendor server error (HTTP %d)", httpResp.StatusCode)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeRequestRejected, "vendor rejected the request (HTTP %d)", httpResp.StatusCode)
	}

	var resp wireResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to decode getData response")
	}
	if resp.Header.Status != statusOK {
		return nil, classifyHeaderStatus(resp.Header.Status, resp.Header.Desc)
	}

	rows, err := zipItems(&resp)
	if err != nil {
		return nil, err
	}

	page := &source.RawPage{Rows: rows, RowCount: len(rows)}
	// a full window means there may be more rows behind it
	if len(rows) == req.PageSize {
		page.NextToken = strconv.Itoa(offset + len(rows))
	}
	return page, nil
}

// classifyHeaderStatus maps Tongji application-level statuses onto the
// error taxonomy. The transport status is 200 even for failures.
func classifyHeaderStatus(status int, desc string) error {
	switch status {
	case statusAuthFailure:
		return errors.Newf(errors.ErrorTypeAuthExpired, "vendor authentication failed: %s", desc)
	case statusQuotaExceeded:
		return errors.Newf(errors.ErrorTypeRateLimited, "vendor quota exceeded: %s", desc)
	default:
		return errors.Newf(errors.ErrorTypeRequestRejected, "vendor rejected the request (status %d): %s", status, desc)
	}
}

// zipItems joins the dimension tuples (items[0]) with the metric tuples
// (items[1]) row by row into flat raw rows.
func zipItems(resp *wireResponse) ([][]interface{}, error) {
	if len(resp.Body.Data) == 0 {
		return nil, nil
	}

	items := resp.Body.Data[0].Result.Items
	if len(items) == 0 {
		return nil, nil
	}

	dimTuples := items[0]
	var metricTuples [][]interface{}
	if len(items) > 1 {
		metricTuples = items[1]
	}
	if len(metricTuples) > 0 && len(metricTuples) != len(dimTuples) {
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
			"dimension and metric tuple counts differ (%d vs %d)", len(dimTuples), len(metricTuples))
	}

	rows := make([][]interface{}, 0, len(dimTuples))
	for i, dims := range dimTuples {
		row := make([]interface{}, 0, len(dims)+4)
		for _, d := range dims {
			row = append(row, flattenCell(d))
		}
		if len(metricTuples) > 0 {
			for _, m := range metricTuples[i] {
				row = append(row, flattenCell(m))
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// flattenCell unwraps the nested page descriptors Tongji uses for some
// dimensions ({"name": ...} objects) down to their display value.
func flattenCell(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if name, ok := m["name"]; ok {
			return name
		}
		return fmt.Sprintf("%v", m)
	}
	return v
}

var _ source.Client = (*Source)(nil)
