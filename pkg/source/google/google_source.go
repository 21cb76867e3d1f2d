// Package google implements the Google Analytics reporting client. The v4
// reports:batchGet endpoint is the primary path; the v3 data/ga endpoint is
// kept for properties that were never migrated. Both paths reconcile into
// the common raw-page shape with zero-indexed continuation tokens.
package google

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
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
	// APIVersionV4 selects the reports:batchGet path
	APIVersionV4 = "v4"
	// APIVersionV3 selects the legacy data/ga path
	APIVersionV3 = "v3"

	defaultEndpointV4 = "https://analyticsreporting.googleapis.com/v4/reports:batchGet"
	defaultEndpointV3 = "https://www.googleapis.com/analytics/v3/data/ga"

	// GA v4 per-request limits. Requests beyond these are not rejected
	// locally; the vendor decides, we just warn.
	maxMetricsPerRequest    = 10
	maxDimensionsPerRequest = 9
	maxRowsPerPage          = 100000
)

// Options tunes the client. Zero values select v4 against the public
// endpoints.
type Options struct {
	APIVersion string
	EndpointV4 string
	EndpointV3 string
}

// Source is the Google Analytics vendor client.
type Source struct {
	caller  auth.Caller
	cfg     *config.PipelineConfig
	opts    Options
	limiter clients.RateLimiter
	logger  *zap.Logger
}

// New creates a Google Analytics client.
func New(caller auth.Caller, cfg *config.PipelineConfig, opts Options) *Source {
	if opts.APIVersion == "" {
		opts.APIVersion = APIVersionV4
	}
	if opts.EndpointV4 == "" {
		opts.EndpointV4 = defaultEndpointV4
	}
	if opts.EndpointV3 == "" {
		opts.EndpointV3 = defaultEndpointV3
	}

	s := &Source{
		caller: caller,
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(zap.String("vendor", "google"), zap.String("api_version", opts.APIVersion)),
	}
	if cfg.Reliability.IsRateLimited() {
		s.limiter = clients.NewRateLimiter(cfg.Reliability.RateLimitPerSec, cfg.Reliability.RateLimitPerSec)
	}
	return s
}

// Vendor returns the vendor identifier.
func (s *Source) Vendor() string {
	return "google"
}

// Fetch retrieves all pages for the request.
func (s *Source) Fetch(ctx context.Context, req *report.Request) (*source.FetchOutput, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.warnLimits(req)

	fetch := s.fetchPageV4
	if s.opts.APIVersion == APIVersionV3 {
		fetch = s.fetchPageV3
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
		return fetch(ctx, req, token)
	})
}

func (s *Source) warnLimits(req *report.Request) {
	if len(req.Metrics) > maxMetricsPerRequest {
		s.logger.Warn("request exceeds the metric limit, the vendor may reject it",
			zap.Int("metrics", len(req.Metrics)), zap.Int("limit", maxMetricsPerRequest))
	}
	if len(req.Dimensions) > maxDimensionsPerRequest {
		s.logger.Warn("request exceeds the dimension limit, the vendor may reject it",
			zap.Int("dimensions", len(req.Dimensions)), zap.Int("limit", maxDimensionsPerRequest))
	}
	if req.PageSize > maxRowsPerPage {
		s.logger.Warn("page size exceeds the per-page row cap",
			zap.Int("page_size", req.PageSize), zap.Int("cap", maxRowsPerPage))
	}
}

// gaName returns the name with the ga: namespace prefix applied.
func gaName(name string) string {
	if strings.HasPrefix(name, "ga:") {
		return name
	}
	return "ga:" + name
}

func filtersExpression(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(filters))
	for name, expr := range filters {
		parts = append(parts, gaName(name)+"=="+expr)
	}
	return strings.Join(parts, ";")
}

// v4 wire types

type v4Request struct {
	ReportRequests []v4ReportRequest `json:"reportRequests"`
}

type v4ReportRequest struct {
	ViewID            string        `json:"viewId"`
	DateRanges        []v4DateRange `json:"dateRanges"`
	Dimensions        []v4Dimension `json:"dimensions"`
	Metrics           []v4Metric    `json:"metrics"`
	PageSize          int           `json:"pageSize"`
	PageToken         string        `json:"pageToken"`
	FiltersExpression string        `json:"filtersExpression,omitempty"`
}

type v4DateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type v4Dimension struct {
	Name string `json:"name"`
}

type v4Metric struct {
	Expression string `json:"expression"`
}

type v4Response struct {
	Reports []struct {
		Data struct {
			Rows []struct {
				Dimensions []string `json:"dimensions"`
				Metrics    []struct {
					Values []string `json:"values"`
				} `json:"metrics"`
			} `json:"rows"`
			RowCount           int     `json:"rowCount"`
			IsDataGolden       bool    `json:"isDataGolden"`
			SamplesReadCounts  []int64 `json:"samplesReadCounts,omitempty"`
			SamplingSpaceSizes []int64 `json:"samplingSpaceSizes,omitempty"`
		} `json:"data"`
		NextPageToken string `json:"nextPageToken,omitempty"`
	} `json:"reports"`
}

func (s *Source) fetchPageV4(ctx context.Context, req *report.Request, token string) (*source.RawPage, error) {
	if token == "" {
		token = "0"
	}

	body := v4Request{ReportRequests: []v4ReportRequest{{
		ViewID:            gaName(req.AccountID),
		DateRanges:        []v4DateRange{{StartDate: req.DateRange.Start.Format(report.DateFormat), EndDate: req.DateRange.End.Format(report.DateFormat)}},
		PageSize:          req.PageSize,
		PageToken:         token,
		FiltersExpression: filtersExpression(req.Filters),
	}}}
	for _, d := range req.Dimensions {
		body.ReportRequests[0].Dimensions = append(body.ReportRequests[0].Dimensions, v4Dimension{Name: gaName(d)})
	}
	for _, m := range req.Metrics {
		body.ReportRequests[0].Metrics = append(body.ReportRequests[0].Metrics, v4Metric{Expression: gaName(m)})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode batchGet request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.EndpointV4, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build batchGet request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	raw, err := s.execute(httpReq)
	if err != nil {
		return nil, err
	}

	var resp v4Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to decode batchGet response")
	}
	if len(resp.Reports) == 0 {
		return nil, errors.New(errors.ErrorTypeRequestRejected, "batchGet response carried no reports")
	}

	rep := resp.Reports[0]
	s.logDataQuality(rep.Data.IsDataGolden, rep.Data.SamplesReadCounts, rep.Data.SamplingSpaceSizes)

	page := &source.RawPage{NextToken: rep.NextPageToken}
	for _, row := range rep.Data.Rows {
		flat := make([]interface{}, 0, len(row.Dimensions)+len(req.Metrics))
		for _, d := range row.Dimensions {
			flat = append(flat, d)
		}
		if len(row.Metrics) > 0 {
			for _, v := range row.Metrics[0].Values {
				flat = append(flat, v)
			}
		}
		page.Rows = append(page.Rows, flat)
	}
	page.RowCount = len(page.Rows)
	return page, nil
}

// logDataQuality surfaces the response quality flags the v4 API attaches.
// Non-golden data may change on a later re-fetch; sampled data is an
// estimate, not a count.
func (s *Source) logDataQuality(golden bool, samplesRead, samplingSpace []int64) {
	if !golden {
		s.logger.Warn("response data is not golden, a later re-fetch may differ")
	}
	if len(samplesRead) > 0 || len(samplingSpace) > 0 {
		s.logger.Warn("response data is sampled",
			zap.Int64s("samples_read_counts", samplesRead),
			zap.Int64s("sampling_space_sizes", samplingSpace))
	}
}

// v3 wire types

type v3Response struct {
	Rows         [][]string `json:"rows"`
	TotalResults int        `json:"totalResults"`
	ItemsPerPage int        `json:"itemsPerPage"`
}

func (s *Source) fetchPageV3(ctx context.Context, req *report.Request, token string) (*source.RawPage, error) {
	offset := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, errors.Newf(errors.ErrorTypeInternal, "malformed continuation token %q", token)
		}
		offset = n
	}

	dims := make([]string, len(req.Dimensions))
	for i, d := range req.Dimensions {
		dims[i] = gaName(d)
	}
	mets := make([]string, len(req.Metrics))
	for i, m := range req.Metrics {
		mets[i] = gaName(m)
	}

	params := url.Values{}
	params.Set("ids", gaName(req.AccountID))
	params.Set("start-date", req.DateRange.Start.Format(report.DateFormat))
	params.Set("end-date", req.DateRange.End.Format(report.DateFormat))
	params.Set("dimensions", strings.Join(dims, ","))
	params.Set("metrics", strings.Join(mets, ","))
	params.Set("max-results", strconv.Itoa(req.PageSize))
	// v3 start-index is one-based
	params.Set("start-index", strconv.Itoa(offset+1))
	if expr := filtersExpression(req.Filters); expr != "" {
		params.Set("filters", expr)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.EndpointV3+"?"+params.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build data/ga request")
	}

	raw, err := s.execute(httpReq)
	if err != nil {
		return nil, err
	}

	var resp v3Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to decode data/ga response")
	}

	page := &source.RawPage{}
	for _, row := range resp.Rows {
		flat := make([]interface{}, len(row))
		for i, v := range row {
			flat[i] = v
		}
		page.Rows = append(page.Rows, flat)
	}
	page.RowCount = len(page.Rows)

	if offset+len(resp.Rows) < resp.TotalResults && len(resp.Rows) > 0 {
		page.NextToken = strconv.Itoa(offset + len(resp.Rows))
	}
	return page, nil
}

// execute runs the authenticated call and classifies the response status.
func (s *Source) execute(req *http.Request) ([]byte, error) {
	resp, err := s.caller.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "vendor call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "failed to read vendor response")
	}

	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}
	return nil, classifyStatus(resp.StatusCode, raw)
}

// classifyStatus maps vendor HTTP statuses onto the error taxonomy. 403 is
// ambiguous on this API: quota exhaustion and permission denial share the
// status, so the body is inspected for the quota reason codes.
func classifyStatus(status int, body []byte) error {
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	switch {
	case status == http.StatusTooManyRequests:
		return errors.Newf(errors.ErrorTypeRateLimited, "vendor throttled the request (HTTP %d)", status).
			WithDetail("body", snippet)
	case status == http.StatusForbidden && isQuotaBody(body):
		return errors.Newf(errors.ErrorTypeRateLimited, "vendor quota exceeded (HTTP %d)", status).
			WithDetail("body", snippet)
	case status == http.StatusUnauthorized:
		return errors.Newf(errors.ErrorTypeAuthExpired, "authentication expired (HTTP %d)", status)
	case status >= 500:
		return errors.Newf(errors.ErrorTypeTransient, "vendor server error (HTTP %d)", status).
			WithDetail("body", snippet)
	default:
		return errors.Newf(errors.ErrorTypeRequestRejected, "vendor rejected the request (HTTP %d)", status).
			WithDetail("body", snippet)
	}
}

func isQuotaBody(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, marker := range []string{"ratelimitexceeded", "quotaexceeded", "userratelimitexceeded", "dailylimitexceeded"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var _ source.Client = (*Source)(nil)
