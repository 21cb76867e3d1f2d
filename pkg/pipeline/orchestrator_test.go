package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
	"github.com/tidemark-io/tidemark/pkg/sink"
	"github.com/tidemark-io/tidemark/pkg/source"
)

// scriptedClient drives the real pagination engine over an in-process page
// function, so retry accounting is exercised end to end.
type scriptedClient struct {
	vendor string
	cfg    *config.PipelineConfig
	fetch  source.PageFunc
}

func (c *scriptedClient) Vendor() string { return c.vendor }

func (c *scriptedClient) Fetch(ctx context.Context, req *report.Request) (*source.FetchOutput, error) {
	p := &source.Paginator{
		MaxPages:          c.cfg.Performance.MaxPages,
		ThrottleAttempts:  c.cfg.Reliability.ThrottleAttempts,
		TransientAttempts: c.cfg.Reliability.TransientAttempts,
		Backoff:           source.NewBackoff(c.cfg.Reliability),
	}
	return p.Run(ctx, c.fetch)
}

func testConfig() *config.PipelineConfig {
	cfg := config.NewPipelineConfig("test")
	cfg.Performance.Workers = 2
	cfg.Reliability.BackoffBase = time.Millisecond
	cfg.Reliability.BackoffMax = 4 * time.Millisecond
	return cfg
}

func sessionsRequest() *report.Request {
	return &report.Request{
		DateRange:  report.DateRange{Start: report.MustDate("2020-01-01"), End: report.MustDate("2020-01-02")},
		Dimensions: []string{"date", "country"},
		Metrics:    []string{"sessions"},
		AccountID:  "12345678",
		PageSize:   2,
	}
}

func sessionsPages() source.PageFunc {
	return func(ctx context.Context, token string) (*source.RawPage, error) {
		if token == "" {
			return &source.RawPage{
				Rows: [][]interface{}{
					{"2020-01-01", "US", "10"},
					{"2020-01-01", "UK", "5"},
				},
				RowCount:  2,
				NextToken: "2",
			}, nil
		}
		return &source.RawPage{
			Rows:     [][]interface{}{{"2020-01-02", "US", "8"}},
			RowCount: 1,
		}, nil
	}
}

func newOrchestrator(cfg *config.PipelineConfig, store *sink.MemoryStore, clients ...source.Client) *Orchestrator {
	dispatcher := sink.NewDispatcher(cfg.Performance.DispatchConcurrency, sink.NewFactory(store))
	return New(cfg, clients, dispatcher)
}

func TestRunCompletesRequest(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: sessionsPages()}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{{Kind: sink.KindInMemory, Location: "out"}},
	}})

	require.Len(t, results, 1)
	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, StateCompleted, r.State)
	assert.Equal(t, 2, r.PagesFetched)
	assert.Equal(t, 0, r.RetriesUsed)

	got := store.Get("out")
	require.NotNil(t, got)
	assert.Equal(t, []string{"date", "country", "sessions"}, got.ColumnNames())
	assert.Equal(t, 3, got.NumRows())
	assert.Equal(t, []interface{}{report.MustDate("2020-01-01"), "US", int64(10)}, got.Rows[0])
}

func TestRunThrottledTwiceCompletesWithRetries(t *testing.T) {
	cfg := testConfig()
	cfg.Reliability.ThrottleAttempts = 5

	var calls int32
	fetch := func(ctx context.Context, token string) (*source.RawPage, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, errors.New(errors.ErrorTypeRateLimited, "quota exceeded")
		}
		return &source.RawPage{Rows: [][]interface{}{{"2020-01-01", "US", "10"}}, RowCount: 1}, nil
	}

	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: fetch}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{{Kind: sink.KindInMemory, Location: "out"}},
	}})

	require.Len(t, results, 1)
	assert.Equal(t, StateCompleted, results[0].State)
	assert.Equal(t, 2, results[0].RetriesUsed)
}

func TestRunPartialDispatchFailureStillCompletes(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: sessionsPages()}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{
			{Kind: sink.KindInMemory, Location: "first"},
			{Kind: sink.KindInMemory, Location: ""},
			{Kind: sink.KindInMemory, Location: "third"},
		},
	}})

	r := results[0]
	assert.Equal(t, StateCompleted, r.State, "one successful target is enough")
	require.Len(t, r.Outcomes, 3)
	assert.NoError(t, r.Outcomes[0].Err)
	assert.Error(t, r.Outcomes[1].Err)
	assert.NoError(t, r.Outcomes[2].Err)
}

func TestRunAllTargetsFailedFails(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: sessionsPages()}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{{Kind: sink.KindInMemory, Location: ""}},
	}})

	r := results[0]
	assert.Equal(t, StateFailed, r.State)
	assert.True(t, errors.IsType(r.Err, errors.ErrorTypeUpload))
	assert.NotNil(t, r.Table, "the normalized table survives for inspection")
}

func TestRunUnknownVendorFails(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()

	results := newOrchestrator(cfg, store).Run(context.Background(), []RequestSpec{{
		Vendor:  "yandex",
		Request: sessionsRequest(),
	}})

	assert.Equal(t, StateFailed, results[0].State)
	assert.True(t, errors.IsType(results[0].Err, errors.ErrorTypeConfig))
}

func TestRunNormalizationFailureFails(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: func(ctx context.Context, token string) (*source.RawPage, error) {
		return &source.RawPage{Rows: [][]interface{}{{"2020-01-01", "US", "not-a-number"}}, RowCount: 1}, nil
	}}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{{Kind: sink.KindInMemory, Location: "out"}},
	}})

	r := results[0]
	assert.Equal(t, StateFailed, r.State)
	assert.True(t, errors.IsType(r.Err, errors.ErrorTypeSchemaMismatch))
	assert.Empty(t, r.Outcomes, "dispatch never runs after a failed normalization")
}

func TestRunCancellationMarksRequestsFailed(t *testing.T) {
	cfg := testConfig()
	cfg.Performance.Workers = 1
	store := sink.NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: sessionsPages()}
	results := newOrchestrator(cfg, store, client).Run(ctx, []RequestSpec{{
		Vendor:  "google",
		Request: sessionsRequest(),
		Targets: []sink.Target{{Kind: sink.KindInMemory, Location: "out"}},
	}})

	assert.Equal(t, StateFailed, results[0].State)
	assert.True(t, errors.IsType(results[0].Err, errors.ErrorTypeCancelled))
}

func TestRunMultipleRequestsKeepOrder(t *testing.T) {
	cfg := testConfig()
	store := sink.NewMemoryStore()
	client := &scriptedClient{vendor: "google", cfg: cfg, fetch: sessionsPages()}

	specs := make([]RequestSpec, 5)
	for i := range specs {
		specs[i] = RequestSpec{
			Vendor:  "google",
			Request: sessionsRequest(),
			Targets: []sink.Target{{Kind: sink.KindInMemory, Location: "out"}},
		}
	}

	results := newOrchestrator(cfg, store, client).Run(context.Background(), specs)

	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, StateCompleted, r.State)
	}
}
