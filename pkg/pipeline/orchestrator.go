// Package pipeline orchestrates extraction runs: a bounded worker pool
// drives each report request through fetch, normalize, and dispatch.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tidemark-io/tidemark/pkg/config"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/logger"
	"github.com/tidemark-io/tidemark/pkg/metrics"
	"github.com/tidemark-io/tidemark/pkg/normalize"
	"github.com/tidemark-io/tidemark/pkg/observability"
	"github.com/tidemark-io/tidemark/pkg/report"
	"github.com/tidemark-io/tidemark/pkg/sink"
	"github.com/tidemark-io/tidemark/pkg/source"
)

// RequestState tracks where a request is in its lifecycle.
type RequestState string

const (
	// StatePending means the request has not started
	StatePending RequestState = "pending"
	// StateFetching means vendor pages are being retrieved
	StateFetching RequestState = "fetching"
	// StateNormalizing means raw pages are being coerced
	StateNormalizing RequestState = "normalizing"
	// StateDispatching means the table is being written to targets
	StateDispatching RequestState = "dispatching"
	// StateCompleted means at least one target accepted the table
	StateCompleted RequestState = "completed"
	// StateFailed means fetch or normalize failed, or every target failed
	StateFailed RequestState = "failed"
)

// RequestSpec binds one report request to a vendor and its targets.
type RequestSpec struct {
	Vendor  string          `json:"vendor" yaml:"vendor" mapstructure:"vendor"`
	Request *report.Request `json:"request" yaml:"request" mapstructure:"request"`
	Targets []sink.Target   `json:"targets" yaml:"targets" mapstructure:"targets"`
}

// FetchResult is the complete outcome of one request.
type FetchResult struct {
	Vendor       string
	Request      *report.Request
	Table        *report.NormalizedTable
	PagesFetched int
	RetriesUsed  int
	Outcomes     []sink.Outcome
	State        RequestState
	Err          error
}

// Orchestrator runs extraction requests through registered vendor clients
// and the sink dispatcher.
type Orchestrator struct {
	cfg        *config.PipelineConfig
	clients    map[string]source.Client
	dispatcher *sink.Dispatcher
	logger     *zap.Logger
}

// New creates an orchestrator over the given vendor clients.
func New(cfg *config.PipelineConfig, clients []source.Client, dispatcher *sink.Dispatcher) *Orchestrator {
	byVendor := make(map[string]source.Client, len(clients))
	for _, c := range clients {
		byVendor[c.Vendor()] = c
	}
	return &Orchestrator{
		cfg:        cfg,
		clients:    byVendor,
		dispatcher: dispatcher,
		logger:     logger.With(zap.String("component", "orchestrator")),
	}
}

// Run executes all requests through a bounded worker pool and returns one
// result per spec, in spec order. A run timeout, when configured, bounds
// the whole run; cancellation marks in-flight requests failed with a
// cancellation error.
func (o *Orchestrator) Run(ctx context.Context, specs []RequestSpec) []FetchResult {
	if o.cfg.Timeouts.Run > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeouts.Run)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	o.logger.Info("run started", zap.String("run_id", runID), zap.Int("requests", len(specs)))

	results := make([]FetchResult, len(specs))
	jobs := make(chan int)

	workers := o.cfg.Performance.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(specs) {
		workers = len(specs)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = o.process(ctx, specs[i])
			}
		}()
	}

	for i := range specs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// process drives one request through its state machine.
func (o *Orchestrator) process(ctx context.Context, spec RequestSpec) FetchResult {
	result := FetchResult{Vendor: spec.Vendor, Request: spec.Request, State: StatePending}

	ctx = context.WithValue(ctx, logger.VendorKey, spec.Vendor)
	ctx = context.WithValue(ctx, logger.AccountIDKey, spec.Request.AccountID)

	ctx, span := observability.Tracer().Start(ctx, "pipeline.request",
		trace.WithAttributes(
			attribute.String("vendor", spec.Vendor),
			attribute.String("account_id", spec.Request.AccountID),
		))
	defer span.End()

	log := logger.WithContext(ctx).With(zap.String("component", "orchestrator"))

	defer func() {
		metrics.ObserveRequest(spec.Vendor, string(result.State))
	}()

	client, ok := o.clients[spec.Vendor]
	if !ok {
		result.State = StateFailed
		result.Err = errors.Newf(errors.ErrorTypeConfig, "no client registered for vendor %q", spec.Vendor)
		return result
	}

	// fetch
	result.State = StateFetching
	log.Info("fetching report", zap.Time("start", spec.Request.DateRange.Start), zap.Time("end", spec.Request.DateRange.End))

	fetchStart := time.Now()
	fetchCtx, fetchSpan := observability.Tracer().Start(ctx, "pipeline.fetch")
	out, err := client.Fetch(fetchCtx, spec.Request)
	fetchSpan.End()
	if err != nil {
		result.State = StateFailed
		result.Err = err
		log.Error("fetch failed", zap.Error(err))
		return result
	}
	result.PagesFetched = out.PagesFetched
	result.RetriesUsed = out.RetriesUsed
	metrics.ObserveFetch(spec.Vendor, out.PagesFetched, out.RetriesUsed, time.Since(fetchStart))

	// normalize
	result.State = StateNormalizing
	_, normSpan := observability.Tracer().Start(ctx, "pipeline.normalize")
	table, err := normalize.Normalize(out.Pages, spec.Request)
	normSpan.End()
	if err != nil {
		result.State = StateFailed
		result.Err = err
		log.Error("normalization failed", zap.Error(err))
		return result
	}
	result.Table = table
	metrics.ObserveRows(spec.Vendor, table.NumRows())

	// dispatch
	result.State = StateDispatching
	dispatchCtx, dispatchSpan := observability.Tracer().Start(ctx, "pipeline.dispatch")
	result.Outcomes = o.dispatcher.Dispatch(dispatchCtx, table, spec.Request, spec.Targets)
	dispatchSpan.End()

	for _, outcome := range result.Outcomes {
		metrics.ObserveDispatch(string(outcome.Target.Kind), outcome.Succeeded())
	}

	if len(spec.Targets) > 0 && !sink.AnySucceeded(result.Outcomes) {
		result.State = StateFailed
		result.Err = errors.New(errors.ErrorTypeUpload, "every dispatch target failed")
		log.Error("dispatch failed on all targets", zap.Int("targets", len(spec.Targets)))
		return result
	}

	result.State = StateCompleted
	log.Info("request completed",
		zap.Int("pages", result.PagesFetched),
		zap.Int("retries", result.RetriesUsed),
		zap.Int("rows", table.NumRows()))
	return result
}
