// Package sink dispatches normalized tables to configured destinations.
// The destination set is closed: adding one means adding a Kind and its
// construction branch, not a plugin mechanism.
package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/logger"
	"github.com/tidemark-io/tidemark/pkg/report"
)

// Kind identifies a destination type.
type Kind string

const (
	// KindObjectStore uploads columnar files to S3-compatible storage
	KindObjectStore Kind = "object_store"
	// KindRelational appends into a SQL table (mysql or postgres DSNs)
	KindRelational Kind = "relational"
	// KindBigQuery streams into a BigQuery table
	KindBigQuery Kind = "bigquery"
	// KindInMemory hands the table to the caller, for tests and previews
	KindInMemory Kind = "in_memory"
)

// Target describes one destination. Location is kind-specific: the bucket
// for object stores, the DSN for relational databases,
// project.dataset.table for BigQuery, a plain name for in-memory tables.
type Target struct {
	Kind     Kind              `json:"kind" yaml:"kind" mapstructure:"kind"`
	Location string            `json:"location" yaml:"location" mapstructure:"location"`
	Format   string            `json:"format,omitempty" yaml:"format,omitempty" mapstructure:"format"`
	Options  map[string]string `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
}

// Option returns a named option or the fallback.
func (t Target) Option(key, fallback string) string {
	if v, ok := t.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Outcome is the per-target result of one dispatch.
type Outcome struct {
	Target Target
	Err    error
}

// Succeeded reports whether the target accepted the table.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Sink writes one normalized table to one destination.
type Sink interface {
	// Write delivers the whole table. Implementations either deliver all
	// rows or report an error; no partial success.
	Write(ctx context.Context, table *report.NormalizedTable, req *report.Request) error
}

// Factory builds a sink for a target. Construction failures become that
// target's outcome; they never abort the other targets.
type Factory func(ctx context.Context, target Target) (Sink, error)

// Dispatcher fans a table out to every target independently. One failing
// target never short-circuits the others.
type Dispatcher struct {
	// Concurrency caps concurrent target writes, 0 means all at once
	Concurrency int
	// Factory builds sinks per target; NewFactory covers the closed kind set
	Factory Factory

	logger *zap.Logger
}

// NewDispatcher creates a dispatcher over the given factory.
func NewDispatcher(concurrency int, factory Factory) *Dispatcher {
	return &Dispatcher{
		Concurrency: concurrency,
		Factory:     factory,
		logger:      logger.With(zap.String("component", "dispatcher")),
	}
}

// Dispatch writes the table to every target and collects one outcome per
// target, in target order.
func (d *Dispatcher) Dispatch(ctx context.Context, table *report.NormalizedTable, req *report.Request, targets []Target) []Outcome {
	outcomes := make([]Outcome, len(targets))

	sem := make(chan struct{}, d.slots(len(targets)))
	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes[i] = Outcome{Target: target, Err: d.writeOne(ctx, table, req, target)}
		}(i, target)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			d.logger.Warn("dispatch target failed",
				zap.String("kind", string(o.Target.Kind)),
				zap.String("location", o.Target.Location),
				zap.Error(o.Err))
		}
	}
	return outcomes
}

func (d *Dispatcher) slots(targets int) int {
	if d.Concurrency > 0 && d.Concurrency < targets {
		return d.Concurrency
	}
	if targets == 0 {
		return 1
	}
	return targets
}

func (d *Dispatcher) writeOne(ctx context.Context, table *report.NormalizedTable, req *report.Request, target Target) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCancelled, "cancelled before dispatch")
	}

	s, err := d.Factory(ctx, target)
	if err != nil {
		return err
	}
	return s.Write(ctx, table, req)
}

// AnySucceeded reports whether at least one target accepted the table.
func AnySucceeded(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

// NewFactory builds the production factory over the closed kind set. The
// memory store receives in-memory tables so callers can read them back.
func NewFactory(store *MemoryStore) Factory {
	return func(ctx context.Context, target Target) (Sink, error) {
		switch target.Kind {
		case KindObjectStore:
			return NewObjectStoreSink(ctx, target)
		case KindRelational:
			return NewRelationalSink(target)
		case KindBigQuery:
			return NewBigQuerySink(ctx, target)
		case KindInMemory:
			return NewMemorySink(store, target)
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported sink kind %q", target.Kind)
		}
	}
}
