package sink

import (
	"context"
	"sync"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
)

// MemoryStore holds tables delivered to in-memory targets, keyed by target
// location. Safe for concurrent dispatch.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*report.NormalizedTable
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*report.NormalizedTable)}
}

// Get returns the stored table for a location, or nil.
func (ms *MemoryStore) Get(location string) *report.NormalizedTable {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.tables[location]
}

func (ms *MemoryStore) put(location string, table *report.NormalizedTable) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.tables[location] = table
}

// MemorySink stores the table under its target location. It cannot fail
// after construction.
type MemorySink struct {
	store    *MemoryStore
	location string
}

// NewMemorySink creates an in-memory sink. The target location names the
// stored table and must be non-empty.
func NewMemorySink(store *MemoryStore, target Target) (*MemorySink, error) {
	if store == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "memory store is required")
	}
	if target.Location == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "in_memory target requires a location")
	}
	return &MemorySink{store: store, location: target.Location}, nil
}

// Write stores a deep copy so later pipeline stages cannot mutate what the
// caller reads back.
func (ms *MemorySink) Write(ctx context.Context, table *report.NormalizedTable, req *report.Request) error {
	clone := report.NewTable(append([]report.Column(nil), table.Columns...))
	for _, row := range table.Rows {
		if err := clone.AppendRow(append([]interface{}(nil), row...)); err != nil {
			return err
		}
	}
	ms.store.put(ms.location, clone)
	return nil
}
