package report

import (
	"time"

	"github.com/tidemark-io/tidemark/pkg/errors"
)

// SemanticType is the downstream-facing type of a normalized column.
type SemanticType string

const (
	// TypeString is free-form text
	TypeString SemanticType = "string"
	// TypeInteger is a whole-number metric, stored as int64
	TypeInteger SemanticType = "integer"
	// TypeFloat is a fractional metric, stored as float64
	TypeFloat SemanticType = "float"
	// TypeDate is a civil date, stored as time.Time at midnight UTC
	TypeDate SemanticType = "date"
)

// Column is a named, typed column of a normalized table.
type Column struct {
	Name string       `json:"name"`
	Type SemanticType `json:"type"`
}

// NormalizedTable is the vendor-agnostic tabular result of one report
// request. Column order is stable across pages of the same request so rows
// concatenate safely. Cell values are nil, string, int64, float64, or
// time.Time, matching the column's semantic type.
type NormalizedTable struct {
	Columns []Column        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []Column) *NormalizedTable {
	return &NormalizedTable{Columns: columns}
}

// AppendRow appends a row, enforcing the arity invariant.
func (t *NormalizedTable) AppendRow(values []interface{}) error {
	if len(values) != len(t.Columns) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch,
			"row arity %d does not match column count %d", len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// NumRows returns the row count.
func (t *NormalizedTable) NumRows() int {
	return len(t.Rows)
}

// NumColumns returns the column count.
func (t *NormalizedTable) NumColumns() int {
	return len(t.Columns)
}

// ColumnIndex returns the index of the named column, or -1.
func (t *NormalizedTable) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the column names in order.
func (t *NormalizedTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Equal reports whether two tables have identical columns, row order, and
// values.
func (t *NormalizedTable) Equal(other *NormalizedTable) bool {
	if other == nil {
		return false
	}
	if len(t.Columns) != len(other.Columns) || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i, c := range t.Columns {
		if c != other.Columns[i] {
			return false
		}
	}
	for i, row := range t.Rows {
		otherRow := other.Rows[i]
		if len(row) != len(otherRow) {
			return false
		}
		for j, v := range row {
			if !cellEqual(v, otherRow[j]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}
