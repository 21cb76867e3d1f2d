// Package normalize turns raw vendor pages into the typed, vendor-agnostic
// table shape. One coercion failure fails the whole table; a partially
// coerced table is never returned.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
	"github.com/tidemark-io/tidemark/pkg/source"
)

// missingValue is the Baidu Tongji marker for an absent cell. It coerces to
// NULL regardless of column type.
const missingValue = "--"

// compactDateFormat is the yyyymmdd layout GA uses for the date dimension.
const compactDateFormat = "20060102"

// metricTypes fixes the semantic type of the metrics both vendors report.
// Lookup is by bare name; the ga: namespace prefix is stripped first.
// Metrics absent from the table default to string.
var metricTypes = map[string]report.SemanticType{
	// counts
	"sessions":        report.TypeInteger,
	"pageviews":       report.TypeInteger,
	"uniquePageviews": report.TypeInteger,
	"entrances":       report.TypeInteger,
	"exits":           report.TypeInteger,
	"users":           report.TypeInteger,
	"newUsers":        report.TypeInteger,
	"pv_count":        report.TypeInteger,
	"visitor_count":   report.TypeInteger,
	"ip_count":        report.TypeInteger,

	// rates and averages
	"bounceRate":          report.TypeFloat,
	"exitRate":            report.TypeFloat,
	"pageValue":           report.TypeFloat,
	"avgTimeOnPage":       report.TypeFloat,
	"avgSessionDuration":  report.TypeFloat,
	"entranceRate":        report.TypeFloat,
	"pageviewsPerSession": report.TypeFloat,
	"bounce_ratio":        report.TypeFloat,
	"avg_visit_time":      report.TypeFloat,
}

// dateDimensions are the dimensions that normalize to a civil date.
var dateDimensions = map[string]bool{
	"date": true,
}

func bareName(name string) string {
	return strings.TrimPrefix(name, "ga:")
}

// MetricType returns the fixed semantic type of a metric.
func MetricType(name string) report.SemanticType {
	if t, ok := metricTypes[bareName(name)]; ok {
		return t
	}
	return report.TypeString
}

// DimensionType returns the semantic type of a dimension.
func DimensionType(name string) report.SemanticType {
	if dateDimensions[bareName(name)] {
		return report.TypeDate
	}
	return report.TypeString
}

// Columns builds the typed column list for a request: dimensions then
// metrics, each in declared order, under the bare (un-namespaced) names.
func Columns(req *report.Request) []report.Column {
	cols := make([]report.Column, 0, len(req.Dimensions)+len(req.Metrics))
	for _, d := range req.Dimensions {
		cols = append(cols, report.Column{Name: bareName(d), Type: DimensionType(d)})
	}
	for _, m := range req.Metrics {
		cols = append(cols, report.Column{Name: bareName(m), Type: MetricType(m)})
	}
	return cols
}

// Normalize coerces all raw pages into one typed table. Page order and
// in-page row order are preserved; rows are never deduplicated.
func Normalize(pages []*source.RawPage, req *report.Request) (*report.NormalizedTable, error) {
	cols := Columns(req)
	table := report.NewTable(cols)

	rowNum := 0
	for pageNum, page := range pages {
		for _, raw := range page.Rows {
			if len(raw) != len(cols) {
				return nil, errors.Newf(errors.ErrorTypeSchemaMismatch,
					"row arity %d does not match column count %d", len(raw), len(cols)).
					WithDetail("page", pageNum).
					WithDetail("row", rowNum)
			}

			row := make([]interface{}, len(cols))
			for i, cell := range raw {
				v, err := coerce(cell, cols[i].Type)
				if err != nil {
					return nil, errors.Wrap(err, errors.ErrorTypeSchemaMismatch,
						fmt.Sprintf("cannot coerce column %q", cols[i].Name)).
						WithDetail("page", pageNum).
						WithDetail("row", rowNum).
						WithDetail("value", cell)
				}
				row[i] = v
			}
			if err := table.AppendRow(row); err != nil {
				return nil, err
			}
			rowNum++
		}
	}
	return table, nil
}

// coerce converts one raw cell to its column's semantic type. nil and the
// vendor missing-value marker stay NULL.
func coerce(cell interface{}, t report.SemanticType) (interface{}, error) {
	if cell == nil {
		return nil, nil
	}
	if s, ok := cell.(string); ok && s == missingValue {
		return nil, nil
	}

	switch t {
	case report.TypeString:
		return coerceString(cell), nil
	case report.TypeInteger:
		return coerceInteger(cell)
	case report.TypeFloat:
		return coerceFloat(cell)
	case report.TypeDate:
		return coerceDate(cell)
	default:
		return nil, fmt.Errorf("unknown semantic type %q", t)
	}
}

func coerceString(cell interface{}) string {
	switch v := cell.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceInteger(cell interface{}) (interface{}, error) {
	switch v := cell.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("%v is not a whole number", v)
		}
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", v)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%T is not an integer", cell)
	}
}

func coerceFloat(cell interface{}) (interface{}, error) {
	switch v := cell.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("%T is not a number", cell)
	}
}

func coerceDate(cell interface{}) (interface{}, error) {
	s, ok := cell.(string)
	if !ok {
		return nil, fmt.Errorf("%T is not a date", cell)
	}
	s = strings.TrimSpace(s)

	if t, err := time.Parse(report.DateFormat, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(compactDateFormat, s); err == nil {
		return t, nil
	}
	return nil, fmt.Errorf("%q is not a date", s)
}
