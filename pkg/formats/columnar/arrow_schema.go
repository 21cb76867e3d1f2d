package columnar

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/tidemark-io/tidemark/pkg/report"
)

// toArrowSchema converts the table columns to an Arrow schema. All fields
// are nullable; the missing-value marker normalizes to NULL upstream.
func toArrowSchema(columns []report.Column) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(columns))
	for _, col := range columns {
		arrowType, err := toArrowType(col.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		fields = append(fields, arrow.Field{Name: col.Name, Type: arrowType, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

func toArrowType(t report.SemanticType) (arrow.DataType, error) {
	switch t {
	case report.TypeString:
		return arrow.BinaryTypes.String, nil
	case report.TypeInteger:
		return arrow.PrimitiveTypes.Int64, nil
	case report.TypeFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case report.TypeDate:
		return arrow.FixedWidthTypes.Date32, nil
	default:
		return nil, fmt.Errorf("unsupported semantic type %q", t)
	}
}

// appendCell appends one typed cell to the column's builder.
func appendCell(builder array.Builder, value interface{}) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		b.Append(v)

	case *array.Int64Builder:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", value)
		}
		b.Append(v)

	case *array.Float64Builder:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", value)
		}
		b.Append(v)

	case *array.Date32Builder:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.Append(arrow.Date32FromTime(v))

	default:
		return fmt.Errorf("unsupported builder type %T", builder)
	}
	return nil
}
