package columnar

import (
	"fmt"
	"io"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/tidemark-io/tidemark/pkg/report"
)

// avroWriter implements Writer for the Avro object container format
type avroWriter struct {
	columns     []report.Column
	codec       *goavro.Codec
	ocfWriter   *goavro.OCFWriter
	rowsWritten int64
	mu          sync.Mutex
}

func newAvroWriter(w io.Writer, config *WriterConfig) (*avroWriter, error) {
	schema, err := toAvroSchema(config.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to build avro schema: %w", err)
	}

	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: avroCompression(config.Compression),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create avro writer: %w", err)
	}

	return &avroWriter{
		columns:   config.Columns,
		codec:     codec,
		ocfWriter: ocfWriter,
	}, nil
}

func (aw *avroWriter) WriteTable(table *report.NormalizedTable) error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	native := make([]interface{}, 0, len(table.Rows))
	for _, row := range table.Rows {
		rec := make(map[string]interface{}, len(aw.columns))
		for i, col := range aw.columns {
			rec[col.Name] = toAvroUnion(row[i], col.Type)
		}
		native = append(native, rec)
	}

	if err := aw.ocfWriter.Append(native); err != nil {
		return fmt.Errorf("failed to append avro block: %w", err)
	}
	aw.rowsWritten += int64(len(table.Rows))
	return nil
}

// Close flushes remaining data. The OCF container needs no footer.
func (aw *avroWriter) Close() error {
	return nil
}

func (aw *avroWriter) Format() Format {
	return Avro
}

func (aw *avroWriter) RowsWritten() int64 {
	return aw.rowsWritten
}

// toAvroSchema builds the record schema: every field is a ["null", T] union
// since the missing-value marker normalizes to NULL.
func toAvroSchema(columns []report.Column) (string, error) {
	fields := make([]map[string]interface{}, 0, len(columns))
	for _, col := range columns {
		var avroType interface{}
		switch col.Type {
		case report.TypeString:
			avroType = "string"
		case report.TypeInteger:
			avroType = "long"
		case report.TypeFloat:
			avroType = "double"
		case report.TypeDate:
			avroType = map[string]interface{}{"type": "int", "logicalType": "date"}
		default:
			return "", fmt.Errorf("unsupported semantic type %q", col.Type)
		}
		fields = append(fields, map[string]interface{}{
			"name": col.Name,
			"type": []interface{}{"null", avroType},
		})
	}

	schema := map[string]interface{}{
		"type":   "record",
		"name":   "analytics_row",
		"fields": fields,
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// toAvroUnion wraps a cell in goavro's union encoding.
func toAvroUnion(value interface{}, t report.SemanticType) interface{} {
	if value == nil {
		return nil
	}
	switch t {
	case report.TypeInteger:
		return goavro.Union("long", value)
	case report.TypeFloat:
		return goavro.Union("double", value)
	case report.TypeDate:
		d := value.(time.Time)
		return goavro.Union("int.date", d)
	default:
		return goavro.Union("string", value)
	}
}

func avroCompression(name string) string {
	switch name {
	case "deflate":
		return "deflate"
	case "none":
		return "null"
	default:
		return "snappy"
	}
}
