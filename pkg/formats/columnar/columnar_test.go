package columnar

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/report"
)

func sampleColumns() []report.Column {
	return []report.Column{
		{Name: "date", Type: report.TypeDate},
		{Name: "country", Type: report.TypeString},
		{Name: "sessions", Type: report.TypeInteger},
		{Name: "bounceRate", Type: report.TypeFloat},
	}
}

func sampleTable(t *testing.T) *report.NormalizedTable {
	t.Helper()
	table := report.NewTable(sampleColumns())
	require.NoError(t, table.AppendRow([]interface{}{report.MustDate("2020-01-01"), "US", int64(10), 43.7}))
	require.NoError(t, table.AppendRow([]interface{}{report.MustDate("2020-01-01"), "UK", int64(5), nil}))
	require.NoError(t, table.AppendRow([]interface{}{report.MustDate("2020-01-02"), nil, int64(8), 39.1}))
	return table
}

func writeSample(t *testing.T, format Format) []byte {
	t.Helper()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, &WriterConfig{Format: format, Columns: sampleColumns()})
	require.NoError(t, err)

	require.NoError(t, w.WriteTable(sampleTable(t)))
	require.NoError(t, w.Close())
	assert.Equal(t, int64(3), w.RowsWritten())
	return buf.Bytes()
}

func TestParquetWriterProducesParquetFile(t *testing.T) {
	data := writeSample(t, Parquet)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("PAR1"), data[:4], "parquet magic header")
	assert.Equal(t, []byte("PAR1"), data[len(data)-4:], "parquet magic footer")
}

func TestArrowWriterProducesIPCFile(t *testing.T) {
	data := writeSample(t, Arrow)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("ARROW1"), data[:6], "arrow file magic")
}

func TestAvroWriterProducesOCFFile(t *testing.T) {
	data := writeSample(t, Avro)
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte{'O', 'b', 'j', 1}, data[:4], "avro object container magic")
}

func TestNewWriterDefaultsToParquet(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, &WriterConfig{Columns: sampleColumns()})
	require.NoError(t, err)
	assert.Equal(t, Parquet, w.Format())
}

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, &WriterConfig{Format: "orc", Columns: sampleColumns()})
	assert.Error(t, err)

	_, err = NewWriter(&buf, &WriterConfig{Format: Parquet})
	assert.Error(t, err, "columns are required")
}

func TestToArrowSchema(t *testing.T) {
	schema, err := toArrowSchema(sampleColumns())
	require.NoError(t, err)

	require.Equal(t, 4, schema.NumFields())
	assert.Equal(t, arrow.FixedWidthTypes.Date32, schema.Field(0).Type)
	assert.Equal(t, arrow.BinaryTypes.String, schema.Field(1).Type)
	assert.Equal(t, arrow.PrimitiveTypes.Int64, schema.Field(2).Type)
	assert.Equal(t, arrow.PrimitiveTypes.Float64, schema.Field(3).Type)
	assert.True(t, schema.Field(0).Nullable)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, Parquet, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}
