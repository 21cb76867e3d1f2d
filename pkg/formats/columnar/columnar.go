// Package columnar serializes normalized tables into columnar file formats
// for object-store sinks.
package columnar

import (
	"fmt"
	"io"

	"github.com/tidemark-io/tidemark/pkg/report"
)

// Format represents a columnar storage format
type Format string

const (
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
	// Arrow is Apache Arrow IPC file format
	Arrow Format = "arrow"
	// Avro is Apache Avro object container format
	Avro Format = "avro"
)

// Extension returns the filename suffix for the format.
func (f Format) Extension() string {
	switch f {
	case Parquet:
		return ".parquet"
	case Arrow:
		return ".arrow"
	case Avro:
		return ".avro"
	default:
		return ""
	}
}

// Writer serializes normalized tables into one output file. Close finalizes
// the file footer and must be called before the output is read.
type Writer interface {
	// WriteTable appends all rows of the table
	WriteTable(table *report.NormalizedTable) error
	// Close finalizes the file
	Close() error
	// Format returns the columnar format
	Format() Format
	// RowsWritten returns rows written so far
	RowsWritten() int64
}

// WriterConfig configures columnar writers.
type WriterConfig struct {
	Format  Format
	Columns []report.Column
	// Compression names the in-file codec (parquet/avro only); the writers
	// default to snappy when empty
	Compression string
}

// NewWriter creates a writer for the configured format.
func NewWriter(w io.Writer, config *WriterConfig) (Writer, error) {
	if config == nil || len(config.Columns) == 0 {
		return nil, fmt.Errorf("columns are required for columnar writers")
	}

	switch config.Format {
	case Parquet, "":
		return newParquetWriter(w, config)
	case Arrow:
		return newArrowWriter(w, config)
	case Avro:
		return newAvroWriter(w, config)
	default:
		return nil, fmt.Errorf("unsupported columnar format: %s", config.Format)
	}
}

// ParseFormat validates a format name from configuration. Empty selects
// Parquet.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case "":
		return Parquet, nil
	case Parquet, Arrow, Avro:
		return Format(name), nil
	default:
		return "", fmt.Errorf("unsupported columnar format: %s", name)
	}
}
