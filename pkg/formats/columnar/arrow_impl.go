package columnar

import (
	"fmt"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/tidemark-io/tidemark/pkg/report"
)

// arrowWriter implements Writer for the Arrow IPC file format
type arrowWriter struct {
	arrowSchema   *arrow.Schema
	fileWriter    *ipc.FileWriter
	recordBuilder *array.RecordBuilder
	rowsWritten   int64
	mu            sync.Mutex
}

func newArrowWriter(w io.Writer, config *WriterConfig) (*arrowWriter, error) {
	arrowSchema, err := toArrowSchema(config.Columns)
	if err != nil {
		return nil, fmt.Errorf("failed to convert schema: %w", err)
	}

	pool := memory.NewGoAllocator()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(arrowSchema), ipc.WithAllocator(pool))
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow writer: %w", err)
	}

	return &arrowWriter{
		arrowSchema:   arrowSchema,
		fileWriter:    fw,
		recordBuilder: array.NewRecordBuilder(pool, arrowSchema),
	}, nil
}

func (aw *arrowWriter) WriteTable(table *report.NormalizedTable) error {
	aw.mu.Lock()
	defer aw.mu.Unlock()

	for _, row := range table.Rows {
		for i := range aw.arrowSchema.Fields() {
			if err := appendCell(aw.recordBuilder.Field(i), row[i]); err != nil {
				return fmt.Errorf("field %s: %w", aw.arrowSchema.Field(i).Name, err)
			}
		}
	}

	record := aw.recordBuilder.NewRecord()
	defer record.Release()

	if err := aw.fileWriter.Write(record); err != nil {
		return fmt.Errorf("failed to write record batch: %w", err)
	}
	aw.rowsWritten += int64(len(table.Rows))
	return nil
}

func (aw *arrowWriter) Close() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.fileWriter.Close()
}

func (aw *arrowWriter) Format() Format {
	return Arrow
}

func (aw *arrowWriter) RowsWritten() int64 {
	return aw.rowsWritten
}
