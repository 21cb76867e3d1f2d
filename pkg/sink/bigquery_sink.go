package sink

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/option"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
)

// Inserter is the slice of the BigQuery streaming inserter the sink uses.
type Inserter interface {
	Put(ctx context.Context, src interface{}) error
}

// BigQuerySink streams the table into a BigQuery table.
type BigQuerySink struct {
	inserter Inserter
}

// NewBigQuerySink creates a BigQuery sink from a target. Location is
// project.dataset.table; options: credentials_file.
func NewBigQuerySink(ctx context.Context, target Target) (*BigQuerySink, error) {
	parts := strings.Split(target.Location, ".")
	if len(parts) != 3 {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"bigquery location must be project.dataset.table, got %q", target.Location)
	}

	var opts []option.ClientOption
	if credsFile := target.Option("credentials_file", ""); credsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}

	client, err := bigquery.NewClient(ctx, parts[0], opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create bigquery client")
	}

	return &BigQuerySink{
		inserter: client.Dataset(parts[1]).Table(parts[2]).Inserter(),
	}, nil
}

// WithInserter replaces the streaming inserter. Test seam.
func (bq *BigQuerySink) WithInserter(ins Inserter) *BigQuerySink {
	bq.inserter = ins
	return bq
}

// Write streams all rows. The inserter batches internally; a failed put
// reports the whole dispatch as failed.
func (bq *BigQuerySink) Write(ctx context.Context, table *report.NormalizedTable, req *report.Request) error {
	rows := make([]*bigquery.ValuesSaver, 0, len(table.Rows))

	schema := toBigQuerySchema(table.Columns)
	for _, row := range table.Rows {
		values := make([]bigquery.Value, len(row))
		for i, cell := range row {
			values[i] = toBigQueryValue(cell)
		}
		rows = append(rows, &bigquery.ValuesSaver{Schema: schema, Row: values})
	}

	if err := bq.inserter.Put(ctx, rows); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to stream rows to bigquery")
	}
	return nil
}

func toBigQuerySchema(columns []report.Column) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(columns))
	for _, col := range columns {
		field := &bigquery.FieldSchema{Name: col.Name, Required: false}
		switch col.Type {
		case report.TypeInteger:
			field.Type = bigquery.IntegerFieldType
		case report.TypeFloat:
			field.Type = bigquery.FloatFieldType
		case report.TypeDate:
			field.Type = bigquery.DateFieldType
		default:
			field.Type = bigquery.StringFieldType
		}
		schema = append(schema, field)
	}
	return schema
}

func toBigQueryValue(cell interface{}) bigquery.Value {
	if cell == nil {
		return nil
	}
	if t, ok := cell.(time.Time); ok {
		return civil.DateOf(t)
	}
	return cell
}
