package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	// database/sql drivers for the two supported DSN families
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
)

const defaultInsertBatch = 500

// RelationalSink appends the table into a SQL destination. Columns are
// matched by name against the destination schema; a missing destination
// column fails the whole target, never a silent drop. All inserts for one
// dispatch run inside a single transaction.
type RelationalSink struct {
	db        *sql.DB
	driver    string
	tableName string
	batchSize int
}

// NewRelationalSink creates a SQL sink from a target. Location is the DSN;
// the driver is picked from its scheme (postgres DSNs go to pgx, everything
// else to mysql). Options: table (required), batch_size.
func NewRelationalSink(target Target) (*RelationalSink, error) {
	if target.Location == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "relational target requires a DSN location")
	}
	tableName := target.Option("table", "")
	if tableName == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "relational target requires a table option")
	}

	driver := driverForDSN(target.Location)
	dsn := target.Location
	if driver == "mysql" {
		dsn = strings.TrimPrefix(dsn, "mysql://")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open database handle")
	}

	batchSize := defaultInsertBatch
	if raw := target.Option("batch_size", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, errors.Newf(errors.ErrorTypeConfig, "invalid batch_size %q", raw)
		}
		batchSize = n
	}

	return &RelationalSink{
		db:        db,
		driver:    driver,
		tableName: tableName,
		batchSize: batchSize,
	}, nil
}

func driverForDSN(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "pgx"
	}
	return "mysql"
}

// Write checks the destination schema once, then appends all rows
// transactionally.
func (rs *RelationalSink) Write(ctx context.Context, table *report.NormalizedTable, req *report.Request) error {
	destCols, err := rs.destinationColumns(ctx)
	if err != nil {
		return err
	}
	if missing := missingColumns(table.Columns, destCols); len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeSchemaIncompatible,
			"destination table %s lacks columns: %s", rs.tableName, strings.Join(missing, ", "))
	}

	tx, err := rs.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	names := table.ColumnNames()
	for start := 0; start < len(table.Rows); start += rs.batchSize {
		end := start + rs.batchSize
		if end > len(table.Rows) {
			end = len(table.Rows)
		}
		batch := table.Rows[start:end]

		query := insertQuery(rs.driver, rs.tableName, names, len(batch))
		args := make([]interface{}, 0, len(batch)*len(names))
		for _, row := range batch {
			args = append(args, row...)
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeUpload, "failed to insert batch").
				WithDetail("table", rs.tableName).
				WithDetail("rows", len(batch))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to commit transaction")
	}
	return nil
}

// Close releases the database handle.
func (rs *RelationalSink) Close() error {
	return rs.db.Close()
}

// destinationColumns queries the destination schema without reading rows.
func (rs *RelationalSink) destinationColumns(ctx context.Context) ([]string, error) {
	rows, err := rs.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", rs.tableName))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpload, "failed to inspect destination table").
			WithDetail("table", rs.tableName)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeUpload, "failed to read destination columns")
	}
	return cols, rows.Err()
}

// missingColumns returns table columns absent from the destination, in
// table order. Matching is case-insensitive since SQL identifiers fold.
func missingColumns(cols []report.Column, destCols []string) []string {
	dest := make(map[string]bool, len(destCols))
	for _, c := range destCols {
		dest[strings.ToLower(c)] = true
	}

	var missing []string
	for _, c := range cols {
		if !dest[strings.ToLower(c.Name)] {
			missing = append(missing, c.Name)
		}
	}
	return missing
}

// insertQuery builds a multi-row INSERT with driver-appropriate
// placeholders.
func insertQuery(driver, tableName string, columns []string, rowCount int) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(tableName)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < len(columns); c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			if driver == "pgx" {
				sb.WriteByte('$')
				sb.WriteString(strconv.Itoa(arg))
				arg++
			} else {
				sb.WriteByte('?')
			}
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
