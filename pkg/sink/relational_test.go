package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/report"
)

// stubConn is a database/sql driver connection serving a fixed destination
// schema, so Write can be exercised without a live database.
type stubConn struct {
	columns []string
	execErr error
	queries []string
	execs   []string
	commits int
}

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare is not supported")
}

func (c *stubConn) Close() error { return nil }

func (c *stubConn) Begin() (driver.Tx, error) { return stubTx{conn: c}, nil }

func (c *stubConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.queries = append(c.queries, query)
	return &stubRows{columns: c.columns}, nil
}

func (c *stubConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.execs = append(c.execs, query)
	if c.execErr != nil {
		return nil, c.execErr
	}
	return driver.RowsAffected(int64(len(args))), nil
}

type stubRows struct{ columns []string }

func (r *stubRows) Columns() []string              { return r.columns }
func (r *stubRows) Close() error                   { return nil }
func (r *stubRows) Next(dest []driver.Value) error { return io.EOF }

type stubTx struct{ conn *stubConn }

func (t stubTx) Commit() error   { t.conn.commits++; return nil }
func (t stubTx) Rollback() error { return nil }

type stubConnector struct{ conn *stubConn }

func (c stubConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c stubConnector) Driver() driver.Driver                        { return stubDriver{conn: c.conn} }

type stubDriver struct{ conn *stubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

func stubSink(conn *stubConn, batchSize int) *RelationalSink {
	return &RelationalSink{
		db:        sql.OpenDB(stubConnector{conn: conn}),
		driver:    "pgx",
		tableName: "sessions_daily",
		batchSize: batchSize,
	}
}

func TestDriverForDSN(t *testing.T) {
	assert.Equal(t, "pgx", driverForDSN("postgres://user:pw@host:5432/analytics"))
	assert.Equal(t, "pgx", driverForDSN("postgresql://user:pw@host/analytics"))
	assert.Equal(t, "mysql", driverForDSN("user:pw@tcp(host:3306)/analytics"))
}

func TestInsertQueryMySQL(t *testing.T) {
	q := insertQuery("mysql", "sessions_daily", []string{"date", "country", "sessions"}, 2)
	assert.Equal(t,
		"INSERT INTO sessions_daily (date, country, sessions) VALUES (?, ?, ?), (?, ?, ?)", q)
}

func TestInsertQueryPostgres(t *testing.T) {
	q := insertQuery("pgx", "sessions_daily", []string{"date", "sessions"}, 2)
	assert.Equal(t,
		"INSERT INTO sessions_daily (date, sessions) VALUES ($1, $2), ($3, $4)", q)
}

func TestMissingColumns(t *testing.T) {
	cols := []report.Column{
		{Name: "date", Type: report.TypeDate},
		{Name: "country", Type: report.TypeString},
		{Name: "sessions", Type: report.TypeInteger},
	}

	assert.Empty(t, missingColumns(cols, []string{"date", "country", "sessions", "extra"}))
	assert.Equal(t, []string{"country"}, missingColumns(cols, []string{"DATE", "SESSIONS"}),
		"matching is case-insensitive, extra destination columns are fine")
}

func TestWriteMissingDestinationColumnFails(t *testing.T) {
	conn := &stubConn{columns: []string{"date", "country"}}
	sink := stubSink(conn, defaultInsertBatch)
	defer sink.Close() //nolint:errcheck

	err := sink.Write(context.Background(), sampleTable(t), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaIncompatible))
	assert.Contains(t, err.Error(), "sessions")
	assert.Empty(t, conn.execs, "no rows are written when the schema does not match")
}

func TestWriteBatchesInsideOneTransaction(t *testing.T) {
	conn := &stubConn{columns: []string{"date", "country", "sessions", "loaded_at"}}
	sink := stubSink(conn, 2)
	defer sink.Close() //nolint:errcheck

	require.NoError(t, sink.Write(context.Background(), sampleTable(t), sampleRequest()))

	require.Len(t, conn.queries, 1)
	assert.Equal(t, "SELECT * FROM sessions_daily LIMIT 0", conn.queries[0])

	require.Len(t, conn.execs, 2, "three rows at batch size two")
	assert.Equal(t,
		"INSERT INTO sessions_daily (date, country, sessions) VALUES ($1, $2, $3), ($4, $5, $6)",
		conn.execs[0])
	assert.Equal(t,
		"INSERT INTO sessions_daily (date, country, sessions) VALUES ($1, $2, $3)",
		conn.execs[1])
	assert.Equal(t, 1, conn.commits)
}

func TestWriteInsertFailureIsUploadError(t *testing.T) {
	conn := &stubConn{
		columns: []string{"date", "country", "sessions"},
		execErr: fmt.Errorf("deadlock detected"),
	}
	sink := stubSink(conn, defaultInsertBatch)
	defer sink.Close() //nolint:errcheck

	err := sink.Write(context.Background(), sampleTable(t), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpload))
	assert.Equal(t, 0, conn.commits)
}

func TestNewRelationalSinkValidation(t *testing.T) {
	_, err := NewRelationalSink(Target{Kind: KindRelational})
	assert.Error(t, err, "DSN required")

	_, err = NewRelationalSink(Target{Kind: KindRelational, Location: "postgres://host/db"})
	assert.Error(t, err, "table option required")

	_, err = NewRelationalSink(Target{
		Kind:     KindRelational,
		Location: "postgres://host/db",
		Options:  map[string]string{"table": "t", "batch_size": "zero"},
	})
	assert.Error(t, err, "batch_size must be numeric")

	sink, err := NewRelationalSink(Target{
		Kind:     KindRelational,
		Location: "postgres://host/db",
		Options:  map[string]string{"table": "sessions_daily"},
	})
	require.NoError(t, err, "sql.Open does not dial")
	assert.Equal(t, "pgx", sink.driver)
	assert.Equal(t, defaultInsertBatch, sink.batchSize)
	_ = sink.Close()
}
