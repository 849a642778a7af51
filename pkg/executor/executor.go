package executor

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/pthm/pgquery/pkg/query"
)

// Executor runs a compiled statement.
type Executor interface {
	Execute(ctx context.Context, stmt query.Statement) (*Result, error)
}

// Result holds the rows returned by a statement. RowCount is the number of
// rows returned, or affected for statements without RETURNING.
type Result struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int64
}

// Option configures an executor.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger logs each statement at debug level and failures at warn level.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DBTX is the database/sql surface the executor needs. Implemented by
// *sql.DB, *sql.Tx, and *sql.Conn.
type DBTX interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PgxQuerier is the pgx surface the executor needs. Implemented by
// *pgxpool.Pool, *pgx.Conn, and pgx.Tx.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// SQLExecutor executes statements through database/sql.
type SQLExecutor struct {
	db   DBTX
	opts options
}

// New creates an executor over a database/sql handle. Slice values are
// passed as PostgreSQL arrays.
func New(db DBTX, opts ...Option) *SQLExecutor {
	return &SQLExecutor{db: db, opts: buildOptions(opts)}
}

// Execute runs stmt. Statements that return no rows (an INSERT without
// RETURNING) report the affected row count.
func (e *SQLExecutor) Execute(ctx context.Context, stmt query.Statement) (*Result, error) {
	start := time.Now()
	args := arrayArgs(stmt.Values)

	if !returnsRows(stmt.SQL) {
		res, err := e.db.ExecContext(ctx, stmt.SQL, args...)
		if err != nil {
			return nil, e.fail(stmt, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, e.fail(stmt, err)
		}
		out := &Result{RowCount: n}
		e.done(stmt, out, start)
		return out, nil
	}

	rows, err := e.db.QueryContext(ctx, stmt.SQL, args...)
	if err != nil {
		return nil, e.fail(stmt, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, e.fail(stmt, err)
	}
	out := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, e.fail(stmt, err)
		}
		out.Rows = append(out.Rows, rowMap(cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, e.fail(stmt, err)
	}
	out.RowCount = int64(len(out.Rows))
	e.done(stmt, out, start)
	return out, nil
}

func (e *SQLExecutor) fail(stmt query.Statement, err error) error {
	return failed(e.opts.logger, stmt, err)
}

func (e *SQLExecutor) done(stmt query.Statement, res *Result, start time.Time) {
	logDone(e.opts.logger, stmt, res, start)
}

// PgxExecutor executes statements through a native pgx handle.
type PgxExecutor struct {
	q    PgxQuerier
	opts options
}

// NewPgx creates an executor over a pgx pool, connection or transaction.
func NewPgx(q PgxQuerier, opts ...Option) *PgxExecutor {
	return &PgxExecutor{q: q, opts: buildOptions(opts)}
}

// Execute runs stmt.
func (e *PgxExecutor) Execute(ctx context.Context, stmt query.Statement) (*Result, error) {
	start := time.Now()
	rows, err := e.q.Query(ctx, stmt.SQL, stmt.Values...)
	if err != nil {
		return nil, failed(e.opts.logger, stmt, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	out := &Result{Columns: cols}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, failed(e.opts.logger, stmt, err)
		}
		out.Rows = append(out.Rows, rowMap(cols, vals))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, failed(e.opts.logger, stmt, err)
	}
	if len(cols) > 0 {
		out.RowCount = int64(len(out.Rows))
	} else {
		out.RowCount = rows.CommandTag().RowsAffected()
	}
	logDone(e.opts.logger, stmt, out, start)
	return out, nil
}

func failed(l *zap.Logger, stmt query.Statement, err error) error {
	err = annotate(stmt.SQL, err)
	l.Warn("statement failed", zap.String("sql", stmt.SQL), zap.Error(err))
	return err
}

func logDone(l *zap.Logger, stmt query.Statement, res *Result, start time.Time) {
	l.Debug("statement executed",
		zap.String("sql", stmt.SQL),
		zap.Int("values", len(stmt.Values)),
		zap.Int64("rows", res.RowCount),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// rowMap pairs column names with values. Text returned as []byte by
// database/sql drivers becomes a string. Duplicate column names keep the
// last value.
func rowMap(cols []string, vals []any) map[string]any {
	m := make(map[string]any, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			m[c] = string(b)
			continue
		}
		m[c] = vals[i]
	}
	return m
}

// returnsRows reports whether a compiled statement produces a result set.
// The compiler only emits SELECT and INSERT statements.
func returnsRows(sql string) bool {
	if !strings.HasPrefix(sql, "INSERT ") {
		return true
	}
	return strings.Contains(sql, " RETURNING ")
}

// arrayArgs wraps slice values with pq.Array so they bind as PostgreSQL
// arrays with either database/sql driver.
func arrayArgs(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = arrayArg(v)
	}
	return out
}

func arrayArg(v any) any {
	switch v.(type) {
	case nil, []byte:
		return v
	case []string, []int64, []float64, []bool, [][]byte:
		return pq.Array(v)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return v
	}
	// pq.Array knows only a few element types; other slices are converted
	// element-wise to a generic array.
	elems := make([]any, rv.Len())
	for i := range elems {
		elems[i] = fmt.Sprint(rv.Index(i).Interface())
	}
	return pq.Array(elems)
}
