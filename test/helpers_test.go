package test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
	"github.com/pthm/pgquery/test/testutil"
)

// backend is one way of executing statements against a test database.
type backend struct {
	name string
	open func(t *testing.T, dsn string) executor.Executor
}

var backends = []backend{
	{
		name: "pgxpool",
		open: func(t *testing.T, dsn string) executor.Executor {
			pool, err := pgxpool.New(context.Background(), dsn)
			require.NoError(t, err)
			t.Cleanup(pool.Close)
			return executor.NewPgx(pool)
		},
	},
	{
		name: "database/sql lib/pq",
		open: func(t *testing.T, dsn string) executor.Executor {
			db, err := sql.Open("postgres", dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			require.NoError(t, db.Ping())
			return executor.New(db)
		},
	},
	{
		name: "database/sql pgx",
		open: func(t *testing.T, dsn string) executor.Executor {
			return executor.New(testutil.Open(t, dsn))
		},
	},
}

func table(t *testing.T, reg *schema.Registry, name string) *schema.Table {
	t.Helper()
	tbl, ok := reg.Table(name)
	require.True(t, ok, "table %s not registered", name)
	return tbl
}

// run compiles q and executes it.
func run(t *testing.T, exec executor.Executor, q *query.Select) *executor.Result {
	t.Helper()
	stmt, err := query.Compile(q)
	require.NoError(t, err)
	res, err := exec.Execute(context.Background(), stmt)
	require.NoError(t, err, "executing %s", stmt.SQL)
	return res
}

// strs returns column col of every row as strings.
func strs(t *testing.T, res *executor.Result, col string) []string {
	t.Helper()
	out := make([]string, len(res.Rows))
	for i, r := range res.Rows {
		s, ok := r[col].(string)
		require.True(t, ok, "column %s is %T", col, r[col])
		out[i] = s
	}
	return out
}

// ints returns column col of every row as int64. Drivers differ in the
// width they return for integer columns.
func ints(t *testing.T, res *executor.Result, col string) []int64 {
	t.Helper()
	out := make([]int64, len(res.Rows))
	for i, r := range res.Rows {
		switch v := r[col].(type) {
		case int64:
			out[i] = v
		case int32:
			out[i] = int64(v)
		case int16:
			out[i] = int64(v)
		default:
			require.Failf(t, "unexpected type", "column %s is %T", col, r[col])
		}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
