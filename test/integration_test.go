package test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/expr"
	"github.com/pthm/pgquery/pkg/migrator"
	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
	"github.com/pthm/pgquery/test/testutil"
)

func TestMigrator(t *testing.T) {
	db := testutil.EmptyDB(t)
	ctx := context.Background()
	reg := testutil.Registry(t)
	m := migrator.New(db, reg)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, status.Last)
	assert.False(t, status.Current)
	for _, ts := range status.Tables {
		assert.False(t, ts.Exists, "table %s should not exist yet", ts.Name)
	}

	skipped, err := m.Migrate(ctx, migrator.Options{})
	require.NoError(t, err)
	assert.False(t, skipped)

	skipped, err = m.Migrate(ctx, migrator.Options{})
	require.NoError(t, err)
	assert.True(t, skipped, "unchanged schema should be skipped")

	skipped, err = m.Migrate(ctx, migrator.Options{Force: true})
	require.NoError(t, err)
	assert.False(t, skipped, "force re-applies an unchanged schema")

	status, err = m.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.Last)
	assert.True(t, status.Current)
	assert.Equal(t, []string{"teams", "users", "posts"}, status.Last.TableNames)
	assert.Equal(t, migrator.DDLVersion, status.Last.DDLVersion)
	assert.Equal(t, migrator.ComputeSchemaChecksum(m.Statements()), status.Last.SchemaChecksum)
	for _, ts := range status.Tables {
		assert.True(t, ts.Exists, "table %s should exist", ts.Name)
	}

	var records int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM pgquery_migrations`).Scan(&records))
	assert.Equal(t, 2, records)

	t.Run("changed schema migrates again", func(t *testing.T) {
		reg := testutil.Registry(t)
		_, err := reg.Register("comments", map[string]schema.Column{
			"id":      {Type: "bigserial", PrimaryKey: true},
			"post_id": {Type: "bigint", NotNull: true},
			"body":    {Type: "text"},
		}, schema.ForeignKey{Column: "post_id", Table: "posts", RefColumn: "id", OnDelete: "cascade"})
		require.NoError(t, err)

		skipped, err := migrator.New(db, reg).Migrate(ctx, migrator.Options{})
		require.NoError(t, err)
		assert.False(t, skipped)

		status, err := migrator.New(db, reg).Status(ctx)
		require.NoError(t, err)
		assert.True(t, status.Current)
		assert.Len(t, status.Tables, 4)
	})
}

func TestExecutorBackends(t *testing.T) {
	reg := testutil.Registry(t)
	users := table(t, reg, "users")
	teams := table(t, reg, "teams")

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			exec := b.open(t, testutil.DSN(t))
			ctx := context.Background()
			f := testutil.NewFixtures(ctx, exec, reg)

			ids, err := f.CreateUsers(
				testutil.User{Email: "alice@example.com", Age: 30, Tags: []string{"go", "sql"}, Profile: `{"city": "Oslo"}`},
				testutil.User{Email: "bob@example.com", Age: 25, Tags: []string{"go"}},
				testutil.User{Email: "carol@example.com", Role: "admin", Active: boolPtr(false)},
			)
			require.NoError(t, err)
			require.Len(t, ids, 3)
			assert.Less(t, ids[0], ids[1])

			t.Run("select", func(t *testing.T) {
				res := run(t, exec, &query.Select{
					Table:   users,
					Columns: query.Columns("id", "email", "age"),
					Where:   query.Filter(query.Col("age"), query.Gte(18)),
					OrderBy: []query.Order{query.Asc(query.Col("email"))},
				})
				assert.Equal(t, []string{"id", "email", "age"}, res.Columns)
				assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, strs(t, res, "email"))
				assert.Equal(t, []int64{30, 25}, ints(t, res, "age"))
				assert.Equal(t, ids[:2], ints(t, res, "id"))
				assert.EqualValues(t, 2, res.RowCount)
			})

			t.Run("array and json operands", func(t *testing.T) {
				res := run(t, exec, &query.Select{
					Table:   users,
					Columns: query.Columns("email"),
					Where: query.And(
						query.Filter(query.Col("tags"), query.ArrayContains([]string{"go"})),
						query.Filter(query.Col("profile.city"), query.Eq("Oslo")),
					),
				})
				assert.Equal(t, []string{"alice@example.com"}, strs(t, res, "email"))

				res = run(t, exec, &query.Select{
					Table:   users,
					Columns: query.Columns("email"),
					Where:   query.Filter(query.Col("id"), query.Eq(query.Any(ids[1:]))),
					OrderBy: []query.Order{query.Asc(query.Col("id"))},
				})
				assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, strs(t, res, "email"))
			})

			t.Run("enum and boolean columns", func(t *testing.T) {
				res := run(t, exec, &query.Select{
					Table:   users,
					Columns: query.Columns("email"),
					Where: query.Or(
						query.Filter(query.Col("role"), query.Eq("admin")),
						query.Filter(query.Col("active"), query.IsFalse()),
					),
				})
				assert.Equal(t, []string{"carol@example.com"}, strs(t, res, "email"))
			})

			t.Run("insert without returning", func(t *testing.T) {
				stmt, err := query.New().Insert(&query.Insert{
					Table: teams,
					Rows:  []query.Row{{"name": "core"}, {"name": "web"}},
				})
				require.NoError(t, err)
				res, err := exec.Execute(ctx, stmt)
				require.NoError(t, err)
				assert.EqualValues(t, 2, res.RowCount)
				assert.Empty(t, res.Rows)
			})

			t.Run("server errors are annotated", func(t *testing.T) {
				_, err := f.CreateUsers(testutil.User{Email: "alice@example.com"})
				require.Error(t, err)

				var ee *executor.ExecutionError
				require.ErrorAs(t, err, &ee)
				assert.Equal(t, "23505", ee.Code, "unique violation")
				assert.Contains(t, ee.SQL, `INSERT INTO "users"`)
			})

			t.Run("cancelled context", func(t *testing.T) {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				stmt, err := query.Compile(&query.Select{Table: users})
				require.NoError(t, err)
				_, err = exec.Execute(cctx, stmt)
				require.Error(t, err)
				assert.True(t, executor.IsExecutionErr(err))
			})
		})
	}
}

func TestDecodedDocuments(t *testing.T) {
	reg := testutil.Registry(t)
	dsn := testutil.DSN(t)
	exec := backends[0].open(t, dsn)
	ctx := context.Background()
	f := testutil.NewFixtures(ctx, exec, reg)

	team, err := f.CreateTeam("core")
	require.NoError(t, err)
	ids, err := f.CreateUsers(
		testutil.User{TeamID: team, Email: "alice@example.com", Age: 30},
		testutil.User{TeamID: team, Email: "bob@example.com", Age: 17},
	)
	require.NoError(t, err)
	_, err = f.CreatePost(ids[0], "hello", 5, true)
	require.NoError(t, err)

	dec := &query.Decoder{Tables: reg, Functions: expr.Standard()}
	_, err = dec.CompileDocument(query.New(), []byte(`
table: users
alias: u
columns: [u.email, {$count: p.id, as: n}]
joins:
  - {kind: LEFT, table: posts, alias: p, on: {id: author_id}}
where:
  t.name: core
groupBy: [u.email]
orderBy: [u.email]
`))
	// t.name is not in scope until teams is joined.
	require.Error(t, err)
	assert.True(t, query.IsValidationErr(err))

	stmt, err := dec.CompileDocument(query.New(), []byte(`
table: users
alias: u
columns: [u.email, {$count: p.id, as: n}]
joins:
  - {kind: INNER, table: teams, alias: t, on: {team_id: id}}
  - {kind: LEFT, table: posts, alias: p, on: {id: author_id}}
where:
  t.name: core
groupBy: [u.email]
orderBy: [u.email]
`))
	require.NoError(t, err)

	res, err := exec.Execute(ctx, stmt)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, strs(t, res, "email"))
	assert.Equal(t, []int64{1, 0}, ints(t, res, "n"))

	stmt, err = dec.CompileDocument(query.New(), []byte(fmt.Sprintf(
		`{"insert": {"table": "posts", "rows": [{"author_id": %d, "title": "second"}], "returning": ["id", "score"]}}`, ids[1])))
	require.NoError(t, err)
	res, err = exec.Execute(ctx, stmt)
	require.NoError(t, err)
	assert.Equal(t, []int64{0}, ints(t, res, "score"))
}
