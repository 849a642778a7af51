package query_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/pkg/expr"
	"github.com/pthm/pgquery/pkg/query"
)

func TestGroupByHaving(t *testing.T) {
	reg := fixtures(t)
	posts := table(t, reg, "posts")

	stmt, err := query.Compile(&query.Select{
		Table:   posts,
		Columns: []query.Projection{{Key: query.Col("author_id")}, query.As(expr.Count("id"), "n")},
		GroupBy: []query.Key{query.Col("author_id")},
		Having:  query.Filter(query.Ref(1), query.Gt(5)),
		OrderBy: []query.Order{query.Desc(query.Col("n"))},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "author_id", count("id") AS "n" FROM "posts" GROUP BY "author_id" `+
		`HAVING count("id") > $1 ORDER BY "n" DESC LIMIT $2`, stmt.SQL)
	assert.Equal(t, []any{5, 10}, stmt.Values)
	assertStatement(t, stmt)

	t.Run("grouped column in having", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table:   posts,
			Columns: query.Columns("author_id"),
			GroupBy: []query.Key{query.Col("author_id")},
			Having:  query.Filter(query.Col("author_id"), query.Gt(1)),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT "author_id" FROM "posts" GROUP BY "author_id" HAVING "author_id" > $1`, stmt.SQL)
	})

	t.Run("grouped expression in having", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table:   posts,
			Columns: []query.Projection{query.As(expr.Lower("title"), "t"), query.As(expr.CountAll(), "n")},
			GroupBy: []query.Key{expr.Lower("title")},
			Having:  query.Filter(expr.Lower("title"), query.Neq("x")),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT lower("title") AS "t", count(*) AS "n" FROM "posts" `+
			`GROUP BY lower("title") HAVING lower("title") <> $1`, stmt.SQL)
		assert.Equal(t, []any{"x"}, stmt.Values)
		assertStatement(t, stmt)
	})

	t.Run("grouped json path in having", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table:   table(t, reg, "users"),
			Columns: []query.Projection{{Key: query.Col("profile.city")}, query.As(expr.CountAll(), "n")},
			GroupBy: []query.Key{query.Col("profile.city")},
			Having:  query.Filter(query.Col("profile.city"), query.Neq("x")),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT ("profile"->>$1::text), count(*) AS "n" FROM "users" `+
			`GROUP BY ("profile"->>$1::text) HAVING ("profile"->>$1::text) <> $2`, stmt.SQL)
		assert.Equal(t, []any{"city", "x"}, stmt.Values)
		assertStatement(t, stmt)
	})

	t.Run("json path repeated in where", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table: table(t, reg, "users"),
			Where: query.Or(
				query.Filter(query.Col("profile.city"), query.Eq("Oslo")),
				query.Filter(query.Col("profile.city"), query.Eq("Bergen")),
			),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "users" WHERE (("profile"->>$1::text) = $2 OR ("profile"->>$1::text) = $3)`, stmt.SQL)
		assert.Equal(t, []any{"city", "Oslo", "Bergen"}, stmt.Values)
		assertStatement(t, stmt)
	})

	t.Run("aggregate in having", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table:   posts,
			Columns: query.Columns("author_id"),
			GroupBy: []query.Key{query.Col("author_id")},
			Having:  query.Filter(expr.Sum("score"), query.Gte(100)),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT "author_id" FROM "posts" GROUP BY "author_id" HAVING sum("score") >= $1`, stmt.SQL)
	})

	errs := []struct {
		name string
		q    func() *query.Select
		key  string
	}{
		{
			name: "ungrouped column in having",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					GroupBy: []query.Key{query.Col("author_id")},
					Having:  query.Filter(query.Col("title"), query.Eq("x")),
				}
			},
			key: "title",
		},
		{
			name: "ungrouped column inside an expression",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					GroupBy: []query.Key{query.Col("author_id")},
					Having:  query.Filter(expr.Upper("title"), query.Eq("X")),
				}
			},
			key: "title",
		},
		{
			name: "ref to ungrouped projection",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					Columns: query.Columns("title"),
					GroupBy: []query.Key{query.Col("author_id")},
					Having:  query.Filter(query.Ref(0), query.Eq("x")),
				}
			},
			key: "@0",
		},
		{
			name: "ref out of range",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					OrderBy: []query.Order{query.Asc(query.Ref(5))},
				}
			},
			key: "@5",
		},
		{
			name: "nested aggregate",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					Columns: []query.Projection{{Key: expr.Sum(expr.Count("id"))}},
				}
			},
			key: "aggregate",
		},
		{
			name: "aggregate in group by",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					GroupBy: []query.Key{expr.Count("id")},
				}
			},
			key: "aggregate",
		},
		{
			name: "row key in the select list",
			q: func() *query.Select {
				return &query.Select{
					Table:   posts,
					Columns: []query.Projection{{Key: query.Ref(0)}},
				}
			},
			key: "@0",
		},
	}
	for _, tt := range errs {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Compile(tt.q())
			assert.Equal(t, tt.key, requireValidationError(t, err).Key)
		})
	}
}

func TestWindowFunctions(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")

	tests := []struct {
		name   string
		field  func() *query.Field
		sql    string
		values []any
	}{
		{
			name: "row number",
			field: func() *query.Field {
				return expr.RowNumber(expr.Window{
					PartitionBy: []any{"team_id"},
					OrderBy:     []query.Order{query.Desc(query.Col("age"))},
				}).As("rn")
			},
			sql: `SELECT "email", row_number() OVER (PARTITION BY "team_id" ORDER BY "age" DESC) AS "rn" FROM "users"`,
		},
		{
			name: "running sum with a frame",
			field: func() *query.Field {
				return expr.Over(expr.Sum("age"), expr.Window{
					OrderBy: []query.Order{query.Asc(query.Col("id"))},
					Frame: &expr.Frame{
						Mode:  expr.Rows,
						Start: expr.Bound{Kind: expr.Preceding, Offset: 2},
						End:   &expr.Bound{Kind: expr.CurrentRow},
					},
				}).As("running")
			},
			sql:    `SELECT "email", sum("age") OVER (ORDER BY "id" ROWS BETWEEN $1::bigint PRECEDING AND CURRENT ROW) AS "running" FROM "users"`,
			values: []any{int64(2)},
		},
		{
			name: "lag",
			field: func() *query.Field {
				return expr.Lag("age", 1, expr.Window{OrderBy: []query.Order{query.Asc(query.Col("id"))}}).As("prev")
			},
			sql:    `SELECT "email", lag("age", $1::int) OVER (ORDER BY "id") AS "prev" FROM "users"`,
			values: []any{int64(1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := query.Compile(&query.Select{
				Table:   users,
				Columns: []query.Projection{{Key: query.Col("email")}, {Key: tt.field()}},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.sql, stmt.SQL)
			assert.Equal(t, tt.values, stmt.Values)
			assertStatement(t, stmt)
		})
	}

	t.Run("nested windows", func(t *testing.T) {
		w := expr.Window{}
		_, err := query.Compile(&query.Select{
			Table:   users,
			Columns: []query.Projection{{Key: expr.Over(expr.RowNumber(w), w)}},
		})
		assert.Equal(t, "window", requireValidationError(t, err).Key)
	})

	t.Run("window in having", func(t *testing.T) {
		_, err := query.Compile(&query.Select{
			Table:   users,
			GroupBy: []query.Key{query.Col("id")},
			Having:  query.Filter(expr.RowNumber(expr.Window{}), query.Gt(1)),
		})
		assert.Equal(t, "window", requireValidationError(t, err).Key)
	})
}

func TestOrderingAndPaging(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")

	stmt, err := query.Compile(&query.Select{
		Table:    users,
		Distinct: true,
		Columns:  query.Columns("team_id", "age"),
		OrderBy: []query.Order{
			{Key: query.Col("age"), Desc: true, Nulls: query.NullsLast},
			{Key: query.Col("team_id"), Nulls: query.NullsFirst},
		},
		Limit:  10,
		Offset: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT DISTINCT "team_id", "age" FROM "users" `+
		`ORDER BY "age" DESC NULLS LAST, "team_id" NULLS FIRST LIMIT $1 OFFSET $2`, stmt.SQL)
	assert.Equal(t, []any{10, 20}, stmt.Values)
	assertStatement(t, stmt)

	t.Run("negative limit", func(t *testing.T) {
		_, err := query.Compile(&query.Select{Table: users, Limit: -1})
		assert.Equal(t, "limit", requireValidationError(t, err).Key)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := query.Compile(&query.Select{Table: users, Offset: -1})
		assert.Equal(t, "offset", requireValidationError(t, err).Key)
	})

	t.Run("unknown nulls ordering", func(t *testing.T) {
		_, err := query.Compile(&query.Select{Table: users, OrderBy: []query.Order{{Key: query.Col("age"), Nulls: 7}}})
		assert.Equal(t, "age", requireValidationError(t, err).Key)
	})

	t.Run("output alias in order by", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table:   users,
			Columns: []query.Projection{query.As(expr.Lower("email"), "mail")},
			OrderBy: []query.Order{query.Asc(query.Col("mail"))},
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT lower("email") AS "mail" FROM "users" ORDER BY "mail"`, stmt.SQL)
	})

	t.Run("output alias only in order by", func(t *testing.T) {
		_, err := query.Compile(&query.Select{
			Table:   users,
			Columns: []query.Projection{query.As(expr.Lower("email"), "mail")},
			Where:   query.Filter(query.Col("mail"), query.Eq("x")),
		})
		assert.Equal(t, "mail", requireValidationError(t, err).Key)
	})
}

func TestPlaceholdersFollowTextOrder(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	posts := table(t, reg, "posts")

	stmt, err := query.Compile(&query.Select{
		Table:   users,
		Alias:   "u",
		Columns: []query.Projection{{Key: query.Col("email")}, query.As(expr.Coalesce("age", expr.Lit(0)), "age")},
		Where: query.And(
			query.Filter(query.Col("profile.city"), query.Eq("Oslo")),
			query.Exists(&query.Select{
				Table: posts,
				Where: query.Filter(query.Col("title"), query.StartsWith("Go")),
			}),
		),
		OrderBy: []query.Order{query.Asc(query.Col("id"))},
		Limit:   5,
		Offset:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "u"."email", coalesce("u"."age", $1) AS "age" FROM "users" "u" WHERE (`+
		`("u"."profile"->>$2::text) = $3 AND `+
		`EXISTS (SELECT 1 FROM "posts" WHERE "title" LIKE $4)) ORDER BY "u"."id" LIMIT $5 OFFSET $6`, stmt.SQL)
	assert.Equal(t, []any{0, "city", "Oslo", "Go%", 5, 10}, stmt.Values)
	assertStatement(t, stmt)
}

func TestFieldsAreSingleUse(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")

	f := expr.Lower("email")
	_, err := query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: f}}})
	require.NoError(t, err)

	_, err = query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: f}}})
	assert.Equal(t, "lower", requireValidationError(t, err).Key)

	g := expr.Col("email")
	_, err = query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: g}, {Key: g}}})
	assert.Equal(t, "email", requireValidationError(t, err).Key)
}

func TestCustomFieldMustEmitFromItsContext(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")

	var stale *query.Context
	capture := query.NewField("capture", func(ctx *query.Context) (query.Fragment, error) {
		stale = ctx
		return ctx.Emit("1"), nil
	})
	_, err := query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: capture}}})
	require.NoError(t, err)

	forged := query.NewField("forged", func(*query.Context) (query.Fragment, error) {
		return stale.Emit(`"email"`), nil
	})
	_, err = query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: forged}}})
	assert.Equal(t, "forged", requireValidationError(t, err).Key)

	_, err = stale.Column("email")
	requireValidationError(t, err)

	t.Run("stale context cannot bind", func(t *testing.T) {
		var kept *query.Context
		bound := query.NewField("bound", func(ctx *query.Context) (query.Fragment, error) {
			kept = ctx
			return ctx.Emit(ctx.Bind(1)), nil
		})
		stmt, err := query.Compile(&query.Select{
			Table:   users,
			Columns: []query.Projection{query.As(bound, "one")},
			Limit:   3,
		})
		require.NoError(t, err)

		assert.Empty(t, kept.Bind("late"))
		assert.Empty(t, kept.BindTyped("late", "text"))
		assert.Equal(t, `SELECT $1 AS "one" FROM "users" LIMIT $2`, stmt.SQL)
		assert.Equal(t, []any{1, 3}, stmt.Values)
	})

	empty := query.NewField("empty", func(*query.Context) (query.Fragment, error) {
		return query.Fragment{}, nil
	})
	_, err = query.Compile(&query.Select{Table: users, Columns: []query.Projection{{Key: empty}}})
	assert.Equal(t, "empty", requireValidationError(t, err).Key)
}

func TestNumericStrings(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	where := func() query.Condition {
		return query.Matches{
			{Key: query.Col("age"), Ops: []query.Op{query.Eq("42")}},
			{Key: query.Col("id"), Ops: []query.Op{query.Lt("1.5")}},
			{Key: query.Col("email"), Ops: []query.Op{query.Eq("12abc")}},
		}
	}

	stmt, err := query.Compile(&query.Select{Table: users, Where: where()})
	require.NoError(t, err)
	assert.Equal(t, []any{"42", "1.5", "12abc"}, stmt.Values)

	stmt, err = query.Compile(&query.Select{Table: users, Where: where()}, query.WithNumericStrings())
	require.NoError(t, err)
	assert.Equal(t, []any{int64(42), 1.5, "12abc"}, stmt.Values)
}

func TestTrace(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")

	var events []query.TraceEvent
	c := query.New(query.WithTrace(func(e query.TraceEvent) { events = append(events, e) }))
	stmt, err := c.Select(&query.Select{
		Table:   users,
		Columns: []query.Projection{{Key: expr.Lower("email")}},
		Where:   query.Filter(query.Col("age"), query.Gt(1)),
	})
	require.NoError(t, err)

	require.NotEmpty(t, events)
	var kinds []string
	for _, e := range events {
		kinds = append(kinds, e.Event)
	}
	assert.Equal(t, []string{"scope", "field", "segment", "statement"}, kinds)
	assert.Equal(t, "lower", events[1].Key)
	assert.Equal(t, `lower("email")`, events[1].SQL)
	last := events[len(events)-1]
	assert.Equal(t, stmt.SQL, last.SQL)
	assert.Equal(t, 1, last.Values)

	events = nil
	_, err = c.Select(&query.Select{Table: users, Where: query.Filter(query.Col("nope"), query.Eq(1))})
	require.Error(t, err)
	for _, e := range events {
		assert.NotEqual(t, "statement", e.Event)
	}
}

func TestCompileIsDeterministicAndConcurrent(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	posts := table(t, reg, "posts")

	build := func(n int) *query.Select {
		return &query.Select{
			Table:   users,
			Alias:   "u",
			Columns: []query.Projection{{Key: query.Col("email")}, query.As(expr.CountAll(), "posts")},
			Joins: []query.Join{{
				Kind: query.LeftJoin, Table: posts, Alias: "p",
				On: []query.On{{Base: "id", Target: "author_id"}},
			}},
			Where:   query.Filter(query.Col("age"), query.Gte(n)),
			GroupBy: []query.Key{query.Col("email")},
			Limit:   n + 1,
		}
	}

	c := query.New()
	want, err := c.Select(build(0))
	require.NoError(t, err)
	again, err := c.Select(build(0))
	require.NoError(t, err)
	assert.Equal(t, want, again)

	var wg sync.WaitGroup
	results := make([]query.Statement, 32)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Select(build(i))
		}(i)
	}
	wg.Wait()
	for i, stmt := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, want.SQL, stmt.SQL)
		assert.Equal(t, []any{i, i + 1}, stmt.Values)
	}
}
