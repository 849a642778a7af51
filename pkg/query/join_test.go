package query_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/pkg/expr"
	"github.com/pthm/pgquery/pkg/query"
)

func TestJoinScoping(t *testing.T) {
	reg := fixtures(t)
	tt := table(t, reg, "T")
	u := table(t, reg, "U")

	build := func(on query.On, where query.Condition) *query.Select {
		return &query.Select{
			Table: tt,
			Joins: []query.Join{{Kind: query.InnerJoin, Table: u, Alias: "u", On: []query.On{on}}},
			Where: where,
		}
	}

	stmt, err := query.Compile(build(query.On{Base: "x", Target: "y"}, query.Filter(query.Col("u.y"), query.Eq(1))))
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "T" INNER JOIN "U" "u" ON "T"."x" = "u"."y" WHERE "u"."y" = $1`, stmt.SQL)
	assert.Equal(t, []any{1}, stmt.Values)
	assertStatement(t, stmt)

	t.Run("unknown joined column", func(t *testing.T) {
		_, err := query.Compile(build(query.On{Base: "x", Target: "y"}, query.Filter(query.Col("u.z"), query.Eq(1))))
		ve := requireValidationError(t, err)
		assert.Equal(t, "u.z", ve.Key)
		assert.Contains(t, ve.Allowed, "u.y")
	})

	t.Run("joined columns are not bare", func(t *testing.T) {
		_, err := query.Compile(build(query.On{Base: "x", Target: "y"}, query.Filter(query.Col("y"), query.Eq(1))))
		assert.Equal(t, "y", requireValidationError(t, err).Key)
	})

	t.Run("base side cannot see the target", func(t *testing.T) {
		_, err := query.Compile(build(query.On{Base: "u.y", Target: "y"}, nil))
		assert.Equal(t, "u.y", requireValidationError(t, err).Key)
	})

	t.Run("target side cannot see the base", func(t *testing.T) {
		_, err := query.Compile(build(query.On{Base: "x", Target: "T.x"}, nil))
		assert.Equal(t, "T.x", requireValidationError(t, err).Key)
	})
}

func TestJoinKinds(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	teams := table(t, reg, "teams")
	posts := table(t, reg, "posts")

	tests := []struct {
		name   string
		query  func() *query.Select
		sql    string
		values []any
	}{
		{
			name: "self join",
			query: func() *query.Select {
				return &query.Select{
					Table:   users,
					Alias:   "a",
					Columns: query.Columns("a.id", "b.id"),
					Joins: []query.Join{{
						Kind:  query.SelfJoin,
						Alias: "b",
						On:    []query.On{{Base: "team_id", Target: "team_id"}},
					}},
				}
			},
			sql: `SELECT "a"."id", "b"."id" FROM "users" "a" INNER JOIN "users" "b" ON "a"."team_id" = "b"."team_id"`,
		},
		{
			name: "cross join",
			query: func() *query.Select {
				return &query.Select{
					Table:   users,
					Columns: query.Columns("email", "t.name"),
					Joins:   []query.Join{{Kind: query.CrossJoin, Table: teams, Alias: "t"}},
				}
			},
			sql: `SELECT "users"."email", "t"."name" FROM "users" INNER JOIN "teams" "t" ON true`,
		},
		{
			name: "left join to an aggregate subquery",
			query: func() *query.Select {
				return &query.Select{
					Table:   users,
					Columns: query.Columns("email", "p.best"),
					Joins: []query.Join{{
						Kind: query.LeftJoin,
						Query: &query.Select{
							Table:   posts,
							Columns: []query.Projection{{Key: query.Col("author_id")}, query.As(expr.Max("score"), "best")},
							GroupBy: []query.Key{query.Col("author_id")},
						},
						Alias: "p",
						On:    []query.On{{Base: "id", Target: "author_id"}},
					}},
					Where: query.Filter(query.Col("p.best"), query.Gt(10)),
				}
			},
			sql: `SELECT "users"."email", "p"."best" FROM "users" LEFT JOIN ` +
				`(SELECT "author_id", max("score") AS "best" FROM "posts" GROUP BY "author_id") AS "p" ` +
				`ON "users"."id" = "p"."author_id" WHERE "p"."best" > $1`,
			values: []any{10},
		},
		{
			name: "full outer join on two columns",
			query: func() *query.Select {
				return &query.Select{
					Table: users,
					Joins: []query.Join{{
						Kind:  query.FullOuterJoin,
						Table: posts,
						Alias: "p",
						On:    []query.On{{Base: "id", Target: "author_id"}, {Base: "age", Target: "score"}},
					}},
				}
			},
			sql: `SELECT * FROM "users" FULL OUTER JOIN "posts" "p" ON ("users"."id" = "p"."author_id" AND "users"."age" = "p"."score")`,
		},
		{
			name: "right join with star of the target",
			query: func() *query.Select {
				return &query.Select{
					Table:   posts,
					Columns: []query.Projection{{Key: expr.Star("u")}, {Key: query.Col("title")}},
					Joins: []query.Join{{
						Kind:  query.RightJoin,
						Table: users,
						Alias: "u",
						On:    []query.On{{Base: "author_id", Target: "id"}},
					}},
				}
			},
			sql: `SELECT "u".*, "posts"."title" FROM "posts" RIGHT JOIN "users" "u" ON "posts"."author_id" = "u"."id"`,
		},
		{
			name: "later join sees earlier joins",
			query: func() *query.Select {
				return &query.Select{
					Table:   posts,
					Columns: query.Columns("title", "t.name"),
					Joins: []query.Join{
						{Kind: query.InnerJoin, Table: users, Alias: "u", On: []query.On{{Base: "author_id", Target: "id"}}},
						{Kind: query.InnerJoin, Table: teams, Alias: "t", On: []query.On{{Base: "u.team_id", Target: "id"}}},
					},
				}
			},
			sql: `SELECT "posts"."title", "t"."name" FROM "posts" ` +
				`INNER JOIN "users" "u" ON "posts"."author_id" = "u"."id" ` +
				`INNER JOIN "teams" "t" ON "u"."team_id" = "t"."id"`,
		},
		{
			name: "join predicate against a scalar subquery",
			query: func() *query.Select {
				return &query.Select{
					Table: users,
					Joins: []query.Join{{
						Kind:  query.InnerJoin,
						Table: teams,
						Alias: "t",
						On: []query.On{{Base: "team_id", Query: &query.Select{
							Table:   teams,
							Alias:   "x",
							Columns: query.Columns("id"),
							Where:   query.Filter(query.Col("name"), query.Eq("core")),
						}}},
					}},
				}
			},
			sql:    `SELECT * FROM "users" INNER JOIN "teams" "t" ON "users"."team_id" = (SELECT "x"."id" FROM "teams" "x" WHERE "x"."name" = $1)`,
			values: []any{"core"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmt, err := query.Compile(tt.query())
			require.NoError(t, err)
			assert.Equal(t, tt.sql, stmt.SQL)
			assert.Equal(t, tt.values, stmt.Values)
			assertStatement(t, stmt)
		})
	}
}

func TestJoinErrors(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	teams := table(t, reg, "teams")
	on := []query.On{{Base: "team_id", Target: "id"}}

	tests := []struct {
		name string
		join query.Join
		key  string
	}{
		{"unknown kind", query.Join{Kind: "OUTER", Table: teams, On: on}, "OUTER"},
		{"missing predicate", query.Join{Kind: query.InnerJoin, Table: teams}, "INNER"},
		{"cross join with predicate", query.Join{Kind: query.CrossJoin, Table: teams, On: on}, "CROSS"},
		{"self join without alias", query.Join{Kind: query.SelfJoin, On: on}, "SELF"},
		{"self join to another table", query.Join{Kind: query.SelfJoin, Table: teams, Alias: "x", On: on}, "SELF"},
		{"subquery without alias", query.Join{Kind: query.LeftJoin, Query: &query.Select{Table: teams}, On: on}, "LEFT"},
		{"no target", query.Join{Kind: query.InnerJoin, On: on}, "INNER"},
		{"duplicate qualifier", query.Join{Kind: query.InnerJoin, Table: users, On: []query.On{{Base: "id", Target: "id"}}}, "users"},
		{"malformed alias", query.Join{Kind: query.InnerJoin, Table: teams, Alias: "t t", On: on}, "alias"},
		{"predicate with target and query", query.Join{Kind: query.InnerJoin, Table: teams, On: []query.On{{
			Base: "team_id", Target: "id", Query: &query.Select{Table: teams, Columns: query.Columns("id")},
		}}}, "team_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := query.Compile(&query.Select{Table: users, Joins: []query.Join{tt.join}})
			assert.Equal(t, tt.key, requireValidationError(t, err).Key)
		})
	}
}

func TestDerivedTable(t *testing.T) {
	reg := fixtures(t)
	posts := table(t, reg, "posts")

	stmt, err := query.Compile(&query.Select{
		Derived: &query.Select{
			Table:   posts,
			Columns: []query.Projection{{Key: query.Col("author_id")}, query.As(expr.Count("id"), "n")},
			GroupBy: []query.Key{query.Col("author_id")},
		},
		Alias:   "s",
		Columns: query.Columns("author_id", "n"),
		Where:   query.Filter(query.Col("n"), query.Gt(3)),
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "s"."author_id", "s"."n" FROM `+
		`(SELECT "author_id", count("id") AS "n" FROM "posts" GROUP BY "author_id") AS "s" `+
		`WHERE "s"."n" > $1`, stmt.SQL)
	assert.Equal(t, []any{3}, stmt.Values)
	assertStatement(t, stmt)

	t.Run("unexposed column", func(t *testing.T) {
		_, err := query.Compile(&query.Select{
			Derived: &query.Select{Table: posts, Columns: query.Columns("author_id")},
			Alias:   "s",
			Columns: query.Columns("title"),
		})
		assert.Equal(t, "title", requireValidationError(t, err).Key)
	})

	t.Run("alias required", func(t *testing.T) {
		_, err := query.Compile(&query.Select{Derived: &query.Select{Table: posts}})
		assert.Equal(t, "alias", requireValidationError(t, err).Key)
	})

	t.Run("table and derived", func(t *testing.T) {
		_, err := query.Compile(&query.Select{Table: posts, Derived: &query.Select{Table: posts}, Alias: "s"})
		assert.Equal(t, "table", requireValidationError(t, err).Key)
	})
}

func TestSubqueryOperands(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	posts := table(t, reg, "posts")

	stmt, err := query.Compile(&query.Select{
		Table:   users,
		Columns: query.Columns("email"),
		Where: query.And(
			query.Filter(query.Col("id"), query.In(&query.Select{
				Table:   posts,
				Columns: query.Columns("author_id"),
				Where:   query.Filter(query.Col("score"), query.Gt(5)),
			})),
			query.Filter(query.Col("age"), query.Gt(query.All(&query.Select{
				Table:   posts,
				Columns: query.Columns("score"),
			}))),
		),
		Limit: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "email" FROM "users" WHERE (`+
		`"id" IN (SELECT "author_id" FROM "posts" WHERE "score" > $1) AND `+
		`"age" > ALL(SELECT "score" FROM "posts")) LIMIT $2`, stmt.SQL)
	assert.Equal(t, []any{5, 3}, stmt.Values)
	assertStatement(t, stmt)

	t.Run("scalar subquery", func(t *testing.T) {
		stmt, err := query.Compile(&query.Select{
			Table: users,
			Where: query.Filter(query.Col("age"), query.Gte(&query.Select{
				Table:   posts,
				Columns: []query.Projection{{Key: expr.Avg("score")}},
			})),
		})
		require.NoError(t, err)
		assert.Equal(t, `SELECT * FROM "users" WHERE "age" >= (SELECT avg("score") FROM "posts")`, stmt.SQL)
		assertStatement(t, stmt)
	})

	t.Run("subquery must project one column", func(t *testing.T) {
		_, err := query.Compile(&query.Select{
			Table: users,
			Where: query.Filter(query.Col("id"), query.In(&query.Select{Table: posts, Columns: query.Columns("id", "author_id")})),
		})
		assert.Equal(t, "query", requireValidationError(t, err).Key)
	})

	t.Run("nesting depth is bounded", func(t *testing.T) {
		q := &query.Select{Table: posts}
		for i := 0; i < 40; i++ {
			q = &query.Select{Derived: q, Alias: fmt.Sprintf("d%d", i)}
		}
		_, err := query.Compile(q)
		assert.Equal(t, "query", requireValidationError(t, err).Key)
	})
}

func TestSetOperations(t *testing.T) {
	reg := fixtures(t)
	users := table(t, reg, "users")
	posts := table(t, reg, "posts")
	teams := table(t, reg, "teams")

	q := (&query.Select{
		Table:   users,
		Columns: query.Columns("id"),
		Where:   query.Filter(query.Col("age"), query.Gt(18)),
	}).Then(query.Union, &query.Select{
		Table:   posts,
		Columns: query.Columns("id"),
		Where:   query.Filter(query.Col("score"), query.Gt(5)),
	}).Then(query.Except, &query.Select{
		Table:   teams,
		Columns: query.Columns("id"),
		Where:   query.Filter(query.Col("name"), query.Eq("core")),
	})

	stmt, err := query.Compile(q)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id" FROM "users" WHERE "age" > $1 `+
		`UNION (SELECT "id" FROM "posts" WHERE "score" > $2 `+
		`EXCEPT SELECT "id" FROM "teams" WHERE "name" = $3)`, stmt.SQL)
	assert.Equal(t, []any{18, 5, "core"}, stmt.Values)
	assertStatement(t, stmt)
	assert.Equal(t, "(users UNION (posts EXCEPT teams))", setOpTree(t, stmt.SQL))

	t.Run("mixed operations keep the chain's grouping", func(t *testing.T) {
		sel := func(tbl string) *query.Select {
			return &query.Select{Table: table(t, reg, tbl), Columns: query.Columns("id")}
		}
		tests := []struct {
			name string
			q    *query.Select
			sql  string
			tree string
		}{
			{
				name: "union then intersect",
				q:    sel("users").Then(query.Union, sel("posts")).Then(query.Intersect, sel("teams")),
				sql:  `SELECT "id" FROM "users" UNION (SELECT "id" FROM "posts" INTERSECT SELECT "id" FROM "teams")`,
				tree: "(users UNION (posts INTERSECT teams))",
			},
			{
				name: "intersect then union",
				q:    sel("users").Then(query.Intersect, sel("posts")).Then(query.Union, sel("teams")),
				sql:  `SELECT "id" FROM "users" INTERSECT (SELECT "id" FROM "posts" UNION SELECT "id" FROM "teams")`,
				tree: "(users INTERSECT (posts UNION teams))",
			},
			{
				name: "except then union all",
				q:    sel("users").Then(query.Except, sel("posts")).Then(query.UnionAll, sel("teams")),
				sql:  `SELECT "id" FROM "users" EXCEPT (SELECT "id" FROM "posts" UNION ALL SELECT "id" FROM "teams")`,
				tree: "(users EXCEPT (posts UNION ALL teams))",
			},
			{
				name: "four segments",
				q: sel("users").Then(query.Union, sel("posts")).Then(query.Except, sel("teams")).
					Then(query.Intersect, sel("items")),
				sql: `SELECT "id" FROM "users" UNION (SELECT "id" FROM "posts" EXCEPT ` +
					`(SELECT "id" FROM "teams" INTERSECT SELECT "id" FROM "items"))`,
				tree: "(users UNION (posts EXCEPT (teams INTERSECT items)))",
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				stmt, err := query.Compile(tt.q)
				require.NoError(t, err)
				assert.Equal(t, tt.sql, stmt.SQL)
				assert.Equal(t, tt.tree, setOpTree(t, stmt.SQL))
				assertStatement(t, stmt)
			})
		}
	})

	t.Run("explicit nesting on the left of a chain", func(t *testing.T) {
		// (users INTERSECT posts) UNION teams needs the left side as a
		// derived table.
		left := (&query.Select{Table: users, Columns: query.Columns("id")}).
			Then(query.Intersect, &query.Select{Table: posts, Columns: query.Columns("author_id")})
		q := (&query.Select{Derived: left, Alias: "l", Columns: query.Columns("id")}).
			Then(query.Union, &query.Select{Table: teams, Columns: query.Columns("id")})
		stmt, err := query.Compile(q)
		require.NoError(t, err)
		assert.Equal(t, `SELECT "l"."id" FROM (SELECT "id" FROM "users" INTERSECT SELECT "author_id" FROM "posts") AS "l" `+
			`UNION SELECT "id" FROM "teams"`, stmt.SQL)
		assertStatement(t, stmt)
	})

	t.Run("segments with a tail are parenthesized", func(t *testing.T) {
		q := (&query.Select{
			Table:   users,
			Columns: query.Columns("id"),
			OrderBy: []query.Order{query.Asc(query.Col("id"))},
			Limit:   5,
		}).Then(query.UnionAll, &query.Select{Table: posts, Columns: query.Columns("id")})
		stmt, err := query.Compile(q)
		require.NoError(t, err)
		assert.Equal(t, `(SELECT "id" FROM "users" ORDER BY "id" LIMIT $1) UNION ALL SELECT "id" FROM "posts"`, stmt.SQL)
		assertStatement(t, stmt)
	})

	t.Run("column counts must match", func(t *testing.T) {
		q := (&query.Select{Table: users, Columns: query.Columns("id", "email")}).
			Then(query.Intersect, &query.Select{Table: posts, Columns: query.Columns("id")})
		_, err := query.Compile(q)
		assert.Equal(t, "INTERSECT", requireValidationError(t, err).Key)
	})

	t.Run("cycles are rejected", func(t *testing.T) {
		a := &query.Select{Table: users, Columns: query.Columns("id")}
		a.SetOp = &query.SetOp{Kind: query.Union, Next: a}
		_, err := query.Compile(a)
		assert.Equal(t, "query", requireValidationError(t, err).Key)
	})

	t.Run("unknown kind", func(t *testing.T) {
		a := &query.Select{Table: users, Columns: query.Columns("id")}
		a.SetOp = &query.SetOp{Kind: "MINUS", Next: &query.Select{Table: posts, Columns: query.Columns("id")}}
		_, err := query.Compile(a)
		assert.Equal(t, "MINUS", requireValidationError(t, err).Key)
	})

	t.Run("not inside exists", func(t *testing.T) {
		sub := (&query.Select{Table: posts, Where: query.Filter(query.Col("score"), query.Gt(1))}).
			Then(query.Union, &query.Select{Table: posts, Where: query.Filter(query.Col("score"), query.Lt(0))})
		_, err := query.Compile(&query.Select{Table: users, Where: query.Exists(sub)})
		assert.Equal(t, "$exists", requireValidationError(t, err).Key)
	})
}
