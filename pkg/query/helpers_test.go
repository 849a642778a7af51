package query_test

import (
	"regexp"
	"strconv"
	"testing"

	pg_query "github.com/pganalyze/pg_query_go/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
)

func fixtures(t testing.TB) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	reg.MustRegister("items", map[string]schema.Column{
		"id": {Type: "bigint", PrimaryKey: true},
		"a":  {Type: "int"},
		"b":  {Type: "int"},
	})
	reg.MustRegister("T", map[string]schema.Column{
		"x": {Type: "int", PrimaryKey: true},
	})
	reg.MustRegister("U", map[string]schema.Column{
		"y": {Type: "int", PrimaryKey: true},
	})
	reg.MustRegister("teams", map[string]schema.Column{
		"id":   {Type: "bigint", PrimaryKey: true},
		"name": {Type: "text", NotNull: true},
	})
	reg.MustRegister("users", map[string]schema.Column{
		"id":         {Type: "bigint", PrimaryKey: true},
		"email":      {Type: "text", NotNull: true},
		"age":        {Type: "int"},
		"active":     {Type: "boolean"},
		"profile":    {Type: "jsonb"},
		"tags":       {Type: "text[]"},
		"team_id":    {Type: "bigint"},
		"created_at": {Type: "timestamptz", DefaultExpr: "now()"},
	}, schema.ForeignKey{Column: "team_id", Table: "teams", RefColumn: "id"})
	reg.MustRegister("posts", map[string]schema.Column{
		"id":        {Type: "bigint", PrimaryKey: true},
		"author_id": {Type: "bigint", NotNull: true},
		"title":     {Type: "text"},
		"score":     {Type: "int"},
	}, schema.ForeignKey{Column: "author_id", Table: "users", RefColumn: "id"})
	return reg
}

func table(t testing.TB, reg *schema.Registry, name string) *schema.Table {
	t.Helper()
	tbl, ok := reg.Table(name)
	require.True(t, ok, "table %s not registered", name)
	return tbl
}

var placeholderPattern = regexp.MustCompile(`\$(\d+)`)

// assertStatement checks the placeholder invariants of a compiled statement:
// placeholders are exactly $1..$N, first occurrences ascend through the
// text, N equals the number of values, and PostgreSQL can parse the SQL.
func assertStatement(t *testing.T, stmt query.Statement) {
	t.Helper()
	next := 1
	for _, m := range placeholderPattern.FindAllStringSubmatch(stmt.SQL, -1) {
		n, err := strconv.Atoi(m[1])
		require.NoError(t, err)
		if n == next {
			next++
			continue
		}
		assert.Less(t, n, next, "placeholder $%d appears before $%d in %s", n, next, stmt.SQL)
	}
	assert.Equal(t, len(stmt.Values), next-1, "placeholder count vs values in %s", stmt.SQL)

	_, err := pg_query.Parse(stmt.SQL)
	assert.NoError(t, err, "emitted SQL does not parse: %s", stmt.SQL)
}

// setOpTree parses sql with the PostgreSQL parser and describes how it
// groups set operations, e.g. "(users UNION (posts INTERSECT teams))".
// Leaves are the first FROM table of each SELECT.
func setOpTree(t *testing.T, sql string) string {
	t.Helper()
	res, err := pg_query.Parse(sql)
	require.NoError(t, err, sql)
	require.Len(t, res.GetStmts(), 1)
	return describeSetOp(res.GetStmts()[0].GetStmt().GetSelectStmt())
}

func describeSetOp(s *pg_query.SelectStmt) string {
	var op string
	switch s.GetOp() {
	case pg_query.SetOperation_SETOP_UNION:
		op = "UNION"
	case pg_query.SetOperation_SETOP_INTERSECT:
		op = "INTERSECT"
	case pg_query.SetOperation_SETOP_EXCEPT:
		op = "EXCEPT"
	default:
		if from := s.GetFromClause(); len(from) > 0 {
			return from[0].GetRangeVar().GetRelname()
		}
		return "?"
	}
	if s.GetAll() {
		op += " ALL"
	}
	return "(" + describeSetOp(s.GetLarg()) + " " + op + " " + describeSetOp(s.GetRarg()) + ")"
}

func requireValidationError(t *testing.T, err error) *query.ValidationError {
	t.Helper()
	require.Error(t, err)
	require.True(t, query.IsValidationErr(err), "expected a validation error, got %v", err)
	var ve *query.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve
}
