package testutil

import (
	"context"
	"fmt"

	"github.com/pthm/pgquery/pkg/executor"
	"github.com/pthm/pgquery/pkg/query"
	"github.com/pthm/pgquery/pkg/schema"
)

// Fixtures creates test rows through compiled INSERT statements.
type Fixtures struct {
	ctx  context.Context
	exec executor.Executor
	reg  *schema.Registry
}

// NewFixtures creates fixtures that insert through exec.
func NewFixtures(ctx context.Context, exec executor.Executor, reg *schema.Registry) *Fixtures {
	return &Fixtures{ctx: ctx, exec: exec, reg: reg}
}

// User is one users row to create.
type User struct {
	TeamID  int64
	Email   string
	Age     int
	Role    string
	Tags    []string
	Profile string // JSON document
	Active  *bool
}

// CreateTeam creates a team and returns its id.
func (f *Fixtures) CreateTeam(name string) (int64, error) {
	ids, err := f.insert("teams", []query.Row{{"name": name}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// CreateUsers creates users and returns their ids in order.
func (f *Fixtures) CreateUsers(users ...User) ([]int64, error) {
	rows := make([]query.Row, len(users))
	for i, u := range users {
		row := query.Row{"email": u.Email}
		if u.TeamID != 0 {
			row["team_id"] = u.TeamID
		}
		if u.Age != 0 {
			row["age"] = u.Age
		}
		if u.Role != "" {
			row["role"] = u.Role
		}
		if u.Tags != nil {
			row["tags"] = u.Tags
		}
		if u.Profile != "" {
			row["profile"] = u.Profile
		}
		if u.Active != nil {
			row["active"] = *u.Active
		}
		rows[i] = row
	}
	return f.insert("users", rows)
}

// CreatePost creates a post and returns its id.
func (f *Fixtures) CreatePost(authorID int64, title string, score int, published bool) (int64, error) {
	ids, err := f.insert("posts", []query.Row{{
		"author_id": authorID,
		"title":     title,
		"score":     score,
		"published": published,
	}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

func (f *Fixtures) insert(table string, rows []query.Row) ([]int64, error) {
	t, ok := f.reg.Table(table)
	if !ok {
		return nil, fmt.Errorf("unknown table %s", table)
	}
	stmt, err := query.New().Insert(&query.Insert{Table: t, Rows: rows, Returning: []string{"id"}})
	if err != nil {
		return nil, fmt.Errorf("compile insert into %s: %w", table, err)
	}
	res, err := f.exec.Execute(f.ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	ids := make([]int64, len(res.Rows))
	for i, r := range res.Rows {
		id, ok := r["id"].(int64)
		if !ok {
			return nil, fmt.Errorf("insert into %s: unexpected id %T", table, r["id"])
		}
		ids[i] = id
	}
	return ids, nil
}
