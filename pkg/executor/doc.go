// Package executor runs compiled statements against PostgreSQL.
//
// Two backends are provided: New wraps database/sql handles (*sql.DB,
// *sql.Tx, *sql.Conn) opened with lib/pq or the pgx stdlib driver, and
// NewPgx wraps native pgx handles (*pgxpool.Pool, *pgx.Conn, pgx.Tx).
// Both return every row as a map keyed by column name.
//
//	stmt, err := query.Compile(q)
//	if err != nil {
//		return err
//	}
//	res, err := executor.NewPgx(pool).Execute(ctx, stmt)
//
// Errors reported by PostgreSQL are returned as *ExecutionError carrying
// the SQLSTATE code. Statements are never retried.
package executor
