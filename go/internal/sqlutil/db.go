package sqlutil

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql a repository needs, satisfied by both
// *sql.DB and *sql.Tx so repositories can be rebound into a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
