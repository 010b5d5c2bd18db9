package state

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// txDB adapts an open pgx.Tx to the [DB] interface so staged [Mutation]
// functions can run unmodified inside Commit's transaction instead of
// against the pool directly.
type txDB struct {
	tx pgx.Tx
}

func (t txDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.tx.Exec(ctx, sql, args...)
}

func (t txDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.tx.Query(ctx, sql, args...)
}

func (t txDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.tx.QueryRow(ctx, sql, args...)
}

func (t txDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return t.tx.Begin(ctx)
}
