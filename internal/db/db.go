// Package db is the Entity Store's typed access layer (spec.md §4.6). It is
// written by hand in the style sqlc would generate: a DBTX interface any
// pgx handle satisfies, a Queries struct wrapping one, and one method per
// query. Keeping it hand-written (rather than code-generated) lets the
// query set track the orchestration-specific entities in spec.md §3
// directly.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx.Conn/pgxpool.Pool/pgx.Tx that query methods need.
// Accepting it instead of a concrete type lets callers pass a pooled
// connection, a transaction, or the pool itself interchangeably.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries is the Entity Store's query handle.
type Queries struct {
	db DBTX
}

// New creates a Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}
