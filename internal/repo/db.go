package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	pgconn5 "github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx, so the
// same repository can run standalone or inside a checkout transaction.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn5.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// isUniqueViolation reports whether the error is a postgres duplicate-key
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr5 *pgconn5.PgError
	if errors.As(err, &pgErr5) {
		return pgErr5.Code == "23505"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
