package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Gateway is the Persistence Gateway: typed operations on the relational
// store (spec.md §4.2). It owns connection pooling (via the *sql.DB it
// wraps) and keeps every write inside a single statement or a short
// transaction — no long-held transactions.
type Gateway struct {
	db *sql.DB
}

// New builds a Gateway over an already-connected, migrated database pool.
func New(db *sql.DB) *Gateway {
	return &Gateway{db: db}
}

// classifyErr maps a driver-level error into spec.md §7's taxonomy.
// Connectivity failures become ErrUnavailable (retryable); anything else
// is passed through unchanged so callers can inspect it directly.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exception, 57 = operator intervention
		// (admin shutdown, crash). Both are transient from the caller's
		// point of view.
		switch pgErr.Code[:2] {
		case "08", "57":
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// pgErrCode extracts the Postgres SQLSTATE code from err, or "" if err
// isn't a *pgconn.PgError.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrCode(err) == "23505"
}
