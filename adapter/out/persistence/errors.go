// Package persistence provides PostgreSQL adapters implementing the
// engine's repository ports.
package persistence

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/elie222/inbox-zero-sub011/pkg/apperr"
)

// pgUniqueViolation is the PostgreSQL error code for unique-constraint
// violations.
const pgUniqueViolation = "23505"

// isUniqueViolation handles both the pgx stdlib driver and lib/pq.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapWrite translates driver errors on writes; resource names the
// conflicting entity for duplicate reporting.
func mapWrite(err error, resource string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return apperr.Duplicate(resource)
	}
	return apperr.DatabaseError(err)
}
