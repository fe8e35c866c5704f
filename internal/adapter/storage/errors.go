package storage

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rl1809/catalog-core/internal/core/domain"
)

// ErrPoolTimeout is returned when no pooled connection frees up within the
// acquisition timeout.
var ErrPoolTimeout = fmt.Errorf("connection acquisition timed out: %w", domain.ErrStoreUnavailable)

// classify wraps a driver error for the service layer. Domain errors pass
// through, integrity violations stay plain and values the columns cannot
// hold become domain.ErrValidation. Everything else (timeouts, broken
// connections, deadlocks, serialization failures) becomes
// domain.ErrStoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	if isIntegrityViolation(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if isDataException(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrValidation, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

func isIntegrityViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, // duplicate entry
			1451, // row is referenced
			1452, // foreign key missing
			3819: // check constraint
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 23: integrity constraint violation
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "23"
	}
	return false
}

func isDataException(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1264, // out of range value
			1366, // incorrect value
			1406, // data too long
			1690: // value out of range in expression
			return true
		}
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 22: data exception
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "22"
	}
	return false
}
