package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgExclusionViolation   = "23P01"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// ErrWriteConflict marks a write that lost a race at the storage layer.
var ErrWriteConflict = apperror.Conflict("write_conflict")

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	if hasPGCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsConflictErr reports storage errors caused by concurrent writers:
// unique and exclusion violations, serialization failures, deadlocks and
// lock timeouts.
func IsConflictErr(err error) bool {
	if err == nil {
		return false
	}
	if IsDuplicateKeyErr(err) {
		return true
	}
	for _, code := range []string{pgExclusionViolation, pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable} {
		if hasPGCode(err, code) {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "Error 1213")
}

// Classify maps conflict-class storage errors onto ErrWriteConflict and
// returns every other error unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if apperror.KindOf(err) != "" {
		return err
	}
	if IsConflictErr(err) {
		return ErrWriteConflict.Wrap(err)
	}
	return err
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
