package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsTransient reports whether err is a lock-contention failure that may
// succeed if the same statement is retried later (SQLITE_BUSY, SQLITE_LOCKED).
// Constraint violations, I/O and schema errors are never transient.
func IsTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return true
	default:
		return false
	}
}
