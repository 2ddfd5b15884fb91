// ABOUTME: Sentinel errors shared by the repositories
// ABOUTME: Maps SQLite busy/locked failures onto ErrLocked so callers can retry
package db

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrAccountNotFound = errors.New("calendar account not found")
	ErrEventNotFound   = errors.New("mirrored event not found")
	ErrInvalidEvent    = errors.New("invalid mirrored event")
	ErrLocked          = errors.New("database is locked")
)

// IsLocked reports whether err is a SQLite write-contention failure.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrLocked) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// classify wraps contention failures in ErrLocked and leaves the rest alone.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrLocked) {
		return err
	}
	if IsLocked(err) {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	return err
}
