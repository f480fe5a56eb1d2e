package store

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Fantasim/hdvault/internal/config"
)

var (
	ErrStorage        = errors.New("storage error")
	ErrWalletNotFound = errors.New("wallet not found")
	ErrWalletExists   = errors.New("wallet already exists")
	ErrStaleRecord    = errors.New("wallet record changed since it was loaded")
)

// storageErr wraps err with ErrStorage. Busy and locked conditions are also
// marked transient so callers can retry them. A busy database has already
// waited out busy_timeout, so its retry is paced by StorageBusyRetryAfter
// instead of the short default backoff.
func storageErr(op string, err error) error {
	wrapped := fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
	switch contention(err) {
	case sqlite3.SQLITE_BUSY:
		return config.NewTransientErrorWithRetry(wrapped, config.StorageBusyRetryAfter)
	case sqlite3.SQLITE_LOCKED:
		return config.NewTransientError(wrapped)
	}
	return wrapped
}

// contention returns SQLITE_BUSY or SQLITE_LOCKED when err is one of them, 0 otherwise.
func contention(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch code := se.Code() & 0xff; code {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return code
		}
		return 0
	}
	// Some driver paths return the code only in the message.
	switch msg := err.Error(); {
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return sqlite3.SQLITE_BUSY
	case strings.Contains(msg, "SQLITE_LOCKED"), strings.Contains(msg, "database table is locked"):
		return sqlite3.SQLITE_LOCKED
	}
	return 0
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
