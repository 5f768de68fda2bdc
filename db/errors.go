package db

import (
	"strings"

	"github.com/teranos/gdscraper/errors"
)

// ErrDatabaseClosed is returned when operations run against a closed database,
// usually a worker or the bus poller finishing after shutdown closed the handle.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is gone.
// database/sql returns its own unwrapped error for this, so the message is
// matched as a fallback.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
