package commands

import (
	"database/sql"

	"github.com/teranos/gdscraper/am"
	"github.com/teranos/gdscraper/db"
	"github.com/teranos/gdscraper/errors"
	"github.com/teranos/gdscraper/logger"
)

// defaultDatabasePath is used when the configuration names no database
const defaultDatabasePath = "gdscraper.db"

// openDatabase opens and migrates the database at dbPath, or the configured
// one when dbPath is empty.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}
	if dbPath == "" {
		dbPath = defaultDatabasePath
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
