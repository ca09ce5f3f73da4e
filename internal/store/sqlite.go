/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
)

const sqlite3DSNOptions = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

func openSQLite3(ctx context.Context, config *Config) (Store, error) {
	if config.SQLite3Path == "" {
		return nil, fmt.Errorf("sqlite3 database path must not be empty")
	}

	logger := config.Logger.WithField("scope", "store-sqlite3")
	logger.WithField("path", config.SQLite3Path).Debugln("opening sqlite3 database")

	db, err := sql.Open("sqlite", config.SQLite3Path+sqlite3DSNOptions)
	if err != nil {
		return nil, wrapErr(err)
	}

	if err = pingWithBackoff(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	for _, ddl := range createTablesSQLite3 {
		if _, err = db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, wrapErr(err)
		}
	}

	return &sqlStore{
		db:     db,
		logger: logger,

		defaultDomain: config.DefaultDomain,
		isConflict:    isSQLite3Conflict,
	}, nil
}

func isSQLite3Conflict(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case 19, 1555, 2067: // SQLITE_CONSTRAINT and its PRIMARYKEY/UNIQUE variants.
		return true
	}
	return false
}
