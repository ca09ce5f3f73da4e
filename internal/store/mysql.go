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

	mysql "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

func openMySQL(ctx context.Context, config *Config) (Store, error) {
	if config.MySQLDatabase == "" {
		return nil, fmt.Errorf("mysql database name must not be empty")
	}

	logger := config.Logger.WithField("scope", "store-mysql")
	logger.WithFields(logrus.Fields{
		"database": config.MySQLDatabase,
		"host":     config.MySQLHost,
	}).Debugln("opening mysql database")

	// Create the database first, connecting without a schema selected.
	adminDSN := fmt.Sprintf("%s:%s@tcp(%s)/", config.MySQLUser, config.MySQLPassword, config.MySQLHost)
	admin, err := sql.Open("mysql", adminDSN)
	if err != nil {
		return nil, wrapErr(err)
	}
	if err = pingWithBackoff(ctx, admin); err != nil {
		admin.Close()
		return nil, err
	}
	if _, err = admin.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+config.MySQLDatabase); err != nil {
		admin.Close()
		return nil, wrapErr(err)
	}
	if err = admin.Close(); err != nil {
		return nil, wrapErr(err)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", config.MySQLUser, config.MySQLPassword, config.MySQLHost, config.MySQLDatabase)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, wrapErr(err)
	}
	if err = pingWithBackoff(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	for _, ddl := range createTablesMySQL {
		if _, err = db.ExecContext(ctx, ddl); err != nil {
			db.Close()
			return nil, wrapErr(err)
		}
	}

	return &sqlStore{
		db:     db,
		logger: logger,

		defaultDomain: config.DefaultDomain,
		isConflict:    isMySQLConflict,
	}, nil
}

func isMySQLConflict(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 // ER_DUP_ENTRY
}
