/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package store

// queries is the embedded query table keyed by operation name. Both
// backends use ? placeholders, only the DDL differs per dialect.
var queries = map[string]string{
	"addUser":       "INSERT INTO users (local, domain, password_digest) VALUES (?, ?, ?)",
	"addHotpState":  "INSERT INTO hotp_state (local, domain, psk, counter) VALUES (?, ?, NULL, 0)",
	"userExists":    "SELECT 1 FROM users WHERE local = ? AND domain = ?",
	"listUsers":     "SELECT local, domain FROM users ORDER BY domain, local",
	"setPassword":   "UPDATE users SET password_digest = ? WHERE local = ? AND domain = ?",
	"getPassword":   "SELECT password_digest FROM users WHERE local = ? AND domain = ?",
	"updatePSK":     "UPDATE hotp_state SET psk = ?, counter = ? WHERE local = ? AND domain = ?",
	"getHotpState":  "SELECT psk, counter FROM hotp_state WHERE local = ? AND domain = ?",
	"insertGrant":   "INSERT INTO token_grants (sender, local, domain, token, counter) VALUES (?, ?, ?, ?, ?)",
	"bumpCounter":   "UPDATE hotp_state SET counter = ? WHERE local = ? AND domain = ?",
	"grantExists":   "SELECT 1 FROM token_grants WHERE sender = ? AND local = ? AND domain = ? AND token = ?",
	"deleteGrant":   "DELETE FROM token_grants WHERE local = ? AND domain = ? AND token = ?",
	"deleteSenderGrant": "DELETE FROM token_grants WHERE sender = ? AND local = ? AND domain = ? AND token = ?",
	"listGrants":        "SELECT token, sender FROM token_grants WHERE local = ? AND domain = ?",
	"listSenderGrants":  "SELECT token FROM token_grants WHERE local = ? AND domain = ? AND sender = ?",
	"deleteUserGrants":  "DELETE FROM token_grants WHERE local = ? AND domain = ?",
	"deleteHotpState":   "DELETE FROM hotp_state WHERE local = ? AND domain = ?",
	"deleteUser":        "DELETE FROM users WHERE local = ? AND domain = ?",
}

var createTablesSQLite3 = []string{
	`CREATE TABLE IF NOT EXISTS users (
		local TEXT NOT NULL,
		domain TEXT NOT NULL,
		password_digest TEXT,
		PRIMARY KEY (local, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS hotp_state (
		local TEXT NOT NULL,
		domain TEXT NOT NULL,
		psk TEXT,
		counter INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (local, domain),
		FOREIGN KEY (local, domain) REFERENCES users (local, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS token_grants (
		sender TEXT NOT NULL,
		local TEXT NOT NULL,
		domain TEXT NOT NULL,
		token TEXT NOT NULL,
		counter INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (local, domain) REFERENCES users (local, domain)
	)`,
}

var createTablesMySQL = []string{
	`CREATE TABLE IF NOT EXISTS users (
		local VARCHAR(128) NOT NULL,
		domain VARCHAR(255) NOT NULL,
		password_digest TEXT,
		PRIMARY KEY (local, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS hotp_state (
		local VARCHAR(128) NOT NULL,
		domain VARCHAR(255) NOT NULL,
		psk TEXT,
		counter BIGINT UNSIGNED NOT NULL DEFAULT 0,
		PRIMARY KEY (local, domain),
		FOREIGN KEY (local, domain) REFERENCES users (local, domain)
	)`,
	`CREATE TABLE IF NOT EXISTS token_grants (
		sender VARCHAR(255) NOT NULL,
		local VARCHAR(128) NOT NULL,
		domain VARCHAR(255) NOT NULL,
		token VARCHAR(16) NOT NULL,
		counter BIGINT UNSIGNED NOT NULL DEFAULT 0,
		FOREIGN KEY (local, domain) REFERENCES users (local, domain)
	)`,
}
