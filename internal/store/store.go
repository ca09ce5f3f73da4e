/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package store persists users, their HOTP counter/PSK state and the
// outstanding token grants. It is the only shared mutable resource of the
// system; token issuance and consumption are atomic at this boundary.
package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Supported database backends.
const (
	TypeSQLite3 = "sqlite3"
	TypeMySQL   = "mysql"
)

var (
	// ErrMissingDomain is returned when no domain is given and no default
	// domain is configured.
	ErrMissingDomain = fmt.Errorf("no domain given and no default domain configured")

	// ErrConflict is returned when inserting a user which already exists.
	ErrConflict = fmt.Errorf("user already exists")

	// ErrNotFound is returned when a requested user is not in the store.
	ErrNotFound = fmt.Errorf("user not found")

	// ErrUnavailable wraps backend failures. Callers must treat it as a
	// hard deny, retries are not performed here.
	ErrUnavailable = fmt.Errorf("storage unavailable")

	// ErrUnknownType is returned by Open for an unrecognized backend
	// selector. This is a fatal configuration error.
	ErrUnknownType = fmt.Errorf("unknown database type")
)

// User identifies one mailbox owner.
type User struct {
	Local  string
	Domain string
}

// Grant is one outstanding token authorization. A grant exists exactly as
// long as it has not been consumed.
type Grant struct {
	Token  string
	Sender string
}

// Store is the credential persistence contract shared by the SMTP gateway
// and the issuance API. All operations resolve an empty domain to the
// configured default domain and fail with ErrMissingDomain when there is
// none.
type Store interface {
	// AddUser inserts the user together with its empty counter/PSK state.
	// Inserting an existing user fails with ErrConflict.
	AddUser(ctx context.Context, local, domain, passwordDigest string) error

	// DeleteUser removes all grants of the user, then the user itself.
	DeleteUser(ctx context.Context, local, domain string) error

	// Exists reports whether the user is known.
	Exists(ctx context.Context, local, domain string) (bool, error)

	// Users lists all known users.
	Users(ctx context.Context) ([]User, error)

	// SetPassword stores the password digest for the user.
	SetPassword(ctx context.Context, local, domain, passwordDigest string) error

	// PasswordDigest returns the stored digest, empty when never set.
	PasswordDigest(ctx context.Context, local, domain string) (string, error)

	// UpdatePSK overwrites PSK and counter in a single transaction and
	// purges all outstanding grants of the user, whose issuance context is
	// stale after a rekey.
	UpdatePSK(ctx context.Context, local, domain, psk string, counter uint64) error

	// CounterAndPSK returns the current PSK (empty until the first rekey)
	// and HOTP counter.
	CounterAndPSK(ctx context.Context, local, domain string) (string, uint64, error)

	// IssueToken inserts a grant and advances the user counter to
	// counterAtIssuance+1. Both writes commit or neither does.
	IssueToken(ctx context.Context, local, domain, sender, token string, counterAtIssuance uint64) error

	// IsTokenValid reports whether a matching grant exists. No mutation.
	IsTokenValid(ctx context.Context, local, domain, sender, token string) (bool, error)

	// ConsumeToken deletes the matching grant in a single statement and
	// reports whether one was deleted. Consuming a nonexistent token is
	// not an error.
	ConsumeToken(ctx context.Context, local, domain, token string) (bool, error)

	// ConsumeSenderToken is ConsumeToken additionally scoped to a sender.
	// This is the gateway's atomic check-and-delete: at most one of two
	// racing consumers can observe true.
	ConsumeSenderToken(ctx context.Context, local, domain, sender, token string) (bool, error)

	// Grants lists all outstanding grants of the user.
	Grants(ctx context.Context, local, domain string) ([]Grant, error)

	// SenderGrants lists the outstanding tokens issued to a sender for the
	// user.
	SenderGrants(ctx context.Context, local, domain, sender string) ([]string, error)

	Close() error
}

// Config selects and parametrizes the backend.
type Config struct {
	Logger logrus.FieldLogger

	Type          string
	DefaultDomain string

	SQLite3Path string

	MySQLDatabase string
	MySQLHost     string
	MySQLUser     string
	MySQLPassword string
}

// Open creates the configured backend, verifies connectivity and creates
// the schema. The backend selector maps to a constructor here; an unknown
// value fails with ErrUnknownType so startup aborts.
func Open(ctx context.Context, config *Config) (Store, error) {
	switch config.Type {
	case TypeSQLite3:
		return openSQLite3(ctx, config)
	case TypeMySQL:
		return openMySQL(ctx, config)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, config.Type)
	}
}
