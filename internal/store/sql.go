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

	"github.com/sirupsen/logrus"
)

// sqlStore implements Store on database/sql. The backend constructors only
// differ in how they open the handle, create the schema and recognize
// uniqueness violations.
type sqlStore struct {
	db     *sql.DB
	logger logrus.FieldLogger

	defaultDomain string
	isConflict    func(error) bool
}

var _ Store = (*sqlStore)(nil) // Verify that *sqlStore implements Store.

func (s *sqlStore) resolveDomain(domain string) (string, error) {
	if domain != "" {
		return domain, nil
	}
	if s.defaultDomain != "" {
		return s.defaultDomain, nil
	}
	return "", ErrMissingDomain
}

func wrapErr(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *sqlStore) AddUser(ctx context.Context, local, domain, passwordDigest string) error {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	var digest interface{}
	if passwordDigest != "" {
		digest = passwordDigest
	}
	if _, err = tx.ExecContext(ctx, queries["addUser"], local, domain, digest); err != nil {
		if s.isConflict(err) {
			return fmt.Errorf("%w: %s@%s", ErrConflict, local, domain)
		}
		return wrapErr(err)
	}
	if _, err = tx.ExecContext(ctx, queries["addHotpState"], local, domain); err != nil {
		return wrapErr(err)
	}

	if err = tx.Commit(); err != nil {
		return wrapErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"local":  local,
		"domain": domain,
	}).Debugln("user added")
	return nil
}

func (s *sqlStore) DeleteUser(ctx context.Context, local, domain string) error {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return err
	}

	// Grants go first so a partial delete never leaves grants referencing
	// a missing user.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	for _, op := range []string{"deleteUserGrants", "deleteHotpState", "deleteUser"} {
		if _, err = tx.ExecContext(ctx, queries[op], local, domain); err != nil {
			return wrapErr(err)
		}
	}

	if err = tx.Commit(); err != nil {
		return wrapErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"local":  local,
		"domain": domain,
	}).Debugln("user deleted")
	return nil
}

func (s *sqlStore) Exists(ctx context.Context, local, domain string) (bool, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return false, err
	}

	var one int
	err = s.db.QueryRowContext(ctx, queries["userExists"], local, domain).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(err)
	}
	return true, nil
}

func (s *sqlStore) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, queries["listUsers"])
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		if err = rows.Scan(&user.Local, &user.Domain); err != nil {
			return nil, wrapErr(err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return users, nil
}

func (s *sqlStore) SetPassword(ctx context.Context, local, domain, passwordDigest string) error {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, queries["setPassword"], passwordDigest, local, domain)
	if err != nil {
		return wrapErr(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s@%s", ErrNotFound, local, domain)
	}
	return nil
}

func (s *sqlStore) PasswordDigest(ctx context.Context, local, domain string) (string, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return "", err
	}

	var digest sql.NullString
	err = s.db.QueryRowContext(ctx, queries["getPassword"], local, domain).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s@%s", ErrNotFound, local, domain)
	}
	if err != nil {
		return "", wrapErr(err)
	}
	return digest.String, nil
}

func (s *sqlStore) UpdatePSK(ctx context.Context, local, domain, psk string, counter uint64) error {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return err
	}

	// A rekey invalidates the issuance context of every outstanding grant,
	// they are purged together with the PSK/counter reset.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queries["updatePSK"], psk, counter, local, domain)
	if err != nil {
		return wrapErr(err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s@%s", ErrNotFound, local, domain)
	}
	if _, err = tx.ExecContext(ctx, queries["deleteUserGrants"], local, domain); err != nil {
		return wrapErr(err)
	}

	if err = tx.Commit(); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *sqlStore) CounterAndPSK(ctx context.Context, local, domain string) (string, uint64, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return "", 0, err
	}

	var psk sql.NullString
	var counter uint64
	err = s.db.QueryRowContext(ctx, queries["getHotpState"], local, domain).Scan(&psk, &counter)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, fmt.Errorf("%w: %s@%s", ErrNotFound, local, domain)
	}
	if err != nil {
		return "", 0, wrapErr(err)
	}
	return psk.String, counter, nil
}

func (s *sqlStore) IssueToken(ctx context.Context, local, domain, sender, token string, counterAtIssuance uint64) error {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return err
	}

	// Grant insert and counter bump are one atomic unit, a crash between
	// the two must not leave a reusable HOTP code behind.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, queries["insertGrant"], sender, local, domain, token, counterAtIssuance); err != nil {
		return wrapErr(err)
	}
	if _, err = tx.ExecContext(ctx, queries["bumpCounter"], counterAtIssuance+1, local, domain); err != nil {
		return wrapErr(err)
	}

	if err = tx.Commit(); err != nil {
		return wrapErr(err)
	}

	s.logger.WithFields(logrus.Fields{
		"local":  local,
		"domain": domain,
		"sender": sender,
	}).Debugln("token issued")
	return nil
}

func (s *sqlStore) IsTokenValid(ctx context.Context, local, domain, sender, token string) (bool, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return false, err
	}

	var one int
	err = s.db.QueryRowContext(ctx, queries["grantExists"], sender, local, domain, token).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr(err)
	}
	return true, nil
}

func (s *sqlStore) ConsumeToken(ctx context.Context, local, domain, token string) (bool, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return false, err
	}
	return s.consume(ctx, queries["deleteGrant"], local, domain, token)
}

func (s *sqlStore) ConsumeSenderToken(ctx context.Context, local, domain, sender, token string) (bool, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return false, err
	}
	return s.consume(ctx, queries["deleteSenderGrant"], sender, local, domain, token)
}

// consume deletes a grant as a single statement and decides consumption by
// the affected row count. Two racing consumers of the same token can
// therefore never both succeed.
func (s *sqlStore) consume(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrapErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return affected > 0, nil
}

func (s *sqlStore) Grants(ctx context.Context, local, domain string) ([]Grant, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, queries["listGrants"], local, domain)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var grant Grant
		if err = rows.Scan(&grant.Token, &grant.Sender); err != nil {
			return nil, wrapErr(err)
		}
		grants = append(grants, grant)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return grants, nil
}

func (s *sqlStore) SenderGrants(ctx context.Context, local, domain, sender string) ([]string, error) {
	domain, err := s.resolveDomain(domain)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, queries["listSenderGrants"], local, domain, sender)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err = rows.Scan(&token); err != nil {
			return nil, wrapErr(err)
		}
		tokens = append(tokens, token)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return tokens, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
