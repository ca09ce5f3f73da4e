/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, defaultDomain string) Store {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := Open(context.Background(), &Config{
		Logger:        logger,
		Type:          TypeSQLite3,
		DefaultDomain: defaultDomain,
		SQLite3Path:   filepath.Join(t.TempDir(), "tknacs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestOpenUnknownType(t *testing.T) {
	_, err := Open(context.Background(), &Config{Type: "postgres"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownType))
}

func TestAddUserConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))

	err := s.AddUser(ctx, "alice", "example.com", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// Same local part under another domain is a different user.
	require.NoError(t, s.AddUser(ctx, "alice", "example.net", ""))
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	ok, err := s.Exists(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))

	ok, err = s.Exists(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDefaultDomainResolution(t *testing.T) {
	ctx := context.Background()

	s := newTestStore(t, "example.com")
	require.NoError(t, s.AddUser(ctx, "alice", "", ""))

	ok, err := s.Exists(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	noDefault := newTestStore(t, "")
	_, err = noDefault.Exists(ctx, "alice", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingDomain))
}

func TestPassword(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))

	digest, err := s.PasswordDigest(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Empty(t, digest)

	require.NoError(t, s.SetPassword(ctx, "alice", "example.com", "digest-value"))
	digest, err = s.PasswordDigest(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "digest-value", digest)

	err = s.SetPassword(ctx, "nobody", "example.com", "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.PasswordDigest(ctx, "nobody", "example.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpdatePSKResetsCounterAndPurgesGrants(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))

	psk, counter, err := s.CounterAndPSK(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Empty(t, psk)
	assert.Equal(t, uint64(0), counter)

	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "111111", 0))

	require.NoError(t, s.UpdatePSK(ctx, "alice", "example.com", "fresh-psk", 0))

	psk, counter, err = s.CounterAndPSK(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Equal(t, "fresh-psk", psk)
	assert.Equal(t, uint64(0), counter)

	ok, err := s.IsTokenValid(ctx, "alice", "example.com", "bob@x.com", "111111")
	require.NoError(t, err)
	assert.False(t, ok, "rekey must purge outstanding grants")

	err = s.UpdatePSK(ctx, "nobody", "example.com", "psk", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestIssueValidateConsume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "123456", 0))

	_, counter, err := s.CounterAndPSK(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter, "issuance must advance the counter")

	ok, err := s.IsTokenValid(ctx, "alice", "example.com", "bob@x.com", "123456")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsTokenValid(ctx, "alice", "example.com", "eve@x.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok, "grant is scoped to its sender")

	consumed, err := s.ConsumeToken(ctx, "alice", "example.com", "123456")
	require.NoError(t, err)
	assert.True(t, consumed)

	ok, err = s.IsTokenValid(ctx, "alice", "example.com", "bob@x.com", "123456")
	require.NoError(t, err)
	assert.False(t, ok)

	// Consuming a nonexistent token is a no-op, not an error.
	consumed, err = s.ConsumeToken(ctx, "alice", "example.com", "123456")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestGrantListings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "111111", 0))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "carol@y.com", "222222", 1))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "333333", 2))

	grants, err := s.Grants(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.Len(t, grants, 3)

	tokens, err := s.SenderGrants(ctx, "alice", "example.com", "bob@x.com")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"111111", "333333"}, tokens)
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "111111", 0))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "carol@y.com", "222222", 1))

	require.NoError(t, s.DeleteUser(ctx, "alice", "example.com"))

	ok, err := s.Exists(ctx, "alice", "example.com")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, grant := range []Grant{
		{Token: "111111", Sender: "bob@x.com"},
		{Token: "222222", Sender: "carol@y.com"},
	} {
		ok, err = s.IsTokenValid(ctx, "alice", "example.com", grant.Sender, grant.Token)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "bob", "example.net", ""))
	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))

	users, err := s.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []User{
		{Local: "alice", Domain: "example.com"},
		{Local: "bob", Domain: "example.net"},
	}, users)
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "")

	require.NoError(t, s.AddUser(ctx, "alice", "example.com", ""))
	require.NoError(t, s.IssueToken(ctx, "alice", "example.com", "bob@x.com", "777777", 0))

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := s.ConsumeSenderToken(ctx, "alice", "example.com", "bob@x.com", "777777")
			if err != nil {
				t.Errorf("consume failed: %v", err)
				return
			}
			results <- consumed
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for consumed := range results {
		if consumed {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one racing consumer may win")
}
