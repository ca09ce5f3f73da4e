/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package token

import (
	"encoding/base64"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(nil)
	require.NoError(t, err)
	return engine
}

func TestNewEngineUnsupported(t *testing.T) {
	for name, config := range map[string]*Config{
		"curve":    {Curve: "x448"},
		"hash":     {Hash: "MD4"},
		"encoding": {Encoding: "b85"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewEngine(config)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupportedAlgorithm))
		})
	}
}

func TestComputeHOTPDeterministic(t *testing.T) {
	engine := newTestEngine(t)
	psk := base64.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	first, err := engine.ComputeHOTP(psk, 3)
	require.NoError(t, err)
	second, err := engine.ComputeHOTP(psk, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{6}$`), first)
}

func TestComputeHOTPDigits(t *testing.T) {
	engine, err := NewEngine(&Config{Digits: 8})
	require.NoError(t, err)
	psk := base64.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	code, err := engine.ComputeHOTP(psk, 0)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{8}$`), code)
}

func TestComputeHOTPNoCollisionsAcrossCounters(t *testing.T) {
	engine := newTestEngine(t)
	psk := base64.StdEncoding.EncodeToString([]byte("12345678901234567890"))

	seen := make(map[string]uint64)
	for counter := uint64(0); counter < 10; counter++ {
		code, err := engine.ComputeHOTP(psk, counter)
		require.NoError(t, err)
		previous, dup := seen[code]
		require.False(t, dup, "counter %d collides with counter %d on %s", counter, previous, code)
		seen[code] = counter
	}
}

func TestComputeHOTPBadSecretEncoding(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.ComputeHOTP("not-base64!!!", 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidKeyEncoding))
}

func TestDeriveSharedSecretAgreement(t *testing.T) {
	engine := newTestEngine(t)

	serverKey, serverPub, err := engine.GenerateKeyPair()
	require.NoError(t, err)
	clientKey, clientPub, err := engine.GenerateKeyPair()
	require.NoError(t, err)

	serverPSK, err := engine.DeriveSharedSecret(serverKey, clientPub, "alice@example.com")
	require.NoError(t, err)
	clientPSK, err := engine.DeriveSharedSecret(clientKey, serverPub, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, serverPSK, clientPSK)

	otherPSK, err := engine.DeriveSharedSecret(serverKey, clientPub, "bob@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, serverPSK, otherPSK, "different context labels must derive different secrets")
}

func TestDeriveSharedSecretBadPeerKey(t *testing.T) {
	engine := newTestEngine(t)
	serverKey, _, err := engine.GenerateKeyPair()
	require.NoError(t, err)

	for name, peer := range map[string]string{
		"not base64": "%%%%",
		"wrong size": base64.StdEncoding.EncodeToString([]byte("short")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := engine.DeriveSharedSecret(serverKey, peer, "alice@example.com")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidKeyEncoding))
		})
	}
}

func TestHashDigest(t *testing.T) {
	engine := newTestEngine(t)

	digest := engine.HashDigest("hunter2")
	assert.Equal(t, digest, engine.HashDigest("hunter2"))
	assert.True(t, engine.VerifyDigest("hunter2", digest))
	assert.False(t, engine.VerifyDigest("hunter3", digest))
}
