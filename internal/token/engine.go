/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package token implements the stateless crypto of the token service: the
// ECDH key agreement with HKDF derivation which produces a per-user
// pre-shared key, and the RFC 4226 HOTP codes computed from it.
package token

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"fmt"
	"hash"
	"io"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"golang.org/x/crypto/hkdf"
)

// Defaults for the crypto configuration block.
const (
	DefaultCurve        = "x25519"
	DefaultHash         = "SHA256"
	DefaultEncoding     = "b64"
	DefaultDigits       = 6
	DefaultSecretLength = 20
)

var (
	// ErrUnsupportedAlgorithm is returned when the configured curve, hash
	// or export encoding is not registered.
	ErrUnsupportedAlgorithm = fmt.Errorf("unsupported algorithm")

	// ErrInvalidKeyEncoding is returned when peer public key bytes cannot
	// be decoded or parsed.
	ErrInvalidKeyEncoding = fmt.Errorf("invalid key encoding")
)

// Config selects the algorithms used by an Engine. Zero values fall back to
// the defaults above.
type Config struct {
	Curve        string
	Hash         string
	Encoding     string
	Digits       int
	SecretLength int
}

// Engine computes key pairs, pre-shared keys and HOTP codes. It keeps no
// state besides the resolved algorithm set and is safe for concurrent use.
type Engine struct {
	curve     ecdh.Curve
	hash      func() hash.Hash
	algorithm otp.Algorithm
	codec     codec
	digits    int
	secretLen int
}

// NewEngine resolves the configured algorithm names. Unknown names fail with
// ErrUnsupportedAlgorithm so that a bad configuration aborts startup instead
// of failing on first use.
func NewEngine(config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{}
	}

	engine := &Engine{
		digits:    config.Digits,
		secretLen: config.SecretLength,
	}
	if engine.digits == 0 {
		engine.digits = DefaultDigits
	}
	if engine.secretLen == 0 {
		engine.secretLen = DefaultSecretLength
	}

	curveName := config.Curve
	if curveName == "" {
		curveName = DefaultCurve
	}
	switch curveName {
	case "x25519":
		engine.curve = ecdh.X25519()
	case "p256":
		engine.curve = ecdh.P256()
	case "p384":
		engine.curve = ecdh.P384()
	case "p521":
		engine.curve = ecdh.P521()
	default:
		return nil, fmt.Errorf("%w: curve %q", ErrUnsupportedAlgorithm, curveName)
	}

	hashName := config.Hash
	if hashName == "" {
		hashName = DefaultHash
	}
	switch hashName {
	case "SHA1":
		engine.hash = sha1.New
		engine.algorithm = otp.AlgorithmSHA1
	case "SHA256":
		engine.hash = sha256.New
		engine.algorithm = otp.AlgorithmSHA256
	case "SHA512":
		engine.hash = sha512.New
		engine.algorithm = otp.AlgorithmSHA512
	default:
		return nil, fmt.Errorf("%w: hash %q", ErrUnsupportedAlgorithm, hashName)
	}

	encodingName := config.Encoding
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	var err error
	engine.codec, err = newCodec(encodingName)
	if err != nil {
		return nil, err
	}

	return engine, nil
}

// Digits returns the configured HOTP digit length.
func (engine *Engine) Digits() int {
	return engine.digits
}

// GenerateKeyPair creates a fresh ephemeral key pair for one rekey exchange.
// The private key never leaves process memory, only the encoded public key
// is handed out.
func (engine *Engine) GenerateKeyPair() (*ecdh.PrivateKey, string, error) {
	privateKey, err := engine.curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	return privateKey, engine.codec.EncodeToString(privateKey.PublicKey().Bytes()), nil
}

// DeriveSharedSecret performs the ECDH exchange between the given private
// key and the encoded peer public key, then derives a fixed-length secret
// via HKDF with contextLabel as derivation info. The returned encoded string
// is the PSK persisted against the user.
func (engine *Engine) DeriveSharedSecret(privateKey *ecdh.PrivateKey, peerPublicKey string, contextLabel string) (string, error) {
	peerBytes, err := engine.codec.DecodeString(peerPublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}
	publicKey, err := engine.curve.NewPublicKey(peerBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}

	sharedKey, err := privateKey.ECDH(publicKey)
	if err != nil {
		return "", fmt.Errorf("key exchange failed: %w", err)
	}

	derived := make([]byte, engine.secretLen)
	if _, err := io.ReadFull(hkdf.New(engine.hash, sharedKey, nil, []byte(contextLabel)), derived); err != nil {
		return "", fmt.Errorf("key derivation failed: %w", err)
	}

	return engine.codec.EncodeToString(derived), nil
}

// ComputeHOTP computes the HOTP code for the encoded pre-shared key at the
// exact counter value. Deterministic: the same (secret, counter) pair always
// yields the same code.
func (engine *Engine) ComputeHOTP(presharedKey string, counter uint64) (string, error) {
	secret, err := engine.codec.DecodeString(presharedKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
	}

	code, err := hotp.GenerateCodeCustom(
		base32.StdEncoding.EncodeToString(secret),
		counter,
		hotp.ValidateOpts{
			Digits:    otp.Digits(engine.digits),
			Algorithm: engine.algorithm,
		},
	)
	if err != nil {
		return "", fmt.Errorf("hotp generation failed: %w", err)
	}

	return code, nil
}

// HashDigest returns the encoded digest of the given plain text using the
// configured hash and export encoding. Password digests in the credential
// store use this form.
func (engine *Engine) HashDigest(plainText string) string {
	h := engine.hash()
	h.Write([]byte(plainText))
	return engine.codec.EncodeToString(h.Sum(nil))
}

// VerifyDigest compares the digest of plainText against an expected digest
// in constant time.
func (engine *Engine) VerifyDigest(plainText, digest string) bool {
	computed := engine.HashDigest(plainText)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
