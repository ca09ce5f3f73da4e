/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package server

import (
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// Config bundles configuration settings.
type Config struct {
	Logger logrus.FieldLogger

	OnReady func(*Server)

	// HTTP token issuance API.
	HTTPListenAddr  string
	HTTPTLSCertFile string
	HTTPTLSKeyFile  string

	// SMTP gateway.
	SMTPListenAddr  string
	SMTPTLSCertFile string
	SMTPTLSKeyFile  string
	SMTPTLSMode     string // "", "SSL" or "STARTTLS"
	SMTPBehavior    string
	SMTPDomain      string

	SMTPReadTimeout     time.Duration
	SMTPWriteTimeout    time.Duration
	SMTPMaxMessageBytes int
	SMTPMaxRecipients   int

	// MDAAddr is the downstream delivery agent. When empty, accepted
	// messages are logged instead of forwarded.
	MDAAddr string

	// APIBaseURI is where the gateway requests tokens for the REQUEST
	// behavior. Defaults to the local HTTP listener.
	APIBaseURI  *url.URL
	APIInsecure bool

	// Database.
	DatabaseType  string
	DefaultDomain string
	SQLite3Path   string
	MySQLHost     string
	MySQLUser     string
	MySQLPassword string
	MySQLDatabase string

	// Crypto block.
	Curve    string
	Hash     string
	Encoding string
	Digits   int
	Window   int
}
