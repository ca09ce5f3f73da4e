/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tknacs/tknacsd/internal/store"
)

// Config bundles gateway configuration settings.
type Config struct {
	Context context.Context
	Logger  logrus.FieldLogger

	Store  store.Store
	Tokens TokenRequester
	Router Router

	Behavior Behavior

	// Domain is the hostname announced in the SMTP greeting.
	Domain string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int
	MaxRecipients   int

	// TLSConfig enables STARTTLS when set. Implicit TLS is done by the
	// caller wrapping the listener before Serve.
	TLSConfig *tls.Config
}
