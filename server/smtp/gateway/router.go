/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"context"
	"io"

	"github.com/emersion/go-smtp"

	"github.com/tknacs/tknacsd/server/api"
)

// TokenRequester requests fresh tokens from the issuance API. Implemented by
// api.Client, abstracted so session tests can substitute their own.
type TokenRequester interface {
	RequestToken(ctx context.Context, sender, recipient string) (*api.TokenResponse, error)
}

var _ TokenRequester = (*api.Client)(nil)

// Router hands out delivery routes for accepted messages.
type Router interface {
	GetRoute(domain string) (Route, error)
}

// Route carries one accepted message towards its destination.
type Route interface {
	Mail(ctx context.Context, from string, opts smtp.MailOptions) error
	Rcpt(ctx context.Context, rcptTo string) error
	Data(ctx context.Context, r io.Reader) error
}
