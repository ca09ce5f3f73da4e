/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jpillora/backoff"
)

const pingAttempts = 5

// pingWithBackoff verifies connectivity, retrying a few times so a database
// which is still starting up does not immediately abort our own startup.
func pingWithBackoff(ctx context.Context, db *sql.DB) error {
	b := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if b.Attempt() >= pingAttempts-1 {
			return wrapErr(err)
		}
		select {
		case <-ctx.Done():
			return wrapErr(ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
}
