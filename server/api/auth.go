/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/tknacs/tknacsd/internal/address"
	"github.com/tknacs/tknacsd/internal/store"
)

// requireAuth wraps per-user routes with HTTP Basic authentication. The
// authenticated principal must match the {username} path element, so a valid
// credential never grants access to another user's resources.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := r.PathValue("username")

		principal, password, ok := r.BasicAuth()
		if !ok {
			h.unauthorized(w)
			return
		}
		if subtle.ConstantTimeCompare([]byte(principal), []byte(username)) != 1 {
			h.unauthorized(w)
			return
		}

		userAddr, err := address.Parse(username)
		if err != nil {
			h.unauthorized(w)
			return
		}

		digest, err := h.store.PasswordDigest(r.Context(), userAddr.Local, userAddr.Domain)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				h.unauthorized(w)
				return
			}
			h.storageError(w, h.logger.WithField("username", username), err)
			return
		}
		if digest == "" || !h.engine.VerifyDigest(password, digest) {
			h.logger.WithField("username", username).Warnln("failed authentication attempt")
			h.unauthorized(w)
			return
		}

		next(w, r)
	}
}

func (h *Handler) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="tknacsd"`)
	writeDetail(w, http.StatusUnauthorized, "Not authenticated")
}
