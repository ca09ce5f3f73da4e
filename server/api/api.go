/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package api implements the HTTP token issuance surface: requesting HOTP
// tokens, rekeying a user's pre-shared key and counter/token introspection.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	cmap "github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"

	"github.com/tknacs/tknacsd/internal/address"
	"github.com/tknacs/tknacsd/internal/policy"
	"github.com/tknacs/tknacsd/internal/store"
	"github.com/tknacs/tknacsd/internal/token"
	"github.com/tknacs/tknacsd/version"
)

// Config bundles the handler dependencies.
type Config struct {
	Logger logrus.FieldLogger

	Store  store.Store
	Engine *token.Engine
	Policy *policy.Evaluator

	// Banner extras, exposed on GET / for clients.
	DatabaseType string
	SMTPBehavior string
	HOTPWindow   int
}

// Handler serves the token issuance API. Handlers are stateless besides the
// per-user issuance locks which serialize counter reads against issuance.
type Handler struct {
	logger logrus.FieldLogger

	store  store.Store
	engine *token.Engine
	policy *policy.Evaluator

	databaseType string
	smtpBehavior string
	hotpWindow   int

	issuanceLocks cmap.ConcurrentMap
}

// NewHandler constructs the API handler.
func NewHandler(config *Config) *Handler {
	return &Handler{
		logger: config.Logger.WithField("scope", "api"),

		store:  config.Store,
		engine: config.Engine,
		policy: config.Policy,

		databaseType: config.DatabaseType,
		smtpBehavior: config.SMTPBehavior,
		hotpWindow:   config.HOTPWindow,

		issuanceLocks: cmap.New(),
	}
}

// Routes returns the HTTP handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.banner)
	mux.HandleFunc("GET /requestToken/{$}", h.requestToken)
	mux.HandleFunc("POST /{username}/generateHotpSeed", h.requireAuth(h.generateHotpSeed))
	mux.HandleFunc("GET /{username}/getCount", h.requireAuth(h.getCount))
	mux.HandleFunc("GET /{username}/getAllTokens", h.requireAuth(h.getAllTokens))

	return mux
}

// Banner is the service description served on GET /.
type Banner struct {
	Message  string `json:"message"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Behavior string `json:"behavior"`
	Window   int    `json:"window"`
}

// AllowedFor names the sender/recipient pair a token was issued for.
type AllowedFor struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TokenResponse is the requestToken response body.
type TokenResponse struct {
	Token      string     `json:"token"`
	AllowedFor AllowedFor `json:"allowed_for"`
}

// SeedResponse is the generateHotpSeed response body.
type SeedResponse struct {
	User    string `json:"user"`
	PubKey  string `json:"pubKey"`
	Counter uint64 `json:"counter"`
}

// CounterResponse is the getCount response body.
type CounterResponse struct {
	Username string `json:"username"`
	Counter  uint64 `json:"counter"`
}

// TokensResponse is the getAllTokens response body.
type TokensResponse struct {
	Username string            `json:"username"`
	Tokens   map[string]string `json:"tokens"`
}

func (h *Handler) banner(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &Banner{
		Message:  "Welcome to Token access: a HOTP email validator.",
		Name:     "tknacsd",
		Version:  version.Version,
		Database: h.databaseType,
		Behavior: h.smtpBehavior,
		Window:   h.hotpWindow,
	})
}

func (h *Handler) requestToken(w http.ResponseWriter, r *http.Request) {
	sender := r.URL.Query().Get("sender")
	recipient := r.URL.Query().Get("recipient")

	logger := h.logger.WithFields(logrus.Fields{
		"sender":    sender,
		"recipient": recipient,
	})

	recipientAddr, err := address.Parse(recipient)
	if err != nil {
		logger.WithError(err).Debugln("token request with bad recipient address")
		writeDetail(w, http.StatusTeapot, "Bad email address")
		return
	}

	exists, err := h.store.Exists(r.Context(), recipientAddr.Local, recipientAddr.Domain)
	if err != nil {
		h.storageError(w, logger, err)
		return
	}
	if !exists || !h.policy.Evaluate(sender, recipient) {
		logger.Debugln("token request denied")
		writeDetail(w, http.StatusNotAcceptable, "Policy not allowing this connection.")
		return
	}

	// Serialize issuance per user so concurrent requests never read the
	// same counter value.
	lock := h.userLock(recipientAddr.Format(false))
	lock.Lock()
	defer lock.Unlock()

	psk, counter, err := h.store.CounterAndPSK(r.Context(), recipientAddr.Local, recipientAddr.Domain)
	if err != nil {
		h.storageError(w, logger, err)
		return
	}
	if psk == "" {
		logger.Warnln("token request for user without HOTP seed")
		writeDetail(w, http.StatusNotAcceptable, "Policy not allowing this connection.")
		return
	}

	hotpToken, err := h.engine.ComputeHOTP(psk, counter)
	if err != nil {
		logger.WithError(err).Errorln("hotp computation failed")
		writeDetail(w, http.StatusInternalServerError, "Token generation failed.")
		return
	}

	if err = h.store.IssueToken(r.Context(), recipientAddr.Local, recipientAddr.Domain, sender, hotpToken, counter); err != nil {
		h.storageError(w, logger, err)
		return
	}

	writeJSON(w, http.StatusOK, &TokenResponse{
		Token: hotpToken,
		AllowedFor: AllowedFor{
			From: sender,
			To:   recipient,
		},
	})
}

func (h *Handler) generateHotpSeed(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	logger := h.logger.WithField("username", username)

	userAddr, err := address.Parse(username)
	if err != nil {
		writeDetail(w, http.StatusTeapot, "Bad email address")
		return
	}

	if err = r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "Bad form data")
		return
	}
	peerPublicKey := r.PostFormValue("pubKey")
	if peerPublicKey == "" {
		writeDetail(w, http.StatusBadRequest, "Missing pubKey form field")
		return
	}

	privateKey, serverPublicKey, err := h.engine.GenerateKeyPair()
	if err != nil {
		logger.WithError(err).Errorln("key pair generation failed")
		writeDetail(w, http.StatusInternalServerError, "Key generation failed.")
		return
	}

	psk, err := h.engine.DeriveSharedSecret(privateKey, peerPublicKey, username)
	if err != nil {
		// Security relevant: a malformed key on the rekey endpoint.
		logger.WithError(err).Warnln("rekey with invalid peer public key")
		writeDetail(w, http.StatusBadRequest, "Invalid public key")
		return
	}

	// Counter restarts at zero, previously issued tokens become lapsed.
	if err = h.store.UpdatePSK(r.Context(), userAddr.Local, userAddr.Domain, psk, 0); err != nil {
		h.storageError(w, logger, err)
		return
	}

	logger.Infoln("hotp seed regenerated")
	writeJSON(w, http.StatusOK, &SeedResponse{
		User:    username,
		PubKey:  serverPublicKey,
		Counter: 0,
	})
}

func (h *Handler) getCount(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	userAddr, err := address.Parse(username)
	if err != nil {
		writeDetail(w, http.StatusTeapot, "Bad email address")
		return
	}

	_, counter, err := h.store.CounterAndPSK(r.Context(), userAddr.Local, userAddr.Domain)
	if err != nil {
		h.storageError(w, h.logger.WithField("username", username), err)
		return
	}

	writeJSON(w, http.StatusOK, &CounterResponse{
		Username: username,
		Counter:  counter,
	})
}

func (h *Handler) getAllTokens(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")

	userAddr, err := address.Parse(username)
	if err != nil {
		writeDetail(w, http.StatusTeapot, "Bad email address")
		return
	}

	grants, err := h.store.Grants(r.Context(), userAddr.Local, userAddr.Domain)
	if err != nil {
		h.storageError(w, h.logger.WithField("username", username), err)
		return
	}

	tokens := make(map[string]string, len(grants))
	for _, grant := range grants {
		tokens[grant.Token] = grant.Sender
	}

	writeJSON(w, http.StatusOK, &TokensResponse{
		Username: username,
		Tokens:   tokens,
	})
}

func (h *Handler) userLock(key string) *sync.Mutex {
	h.issuanceLocks.SetIfAbsent(key, &sync.Mutex{})
	value, _ := h.issuanceLocks.Get(key)
	return value.(*sync.Mutex)
}

func (h *Handler) storageError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeDetail(w, http.StatusNotAcceptable, "Policy not allowing this connection.")
		return
	}
	logger.WithError(err).Errorln("storage failure")
	writeDetail(w, http.StatusInternalServerError, "Storage unavailable.")
}

func writeJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(value)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
