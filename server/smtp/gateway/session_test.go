/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tknacs/tknacsd/internal/policy"
	"github.com/tknacs/tknacsd/internal/store"
	"github.com/tknacs/tknacsd/internal/token"
	"github.com/tknacs/tknacsd/server/api"
)

// memoryRouter records what would have been forwarded to the MDA.
type memoryRouter struct {
	route *memoryRoute
}

func newMemoryRouter() *memoryRouter {
	return &memoryRouter{route: &memoryRoute{}}
}

func (router *memoryRouter) GetRoute(domain string) (Route, error) {
	return router.route, nil
}

type memoryRoute struct {
	from   string
	rcptTo []string
	data   string
}

func (route *memoryRoute) Mail(ctx context.Context, from string, opts smtp.MailOptions) error {
	route.from = from
	return nil
}

func (route *memoryRoute) Rcpt(ctx context.Context, rcptTo string) error {
	route.rcptTo = append(route.rcptTo, rcptTo)
	return nil
}

func (route *memoryRoute) Data(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	route.data = string(data)
	return nil
}

type requesterFunc func(ctx context.Context, sender, recipient string) (*api.TokenResponse, error)

func (f requesterFunc) RequestToken(ctx context.Context, sender, recipient string) (*api.TokenResponse, error) {
	return f(ctx, sender, recipient)
}

type gatewayFixture struct {
	store  store.Store
	engine *token.Engine
	router *memoryRouter
	config *Config
}

func newGatewayFixture(t *testing.T, behavior Behavior) *gatewayFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	s, err := store.Open(context.Background(), &store.Config{
		Logger:      logger,
		Type:        store.TypeSQLite3,
		SQLite3Path: filepath.Join(t.TempDir(), "tknacs.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	engine, err := token.NewEngine(nil)
	require.NoError(t, err)

	router := newMemoryRouter()

	return &gatewayFixture{
		store:  s,
		engine: engine,
		router: router,
		config: &Config{
			Context:  context.Background(),
			Logger:   logger,
			Store:    s,
			Router:   router,
			Behavior: behavior,
			Tokens: requesterFunc(func(ctx context.Context, sender, recipient string) (*api.TokenResponse, error) {
				return nil, fmt.Errorf("no token requester configured")
			}),
		},
	}
}

func (f *gatewayFixture) newSession(t *testing.T) *Session {
	t.Helper()

	session, err := NewSession(context.Background(), "test-session", f.config, f.config.Logger, nil)
	require.NoError(t, err)

	return session
}

func (f *gatewayFixture) addUser(t *testing.T, local, domain string) {
	t.Helper()
	require.NoError(t, f.store.AddUser(context.Background(), local, domain, ""))
}

func (f *gatewayFixture) issue(t *testing.T, local, domain, sender, tokenValue string) {
	t.Helper()
	require.NoError(t, f.store.IssueToken(context.Background(), local, domain, sender, tokenValue, 0))
}

func TestRcptUnknownUser(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRelay)

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrMailboxNotFound, s.Rcpt("ghost@example.com"))
}

func TestRcptUnparsableAddress(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRelay)

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrMailboxNotFound, s.Rcpt("no-at-sign"))
}

func TestRelayWithoutToken(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRelay)
	f.addUser(t, "alice", "example.com")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("alice@example.com"))

	assert.Equal(t, StatusRelayedNoToken, s.Data(strings.NewReader("hello")))
	assert.Equal(t, []string{"alice@example.com"}, f.router.route.rcptTo)
	assert.Equal(t, "hello", f.router.route.data)
}

func TestRelayWithValidTokenConsumes(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRelay)
	f.addUser(t, "alice", "example.com")
	f.issue(t, "alice", "example.com", "bob@x.com", "123456")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("alice+123456@example.com"))
	assert.Equal(t, StatusAccepted, s.Data(strings.NewReader("hi")))

	// The grant is gone, a replay under RELAY degrades to the notice.
	replay := f.newSession(t)
	require.NoError(t, replay.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, replay.Rcpt("alice+123456@example.com"))
	assert.Equal(t, StatusRelayedNoToken, replay.Data(strings.NewReader("hi")))
}

func TestRequestBehaviorValidToken(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRequest)
	f.addUser(t, "alice", "example.com")
	f.issue(t, "alice", "example.com", "bob@x.com", "123456")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("alice+123456@example.com"))
	assert.Equal(t, StatusAccepted, s.Data(strings.NewReader("hi")))
	assert.Equal(t, []string{"alice+123456@example.com"}, f.router.route.rcptTo)
}

func TestRequestBehaviorInvalidToken(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRequest)
	f.addUser(t, "alice", "example.com")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrInvalidToken, s.Rcpt("alice+999999@example.com"))
}

func TestRequestBehaviorRequestsAndRewrites(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRequest)
	f.addUser(t, "alice", "example.com")

	var requestedSender, requestedRecipient string
	f.config.Tokens = requesterFunc(func(ctx context.Context, sender, recipient string) (*api.TokenResponse, error) {
		requestedSender, requestedRecipient = sender, recipient
		if err := f.store.IssueToken(ctx, "alice", "example.com", sender, "424242", 0); err != nil {
			return nil, err
		}
		return &api.TokenResponse{Token: "424242"}, nil
	})

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("alice@example.com"))

	assert.Equal(t, "bob@x.com", requestedSender)
	assert.Equal(t, "alice@example.com", requestedRecipient)

	assert.Equal(t, StatusRelayedNoToken, s.Data(strings.NewReader("hi")))
	assert.Equal(t, []string{"alice+424242@example.com"}, f.router.route.rcptTo)

	// The issued grant was consumed within the session.
	ok, err := f.store.IsTokenValid(context.Background(), "alice", "example.com", "bob@x.com", "424242")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequestBehaviorRequestFailure(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRequest)
	f.addUser(t, "alice", "example.com")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrInvalidToken, s.Rcpt("alice@example.com"))
}

func TestRefuse553Behavior(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRefuse553)
	f.addUser(t, "alice", "example.com")
	f.issue(t, "alice", "example.com", "bob@x.com", "123456")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))

	assert.Equal(t, ErrPolicyRefused, s.Rcpt("alice@example.com"))
	assert.Equal(t, ErrInvalidToken, s.Rcpt("alice+999999@example.com"))
	require.NoError(t, s.Rcpt("alice+123456@example.com"))
	assert.Equal(t, StatusAccepted, s.Data(strings.NewReader("hi")))
}

func TestRefuseBehaviorGenericReply(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRefuse)
	f.addUser(t, "alice", "example.com")
	f.issue(t, "alice", "example.com", "bob@x.com", "123456")

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))

	// Without a valid token the reply never reveals the mailbox exists.
	assert.Equal(t, ErrMailboxNotFound, s.Rcpt("alice@example.com"))
	assert.Equal(t, ErrMailboxNotFound, s.Rcpt("alice+999999@example.com"))

	require.NoError(t, s.Rcpt("alice+123456@example.com"))
	assert.Equal(t, StatusAccepted, s.Data(strings.NewReader("hi")))
}

func TestStorageFailureFailsClosed(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRelay)
	f.addUser(t, "alice", "example.com")
	require.NoError(t, f.store.Close())

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrLocalErrorInProcessing, s.Rcpt("alice@example.com"))
}

// TestEndToEndIssueAndConsume walks the full path: a token requested over the
// live HTTP API gates exactly one delivery.
func TestEndToEndIssueAndConsume(t *testing.T) {
	f := newGatewayFixture(t, BehaviorRefuse553)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	handler := api.NewHandler(&api.Config{
		Logger: logger,
		Store:  f.store,
		Engine: f.engine,
		Policy: policy.NewEvaluator(),
	})
	apiServer := httptest.NewServer(handler.Routes())
	t.Cleanup(apiServer.Close)

	baseURI, err := url.Parse(apiServer.URL)
	require.NoError(t, err)
	client := api.NewClient(baseURI, false)
	f.config.Tokens = client

	f.addUser(t, "alice", "example.com")
	seedPSK(t, f.store, f.engine, "alice", "example.com")

	issued, err := client.RequestToken(context.Background(), "bob@x.com", "alice@example.com")
	require.NoError(t, err)

	_, counter, err := f.store.CounterAndPSK(context.Background(), "alice", "example.com")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counter)

	s := f.newSession(t)
	require.NoError(t, s.Mail("bob@x.com", smtp.MailOptions{}))
	require.NoError(t, s.Rcpt("alice+"+issued.Token+"@example.com"))
	assert.Equal(t, StatusAccepted, s.Data(strings.NewReader("hi")))

	// Replaying the same token is rejected, the grant is consumed.
	replay := f.newSession(t)
	require.NoError(t, replay.Mail("bob@x.com", smtp.MailOptions{}))
	assert.Equal(t, ErrInvalidToken, replay.Rcpt("alice+"+issued.Token+"@example.com"))
}

func seedPSK(t *testing.T, s store.Store, engine *token.Engine, local, domain string) {
	t.Helper()

	serverPrivate, _, err := engine.GenerateKeyPair()
	require.NoError(t, err)
	_, clientPublic, err := engine.GenerateKeyPair()
	require.NoError(t, err)

	psk, err := engine.DeriveSharedSecret(serverPrivate, clientPublic, local+"@"+domain)
	require.NoError(t, err)
	require.NoError(t, s.UpdatePSK(context.Background(), local, domain, psk, 0))
}
