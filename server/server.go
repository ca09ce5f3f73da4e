/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package server wires the token issuance API and the SMTP gateway together
// and runs them as one process.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tknacs/tknacsd/internal/policy"
	"github.com/tknacs/tknacsd/internal/store"
	"github.com/tknacs/tknacsd/internal/token"
	"github.com/tknacs/tknacsd/server/api"
	"github.com/tknacs/tknacsd/server/smtp/gateway"
)

// TLS modes for the SMTP gateway.
const (
	TLSModeSSL      = "SSL"
	TLSModeSTARTTLS = "STARTTLS"
)

// Server runs the HTTP token issuance API and the SMTP gateway.
type Server struct {
	config *Config

	logger logrus.FieldLogger

	behavior gateway.Behavior
	engine   *token.Engine

	status *Status
}

// NewServer constructs a server from the provided parameters. All
// configuration which can be validated without touching the network is
// validated here so a bad configuration fails before any listener opens.
func NewServer(c *Config) (*Server, error) {
	behavior, err := gateway.ParseBehavior(c.SMTPBehavior)
	if err != nil {
		return nil, err
	}

	engine, err := token.NewEngine(&token.Config{
		Curve:    c.Curve,
		Hash:     c.Hash,
		Encoding: c.Encoding,
		Digits:   c.Digits,
	})
	if err != nil {
		return nil, err
	}

	switch c.SMTPTLSMode {
	case "", TLSModeSSL, TLSModeSTARTTLS:
	default:
		return nil, fmt.Errorf("unknown SMTP TLS mode: %q", c.SMTPTLSMode)
	}

	if c.SMTPReadTimeout == 0 {
		c.SMTPReadTimeout = 10 * time.Minute
	}
	if c.SMTPWriteTimeout == 0 {
		c.SMTPWriteTimeout = 10 * time.Minute
	}
	if c.SMTPMaxMessageBytes == 0 {
		c.SMTPMaxMessageBytes = 32 * 1024 * 1024
	}
	if c.SMTPMaxRecipients == 0 {
		c.SMTPMaxRecipients = 100
	}

	s := &Server{
		config: c,
		logger: c.Logger,

		behavior: behavior,
		engine:   engine,

		status: &Status{
			HTTPListenAddr: c.HTTPListenAddr,
			SMTPListenAddr: c.SMTPListenAddr,
			Behavior:       behavior.String(),
			Database:       c.DatabaseType,
		},
	}

	return s, nil
}

// Serve starts all the associated servers resources and listeners and blocks
// forever until signals or error occurs.
func (server *Server) Serve(ctx context.Context) error {
	var err error

	errCh := make(chan error, 2)
	exitCh := make(chan struct{}, 1)
	signalCh := make(chan os.Signal, 1)
	readyCh := make(chan struct{}, 1)

	serveCtx, serveCtxCancel := context.WithCancel(ctx)
	defer serveCtxCancel()

	logger := server.logger

	// TLS material first, missing files must abort startup.
	var httpTLSConfig *tls.Config
	if server.config.HTTPTLSCertFile != "" || server.config.HTTPTLSKeyFile != "" {
		httpTLSConfig, err = loadTLSConfig(server.config.HTTPTLSCertFile, server.config.HTTPTLSKeyFile)
		if err != nil {
			return err
		}
	}
	var smtpTLSConfig *tls.Config
	if server.config.SMTPTLSMode != "" {
		smtpTLSConfig, err = loadTLSConfig(server.config.SMTPTLSCertFile, server.config.SMTPTLSKeyFile)
		if err != nil {
			return err
		}
	}

	credentials, err := store.Open(serveCtx, &store.Config{
		Logger: logger,

		Type:          server.config.DatabaseType,
		DefaultDomain: server.config.DefaultDomain,

		SQLite3Path: server.config.SQLite3Path,

		MySQLHost:     server.config.MySQLHost,
		MySQLUser:     server.config.MySQLUser,
		MySQLPassword: server.config.MySQLPassword,
		MySQLDatabase: server.config.MySQLDatabase,
	})
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer credentials.Close()

	handler := api.NewHandler(&api.Config{
		Logger: logger,

		Store:  credentials,
		Engine: server.engine,
		Policy: policy.NewEvaluator(),

		DatabaseType: server.config.DatabaseType,
		SMTPBehavior: server.behavior.String(),
		HOTPWindow:   server.config.Window,
	})
	httpServer := &http.Server{
		Handler: handler.Routes(),
	}

	tokens := api.NewClient(server.apiBaseURI(httpTLSConfig != nil), server.config.APIInsecure)

	var router gateway.Router
	if server.config.MDAAddr != "" {
		router = gateway.NewMDARouter(logger, server.config.MDAAddr)
	} else {
		logger.Warnln("no MDA configured, accepted messages are logged only")
		router = gateway.NewDisplayRouter(logger)
	}

	gatewayConfig := &gateway.Config{
		Context: serveCtx,
		Logger:  logger,

		Store:  credentials,
		Tokens: tokens,
		Router: router,

		Behavior: server.behavior,
		Domain:   server.config.SMTPDomain,

		ReadTimeout:     server.config.SMTPReadTimeout,
		WriteTimeout:    server.config.SMTPWriteTimeout,
		MaxMessageBytes: server.config.SMTPMaxMessageBytes,
		MaxRecipients:   server.config.SMTPMaxRecipients,
	}
	if server.config.SMTPTLSMode == TLSModeSTARTTLS {
		gatewayConfig.TLSConfig = smtpTLSConfig
	}
	gw, err := gateway.New(gatewayConfig)
	if err != nil {
		return fmt.Errorf("failed to create SMTP gateway: %w", err)
	}

	go func() {
		select {
		case <-serveCtx.Done():
			return
		case <-readyCh:
		}
		server.status.setReady()
		logger.Infoln("ready")
		if server.config.OnReady != nil {
			server.config.OnReady(server)
		}
	}()

	var serversWg sync.WaitGroup

	// Start SMTP gateway.
	smtpListener, listenErr := net.Listen("tcp", server.config.SMTPListenAddr)
	if listenErr != nil {
		return fmt.Errorf("failed to create SMTP listener: %w", listenErr)
	}
	if server.config.SMTPTLSMode == TLSModeSSL {
		smtpListener = tls.NewListener(smtpListener, smtpTLSConfig)
	}
	serversWg.Add(1)
	go func() {
		defer serversWg.Done()
		logger.WithField("listen_addr", smtpListener.Addr()).Infoln("SMTP gateway listener started")
		serveErr := gw.Serve(smtpListener)
		if serveErr != nil {
			errCh <- serveErr
		}
	}()

	// Start HTTP API.
	httpListener, listenErr := net.Listen("tcp", server.config.HTTPListenAddr)
	if listenErr != nil {
		return fmt.Errorf("failed to create HTTP listener: %w", listenErr)
	}
	if httpTLSConfig != nil {
		httpListener = tls.NewListener(httpListener, httpTLSConfig)
	}
	serversWg.Add(1)
	go func() {
		defer serversWg.Done()
		logger.WithField("listen_addr", httpListener.Addr()).Infoln("HTTP API listener started")
		serveErr := httpServer.Serve(httpListener)
		if serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	// Wait for all services to stop before closing the exit channel.
	go func() {
		serversWg.Wait()
		close(exitCh)
	}()

	// Set ready.
	go func() {
		close(readyCh)
	}()

	// Wait for error or signal.
	err = func() error {
		signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		for {
			select {
			case errFromChannel := <-errCh:
				return errFromChannel
			case reason := <-signalCh:
				if reason == syscall.SIGHUP {
					logger.Infoln("reload signal received, nothing to reload")
					continue
				}
				logger.WithField("signal", reason).Warnln("received signal")
				return nil
			}
		}
	}()

	// Shutdown, servers will stop to accept new connections.
	logger.Infoln("clean server shutdown start")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(ctx, 10*time.Second)
	go func() {
		if shutdownErr := gw.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("clean SMTP gateway shutdown failed")
		} else {
			logger.Info("clean SMTP gateway shutdown complete")
		}
	}()
	go func() {
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.WithError(shutdownErr).Warn("clean HTTP API shutdown failed")
		} else {
			logger.Info("clean HTTP API shutdown complete")
		}
	}()

	// Cancel our own context and wait for all services to shutdown.
	serveCtxCancel()
	func() {
		for {
			select {
			case <-exitCh:
				logger.Infoln("clean server shutdown complete, exiting")
				return
			default:
				// Some services still running.
				logger.Info("waiting services to exit")
			}
			select {
			case reason := <-signalCh:
				logger.WithField("signal", reason).Warn("received signal")
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}()

	shutdownCtxCancel() // Prevents leak.

	return err
}

// apiBaseURI returns where the gateway reaches the token issuance API. The
// configured URI wins, otherwise the local HTTP listener is used.
func (server *Server) apiBaseURI(withTLS bool) *url.URL {
	if server.config.APIBaseURI != nil {
		return server.config.APIBaseURI
	}

	scheme := "http"
	if withTLS {
		scheme = "https"
	}
	host := server.config.HTTPListenAddr
	if h, port, splitErr := net.SplitHostPort(host); splitErr == nil {
		if h == "" || h == "0.0.0.0" || h == "::" {
			host = net.JoinHostPort("127.0.0.1", port)
		}
	}

	return &url.URL{Scheme: scheme, Host: host}
}
