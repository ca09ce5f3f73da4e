/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package serve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	systemDaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/cmd/tknacsd/common"
	"github.com/tknacs/tknacsd/internal/store"
	"github.com/tknacs/tknacsd/internal/token"
	"github.com/tknacs/tknacsd/server"
)

// Default param values used by this command.
var (
	DefaultLogTimestamp  = true
	DefaultLogLevel      = "info"
	DefaultLogFile       = ""
	DefaultSystemdNotify = false

	DefaultHTTPListenAddr  = "127.0.0.1:8080"
	DefaultHTTPTLSCertFile = ""
	DefaultHTTPTLSKeyFile  = ""

	DefaultSMTPListenAddr  = "127.0.0.1:8025"
	DefaultSMTPTLSCertFile = ""
	DefaultSMTPTLSKeyFile  = ""
	DefaultSMTPTLSMode     = ""
	DefaultSMTPBehavior    = "REQUEST"
	DefaultSMTPDomain      = "localhost"
	DefaultSMTPTimeout     = 10 * time.Minute

	DefaultMDAAddr = ""

	DefaultAPIBaseURI  = ""
	DefaultAPIInsecure = false

	DefaultDatabaseType  = store.TypeSQLite3
	DefaultDomain        = ""
	DefaultSQLite3Path   = "tknacs.db"
	DefaultMySQLHost     = "127.0.0.1:3306"
	DefaultMySQLUser     = "tknacs"
	DefaultMySQLPassword = ""
	DefaultMySQLDatabase = "tknacs"

	DefaultCurve    = token.DefaultCurve
	DefaultHash     = token.DefaultHash
	DefaultEncoding = token.DefaultEncoding
	DefaultDigits   = token.DefaultDigits
	DefaultWindow   = 1
)

func init() {
	if v := os.Getenv("TKNACSD_DEFAULT_HTTP_LISTEN"); v != "" {
		DefaultHTTPListenAddr = v
	}
	if v := os.Getenv("TKNACSD_DEFAULT_SMTP_LISTEN"); v != "" {
		DefaultSMTPListenAddr = v
	}
	if v := os.Getenv("TKNACSD_DEFAULT_MDA_ADDR"); v != "" {
		DefaultMDAAddr = v
	}
	if v := os.Getenv("TKNACSD_DEFAULT_DB_TYPE"); v != "" {
		DefaultDatabaseType = v
	}
}

func CommandServe() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [...args]",
		Short: "Start service",
		Run: func(cmd *cobra.Command, args []string) {
			if err := serve(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				var exitCodeErr *ErrorWithExitCode
				if errors.As(err, &exitCodeErr) {
					os.Exit(exitCodeErr.Code)
				} else {
					os.Exit(1)
				}
			}
		},
	}

	serveCmd.Flags().BoolVar(&DefaultLogTimestamp, "log-timestamp", DefaultLogTimestamp, "Prefix each log line with timestamp")
	serveCmd.Flags().StringVar(&DefaultLogLevel, "log-level", DefaultLogLevel, "Log level (one of panic, fatal, error, warn, info or debug)")
	serveCmd.Flags().StringVar(&DefaultLogFile, "log-file", DefaultLogFile, "Full path to log file (default is to log to stderr)")
	serveCmd.Flags().BoolVar(&DefaultSystemdNotify, "systemd-notify", DefaultSystemdNotify, "Enable systemd sd_notify callback")

	serveCmd.Flags().StringVar(&DefaultHTTPListenAddr, "http-listen", DefaultHTTPListenAddr, "TCP listen address for the token issuance API")
	serveCmd.Flags().StringVar(&DefaultHTTPTLSCertFile, "http-tls-cert", DefaultHTTPTLSCertFile, "Full path to the HTTP API TLS certificate")
	serveCmd.Flags().StringVar(&DefaultHTTPTLSKeyFile, "http-tls-key", DefaultHTTPTLSKeyFile, "Full path to the HTTP API TLS private key")

	serveCmd.Flags().StringVar(&DefaultSMTPListenAddr, "smtp-listen", DefaultSMTPListenAddr, "TCP listen address for the SMTP gateway")
	serveCmd.Flags().StringVar(&DefaultSMTPTLSCertFile, "smtp-tls-cert", DefaultSMTPTLSCertFile, "Full path to the SMTP gateway TLS certificate")
	serveCmd.Flags().StringVar(&DefaultSMTPTLSKeyFile, "smtp-tls-key", DefaultSMTPTLSKeyFile, "Full path to the SMTP gateway TLS private key")
	serveCmd.Flags().StringVar(&DefaultSMTPTLSMode, "smtp-tls-mode", DefaultSMTPTLSMode, "SMTP TLS mode (SSL or STARTTLS, empty disables TLS)")
	serveCmd.Flags().StringVar(&DefaultSMTPBehavior, "smtp-behavior", DefaultSMTPBehavior, "Gateway behavior (one of RELAY, REQUEST, REFUSE553 or REFUSE)")
	serveCmd.Flags().StringVar(&DefaultSMTPDomain, "smtp-domain", DefaultSMTPDomain, "Hostname announced in the SMTP greeting")
	serveCmd.Flags().DurationVar(&DefaultSMTPTimeout, "smtp-timeout", DefaultSMTPTimeout, "SMTP connection inactivity timeout")

	serveCmd.Flags().StringVar(&DefaultMDAAddr, "mda-addr", DefaultMDAAddr, "Address of the downstream MDA (empty logs accepted mail)")

	serveCmd.Flags().StringVar(&DefaultAPIBaseURI, "api-base-uri", DefaultAPIBaseURI, "Base URI the gateway uses to request tokens (default is the local HTTP listener)")
	serveCmd.Flags().BoolVar(&DefaultAPIInsecure, "api-insecure", DefaultAPIInsecure, "Skip TLS verification on token requests")

	serveCmd.Flags().StringVar(&DefaultDatabaseType, "db-type", DefaultDatabaseType, "Database backend (sqlite3 or mysql)")
	serveCmd.Flags().StringVar(&DefaultDomain, "default-domain", DefaultDomain, "Domain assumed when addresses carry none")
	serveCmd.Flags().StringVar(&DefaultSQLite3Path, "sqlite3-path", DefaultSQLite3Path, "Full path to the sqlite3 database file")
	serveCmd.Flags().StringVar(&DefaultMySQLHost, "mysql-host", DefaultMySQLHost, "MySQL host address")
	serveCmd.Flags().StringVar(&DefaultMySQLUser, "mysql-user", DefaultMySQLUser, "MySQL user")
	serveCmd.Flags().StringVar(&DefaultMySQLPassword, "mysql-password", DefaultMySQLPassword, "MySQL password")
	serveCmd.Flags().StringVar(&DefaultMySQLDatabase, "mysql-database", DefaultMySQLDatabase, "MySQL database name")

	serveCmd.Flags().StringVar(&DefaultCurve, "curve", DefaultCurve, "Elliptic curve for the rekey exchange (x25519, p256, p384 or p521)")
	serveCmd.Flags().StringVar(&DefaultHash, "hash", DefaultHash, "Hash algorithm (SHA1, SHA256 or SHA512)")
	serveCmd.Flags().StringVar(&DefaultEncoding, "encoding", DefaultEncoding, "Export encoding (b64, b32 or b16)")
	serveCmd.Flags().IntVar(&DefaultDigits, "digits", DefaultDigits, "HOTP token digit length")
	serveCmd.Flags().IntVar(&DefaultWindow, "window", DefaultWindow, "HOTP validation window advertised to clients")

	return serveCmd
}

func serve(cmd *cobra.Command, args []string) error {
	bs := &bootstrap{}
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		bs.Wait()
	}()

	err := bs.configure(ctx, cmd, args)
	if err != nil {
		return StartupError(err)
	}

	return bs.srv.Serve(ctx)
}

type bootstrap struct {
	sync.WaitGroup

	logger logrus.FieldLogger

	srv *server.Server
}

func (bs *bootstrap) configure(ctx context.Context, cmd *cobra.Command, args []string) error {
	if err := common.ApplyFlagsFromEnvFile(cmd, nil); err != nil {
		return err
	}

	logger, err := newLogger(!DefaultLogTimestamp, DefaultLogLevel, DefaultLogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	bs.logger = logger

	logger.Debugln("serve start")

	cfg := &server.Config{
		Logger: logger,

		OnReady: func(srv *server.Server) {
			if DefaultSystemdNotify {
				ok, notifyErr := systemDaemon.SdNotify(false, systemDaemon.SdNotifyReady)
				logger.WithField("ok", ok).Debugln("called systemd sd_notify ready")
				if notifyErr != nil {
					logger.WithError(notifyErr).Errorln("failed to trigger systemd sd_notify")
				}
			}
		},

		HTTPListenAddr:  DefaultHTTPListenAddr,
		HTTPTLSCertFile: DefaultHTTPTLSCertFile,
		HTTPTLSKeyFile:  DefaultHTTPTLSKeyFile,

		SMTPListenAddr:  DefaultSMTPListenAddr,
		SMTPTLSCertFile: DefaultSMTPTLSCertFile,
		SMTPTLSKeyFile:  DefaultSMTPTLSKeyFile,
		SMTPTLSMode:     DefaultSMTPTLSMode,
		SMTPBehavior:    DefaultSMTPBehavior,
		SMTPDomain:      DefaultSMTPDomain,

		SMTPReadTimeout:  DefaultSMTPTimeout,
		SMTPWriteTimeout: DefaultSMTPTimeout,

		MDAAddr: DefaultMDAAddr,

		APIInsecure: DefaultAPIInsecure,

		DatabaseType:  DefaultDatabaseType,
		DefaultDomain: DefaultDomain,
		SQLite3Path:   DefaultSQLite3Path,
		MySQLHost:     DefaultMySQLHost,
		MySQLUser:     DefaultMySQLUser,
		MySQLPassword: DefaultMySQLPassword,
		MySQLDatabase: DefaultMySQLDatabase,

		Curve:    DefaultCurve,
		Hash:     DefaultHash,
		Encoding: DefaultEncoding,
		Digits:   DefaultDigits,
		Window:   DefaultWindow,
	}

	if DefaultAPIBaseURI != "" {
		apiBaseURI, parseErr := url.Parse(DefaultAPIBaseURI)
		if parseErr != nil {
			return fmt.Errorf("invalid api-base-uri: %w", parseErr)
		}
		if apiBaseURI.Host == "" {
			return fmt.Errorf("api-base-uri must carry a host")
		}
		cfg.APIBaseURI = apiBaseURI
	}

	bs.srv, err = server.NewServer(cfg)
	if err != nil {
		return err
	}

	return nil
}
