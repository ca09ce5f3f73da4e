/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package user implements the administrative user management commands which
// work on the credential store directly.
package user

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/cmd/tknacsd/common"
	"github.com/tknacs/tknacsd/internal/address"
	"github.com/tknacs/tknacsd/internal/store"
	"github.com/tknacs/tknacsd/internal/token"
)

// Default param values used by this command.
var (
	DefaultDatabaseType  = store.TypeSQLite3
	DefaultDomain        = ""
	DefaultSQLite3Path   = "tknacs.db"
	DefaultMySQLHost     = "127.0.0.1:3306"
	DefaultMySQLUser     = "tknacs"
	DefaultMySQLPassword = ""
	DefaultMySQLDatabase = "tknacs"

	DefaultHash     = token.DefaultHash
	DefaultEncoding = token.DefaultEncoding
)

func init() {
	if v := os.Getenv("TKNACSD_DEFAULT_DB_TYPE"); v != "" {
		DefaultDatabaseType = v
	}
}

func CommandUser() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user [...args]",
		Short: "Manage users of the token service",
	}

	userCmd.PersistentFlags().StringVar(&DefaultDatabaseType, "db-type", DefaultDatabaseType, "Database backend (sqlite3 or mysql)")
	userCmd.PersistentFlags().StringVar(&DefaultDomain, "default-domain", DefaultDomain, "Domain assumed when addresses carry none")
	userCmd.PersistentFlags().StringVar(&DefaultSQLite3Path, "sqlite3-path", DefaultSQLite3Path, "Full path to the sqlite3 database file")
	userCmd.PersistentFlags().StringVar(&DefaultMySQLHost, "mysql-host", DefaultMySQLHost, "MySQL host address")
	userCmd.PersistentFlags().StringVar(&DefaultMySQLUser, "mysql-user", DefaultMySQLUser, "MySQL user")
	userCmd.PersistentFlags().StringVar(&DefaultMySQLPassword, "mysql-password", DefaultMySQLPassword, "MySQL password")
	userCmd.PersistentFlags().StringVar(&DefaultMySQLDatabase, "mysql-database", DefaultMySQLDatabase, "MySQL database name")
	userCmd.PersistentFlags().StringVar(&DefaultHash, "hash", DefaultHash, "Hash algorithm for password digests")
	userCmd.PersistentFlags().StringVar(&DefaultEncoding, "encoding", DefaultEncoding, "Export encoding for password digests")

	userCmd.AddCommand(commandAdd())
	userCmd.AddCommand(commandDel())
	userCmd.AddCommand(commandList())
	userCmd.AddCommand(commandPasswd())

	return userCmd
}

func commandAdd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <address> [password]",
		Short: "Add a user",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			runWithStore(cmd, func(ctx context.Context, s store.Store, engine *token.Engine) error {
				local, domain, err := splitUser(args[0])
				if err != nil {
					return err
				}

				digest := ""
				if len(args) > 1 {
					digest = engine.HashDigest(args[1])
				}

				if err = s.AddUser(ctx, local, domain, digest); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added user %s\n", args[0])
				return nil
			})
		},
	}
}

func commandDel() *cobra.Command {
	return &cobra.Command{
		Use:   "del <address>",
		Short: "Delete a user and all of its outstanding tokens",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runWithStore(cmd, func(ctx context.Context, s store.Store, engine *token.Engine) error {
				local, domain, err := splitUser(args[0])
				if err != nil {
					return err
				}

				if err = s.DeleteUser(ctx, local, domain); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted user %s\n", args[0])
				return nil
			})
		},
	}
}

func commandList() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all users",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runWithStore(cmd, func(ctx context.Context, s store.Store, engine *token.Engine) error {
				users, err := s.Users(ctx)
				if err != nil {
					return err
				}

				for _, user := range users {
					fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", user.Local, user.Domain)
				}
				return nil
			})
		},
	}
}

func commandPasswd() *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <address> <password>",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runWithStore(cmd, func(ctx context.Context, s store.Store, engine *token.Engine) error {
				local, domain, err := splitUser(args[0])
				if err != nil {
					return err
				}

				if err = s.SetPassword(ctx, local, domain, engine.HashDigest(args[1])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
				return nil
			})
		},
	}
}

// splitUser accepts a full address or a bare local part which the store then
// resolves against the configured default domain.
func splitUser(raw string) (string, string, error) {
	if !strings.Contains(raw, "@") {
		return raw, "", nil
	}

	addr, err := address.Parse(raw)
	if err != nil {
		return "", "", err
	}
	return addr.Local, addr.Domain, nil
}

func runWithStore(cmd *cobra.Command, f func(ctx context.Context, s store.Store, engine *token.Engine) error) {
	err := func() error {
		if err := common.ApplyFlagsFromEnvFile(cmd, nil); err != nil {
			return err
		}

		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)

		engine, err := token.NewEngine(&token.Config{
			Hash:     DefaultHash,
			Encoding: DefaultEncoding,
		})
		if err != nil {
			return err
		}

		ctx := context.Background()
		s, err := store.Open(ctx, &store.Config{
			Logger: logger,

			Type:          DefaultDatabaseType,
			DefaultDomain: DefaultDomain,

			SQLite3Path: DefaultSQLite3Path,

			MySQLHost:     DefaultMySQLHost,
			MySQLUser:     DefaultMySQLUser,
			MySQLPassword: DefaultMySQLPassword,
			MySQLDatabase: DefaultMySQLDatabase,
		})
		if err != nil {
			return err
		}
		defer s.Close()

		return f(ctx, s, engine)
	}()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
