/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package cmd provides the shared root command for tknacs binaries.
package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/version"
)

// RootCmd provides the commandline parser root.
var RootCmd = &cobra.Command{
	Use:   "tknacs",
	Short: "Token gated SMTP relay with HOTP access control",
}

func init() {
	RootCmd.AddCommand(CommandVersion())
}

// CommandVersion provides the version command.
func CommandVersion() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Version    : %s\n", version.Version)
			fmt.Printf("Go         : %s\n", runtime.Version())
		},
	}

	return versionCmd
}
