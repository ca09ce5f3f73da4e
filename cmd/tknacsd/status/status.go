/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package status

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/cmd/tknacsd/common"
)

// Default param values used by this command.
var (
	DefaultAPIBaseURI  = "http://127.0.0.1:8080"
	DefaultAPIInsecure = false
)

func init() {
	if v := os.Getenv("TKNACSD_DEFAULT_API_URL"); v != "" {
		DefaultAPIBaseURI = v
	}
}

func CommandStatus() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status [...args]",
		Short: "Show service status",
		Run: func(cmd *cobra.Command, args []string) {
			if err := status(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	statusCmd.Flags().StringVar(&DefaultAPIBaseURI, "url", DefaultAPIBaseURI, "Base URI of the token issuance API")
	statusCmd.Flags().BoolVar(&DefaultAPIInsecure, "insecure", DefaultAPIInsecure, "Skip TLS verification")
	statusCmd.Flags().Bool("json", false, "Output status as JSON")

	return statusCmd
}

func status(cmd *cobra.Command, args []string) error {
	if err := common.ApplyFlagsFromEnvFile(cmd, nil); err != nil {
		return err
	}

	err := Run(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to fetch status, is tknacsd running? (%w)", err)
	}
	return nil
}
