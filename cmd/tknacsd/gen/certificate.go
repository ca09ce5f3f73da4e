/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gen

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/server"
)

var (
	DefaultCertificateHosts = "localhost"
	DefaultCertificateOut   = "tknacsd.pem"
)

func CommandCertificate() *cobra.Command {
	certificateCmd := &cobra.Command{
		Use:   "certificate",
		Short: "Generate a self signed TLS certificate with private key",
		Run: func(cmd *cobra.Command, args []string) {
			if err := certificate(cmd, args); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	}

	certificateCmd.Flags().StringVar(&DefaultCertificateHosts, "hosts", DefaultCertificateHosts, "Comma separated hostnames and IPs to put into the certificate")
	certificateCmd.Flags().StringVar(&DefaultCertificateOut, "out", DefaultCertificateOut, "Full path to the PEM file to write")

	return certificateCmd
}

func certificate(cmd *cobra.Command, args []string) error {
	hosts := strings.Split(DefaultCertificateHosts, ",")
	for i, host := range hosts {
		hosts[i] = strings.TrimSpace(host)
	}

	if err := server.GenerateSelfSignedCertificate(hosts, DefaultCertificateOut); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote certificate and key to %s\n", DefaultCertificateOut)
	return nil
}
