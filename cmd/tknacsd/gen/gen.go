/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gen

import (
	"github.com/spf13/cobra"
)

// DefaultRootUse defines the root cmmand Use value to use for generators.
var DefaultRootUse = "tknacsd"

func CommandGen() *cobra.Command {
	genCmd := &cobra.Command{
		Use:   "gen [...args]",
		Short: "A collection of useful generators",
	}

	genCmd.AddCommand(CommandMan())
	genCmd.AddCommand(CommandAutoComplete())
	genCmd.AddCommand(CommandCertificate())

	return genCmd
}
