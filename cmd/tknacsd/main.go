/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package main

import (
	"fmt"
	"os"

	"github.com/tknacs/tknacsd/cmd"
	"github.com/tknacs/tknacsd/cmd/tknacsd/common"
	"github.com/tknacs/tknacsd/cmd/tknacsd/gen"
	"github.com/tknacs/tknacsd/cmd/tknacsd/serve"
	"github.com/tknacs/tknacsd/cmd/tknacsd/status"
	"github.com/tknacs/tknacsd/cmd/tknacsd/user"
)

func main() {
	cmd.RootCmd.Use = "tknacsd"

	cmd.RootCmd.PersistentFlags().StringVarP(&common.DefaultEnvConfigFile, "config", "c", common.DefaultEnvConfigFile, "Full path to config file")

	cmd.RootCmd.AddCommand(serve.CommandServe())
	cmd.RootCmd.AddCommand(status.CommandStatus())
	cmd.RootCmd.AddCommand(user.CommandUser())
	cmd.RootCmd.AddCommand(gen.CommandGen())

	if err := cmd.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
