/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package status

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tknacs/tknacsd/server/api"
)

// Run starts the user interface which fetches the service banner and
// displays it.
func Run(cmd *cobra.Command, args []string) error {
	baseURI, err := url.Parse(DefaultAPIBaseURI)
	if err != nil || baseURI.Host == "" {
		return fmt.Errorf("invalid url value: %v", DefaultAPIBaseURI)
	}
	client := api.NewClient(baseURI, DefaultAPIInsecure)

	// Fetch banner via ui model.
	banner, err := func() (*api.Banner, error) {
		var opts []tea.ProgramOption

		if !isatty.IsTerminal(os.Stdout.Fd()) {
			// If not a terminal, disable user interface.
			opts = []tea.ProgramOption{tea.WithoutRenderer(), tea.WithInput(nil)}
		} else {
			// If user interface, discard all log output.
			log.SetOutput(io.Discard)
		}

		ctx, ctxCancel := context.WithCancel(context.Background())
		defer ctxCancel()

		model := initialModel(ctx, client)

		// Start user interface.
		p := tea.NewProgram(model, opts...)
		if err := p.Start(); err != nil {
			return nil, err
		}
		if model.err != nil {
			// Log and return UI error directly.
			log.Println(model.err.Error())
			return nil, model.err
		}

		return model.banner, nil
	}()
	if err != nil || banner == nil {
		return err
	}

	// Output.
	if ok, _ := cmd.Flags().GetBool("json"); ok {
		// Direct JSON output.
		return outputJSON(os.Stdout, banner)
	} else {
		// Formatted text output colors.
		return outputPretty(os.Stdout, banner)
	}
}
