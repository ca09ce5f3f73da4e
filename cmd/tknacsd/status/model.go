/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package status

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jpillora/backoff"
	"github.com/muesli/termenv"

	"github.com/tknacs/tknacsd/server/api"
)

type errMsg error

type bannerMsg *api.Banner

type model struct {
	ctx context.Context

	client *api.Client

	spinner spinner.Model

	quitting bool

	banner *api.Banner
	err    error
}

func initialModel(ctx context.Context, client *api.Client) *model {
	s := spinner.NewModel()
	s.HideFor = time.Second
	s.Spinner = spinner.Line
	return &model{
		ctx: ctx,

		client: client,

		spinner: s,
	}
}

func (m *model) getBanner() tea.Msg {
	var err error
	var banner *api.Banner

	bo := &backoff.Backoff{
		Min:    250 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	count := 0
	for {
		banner, err = m.client.Banner(m.ctx)
		if err == nil {
			break
		}

		if count >= 3 {
			return errMsg(err)
		}
		log.Println(err.Error())

		select {
		case <-m.ctx.Done():
			return errMsg(m.ctx.Err())
		case <-time.After(bo.Duration()):
		}

		count++
	}

	return bannerMsg(banner)
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		spinner.Tick,
		m.getBanner,
	)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		default:
			return m, nil
		}

	case errMsg:
		m.err = msg
		return m, tea.Quit

	case bannerMsg:
		m.banner = msg
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

func (m *model) View() string {
	if m.err != nil {
		// We do not display any errors here.
		return ""
	}
	if m.banner != nil {
		// We do not display the banner here.
		return ""
	}

	var str string

	s := termenv.String(m.spinner.View()).String()
	str = fmt.Sprintf("%s Fetching tknacs status ...", s)

	if m.quitting {
		return str + "\n"
	}
	return str
}
