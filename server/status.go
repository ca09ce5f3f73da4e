/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package server

import (
	"sync"

	"github.com/jinzhu/copier"
)

type Status struct {
	sync.RWMutex

	HTTPListenAddr string `json:"http_listen_addr"`
	SMTPListenAddr string `json:"smtp_listen_addr"`
	Behavior       string `json:"behavior"`
	Database       string `json:"database"`
	Ready          bool   `json:"ready"`
}

func (status *Status) Copy() (*Status, error) {
	status.RLock()
	defer status.RUnlock()

	s := &Status{}
	err := copier.CopyWithOption(s, status, copier.Option{
		IgnoreEmpty: true,
		DeepCopy:    true,
	})

	return s, err
}

func (status *Status) setReady() {
	status.Lock()
	status.Ready = true
	status.Unlock()
}

func (server *Server) Status() (*Status, error) {
	return server.status.Copy()
}
