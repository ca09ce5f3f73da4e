/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"context"
	"fmt"
	"io"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
)

// NewMDARouter returns a Router which forwards accepted messages to the
// downstream mail delivery agent at addr.
func NewMDARouter(logger logrus.FieldLogger, addr string) Router {
	return &mdaRouter{
		logger: logger.WithField("scope", "mda-route"),
		addr:   addr,
	}
}

type mdaRouter struct {
	logger logrus.FieldLogger
	addr   string
}

func (router *mdaRouter) GetRoute(domain string) (Route, error) {
	return &mdaRoute{
		logger: router.logger,
		addr:   router.addr,
	}, nil
}

type mdaRoute struct {
	logger logrus.FieldLogger
	addr   string

	from   string
	opts   *smtp.MailOptions
	rcptTo []string
}

func (route *mdaRoute) Mail(ctx context.Context, from string, opts smtp.MailOptions) error {
	route.from = from
	route.opts = &opts
	return nil
}

func (route *mdaRoute) Rcpt(ctx context.Context, rcptTo string) error {
	route.rcptTo = append(route.rcptTo, rcptTo)
	return nil
}

// Data connects to the configured MDA and delivers the message to it.
func (route *mdaRoute) Data(ctx context.Context, r io.Reader) error {
	logger := route.logger.WithFields(logrus.Fields{
		"from":    route.from,
		"rcpt_to": route.rcptTo,
	})
	logger.Debugln("route mail")

	c, err := smtp.Dial(route.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to MDA: %w", err)
	}
	defer c.Close()
	if mailErr := c.Mail(route.from, route.opts); mailErr != nil {
		return mailErr
	}
	for _, addr := range route.rcptTo {
		if rcptErr := c.Rcpt(addr); rcptErr != nil {
			return rcptErr
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, r)
	if err != nil {
		return err
	}
	err = w.Close()
	if err != nil {
		return err
	}

	logger.Debugln("route mail done")
	return c.Quit()
}

// NewDisplayRouter returns a Router which logs accepted messages instead of
// forwarding them. Used when no MDA is configured.
func NewDisplayRouter(logger logrus.FieldLogger) Router {
	return &displayRouter{
		logger: logger.WithField("scope", "display-route"),
	}
}

type displayRouter struct {
	logger logrus.FieldLogger
}

func (router *displayRouter) GetRoute(domain string) (Route, error) {
	return &displayRoute{
		logger: router.logger,
	}, nil
}

type displayRoute struct {
	logger logrus.FieldLogger

	from   string
	rcptTo []string
}

func (route *displayRoute) Mail(ctx context.Context, from string, opts smtp.MailOptions) error {
	route.from = from
	return nil
}

func (route *displayRoute) Rcpt(ctx context.Context, rcptTo string) error {
	route.rcptTo = append(route.rcptTo, rcptTo)
	return nil
}

func (route *displayRoute) Data(ctx context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	route.logger.WithFields(logrus.Fields{
		"from":    route.from,
		"rcpt_to": route.rcptTo,
		"size":    len(data),
	}).Infof("message received:\n%s", data)

	return nil
}
