/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"context"
	"io"

	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"

	"github.com/tknacs/tknacsd/internal/address"
)

// tokenState tracks the RCPT classification. No extension means no token was
// offered, which behaviors treat differently from a wrong one.
type tokenState int

const (
	tokenUnknown tokenState = iota
	tokenValid
	tokenInvalid
)

type Session struct {
	ctx context.Context
	id  string

	config   *Config
	logger   logrus.FieldLogger
	onLogout SessionCb

	from string
	opts *smtp.MailOptions

	// rcptTo holds the envelope recipients to forward, after any token
	// extension rewriting done by the REQUEST behavior.
	rcptTo []string

	// withoutToken is set when at least one recipient was accepted
	// without a pre-requested valid token, switching the final reply to
	// the notice text.
	withoutToken bool
}

type SessionCb func(session *Session)

func NewSession(ctx context.Context, sessionID string, config *Config, logger logrus.FieldLogger, onLogout SessionCb) (*Session, error) {
	return &Session{
		ctx:    ctx,
		id:     sessionID,
		config: config,
		logger: logger.WithFields(logrus.Fields{
			"scope":      "gateway-session",
			"session_id": sessionID,
		}),
		onLogout: onLogout,
	}, nil
}

var _ smtp.Session = (*Session)(nil) // Verify that *Session implements smtp.Session.

func (s *Session) Mail(from string, opts smtp.MailOptions) error {
	s.logger.WithField("from", from).Debugln("mail from")

	s.from = from
	s.opts = &opts

	return nil
}

// Rcpt classifies the recipient by its token extension and applies the
// configured behavior. Token consumption happens here, before DATA, so a
// token replayed across two delivery attempts can never succeed twice.
func (s *Session) Rcpt(rcptTo string) error {
	logger := s.logger.WithField("rcpt_to", rcptTo)
	logger.Debugln("mail rcptTo")

	addr, err := address.Parse(rcptTo)
	if err != nil {
		logger.WithError(err).Debugln("invalid rcpt to value")
		return ErrMailboxNotFound
	}

	exists, err := s.config.Store.Exists(s.ctx, addr.Local, addr.Domain)
	if err != nil {
		logger.WithError(err).Errorln("storage failure on rcpt lookup")
		return ErrLocalErrorInProcessing
	}
	if !exists {
		return ErrMailboxNotFound
	}

	state := tokenUnknown
	if ext := addr.Extension(); ext != "" {
		consumed, consumeErr := s.config.Store.ConsumeSenderToken(s.ctx, addr.Local, addr.Domain, s.from, ext)
		if consumeErr != nil {
			logger.WithError(consumeErr).Errorln("storage failure on token consumption")
			return ErrLocalErrorInProcessing
		}
		if consumed {
			state = tokenValid
		} else {
			state = tokenInvalid
		}
	}

	forward, err := s.applyBehavior(logger, addr, rcptTo, state)
	if err != nil {
		return err
	}

	s.rcptTo = append(s.rcptTo, forward)
	return nil
}

// applyBehavior decides the fate of one classified recipient. It returns the
// envelope recipient to forward, or the SMTP reply rejecting it.
func (s *Session) applyBehavior(logger logrus.FieldLogger, addr *address.Address, rcptTo string, state tokenState) (string, error) {
	switch s.config.Behavior {
	case BehaviorRelay:
		if state != tokenValid {
			s.withoutToken = true
		}
		return rcptTo, nil

	case BehaviorRequest:
		switch state {
		case tokenValid:
			return rcptTo, nil
		case tokenInvalid:
			return "", ErrInvalidToken
		default:
			return s.requestAndAttachToken(logger, addr)
		}

	case BehaviorRefuse553:
		switch state {
		case tokenValid:
			return rcptTo, nil
		case tokenInvalid:
			return "", ErrInvalidToken
		default:
			return "", ErrPolicyRefused
		}

	default: // BehaviorRefuse
		if state == tokenValid {
			return rcptTo, nil
		}
		return "", ErrMailboxNotFound
	}
}

// requestAndAttachToken obtains a fresh token for the current sender and
// rewrites the recipient to carry it. The just issued grant is consumed right
// away since this session is its one permitted use.
func (s *Session) requestAndAttachToken(logger logrus.FieldLogger, addr *address.Address) (string, error) {
	recipient := addr.Format(false)

	response, err := s.config.Tokens.RequestToken(s.ctx, s.from, recipient)
	if err != nil {
		logger.WithError(err).Warnln("token request on behalf of sender failed")
		return "", ErrInvalidToken
	}

	consumed, err := s.config.Store.ConsumeSenderToken(s.ctx, addr.Local, addr.Domain, s.from, response.Token)
	if err != nil {
		logger.WithError(err).Errorln("storage failure consuming requested token")
		return "", ErrLocalErrorInProcessing
	}
	if !consumed {
		logger.Warnln("requested token vanished before consumption")
		return "", ErrInvalidToken
	}

	s.withoutToken = true
	return addr.WithExtension(response.Token).Format(true), nil
}

// Data forwards the message over the configured route and answers with the
// exact reply text matching how the recipients were accepted.
func (s *Session) Data(r io.Reader) error {
	s.logger.Debugln("mail data")

	route, routeErr := s.config.Router.GetRoute("")
	if routeErr != nil {
		s.logger.WithError(routeErr).Errorln("failed to get route")
	}
	if route == nil {
		s.logger.Warnln("no route available")
		return ErrServiceNotAvailable
	}

	if routeErr = route.Mail(s.ctx, s.from, *s.opts); routeErr != nil {
		s.logger.WithError(routeErr).Errorln("route error on mail")
		return asSMTPError(routeErr)
	}

	for _, rcptTo := range s.rcptTo {
		if routeErr = route.Rcpt(s.ctx, rcptTo); routeErr != nil {
			s.logger.WithError(routeErr).Errorln("route error on rcptTo")
			return asSMTPError(routeErr)
		}
	}

	if routeErr = route.Data(s.ctx, r); routeErr != nil {
		s.logger.WithError(routeErr).Errorln("route error on data")
		return asSMTPError(routeErr)
	}

	s.logger.Debugln("mail data done")
	if s.withoutToken {
		return StatusRelayedNoToken
	}
	return StatusAccepted
}

func asSMTPError(err error) error {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		return smtpErr
	}
	return ErrLocalErrorInProcessing
}

func (s *Session) Reset() {
	s.logger.Debugln("mail reset")

	s.from = ""
	s.opts = nil
	s.rcptTo = nil
	s.withoutToken = false
}

func (s *Session) Logout() error {
	s.logger.Debugln("mail logout")
	if s.onLogout != nil {
		s.onLogout(s)
	}
	return nil
}
