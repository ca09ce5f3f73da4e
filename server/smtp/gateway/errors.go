/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package gateway

import (
	"github.com/emersion/go-smtp"
)

var ErrLocalErrorInProcessing = &smtp.SMTPError{
	Code:         451,
	EnhancedCode: smtp.EnhancedCodeNotSet,
	Message:      "Local error in processing",
}

var ErrServiceNotAvailable = &smtp.SMTPError{
	Code:         421,
	EnhancedCode: smtp.EnhancedCodeNotSet,
	Message:      "Service not available",
}

var ErrMailboxNotFound = &smtp.SMTPError{
	Code:         550,
	EnhancedCode: smtp.NoEnhancedCode,
	Message:      "Mailbox not found",
}

var ErrPolicyRefused = &smtp.SMTPError{
	Code:         553,
	EnhancedCode: smtp.NoEnhancedCode,
	Message:      "Policy does not allow direct access to Mailbox\nPlease request a valid HOTP token",
}

var ErrInvalidToken = &smtp.SMTPError{
	Code:         553,
	EnhancedCode: smtp.NoEnhancedCode,
	Message:      "Invalid token\nPlease request a valid HOTP token",
}

// StatusAccepted and StatusRelayedNoToken are success replies. They are
// modelled as SMTPError values so Data can select the exact reply text sent
// to the client.
var StatusAccepted = &smtp.SMTPError{
	Code:         250,
	EnhancedCode: smtp.NoEnhancedCode,
	Message:      "Message accepted for delivery",
}

var StatusRelayedNoToken = &smtp.SMTPError{
	Code:         251,
	EnhancedCode: smtp.NoEnhancedCode,
	Message:      "Message relayed with no token\nNext time, please request a HOTP token",
}
