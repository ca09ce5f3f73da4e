/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package serve

// ErrorWithExitCode carries an exit code along with an error so failures can
// signal their class to the init system.
type ErrorWithExitCode struct {
	Code int
	Err  error
}

func (e *ErrorWithExitCode) Error() string {
	return e.Err.Error()
}

func (e *ErrorWithExitCode) Unwrap() error {
	return e.Err
}

// StartupError wraps configuration and bootstrap failures with exit code 64.
func StartupError(err error) error {
	return &ErrorWithExitCode{Code: 64, Err: err}
}
