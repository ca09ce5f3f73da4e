/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

// Package policy decides whether a token issuance request for a
// (sender, recipient) pair is allowed.
package policy

// Func is a single accept/deny rule.
type Func func(sender, recipient string) bool

// Evaluator combines an inner (domain/sender level) rule with an outer
// (per-recipient configured) rule. Both must agree for a request to pass.
// The zero rules allow everything; this is the extension point for future
// sender reputation or per-user allow lists.
type Evaluator struct {
	inner Func
	outer Func
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithInner replaces the inner rule.
func WithInner(f Func) Option {
	return func(e *Evaluator) { e.inner = f }
}

// WithOuter replaces the outer rule.
func WithOuter(f Func) Option {
	return func(e *Evaluator) { e.outer = f }
}

// NewEvaluator creates an Evaluator with always-allow defaults.
func NewEvaluator(opts ...Option) *Evaluator {
	allow := func(string, string) bool { return true }
	e := &Evaluator{
		inner: allow,
		outer: allow,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate reports whether the sender may request a token for the recipient.
func (e *Evaluator) Evaluate(sender, recipient string) bool {
	return e.inner(sender, recipient) && e.outer(sender, recipient)
}
