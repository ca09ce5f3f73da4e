/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package address

import (
	"fmt"
	"strings"
)

// Address is an email address split into its display name, local part,
// plus-extensions and domain.
type Address struct {
	DisplayName string
	Local       string
	Extensions  []string
	Domain      string
}

// ErrSyntax is returned for values which cannot be parsed as an address.
var ErrSyntax = fmt.Errorf("address syntax error")

// Parse parses an email address of the form local[+ext[+ext...]]@domain or
// Display<local[+ext...]@domain>. The first +-delimited segment of the local
// part is the canonical local part, the remainder becomes the extension list
// with order preserved.
func Parse(raw string) (*Address, error) {
	addr := &Address{}

	rest := raw
	if strings.Count(raw, "<") != 0 || strings.Count(raw, ">") != 0 {
		if strings.Count(raw, "<") != 1 || strings.Count(raw, ">") != 1 {
			return nil, fmt.Errorf("%w: unbalanced angle brackets in %q", ErrSyntax, raw)
		}
		open := strings.Index(raw, "<")
		end := strings.Index(raw[open:], ">")
		if end < 0 {
			return nil, fmt.Errorf("%w: no closing bracket in %q", ErrSyntax, raw)
		}
		addr.DisplayName = raw[:open]
		rest = raw[open+1 : open+end]
	}

	parts := strings.Split(rest, "@")
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: expected exactly one @ in %q", ErrSyntax, raw)
	}

	segments := strings.Split(parts[0], "+")
	addr.Local = segments[0]
	addr.Extensions = segments[1:]
	addr.Domain = parts[1]

	return addr, nil
}

// Extension returns the first extension of the address, or the empty string
// when the address has none.
func (addr *Address) Extension() string {
	if len(addr.Extensions) == 0 {
		return ""
	}
	return addr.Extensions[0]
}

// Format returns the address as local[+extensions]@domain. It is the inverse
// of Parse for addresses without a display name.
func (addr *Address) Format(includeExtensions bool) string {
	var b strings.Builder
	b.WriteString(addr.Local)
	if includeExtensions {
		for _, extension := range addr.Extensions {
			b.WriteString("+")
			b.WriteString(extension)
		}
	}
	b.WriteString("@")
	b.WriteString(addr.Domain)
	return b.String()
}

// FormatFull is like Format but prefixes the display name, if any, in the
// Display<local@domain> form.
func (addr *Address) FormatFull(includeExtensions bool) string {
	out := addr.Format(includeExtensions)
	if addr.DisplayName != "" {
		out = addr.DisplayName + "<" + out + ">"
	}
	return out
}

// WithExtension returns a copy of the address whose extension list is
// replaced by the single given extension.
func (addr *Address) WithExtension(extension string) *Address {
	clone := *addr
	clone.Extensions = []string{extension}
	return &clone
}
