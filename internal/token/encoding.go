/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package token

import (
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// codec is the export encoding used for public keys, pre-shared keys and
// password digests. base64.Encoding and base32.Encoding satisfy it directly.
type codec interface {
	EncodeToString(src []byte) string
	DecodeString(s string) ([]byte, error)
}

type hexCodec struct{}

func (hexCodec) EncodeToString(src []byte) string {
	return hex.EncodeToString(src)
}

func (hexCodec) DecodeString(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func newCodec(name string) (codec, error) {
	switch name {
	case "b64":
		return base64.StdEncoding, nil
	case "b32":
		return base32.StdEncoding, nil
	case "b16":
		return hexCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: export encoding %q", ErrUnsupportedAlgorithm, name)
	}
}
