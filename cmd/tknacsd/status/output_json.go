/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package status

import (
	"encoding/json"
	"io"

	"github.com/tknacs/tknacsd/server/api"
)

func outputJSON(w io.Writer, banner *api.Banner) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(banner)
}
