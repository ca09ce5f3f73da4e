/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2024 The tknacs authors
 */

package version

// Version is the software version, set at build time via ldflags.
var Version = "0.0.0-dev"
