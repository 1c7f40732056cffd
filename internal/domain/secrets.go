// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "strings"

const RedactedStr = "<redacted>"

// RedactString hides a secret entirely. Empty input stays empty so unset
// settings remain visibly unset.
func RedactString(s string) string {
	if len(s) == 0 {
		return ""
	}

	return RedactedStr
}

// MaskToken keeps the first eight characters of a token for log correlation.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:8] + "***"
}
