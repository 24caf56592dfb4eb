// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// UNICODE: All user-visible text crosses a transport boundary whose encoding
// assumptions we do not control. Normalizing once at the boundary keeps the
// in-memory log, the history store, and exports byte-identical for the same
// logical text.

// NormalizeText repairs invalid UTF-8 and applies NFC normalization.
//
// Invalid byte sequences are replaced with U+FFFD rather than dropped, so the
// result is always valid UTF-8 and never silently shorter than the input.
func NormalizeText(s string) string {
	if s == "" {
		return s
	}
	s = strings.ToValidUTF8(s, "�")
	return norm.NFC.String(s)
}

// TruncateRunes truncates a string to a maximum number of runes (characters).
// This is safe for UTF-8 strings as it counts characters, not bytes.
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}
