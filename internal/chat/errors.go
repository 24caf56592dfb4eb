// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/GoldenGlimmer/aichat/internal/client"
)

// ErrorState is the single-slot categorized error shown as a banner by the
// UI, distinct from in-band server errors that appear as conversation turns.
type ErrorState int

// The closed set of error states.
const (
	ErrorNone ErrorState = iota
	ErrorAPIKeyMissing
	ErrorInvalidKey
	ErrorNetwork
	ErrorServer
)

// String implements fmt.Stringer.
func (e ErrorState) String() string {
	switch e {
	case ErrorNone:
		return "none"
	case ErrorAPIKeyMissing:
		return "api key missing"
	case ErrorInvalidKey:
		return "invalid api key"
	case ErrorNetwork:
		return "network error"
	case ErrorServer:
		return "server error"
	default:
		return "unknown"
	}
}

// invalidKeyMarkers and networkMarkers drive the textual fallback in
// Classify. The transport does not guarantee structured codes on every
// path, so substring matching is the classification of last resort.
var (
	invalidKeyMarkers = []string{
		"invalid api key",
		"incorrect api key",
		"unauthorized",
		"authentication failed",
		"401",
	}

	networkMarkers = []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"timeout exceeded",
		"dial tcp",
		"broken pipe",
		"tls handshake",
	}
)

// Classify maps a send-path failure to an ErrorState. Typed sentinel errors
// are checked first; everything else falls back to a best-effort substring
// heuristic. The mapping is total: unrecognized failures are server errors.
func Classify(err error) ErrorState {
	if err == nil {
		return ErrorNone
	}

	if errors.Is(err, client.ErrNotConfigured) {
		return ErrorAPIKeyMissing
	}
	if errors.Is(err, client.ErrAuthFailed) {
		return ErrorInvalidKey
	}

	desc := strings.ToLower(err.Error())
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(desc, marker) {
			return ErrorInvalidKey
		}
	}
	for _, marker := range networkMarkers {
		if strings.Contains(desc, marker) {
			return ErrorNetwork
		}
	}
	return ErrorServer
}
