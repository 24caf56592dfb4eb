// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GoldenGlimmer/aichat/internal/client"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorState
	}{
		{"nil", nil, ErrorNone},
		{"not configured sentinel", client.ErrNotConfigured, ErrorAPIKeyMissing},
		{"auth sentinel", client.ErrAuthFailed, ErrorInvalidKey},
		{"wrapped auth sentinel", fmt.Errorf("max retries exceeded: %w", client.ErrAuthFailed), ErrorInvalidKey},
		{"connection refused", errors.New("dial tcp 10.0.0.1:443: connect: Connection refused"), ErrorNetwork},
		{"no such host", errors.New("dial tcp: lookup api.example: no such host"), ErrorNetwork},
		{"io timeout", errors.New("read tcp 10.0.0.1:443: i/o timeout"), ErrorNetwork},
		{"invalid key text", errors.New("Invalid API key provided"), ErrorInvalidKey},
		{"unauthorized text", errors.New("401 Unauthorized"), ErrorInvalidKey},
		{"unknown failure", errors.New("something odd happened"), ErrorServer},
		{"upstream 500", errors.New("API error (HTTP 500): upstream blew up"), ErrorServer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestErrorState_String(t *testing.T) {
	assert.Equal(t, "none", ErrorNone.String())
	assert.Equal(t, "api key missing", ErrorAPIKeyMissing.String())
	assert.Equal(t, "invalid api key", ErrorInvalidKey.String())
	assert.Equal(t, "network error", ErrorNetwork.String())
	assert.Equal(t, "server error", ErrorServer.String())
	assert.Equal(t, "unknown", ErrorState(99).String())
}
