// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/AleutianAI/FishTracker/services/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromModel(t *testing.T) {
	provider := func(status int) error {
		return &llm.ProviderError{Provider: "openai", StatusCode: status, Message: "failed"}
	}
	tests := []struct {
		name   string
		err    error
		kind   UpstreamKind
		status int
	}{
		{"empty", fmt.Errorf("chat: %w", llm.ErrEmptyResponse), UpstreamEmpty, 0},
		{"unauthorized", provider(401), UpstreamAuth, 401},
		{"forbidden", provider(403), UpstreamAuth, 403},
		{"rate limited", provider(429), UpstreamRateLimit, 429},
		{"server", provider(503), UpstreamServer, 503},
		{"bad request", provider(400), UpstreamGeneric, 400},
		{"network", errors.New("dial tcp: connection refused"), UpstreamUnavailable, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromModel(tt.err, "Failed to process chat request")
			require.NotNil(t, got)
			assert.Equal(t, KindUpstream, got.Kind)
			assert.Equal(t, tt.kind, got.Upstream)
			assert.Equal(t, tt.status, got.StatusCode)
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestFromModel_KeepsClassifiedErrors(t *testing.T) {
	orig := Upstream(UpstreamParse, 0, "Failed to parse fish name JSON from AI response", nil)
	assert.Same(t, orig, FromModel(fmt.Errorf("identify: %w", orig), "ignored"))
	assert.Nil(t, FromModel(nil, "ignored"))
}
