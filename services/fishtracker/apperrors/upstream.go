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

	"github.com/AleutianAI/FishTracker/services/llm"
)

// FromModel classifies a model-provider failure. fallback is the client
// message used when the failure has no more specific class. Already
// classified errors are returned unchanged.
func FromModel(err error, fallback string) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, llm.ErrEmptyResponse) {
		return Upstream(UpstreamEmpty, 0, "Empty response from AI", err)
	}
	status := llm.StatusCode(err)
	switch {
	case status == 401 || status == 403:
		return Upstream(UpstreamAuth, status, "Authentication with the AI provider failed", err)
	case status == 429:
		return Upstream(UpstreamRateLimit, status, "AI provider rate limit exceeded", err)
	case status >= 500 && status < 600:
		return Upstream(UpstreamServer, status, "AI provider service error", err)
	case status == 0:
		return Upstream(UpstreamUnavailable, 0, fallback, err)
	default:
		return Upstream(UpstreamGeneric, status, fallback, err)
	}
}
