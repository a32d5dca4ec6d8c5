// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// ProviderError is returned by every client when the provider call fails.
// StatusCode is 0 when no HTTP response was received.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API call failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API call failed: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ErrEmptyResponse is returned when the provider answers with no content.
var ErrEmptyResponse = errors.New("model returned an empty response")

// StatusCode extracts the provider HTTP status from err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return statusFromSDK(err)
}

// wrapProviderError normalises SDK errors into *ProviderError.
func wrapProviderError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusFromSDK(err),
		Message:    err.Error(),
		Err:        err,
	}
}

func statusFromSDK(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}

// IsTransient reports whether a failed call may succeed on retry: no
// status was received, the provider rate limited, or the server failed.
func IsTransient(err error) bool {
	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, context.Canceled) {
		return false
	}
	status := StatusCode(err)
	return status == 0 || status == 429 || status >= 500
}
