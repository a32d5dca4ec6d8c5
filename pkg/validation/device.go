// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that arrive from
// mobile clients before they reach storage, the filesystem or a model prompt.
//
// Device identifiers are used as directory names under the image root and as
// lookup keys in the document store, so they are restricted to a small,
// path-safe alphabet.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// deviceIDPattern matches valid device identifiers.
// Allows: ASCII letters, digits, underscore, hyphen. Length 5-64.
var deviceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{5,64}$`)

// MaxChatMessageLength is the longest question accepted by the chat endpoint,
// counted in runes.
const MaxChatMessageLength = 2000

// Error is returned for any rejected input. Field names the offending input
// and Code is a stable machine-readable reason.
type Error struct {
	Field   string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// SanitizeDeviceID trims and validates a device identifier.
//
// Valid identifiers:
//   - 5-64 characters after trimming
//   - Letters A-Z and a-z
//   - Digits 0-9
//   - Underscore (_) and hyphen (-)
//
// Returns the trimmed identifier if valid.
//
// Example:
//
//	id, err := validation.SanitizeDeviceID(c.Param("deviceId"))
//	if err != nil {
//	    return err
//	}
//	// id is safe to use as a directory name
func SanitizeDeviceID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", &Error{Field: "id", Code: "ValidationError", Message: "Device ID cannot be empty"}
	}
	if !deviceIDPattern.MatchString(trimmed) {
		return "", &Error{
			Field:   "id",
			Code:    "ValidationError",
			Message: "Device ID must be 5-64 characters of letters, digits, '_' or '-'",
		}
	}
	return trimmed, nil
}

// ValidateDeviceID reports whether id is acceptable without normalizing it.
func ValidateDeviceID(id string) error {
	_, err := SanitizeDeviceID(id)
	return err
}

// SanitizeChatMessage trims a user question and rejects empty, oversized or
// control-character-bearing input.
func SanitizeChatMessage(msg string) (string, error) {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return "", &Error{Field: "message", Code: "ValidationError", Message: "Message cannot be empty"}
	}
	if utf8.RuneCountInString(trimmed) > MaxChatMessageLength {
		return "", &Error{
			Field:   "message",
			Code:    "ValidationError",
			Message: fmt.Sprintf("Message exceeds maximum length of %d", MaxChatMessageLength),
		}
	}
	for _, r := range trimmed {
		if r == utf8.RuneError || unicode.Is(unicode.C, r) {
			return "", &Error{Field: "message", Code: "ValidationError", Message: "Message contains invalid characters"}
		}
	}
	return trimmed, nil
}
