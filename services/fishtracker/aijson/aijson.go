// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aijson recovers JSON payloads from language-model replies.
//
// Models wrap JSON in markdown fences, prepend prose, or leave trailing
// commas. The helpers here strip that noise before decoding.
package aijson

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	fencePattern         = regexp.MustCompile("(?is)^```(?:json)?\\s*(.*?)\\s*```$")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON is returned when a reply contains no object or array.
var ErrNoJSON = errors.New("no JSON object or array in model reply")

// Clean strips markdown code fences and stray backticks from a reply and
// trims surrounding whitespace.
func Clean(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "json\n") {
		s = strings.TrimSpace(s[len("json\n"):])
	}
	return s
}

// Extract narrows s to the span from the first '{' or '[' through the
// last matching '}' or ']'. The span is not checked for validity.
func Extract(s string) (string, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(s, closer)
	if end < start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// FixTrailingCommas removes commas that directly precede a closing brace
// or bracket.
func FixTrailingCommas(s string) string {
	return trailingCommaPattern.ReplaceAllString(s, "$1")
}

// LooksLikeJSON reports whether the cleaned reply starts and ends like a
// JSON object or array.
func LooksLikeJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}

// Decode cleans a reply, extracts the JSON span and unmarshals it into v.
// A second attempt is made with trailing commas removed.
func Decode(raw string, v any) error {
	span, err := Extract(Clean(raw))
	if err != nil {
		return err
	}
	err = json.Unmarshal([]byte(span), v)
	if err == nil {
		return nil
	}
	if fixed := FixTrailingCommas(span); fixed != span {
		if json.Unmarshal([]byte(fixed), v) == nil {
			return nil
		}
	}
	return err
}

// Raw returns the cleaned, extracted JSON span of a reply as bytes,
// with trailing commas removed when that makes it valid.
func Raw(raw string) ([]byte, error) {
	span, err := Extract(Clean(raw))
	if err != nil {
		return nil, err
	}
	if json.Valid([]byte(span)) {
		return []byte(span), nil
	}
	if fixed := FixTrailingCommas(span); json.Valid([]byte(fixed)) {
		return []byte(fixed), nil
	}
	return nil, errors.New("model reply is not valid JSON")
}

// ParseLenient interprets a conversational reply. When the cleaned text
// looks like JSON and parses (directly or after trailing-comma repair),
// it returns the decoded value and true. Otherwise it returns the cleaned
// text and false. The cleaned text is always returned as the third value.
func ParseLenient(raw string) (any, bool, string) {
	cleaned := Clean(raw)
	if !LooksLikeJSON(cleaned) {
		return cleaned, false, cleaned
	}
	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return v, true, cleaned
	}
	if err := json.Unmarshal([]byte(FixTrailingCommas(cleaned)), &v); err == nil {
		return v, true, cleaned
	}
	return cleaned, false, cleaned
}
