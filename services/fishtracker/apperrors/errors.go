// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apperrors defines the error taxonomy shared by every FishTracker
// stage. Stages return *Error values (or wrap them); the HTTP layer turns
// them into envelope field lists and status codes.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	validator "github.com/go-playground/validator/v10"
)

// Kind classifies an error for propagation and status mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindDuplicateKey
	KindUpstream
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNotFound:
		return "NotFoundError"
	case KindDuplicateKey:
		return "DuplicateKey"
	case KindUpstream:
		return "UpstreamError"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "Error"
	}
}

// UpstreamKind subdivides model-provider failures.
type UpstreamKind string

const (
	UpstreamGeneric     UpstreamKind = "generic"
	UpstreamAuth        UpstreamKind = "auth"
	UpstreamRateLimit   UpstreamKind = "rate_limit"
	UpstreamServer      UpstreamKind = "server"
	UpstreamParse       UpstreamKind = "parse"
	UpstreamEmpty       UpstreamKind = "empty"
	UpstreamUnavailable UpstreamKind = "unavailable"
)

// FieldError is one entry of the envelope "errors" list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error is the concrete error type for all classified failures.
//
// Message is safe to show to clients. Err keeps the underlying cause for
// logs and errors.Is/As chains.
type Error struct {
	Kind       Kind
	Field      string
	Code       string
	Message    string
	Upstream   UpstreamKind
	StatusCode int
	Fields     []FieldError
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// FieldErrors returns the envelope entries for this error.
func (e *Error) FieldErrors() []FieldError {
	if len(e.Fields) > 0 {
		return e.Fields
	}
	field := e.Field
	if field == "" {
		field = "general"
	}
	code := e.Code
	if code == "" {
		code = e.Kind.String()
	}
	return []FieldError{{Field: field, Message: e.Message, Code: code}}
}

// =============================================================================
// Constructors
// =============================================================================

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func NotFound(field, message string) *Error {
	return &Error{Kind: KindNotFound, Field: field, Message: message, Code: "NotFound"}
}

func Duplicate(field string, err error) *Error {
	return &Error{
		Kind:    KindDuplicateKey,
		Field:   field,
		Code:    "DuplicateKey",
		Message: fmt.Sprintf("Duplicate value for %s", field),
		Err:     err,
	}
}

func Persistence(message string, err error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

func Upstream(kind UpstreamKind, status int, message string, err error) *Error {
	return &Error{
		Kind:       KindUpstream,
		Upstream:   kind,
		StatusCode: status,
		Code:       "Upstream:" + string(kind),
		Message:    message,
		Err:        err,
	}
}

// FromValidator converts go-playground validation failures into a single
// validation error carrying one field entry per failed rule.
func FromValidator(err error) *Error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fe.Field(),
			Message: validatorMessage(fe),
			Code:    fe.Tag(),
		})
	}
	return &Error{
		Kind:    KindValidation,
		Message: "Validation failed",
		Fields:  fields,
		Err:     err,
	}
}

func validatorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is not a valid value (%s)", fe.Field(), fe.Tag())
	}
}

// =============================================================================
// Classification helpers
// =============================================================================

// KindOf returns the classification of err, looking through wrap chains.
// Input-validation failures from pkg/validation and go-playground count
// as KindValidation.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var ve *validation.Error
	if errors.As(err, &ve) {
		return KindValidation
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return KindValidation
	}
	return KindUnknown
}

func IsValidation(err error) bool   { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool     { return KindOf(err) == KindNotFound }
func IsDuplicateKey(err error) bool { return KindOf(err) == KindDuplicateKey }
func IsUpstream(err error) bool     { return KindOf(err) == KindUpstream }
func IsPersistence(err error) bool  { return KindOf(err) == KindPersistence }

// UpstreamKindOf returns the upstream sub-kind, or "" for non-upstream errors.
func UpstreamKindOf(err error) UpstreamKind {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindUpstream {
		return ae.Upstream
	}
	return ""
}
