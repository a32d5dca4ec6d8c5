// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package response builds the uniform JSON envelope returned by every
// FishTracker endpoint and maps classified errors onto it.
package response

import (
	"errors"
	"net/http"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	validator "github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const internalErrorMessage = "Internal server error"

// Envelope is the wire shape of every response.
type Envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    any                    `json:"data,omitempty"`
	Errors  []apperrors.FieldError `json:"errors,omitempty"`
}

// Success wraps data in a successful envelope.
func Success(data any, message string) Envelope {
	if message == "" {
		message = "Success"
	}
	return Envelope{Success: true, Message: message, Data: data}
}

// Failure wraps err in an error envelope. The message defaults to the
// client-safe message carried by a classified error.
func Failure(err error, message string) Envelope {
	if message == "" {
		message = defaultMessage(err)
	}
	return Envelope{Success: false, Message: message, Errors: FormatError(err)}
}

// FormatError converts err into the envelope's field-level error list.
//
// # Description
//
// Recognised shapes, in order:
//   - go-playground validator errors: one entry per failed field, code = rule tag
//   - *apperrors.Error: its own field entries
//   - *validation.Error: one entry with the validator's field and code
//   - Mongo duplicate key (E11000): field "general", code "DuplicateKey"
//   - malformed ObjectID: field "_id", code "CastError"
//
// Anything else becomes a single "general" entry with a generic message;
// the raw error text stays in the server log.
func FormatError(err error) []apperrors.FieldError {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.FromValidator(verrs).FieldErrors()
	}

	var ae *apperrors.Error
	if errors.As(err, &ae) {
		return ae.FieldErrors()
	}

	var ve *validation.Error
	if errors.As(err, &ve) {
		return []apperrors.FieldError{{Field: ve.Field, Message: ve.Message, Code: ve.Code}}
	}

	if mongo.IsDuplicateKeyError(err) {
		return []apperrors.FieldError{{Field: "general", Message: "Duplicate value", Code: "DuplicateKey"}}
	}

	if errors.Is(err, bson.ErrInvalidHex) {
		return []apperrors.FieldError{{Field: "_id", Message: "Invalid identifier", Code: "CastError"}}
	}

	return []apperrors.FieldError{{Field: "general", Message: internalErrorMessage}}
}

// HTTPStatus maps an error to the status code used for its envelope.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if mongo.IsDuplicateKeyError(err) {
		return http.StatusConflict
	}
	if errors.Is(err, bson.ErrInvalidHex) {
		return http.StatusBadRequest
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindDuplicateKey:
		return http.StatusConflict
	case apperrors.KindUpstream:
		if apperrors.UpstreamKindOf(err) == apperrors.UpstreamRateLimit {
			return http.StatusTooManyRequests
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func defaultMessage(err error) string {
	if err == nil {
		return "Error"
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	var ve *validation.Error
	if errors.As(err, &ve) {
		return ve.Message
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return "Validation failed"
	default:
		return internalErrorMessage
	}
}
