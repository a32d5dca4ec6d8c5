// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the FishTracker service.
// Every handler answers with the response envelope.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/response"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func writeSuccess(c *gin.Context, status int, data any, message string) {
	c.JSON(status, response.Success(data, message))
}

// writeError classifies err, records it on the request span and writes the
// error envelope. message overrides the envelope message when set.
func writeError(c *gin.Context, err error, message string) {
	status := response.HTTPStatus(err)
	span := trace.SpanFromContext(c.Request.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "route", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, response.Failure(err, message))
}

// deviceParam validates and returns the named device id path parameter.
func deviceParam(c *gin.Context, name string) (string, bool) {
	id, err := validation.SanitizeDeviceID(c.Param(name))
	if err != nil {
		writeError(c, err, "Invalid device ID")
		return "", false
	}
	return id, true
}

// bindJSON decodes the body into v, writing a validation envelope on
// failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, apperrors.FromValidator(err), "Invalid request body")
		return false
	}
	return true
}
