// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/pipeline"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/gin-gonic/gin"
)

// DefaultMaxUploadBytes bounds the multipart body when no limit is set.
const DefaultMaxUploadBytes = 10 << 20

// HandleUpload accepts a multipart upload with fields deviceId and file.
// The device must be registered. The image then goes through detection
// and, when a fish is found, identification.
func HandleUpload(p *pipeline.Pipeline, devices store.DeviceStore, maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		if err := c.Request.ParseMultipartForm(maxBytes); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(c, apperrors.Validation("file", "Image is too large"), "")
				return
			}
			writeError(c, apperrors.Validation("file", "Expected a multipart form with deviceId and file"), "")
			return
		}
		id, err := validation.SanitizeDeviceID(c.Request.FormValue("deviceId"))
		if err != nil {
			writeError(c, err, "Invalid device ID")
			return
		}
		if _, err := devices.FindDevice(ctx, id); err != nil {
			writeError(c, err, "")
			return
		}

		image, err := readUpload(c)
		if err != nil {
			writeError(c, err, "")
			return
		}

		result, err := p.HandleUpload(ctx, image, id)
		if err != nil {
			writeError(c, err, "Failed to process detected fish image")
			return
		}
		writeSuccess(c, http.StatusOK, result, result.Summary)
	}
}

func readUpload(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, apperrors.Validation("file", "Image file is required")
	}
	f, err := header.Open()
	if err != nil {
		return nil, apperrors.Persistence("failed to open upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.Persistence("failed to read upload", err)
	}
	if len(data) == 0 {
		return nil, apperrors.Validation("file", "Image file is empty")
	}
	return data, nil
}
