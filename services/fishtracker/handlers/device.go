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
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/gin-gonic/gin"
)

type RegisterDeviceRequest struct {
	DeviceID string `json:"deviceId"`
}

// AddSightingRequest is the body of POST /device/:deviceId/add. Fields
// other than these three are ignored.
type AddSightingRequest struct {
	FishID    string    `json:"fishId"`
	ImageURL  string    `json:"imageUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// HandleRegisterDevice creates a device. A taken identifier is 409.
func HandleRegisterDevice(devices store.DeviceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterDeviceRequest
		if !bindJSON(c, &req) {
			return
		}
		id, err := validation.SanitizeDeviceID(req.DeviceID)
		if err != nil {
			writeError(c, err, "Invalid device ID")
			return
		}
		device, err := devices.CreateDevice(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "Failed to register device")
			return
		}
		writeSuccess(c, http.StatusCreated, device, "Device registered successfully")
	}
}

func HandleGetDevice(devices store.DeviceStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceParam(c, "id")
		if !ok {
			return
		}
		device, err := devices.FindDevice(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "")
			return
		}
		writeSuccess(c, http.StatusOK, device, "Device found")
	}
}

// HandleAddSighting appends a sighting without the rate-limit check,
// creating the device when absent.
func HandleAddSighting(led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceParam(c, "deviceId")
		if !ok {
			return
		}
		var req AddSightingRequest
		if !bindJSON(c, &req) {
			return
		}
		fishID := strings.TrimSpace(req.FishID)
		if fishID == "" {
			writeError(c, apperrors.Validation("fishId", "Fish ID is required"), "")
			return
		}
		device, err := led.RecordSighting(c.Request.Context(), id, datatypes.Sighting{
			FishID:    fishID,
			ImageURL:  req.ImageURL,
			Timestamp: req.Timestamp,
		})
		if err != nil {
			writeError(c, err, "Failed to add fish to device")
			return
		}
		writeSuccess(c, http.StatusOK, device, "Fish added to device")
	}
}
