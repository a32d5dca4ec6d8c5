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

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/gin-gonic/gin"
)

// KnownSpecies is the data of GET /fish/name/:fishName for a catalogued
// species: the species fields plus known=true.
type KnownSpecies struct {
	Known bool `json:"known"`
	*datatypes.Species
}

type AddExistingRequest struct {
	ImageURL string `json:"imageUrl"`
}

// HandleGetDeviceFish lists a device's sightings with species expanded.
func HandleGetDeviceFish(led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceParam(c, "deviceId")
		if !ok {
			return
		}
		sightings, err := led.GetSightings(c.Request.Context(), id)
		if err != nil {
			writeError(c, err, "")
			return
		}
		writeSuccess(c, http.StatusOK, sightings, "Fish retrieved successfully")
	}
}

func HandleGetFishByName(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := strings.TrimSpace(c.Param("fishName"))
		if name == "" {
			writeError(c, apperrors.Validation("fishName", "Fish name is required"), "")
			return
		}
		found, species, err := cat.Exists(c.Request.Context(), name)
		if err != nil {
			writeError(c, err, "")
			return
		}
		if !found {
			writeSuccess(c, http.StatusOK, gin.H{"known": false, "name": name}, "Fish is not known")
			return
		}
		writeSuccess(c, http.StatusOK, KnownSpecies{Known: true, Species: species}, "Fish is known")
	}
}

// HandleGetSpecies returns a species with all child collections.
func HandleGetSpecies(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := cat.Get(c.Request.Context(), c.Param("speciesId"))
		if err != nil {
			writeError(c, err, "")
			return
		}
		writeSuccess(c, http.StatusOK, detail, "Fish found")
	}
}

// HandleAddExisting records a rate-limited sighting of a catalogued
// species. Both the device and the species must exist.
func HandleAddExisting(devices store.DeviceStore, cat *catalog.Catalog, led *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceParam(c, "deviceId")
		if !ok {
			return
		}
		ctx := c.Request.Context()
		var req AddExistingRequest
		if !bindJSON(c, &req) {
			return
		}
		if _, err := devices.FindDevice(ctx, id); err != nil {
			writeError(c, err, "")
			return
		}
		found, species, err := cat.Exists(ctx, strings.TrimSpace(c.Param("fishName")))
		if err != nil {
			writeError(c, err, "")
			return
		}
		if !found {
			writeError(c, apperrors.NotFound("fishName", "Fish not found"), "")
			return
		}

		result, err := led.AppendSighting(ctx, id, species.ID, req.ImageURL, time.Now())
		if err != nil {
			writeError(c, err, "Failed to add fish to device")
			return
		}
		if result.Skipped {
			writeSuccess(c, http.StatusOK, result, "Fish sighting skipped, seen recently")
			return
		}
		writeSuccess(c, http.StatusOK, result, "Existing fish added to device")
	}
}

// HandleProcessRegistration registers a species profile posted as
// {fishData: {...}} or flat. An existing species is returned unchanged.
func HandleProcessRegistration(cat *catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			writeError(c, apperrors.Validation("fishData", "Unable to read request body"), "")
			return
		}
		profile, _, err := datatypes.NormalizeProfile(body)
		if err != nil {
			writeError(c, apperrors.Validation("fishData", err.Error()), "Invalid fish data")
			return
		}
		species, created, err := cat.FindOrCreate(c.Request.Context(), profile)
		if err != nil {
			writeError(c, err, "Failed to register fish")
			return
		}
		if created {
			writeSuccess(c, http.StatusCreated, species, "Fish registered successfully")
			return
		}
		writeSuccess(c, http.StatusOK, species, "Fish already exists")
	}
}

// HandleServeImage streams a stored image. Paths containing ".." are 400,
// missing images 404.
func HandleServeImage(images imagestore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		obj, err := images.Open(c.Request.Context(), c.Param("path"))
		if err != nil {
			writeError(c, err, "")
			return
		}
		defer obj.Close()

		size := obj.Size
		if size <= 0 {
			size = -1
		}
		c.DataFromReader(http.StatusOK, size, obj.ContentType, obj, map[string]string{
			"Cache-Control": "public, max-age=3600",
		})
	}
}
