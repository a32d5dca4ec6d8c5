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

	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/gin-gonic/gin"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	writeSuccess(c, http.StatusOK, gin.H{"status": "ok"}, "Service is healthy")
}

// HandleDebugEnv reports which settings are configured. Values are never
// returned, only whether each one is set.
func HandleDebugEnv(cfg *config.FishTrackerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		writeSuccess(c, http.StatusOK, cfg.Configured(), "Environment configuration")
	}
}
