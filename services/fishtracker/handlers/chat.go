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

	"github.com/AleutianAI/FishTracker/services/fishtracker/chat"
	"github.com/gin-gonic/gin"
)

type ChatRequest struct {
	Message string `json:"message"`
}

// HandleChat answers a question about the fish a device has sighted.
func HandleChat(svc *chat.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := deviceParam(c, "deviceId")
		if !ok {
			return
		}
		var req ChatRequest
		if !bindJSON(c, &req) {
			return
		}
		answer, err := svc.Ask(c.Request.Context(), id, req.Message)
		if err != nil {
			writeError(c, err, "")
			return
		}
		writeSuccess(c, http.StatusOK, answer, "Successfully processed chat request")
	}
}
