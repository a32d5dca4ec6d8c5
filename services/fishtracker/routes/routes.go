// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/chat"
	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/AleutianAI/FishTracker/services/fishtracker/handlers"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/pipeline"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the route table hands to handlers.
type Deps struct {
	Config   *config.FishTrackerConfig
	Devices  store.DeviceStore
	Catalog  *catalog.Catalog
	Ledger   *ledger.Ledger
	Pipeline *pipeline.Pipeline
	Chat     *chat.Service
	Images   imagestore.Store
	// Gatherer backs /api/metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

func SetupRoutes(router *gin.Engine, deps Deps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	var maxUpload int64
	if deps.Config != nil {
		maxUpload = deps.Config.Images.MaxUploadBytes
	}

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)
		api.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

		device := api.Group("/device")
		{
			device.POST("/register", handlers.HandleRegisterDevice(deps.Devices))
			device.GET("/:id", handlers.HandleGetDevice(deps.Devices))
			device.POST("/:id/add", renameParam("id", "deviceId", handlers.HandleAddSighting(deps.Ledger)))
		}

		fish := api.Group("/fish")
		{
			fish.POST("/upload", handlers.HandleUpload(deps.Pipeline, deps.Devices, maxUpload))
			fish.POST("/process-fish-registration", handlers.HandleProcessRegistration(deps.Catalog))
			fish.POST("/add-existing/:deviceId/:fishName", handlers.HandleAddExisting(deps.Devices, deps.Catalog, deps.Ledger))
			fish.GET("/name/:fishName", handlers.HandleGetFishByName(deps.Catalog))
			fish.GET("/species/:speciesId", handlers.HandleGetSpecies(deps.Catalog))
			fish.GET("/image/*path", handlers.HandleServeImage(deps.Images))
			fish.GET("/:deviceId", handlers.HandleGetDeviceFish(deps.Ledger))
		}

		api.POST("/chat/:deviceId", handlers.HandleChat(deps.Chat))

		if deps.Config != nil {
			api.GET("/debug/env", handlers.HandleDebugEnv(deps.Config))
		}
	}
}

// renameParam exposes path parameter from under the name to, so handlers
// can share one parameter name across routes whose wildcards must match.
func renameParam(from, to string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		for i, p := range c.Params {
			if p.Key == from {
				c.Params[i].Key = to
			}
		}
		h(c)
	}
}
