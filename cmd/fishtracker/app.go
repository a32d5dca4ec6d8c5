// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/chat"
	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/middleware"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/fishtracker/pipeline"
	"github.com/AleutianAI/FishTracker/services/fishtracker/routes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	badgerstore "github.com/AleutianAI/FishTracker/services/fishtracker/store/badger"
	mongostore "github.com/AleutianAI/FishTracker/services/fishtracker/store/mongo"
	"github.com/AleutianAI/FishTracker/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// app holds the wired service graph behind the HTTP router.
type app struct {
	router *gin.Engine
	store  store.Store
	images imagestore.Store
	runner *pipeline.Runner
	logger *slog.Logger
}

// buildApp connects storage, the model client and every service, then
// mounts the route table. Metrics register on reg; gatherer serves them.
func buildApp(ctx context.Context, cfg *config.FishTrackerConfig, logger *slog.Logger,
	reg prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	images, err := openImages(ctx, cfg, logger)
	if err != nil {
		_ = st.Close(ctx)
		return nil, err
	}

	model, err := newModel(ctx, cfg)
	if err != nil {
		_ = st.Close(ctx)
		closeImages(images)
		return nil, err
	}

	metrics := observability.NewPipelineMetrics(reg)
	cat := catalog.New(st, logger, metrics)
	led := ledger.New(st, st, ledger.Options{
		Window:     cfg.Pipeline.RateLimitWindow,
		APIBaseURL: cfg.Server.APIBaseURL,
	}, logger, metrics)
	runner := pipeline.NewRunner(logger, metrics)
	pipe := pipeline.New(pipeline.Deps{
		Model:   model,
		Images:  images,
		Catalog: cat,
		Ledger:  led,
		Runner:  runner,
		Logger:  logger,
		Metrics: metrics,
	}, pipeline.Options{
		Threshold:   cfg.Pipeline.DetectionThreshold,
		ProcessSync: cfg.Pipeline.ProcessSync,
	})
	chatSvc := chat.New(model, led, chat.Options{
		Attempts: cfg.Pipeline.ChatAttempts,
		Backoff:  cfg.Pipeline.ChatBackoff,
	}, logger, metrics)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(middleware.RequestLogger(logger))

	routes.SetupRoutes(router, routes.Deps{
		Config:   cfg,
		Devices:  st,
		Catalog:  cat,
		Ledger:   led,
		Pipeline: pipe,
		Chat:     chatSvc,
		Images:   images,
		Gatherer: gatherer,
	})

	return &app{router: router, store: st, images: images, runner: runner, logger: logger}, nil
}

// Close drains background enrichment, then releases storage.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.runner.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("background tasks: %w", err))
	}
	closeImages(a.images)
	if err := a.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.FishTrackerConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "mongo":
		// Connect also ensures indexes.
		return mongostore.Connect(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDatabase, logger)
	case "badger":
		bc := badgerstore.DefaultConfig()
		bc.Path = cfg.Storage.BadgerPath
		bc.Logger = logger
		return badgerstore.Open(bc)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func openImages(ctx context.Context, cfg *config.FishTrackerConfig, logger *slog.Logger) (imagestore.Store, error) {
	opts := imagestore.Options{
		MaxEdge: cfg.Images.ResizeLongEdge,
		Quality: cfg.Images.JPEGQuality,
	}
	switch cfg.Images.Backend {
	case "", "local":
		return imagestore.NewLocalStore(cfg.Images.StoragePath, opts, logger), nil
	case "gcs":
		return imagestore.NewGCSStore(ctx, cfg.Images.GCSBucket, cfg.Images.GCSCredentials, opts, logger)
	default:
		return nil, fmt.Errorf("unknown image backend %q", cfg.Images.Backend)
	}
}

func closeImages(s imagestore.Store) {
	if c, ok := s.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func newModel(ctx context.Context, cfg *config.FishTrackerConfig) (llm.LLMClient, error) {
	switch cfg.Model.Type {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIOptions{
			APIKey:  cfg.Model.OpenAIKey,
			Model:   cfg.Model.OpenAIModel,
			BaseURL: cfg.Model.OpenAIBase,
		})
	case "gemini":
		return llm.NewGeminiClient(ctx, llm.GeminiOptions{
			APIKey:  cfg.Model.GeminiAPIKey,
			Model:   cfg.Model.GeminiModel,
			BaseURL: cfg.Model.GeminiBase,
		})
	default:
		return nil, fmt.Errorf("unknown model type %q", cfg.Model.Type)
	}
}
