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
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/chat"
	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/fishtracker/pipeline"
	badgerstore "github.com/AleutianAI/FishTracker/services/fishtracker/store/badger"
	"github.com/AleutianAI/FishTracker/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockLLMClient struct{}

func (m *mockLLMClient) Chat(_ context.Context, _ []llm.Message, _ llm.GenerationParams) (string, error) {
	return `{"hasFish": false}`, nil
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(reg)
	cfg := config.DefaultConfig()
	images := imagestore.NewLocalStore(t.TempDir(), imagestore.DefaultOptions(), logger)
	cat := catalog.New(s, logger, metrics)
	led := ledger.New(s, s, ledger.Options{}, logger, metrics)

	router := gin.New()
	SetupRoutes(router, Deps{
		Config:   &cfg,
		Devices:  s,
		Catalog:  cat,
		Ledger:   led,
		Pipeline: pipeline.New(pipeline.Deps{Model: &mockLLMClient{}, Images: images, Catalog: cat, Ledger: led, Logger: logger, Metrics: metrics}, pipeline.Options{}),
		Chat:     chat.New(&mockLLMClient{}, led, chat.Options{}, logger, metrics),
		Images:   images,
		Gatherer: reg,
	})
	return router
}

func TestSetupRoutes_RegistersEveryRoute(t *testing.T) {
	router := newRouter(t)

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/api/health"},
		{"GET", "/api/metrics"},
		{"GET", "/api/debug/env"},
		{"POST", "/api/device/register"},
		{"GET", "/api/device/:id"},
		{"POST", "/api/device/:id/add"},
		{"POST", "/api/fish/upload"},
		{"POST", "/api/fish/process-fish-registration"},
		{"POST", "/api/fish/add-existing/:deviceId/:fishName"},
		{"GET", "/api/fish/name/:fishName"},
		{"GET", "/api/fish/species/:speciesId"},
		{"GET", "/api/fish/image/*path"},
		{"GET", "/api/fish/:deviceId"},
		{"POST", "/api/chat/:deviceId"},
	}

	routes := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range routes {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", want.method, want.path)
	}
}

func TestSetupRoutes_AddSightingParam(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/device/bad!/add", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"id"`)
}

func TestSetupRoutes_Metrics(t *testing.T) {
	router := newRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fishtracker_pipeline_background_tasks_in_flight")
}
