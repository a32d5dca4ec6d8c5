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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/AleutianAI/FishTracker/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.FishTrackerConfig {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Server.Debug = true
	cfg.Storage.Backend = "badger"
	cfg.Storage.BadgerPath = filepath.Join(dir, "badger")
	cfg.Images.StoragePath = filepath.Join(dir, "uploads")
	cfg.Model.OpenAIKey = "test-key"
	return &cfg
}

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

// =============================================================================
// buildApp
// =============================================================================

func TestBuildApp_ServesRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := buildApp(context.Background(), testConfig(t), slogDiscard(), reg, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	body := strings.NewReader(`{"deviceId":"phone-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/device/register", body)
	req.Header.Set("Content-Type", "application/json")
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/device/phone-1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBuildApp_UnknownBackends(t *testing.T) {
	reg := prometheus.NewRegistry()

	cfg := testConfig(t)
	cfg.Storage.Backend = "sqlite"
	_, err := buildApp(context.Background(), cfg, slogDiscard(), reg, reg)
	assert.ErrorContains(t, err, "unknown storage backend")

	cfg = testConfig(t)
	cfg.Model.Type = "llamacpp"
	_, err = buildApp(context.Background(), cfg, slogDiscard(), reg, reg)
	assert.ErrorContains(t, err, "unknown model type")
}

func TestNewModel_GeminiUsesConfiguredBaseURL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"ok"}]}}]}`))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Model.Type = "gemini"
	cfg.Model.GeminiAPIKey = "g-test"
	cfg.Model.GeminiModel = "gemini-test"
	cfg.Model.GeminiBase = srv.URL + "/"

	model, err := newModel(context.Background(), cfg)
	require.NoError(t, err)
	out, err := model.Chat(context.Background(), []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
	}, llm.GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(1), hits.Load())
}

func TestOpenStore_Mongo(t *testing.T) {
	uri := os.Getenv("FISHTRACKER_MONGO_TEST_URI")
	if uri == "" {
		t.Skip("FISHTRACKER_MONGO_TEST_URI not set")
	}
	cfg := testConfig(t)
	cfg.Storage.Backend = "mongo"
	cfg.Storage.MongoURI = uri
	cfg.Storage.MongoDatabase = "fishtracker_cmd_test"

	ctx := context.Background()
	s, err := openStore(ctx, cfg, slogDiscard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(ctx) })
	assert.NoError(t, s.Ping(ctx))
}

// =============================================================================
// Commands
// =============================================================================

func TestVersionCommand(t *testing.T) {
	out := runCommand(t, "version")
	assert.Equal(t, "fishtracker dev\n", out)
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-secret")
	path := filepath.Join(t.TempDir(), "fishtracker.yaml")

	out := runCommand(t, "config", "init", "--config", path)
	assert.Contains(t, out, "Wrote default config")

	out = runCommand(t, "config", "init", "--config", path)
	assert.Contains(t, out, "already exists")

	out = runCommand(t, "config", "show", "--config", path)
	assert.Contains(t, out, "rate_limit_window")
	assert.NotContains(t, out, "sk-secret")
}
