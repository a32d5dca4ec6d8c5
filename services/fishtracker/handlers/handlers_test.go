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
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/chat"
	"github.com/AleutianAI/FishTracker/services/fishtracker/config"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/pipeline"
	badgerstore "github.com/AleutianAI/FishTracker/services/fishtracker/store/badger"
	"github.com/AleutianAI/FishTracker/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// MockLLMClient answers every call with the reply registered for the
// first message that contains one of the keys, or ChatResponse.
type MockLLMClient struct {
	mu           sync.Mutex
	ChatResponse string
	ChatError    error
	ByPrompt     map[string]string
	LastMessages []llm.Message
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastMessages = messages
	if m.ChatError != nil {
		return "", m.ChatError
	}
	for key, reply := range m.ByPrompt {
		if strings.Contains(messages[0].Content, key) {
			return reply, nil
		}
	}
	return m.ChatResponse, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"errors"`
}

type testServer struct {
	router  *gin.Engine
	store   *badgerstore.Store
	images  *imagestore.LocalStore
	catalog *catalog.Catalog
	ledger  *ledger.Ledger
	model   *MockLLMClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ts := &testServer{
		store:   s,
		images:  imagestore.NewLocalStore(t.TempDir(), imagestore.DefaultOptions(), logger),
		catalog: catalog.New(s, logger, nil),
		ledger:  ledger.New(s, s, ledger.Options{APIBaseURL: "http://localhost:3000/api"}, logger, nil),
		model: &MockLLMClient{
			ByPrompt: map[string]string{
				"fish detection expert": `{"hasFish": true, "confidence": 0.9, "description": "A trout"}`,
				`{"fishName":`:           `{"fishName": "Brown Trout"}`,
				"detailed, structured":   troutProfileJSON,
			},
		},
	}
	p := pipeline.New(pipeline.Deps{
		Model:   ts.model,
		Images:  ts.images,
		Catalog: ts.catalog,
		Ledger:  ts.ledger,
		Logger:  logger,
	}, pipeline.Options{Threshold: 0.6, ProcessSync: true})
	chatSvc := chat.New(ts.model, ts.ledger, chat.Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, logger, nil)

	cfg := config.DefaultConfig()
	r := gin.New()
	api := r.Group("/api")
	api.GET("/health", HealthCheck)
	api.GET("/debug/env", HandleDebugEnv(&cfg))
	api.POST("/device/register", HandleRegisterDevice(s))
	api.GET("/device/:deviceId", func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: "id", Value: c.Param("deviceId")})
		HandleGetDevice(s)(c)
	})
	api.POST("/device/:deviceId/add", HandleAddSighting(ts.ledger))
	api.POST("/fish/upload", HandleUpload(p, s, 1<<20))
	api.POST("/fish/process-fish-registration", HandleProcessRegistration(ts.catalog))
	api.POST("/fish/add-existing/:deviceId/:fishName", HandleAddExisting(s, ts.catalog, ts.ledger))
	api.GET("/fish/name/:fishName", HandleGetFishByName(ts.catalog))
	api.GET("/fish/species/:speciesId", HandleGetSpecies(ts.catalog))
	api.GET("/fish/image/*path", HandleServeImage(ts.images))
	api.GET("/fish/:deviceId", HandleGetDeviceFish(ts.ledger))
	api.POST("/chat/:deviceId", HandleChat(chatSvc))
	ts.router = r
	return ts
}

const troutProfileJSON = `{"fishData": {"name": "Brown Trout", "family": "Salmonidae", "minSize": 20, "maxSize": 80,
"waterType": "Freshwater", "description": "A freshwater trout.", "colorDescription": "Olive with red spots.",
"depthRangeMin": 0, "depthRangeMax": 10, "environment": "Cold rivers", "region": "Europe",
"conservationStatus": "Least Concern", "consStatusDescription": "Widespread.", "aiAccuracy": 88},
"colors": [{"colorName": "Olive"}], "predators": [{"predatorName": "Otter"}], "funFacts": []}`

func (ts *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func (ts *testServer) upload(t *testing.T, deviceID string, img []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("deviceId", deviceID))
	if img != nil {
		part, err := mw.CreateFormFile("file", "fish.png")
		require.NoError(t, err)
		_, err = part.Write(img)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/fish/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (ts *testServer) register(t *testing.T, id string) {
	t.Helper()
	w, _ := ts.do(t, http.MethodPost, "/api/device/register", gin.H{"deviceId": id})
	require.Equal(t, http.StatusCreated, w.Code)
}

func (ts *testServer) seedTrout(t *testing.T) *datatypes.Species {
	t.Helper()
	sp, err := ts.store.InsertSpecies(context.Background(), &datatypes.Species{
		Name: "Brown Trout", Family: "Salmonidae", MinSize: 20, MaxSize: 80, WaterType: datatypes.WaterFreshwater,
	})
	require.NoError(t, err)
	return sp
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		img.Set(x, x, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// =============================================================================
// Health & Debug
// =============================================================================

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t)
	w, env := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestHandleDebugEnv_NoSecrets(t *testing.T) {
	ts := newTestServer(t)
	w, env := ts.do(t, http.MethodGet, "/api/debug/env", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var flags map[string]bool
	require.NoError(t, json.Unmarshal(env.Data, &flags))
	assert.NotEmpty(t, flags)
}

// =============================================================================
// Devices
// =============================================================================

func TestRegisterDevice(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPost, "/api/device/register", gin.H{"deviceId": "  phone-123  "})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	var device datatypes.Device
	require.NoError(t, json.Unmarshal(env.Data, &device))
	assert.Equal(t, "phone-123", device.DeviceIdentifier)

	w, env = ts.do(t, http.MethodPost, "/api/device/register", gin.H{"deviceId": "phone-123"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, env.Success)
	require.Len(t, env.Errors, 1)
	assert.Equal(t, "DuplicateKey", env.Errors[0].Code)
}

func TestRegisterDevice_InvalidID(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"", "abc", "bad id!", strings.Repeat("a", 65)} {
		w, env := ts.do(t, http.MethodPost, "/api/device/register", gin.H{"deviceId": id})
		assert.Equal(t, http.StatusBadRequest, w.Code, id)
		require.NotEmpty(t, env.Errors)
		assert.Equal(t, "id", env.Errors[0].Field)
	}

	w, _ := ts.do(t, http.MethodPost, "/api/device/register", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetDevice(t *testing.T) {
	ts := newTestServer(t)
	w, env := ts.do(t, http.MethodGet, "/api/device/phone-123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Device has not been registered yet", env.Message)

	ts.register(t, "phone-123")
	w, env = ts.do(t, http.MethodGet, "/api/device/phone-123", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
}

func TestAddSighting_CreatesDeviceWithoutRateLimit(t *testing.T) {
	ts := newTestServer(t)
	trout := ts.seedTrout(t)

	for i := 0; i < 2; i++ {
		w, _ := ts.do(t, http.MethodPost, "/api/device/phone-123/add", gin.H{
			"fishId": trout.ID, "imageUrl": "phone-123/a.jpg", "timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		require.Equal(t, http.StatusOK, w.Code)
	}
	device, err := ts.store.FindDevice(context.Background(), "phone-123")
	require.NoError(t, err)
	assert.Len(t, device.Fish, 2)

	w, env := ts.do(t, http.MethodPost, "/api/device/phone-123/add", gin.H{"imageUrl": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "fishId", env.Errors[0].Field)
}

// =============================================================================
// Fish
// =============================================================================

func TestGetDeviceFish(t *testing.T) {
	ts := newTestServer(t)
	trout := ts.seedTrout(t)

	w, _ := ts.do(t, http.MethodGet, "/api/fish/phone-123", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.register(t, "phone-123")
	w, env := ts.do(t, http.MethodGet, "/api/fish/phone-123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	_, err := ts.ledger.AppendSighting(context.Background(), "phone-123", trout.ID, "phone-123/a b.jpg", time.Now())
	require.NoError(t, err)
	w, env = ts.do(t, http.MethodGet, "/api/fish/phone-123", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []datatypes.SightingView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "Brown Trout", views[0].Fish.Name)
	assert.Equal(t, "http://localhost:3000/api/fish/image/phone-123/a%20b.jpg", views[0].ImageURL)
}

func TestGetFishByName(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodGet, "/api/fish/name/Brown%20Trout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"known": false, "name": "Brown Trout"}`, string(env.Data))

	trout := ts.seedTrout(t)
	w, env = ts.do(t, http.MethodGet, "/api/fish/name/Brown%20Trout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, true, got["known"])
	assert.Equal(t, trout.ID, got["_id"])
	assert.Equal(t, "Salmonidae", got["family"])

	// Exact, case-sensitive match only.
	_, env = ts.do(t, http.MethodGet, "/api/fish/name/brown%20trout", nil)
	assert.Contains(t, string(env.Data), `"known":false`)
}

func TestGetSpecies(t *testing.T) {
	ts := newTestServer(t)
	trout := ts.seedTrout(t)

	w, env := ts.do(t, http.MethodGet, "/api/fish/species/"+trout.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "Brown Trout")

	w, _ = ts.do(t, http.MethodGet, "/api/fish/species/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddExisting(t *testing.T) {
	ts := newTestServer(t)
	ts.seedTrout(t)

	w, _ := ts.do(t, http.MethodPost, "/api/fish/add-existing/phone-123/Brown%20Trout", gin.H{"imageUrl": "phone-123/a.jpg"})
	assert.Equal(t, http.StatusNotFound, w.Code, "device must be registered")

	ts.register(t, "phone-123")
	w, _ = ts.do(t, http.MethodPost, "/api/fish/add-existing/phone-123/Pike", gin.H{"imageUrl": "phone-123/a.jpg"})
	assert.Equal(t, http.StatusNotFound, w.Code, "species must be known")

	w, env := ts.do(t, http.MethodPost, "/api/fish/add-existing/phone-123/Brown%20Trout", gin.H{"imageUrl": "phone-123/a.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), `"skipped":false`)

	w, env = ts.do(t, http.MethodPost, "/api/fish/add-existing/phone-123/Brown%20Trout", gin.H{"imageUrl": "phone-123/b.jpg"})
	require.Equal(t, http.StatusOK, w.Code)
	var res ledger.AppendResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Skipped)
	assert.Equal(t, "Brown Trout", res.FishName)
	assert.Equal(t, "phone-123/b.jpg", res.ImageURL)
}

func TestProcessRegistration(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(t, http.MethodPost, "/api/fish/process-fish-registration", troutProfileJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first datatypes.Species
	require.NoError(t, json.Unmarshal(env.Data, &first))

	w, env = ts.do(t, http.MethodPost, "/api/fish/process-fish-registration", troutProfileJSON)
	require.Equal(t, http.StatusOK, w.Code)
	var second datatypes.Species
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Equal(t, first.ID, second.ID)

	w, env = ts.do(t, http.MethodPost, "/api/fish/process-fish-registration", gin.H{
		"fishData": gin.H{"name": "Pike", "minSize": 50, "maxSize": 20},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "minSize", env.Errors[0].Field)

	w, _ = ts.do(t, http.MethodPost, "/api/fish/process-fish-registration", "[1,2]")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeImage(t *testing.T) {
	ts := newTestServer(t)
	rel, err := ts.images.Save(context.Background(), "phone-123", pngImage(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/fish/image/"+rel, nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
	assert.NotZero(t, w.Body.Len())

	w, _ = ts.do(t, http.MethodGet, "/api/fish/image/phone-123/missing.jpg", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.do(t, http.MethodGet, "/api/fish/image/phone-123/..%2F..%2Fsecret", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Upload
// =============================================================================

func TestUpload_RequiresRegisteredDevice(t *testing.T) {
	ts := newTestServer(t)
	w, env := ts.upload(t, "phone-123", pngImage(t))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
}

func TestUpload_Validation(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "phone-123")

	w, _ := ts.upload(t, "bad", pngImage(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := ts.upload(t, "phone-123", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file", env.Errors[0].Field)
}

func TestUpload_DetectsAndCatalogs(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "phone-123")

	w, env := ts.upload(t, "phone-123", pngImage(t))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, pipeline.MsgProcessed, env.Message)
	assert.JSONEq(t, `{"fishDetected": true, "data": [{"confidence": 0.9, "description": "A trout"}]}`, string(env.Data))

	found, _, err := ts.catalog.Exists(context.Background(), "Brown Trout")
	require.NoError(t, err)
	assert.True(t, found)

	device, err := ts.store.FindDevice(context.Background(), "phone-123")
	require.NoError(t, err)
	assert.Len(t, device.Fish, 1)
}

func TestUpload_NoFish(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "phone-123")
	ts.model.ByPrompt["fish detection expert"] = `{"hasFish": false}`

	w, env := ts.upload(t, "phone-123", pngImage(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pipeline.MsgNoFish, env.Message)
	assert.JSONEq(t, `{"fishDetected": false, "data": [], "message": "No fish detected in the image"}`, string(env.Data))
}

func TestUpload_ProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "phone-123")
	ts.model.ChatError = &llm.ProviderError{Provider: "openai", StatusCode: 500, Message: "down"}

	w, env := ts.upload(t, "phone-123", pngImage(t))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
}

// =============================================================================
// Chat
// =============================================================================

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	trout := ts.seedTrout(t)
	ts.model.ChatResponse = "Trout like cold water."

	w, _ := ts.do(t, http.MethodPost, "/api/chat/phone-123", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.register(t, "phone-123")
	w, _ = ts.do(t, http.MethodPost, "/api/chat/phone-123", gin.H{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code, "no sightings yet")

	_, err := ts.ledger.AppendSighting(context.Background(), "phone-123", trout.ID, "phone-123/a.jpg", time.Now())
	require.NoError(t, err)

	w, env := ts.do(t, http.MethodPost, "/api/chat/phone-123", gin.H{"message": "What do trout like?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"response": "Trout like cold water.", "raw": "Trout like cold water.", "parsed": false}`, string(env.Data))
	assert.Contains(t, ts.model.LastMessages[0].Content, "Brown Trout")

	w, env = ts.do(t, http.MethodPost, "/api/chat/phone-123", gin.H{"message": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "message", env.Errors[0].Field)
}

func TestChat_RateLimited(t *testing.T) {
	ts := newTestServer(t)
	trout := ts.seedTrout(t)
	_, err := ts.ledger.AppendSighting(context.Background(), "phone-123", trout.ID, "phone-123/a.jpg", time.Now())
	require.NoError(t, err)
	ts.model.ChatError = &llm.ProviderError{Provider: "openai", StatusCode: 429, Message: "slow down"}

	w, env := ts.do(t, http.MethodPost, "/api/chat/phone-123", gin.H{"message": "hello"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "AI provider rate limit exceeded", env.Message)
}
