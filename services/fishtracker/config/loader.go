// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.fishtracker/fishtracker.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".fishtracker", "fishtracker.yaml"), nil
}

// Load reads the config file at path, creating it with defaults on first
// run, applies environment overrides and validates the result.
func Load(path string) (*FishTrackerConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := CreateDefault(path); err != nil {
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default values.
func Parse(data []byte) (*FishTrackerConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config: %w", err)
	}
	return &cfg, nil
}

// CreateDefault writes the default config to path, creating parent
// directories as needed.
func CreateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ApplyEnv overrides settings from environment variables. lookup is
// os.LookupEnv in production.
func (c *FishTrackerConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("PORT: %w", err))
		} else {
			c.Server.Port = port
		}
	}
	str("API_BASE_URL", &c.Server.APIBaseURL)
	boolean("DEBUG", &c.Server.Debug)

	str("STORE_BACKEND", &c.Storage.Backend)
	str("MONGODB_URI", &c.Storage.MongoURI)
	str("MONGODB_DATABASE", &c.Storage.MongoDatabase)
	str("BADGER_PATH", &c.Storage.BadgerPath)

	str("IMAGE_BACKEND", &c.Images.Backend)
	str("STORAGE_PATH", &c.Images.StoragePath)
	str("GCS_BUCKET", &c.Images.GCSBucket)
	str("GCS_CREDENTIALS_FILE", &c.Images.GCSCredentials)

	str("LLM_BACKEND_TYPE", &c.Model.Type)
	str("OPENAI_API_KEY", &c.Model.OpenAIKey)
	str("OPENAI_MODEL", &c.Model.OpenAIModel)
	str("OPENAI_BASE_URL", &c.Model.OpenAIBase)
	str("GEMINI_API_KEY", &c.Model.GeminiAPIKey)
	str("GEMINI_MODEL", &c.Model.GeminiModel)
	str("GEMINI_BASE_URL", &c.Model.GeminiBase)

	num("FISH_DETECTION_CONFIDENCE", &c.Pipeline.DetectionThreshold)
	windowSeconds := c.Pipeline.RateLimitWindow.Seconds()
	num("FISH_ADD_RATE_LIMIT_SECONDS", &windowSeconds)
	c.Pipeline.RateLimitWindow = time.Duration(windowSeconds * float64(time.Second))
	boolean("PROCESS_IMAGES_SYNC", &c.Pipeline.ProcessSync)

	str("LOG_LEVEL", &c.Logging.Level)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)

	return errors.Join(errs...)
}

// Validate rejects settings the service cannot start with.
func (c *FishTrackerConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Pipeline.DetectionThreshold < 0 || c.Pipeline.DetectionThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.detection_threshold %v must be within [0,1]", c.Pipeline.DetectionThreshold))
	}
	if c.Pipeline.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("pipeline.rate_limit_window must be positive"))
	}
	if c.Pipeline.ChatAttempts < 1 {
		errs = append(errs, errors.New("pipeline.chat_attempts must be at least 1"))
	}
	switch c.Storage.Backend {
	case "mongo":
		if c.Storage.MongoURI == "" {
			errs = append(errs, errors.New("storage.mongo_uri is required for the mongo backend"))
		}
	case "badger":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Images.Backend {
	case "local":
		if c.Images.StoragePath == "" {
			errs = append(errs, errors.New("images.storage_path is required for the local backend"))
		}
	case "gcs":
		if c.Images.GCSBucket == "" {
			errs = append(errs, errors.New("images.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown images.backend %q", c.Images.Backend))
	}
	switch c.Model.Type {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("unknown model_backend.type %q", c.Model.Type))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to print: API keys are masked.
func (c FishTrackerConfig) Redacted() FishTrackerConfig {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Model.OpenAIKey = mask(c.Model.OpenAIKey)
	c.Model.GeminiAPIKey = mask(c.Model.GeminiAPIKey)
	return c
}

// Configured reports which optional settings are present, without values.
func (c *FishTrackerConfig) Configured() map[string]bool {
	return map[string]bool{
		"mongodbUri":   c.Storage.MongoURI != "",
		"openaiApiKey": c.Model.OpenAIKey != "",
		"geminiApiKey": c.Model.GeminiAPIKey != "",
		"apiBaseUrl":   c.Server.APIBaseURL != "",
		"storagePath":  c.Images.StoragePath != "",
		"gcsBucket":    c.Images.GCSBucket != "",
		"otlpEndpoint": c.Tracing.OTLPEndpoint != "",
		"processSync":  c.Pipeline.ProcessSync,
	}
}
