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
	"time"
)

// FishTrackerConfig is the full service configuration. It is read from a
// YAML file and then overridden by environment variables.
type FishTrackerConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Images   ImageConfig    `yaml:"images"`
	Model    ModelConfig    `yaml:"model_backend"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type ServerConfig struct {
	Port       int    `yaml:"port"`         // e.g. 3000
	APIBaseURL string `yaml:"api_base_url"` // e.g. http://localhost:3000/api
	Debug      bool   `yaml:"debug"`
}

// StorageConfig selects the document store.
type StorageConfig struct {
	// Backend is "mongo" or "badger".
	Backend       string `yaml:"backend"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
	BadgerPath    string `yaml:"badger_path"`
}

// ImageConfig selects where uploaded images are written.
type ImageConfig struct {
	// Backend is "local" or "gcs".
	Backend        string `yaml:"backend"`
	StoragePath    string `yaml:"storage_path"`
	GCSBucket      string `yaml:"gcs_bucket,omitempty"`
	GCSCredentials string `yaml:"gcs_credentials_file,omitempty"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	ResizeLongEdge int    `yaml:"resize_long_edge"`
	JPEGQuality    int    `yaml:"jpeg_quality"`
}

type ModelConfig struct {
	// Type can be "openai" or "gemini".
	Type         string `yaml:"type"`
	OpenAIModel  string `yaml:"openai_model"`
	OpenAIKey    string `yaml:"-"`
	OpenAIBase   string `yaml:"openai_base_url,omitempty"`
	GeminiModel  string `yaml:"gemini_model"`
	GeminiAPIKey string `yaml:"-"`
	GeminiBase   string `yaml:"gemini_base_url,omitempty"`
}

type PipelineConfig struct {
	DetectionThreshold float64       `yaml:"detection_threshold"`
	RateLimitWindow    time.Duration `yaml:"rate_limit_window"`
	ProcessSync        bool          `yaml:"process_sync"`
	ChatAttempts       int           `yaml:"chat_attempts"`
	ChatBackoff        time.Duration `yaml:"chat_backoff"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	LogDir string `yaml:"log_dir,omitempty"`
}

type TracingConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	ServiceName  string `yaml:"service_name"`
}

// DefaultConfig returns the settings used when no file or environment
// override is present.
func DefaultConfig() FishTrackerConfig {
	return FishTrackerConfig{
		Server: ServerConfig{
			Port:       3000,
			APIBaseURL: "http://localhost:3000/api",
		},
		Storage: StorageConfig{
			Backend:       "mongo",
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "fishtracker",
			BadgerPath:    "./data/badger",
		},
		Images: ImageConfig{
			Backend:        "local",
			StoragePath:    "./uploads",
			MaxUploadBytes: 10 << 20,
			ResizeLongEdge: 1600,
			JPEGQuality:    80,
		},
		Model: ModelConfig{
			Type:        "openai",
			OpenAIModel: "gpt-4o",
			GeminiModel: "gemini-2.5-flash",
		},
		Pipeline: PipelineConfig{
			DetectionThreshold: 0.6,
			RateLimitWindow:    10 * time.Second,
			ProcessSync:        false,
			ChatAttempts:       3,
			ChatBackoff:        500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			ServiceName: "fishtracker",
		},
	}
}
