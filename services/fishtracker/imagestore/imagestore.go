// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package imagestore persists uploaded fish photos and serves them back.
//
// Paths handed out by Save have the form {deviceId}/{unixMillis}_{uuid}.jpg
// and are relative to the backend's root. Callers turn them into URLs; raw
// paths never reach clients.
package imagestore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/google/uuid"
)

// RootDir is the directory (or object prefix) below the storage root that
// holds per-device image folders.
const RootDir = "fish-images"

// Store writes and reads images.
type Store interface {
	// Save stores data for deviceID and returns the relative path.
	Save(ctx context.Context, deviceID string, data []byte) (string, error)
	// Open returns the stored image. Missing images are NotFound.
	Open(ctx context.Context, relPath string) (*Object, error)
}

// Object is an open stored image.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Options controls the resize step applied before writing.
type Options struct {
	// MaxEdge caps the longer image side in pixels. 0 disables resizing.
	MaxEdge int
	// Quality is the JPEG quality, 1-100.
	Quality int
}

// DefaultOptions caps the long edge at 1600px with JPEG quality 80.
func DefaultOptions() Options {
	return Options{MaxEdge: 1600, Quality: 80}
}

// FileName returns a unique file name for an image taken at t.
func FileName(t time.Time) string {
	return fmt.Sprintf("%d_%s.jpg", t.UnixMilli(), uuid.NewString())
}

// ValidateRelPath rejects empty paths and any path containing "..".
func ValidateRelPath(rel string) (string, error) {
	rel = strings.TrimPrefix(strings.TrimSpace(rel), "/")
	if rel == "" {
		return "", apperrors.Validation("path", "Image path is required")
	}
	if strings.Contains(rel, "..") {
		return "", apperrors.Validation("path", "Invalid image path")
	}
	return path.Clean(rel), nil
}
