// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
)

// LocalStore keeps images under {root}/fish-images/{deviceId}/.
type LocalStore struct {
	dir    string
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(root string, opts Options, logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{
		dir:    filepath.Join(root, RootDir),
		opts:   opts,
		now:    time.Now,
		logger: logger,
	}
}

// Dir returns the directory holding the per-device folders.
func (s *LocalStore) Dir() string { return s.dir }

func (s *LocalStore) Save(ctx context.Context, deviceID string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	deviceDir := filepath.Join(s.dir, deviceID)
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return "", apperrors.Persistence("failed to create image directory", err)
	}

	name := FileName(s.now())
	out, resized := prepare(data, s.opts)
	if !resized {
		s.logger.Warn("Image resize failed, storing original bytes", "device_id", deviceID, "bytes", len(data))
	}
	if err := os.WriteFile(filepath.Join(deviceDir, name), out, 0644); err != nil {
		return "", apperrors.Persistence("failed to write image", err)
	}
	rel := deviceID + "/" + name
	s.logger.Debug("Image saved", "path", rel, "bytes", len(out), "resized", resized)
	return rel, nil
}

func (s *LocalStore) Open(ctx context.Context, relPath string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := ValidateRelPath(relPath)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(rel))
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("path", "Image not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to open image", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.Persistence("failed to stat image", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, apperrors.NotFound("path", "Image not found")
	}
	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	return &Object{ReadCloser: f, Size: info.Size(), ContentType: ctype, ModTime: info.ModTime()}, nil
}

func (s *LocalStore) String() string {
	return fmt.Sprintf("local:%s", s.dir)
}
