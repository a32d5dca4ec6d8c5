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
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"google.golang.org/api/option"
)

// GCSStore keeps images in a Cloud Storage bucket under fish-images/.
type GCSStore struct {
	client *storage.Client
	bucket string
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore creates a bucket-backed store. credentialsFile may be empty
// to use application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string, opts Options, logger *slog.Logger) (*GCSStore, error) {
	var clientOpts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return NewGCSStoreWithClient(client, bucket, opts, logger), nil
}

// NewGCSStoreWithClient wraps an existing client.
func NewGCSStoreWithClient(client *storage.Client, bucket string, opts Options, logger *slog.Logger) *GCSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{client: client, bucket: bucket, opts: opts, now: time.Now, logger: logger}
}

func objectName(rel string) string {
	return RootDir + "/" + rel
}

func (s *GCSStore) Save(ctx context.Context, deviceID string, data []byte) (string, error) {
	rel := deviceID + "/" + FileName(s.now())
	out, resized := prepare(data, s.opts)
	if !resized {
		s.logger.Warn("Image resize failed, storing original bytes", "device_id", deviceID, "bytes", len(data))
	}

	w := s.client.Bucket(s.bucket).Object(objectName(rel)).NewWriter(ctx)
	w.ContentType = "image/jpeg"
	w.CacheControl = "public, max-age=3600"
	if _, err := w.Write(out); err != nil {
		_ = w.Close()
		return "", apperrors.Persistence("failed to upload image", err)
	}
	if err := w.Close(); err != nil {
		return "", apperrors.Persistence("failed to upload image", err)
	}
	s.logger.Debug("Image uploaded", "bucket", s.bucket, "path", rel, "bytes", len(out))
	return rel, nil
}

func (s *GCSStore) Open(ctx context.Context, relPath string) (*Object, error) {
	rel, err := ValidateRelPath(relPath)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(objectName(rel)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, apperrors.NotFound("path", "Image not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to read image", err)
	}
	ctype := r.Attrs.ContentType
	if ctype == "" {
		ctype = "image/jpeg"
	}
	return &Object{ReadCloser: r, Size: r.Attrs.Size, ContentType: ctype, ModTime: r.Attrs.LastModified}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
