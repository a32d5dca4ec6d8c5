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
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxDecodePixels caps the dimensions Downscale will decode. Larger
// images are rejected from their header alone.
const MaxDecodePixels = 50_000_000

var (
	// ErrEmptyImage is returned by Downscale for zero-length input.
	ErrEmptyImage = errors.New("empty image")
	// ErrImageTooLarge is returned when the header declares more than
	// MaxDecodePixels pixels.
	ErrImageTooLarge = errors.New("image dimensions too large")
)

// downscale is swapped in tests.
var downscale = Downscale

// Downscale decodes data (JPEG, PNG or WebP), shrinks it so the longer
// side is at most opts.MaxEdge, and re-encodes it as JPEG. Images already
// within bounds are only re-encoded.
func Downscale(data []byte, opts Options) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxDecodePixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	dst := src
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if opts.MaxEdge > 0 && (w > opts.MaxEdge || h > opts.MaxEdge) {
		nw, nh := fitWithin(w, h, opts.MaxEdge)
		scaled := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, b, draw.Over, nil)
		dst = scaled
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func fitWithin(w, h, maxEdge int) (int, int) {
	if w >= h {
		nh := h * maxEdge / w
		if nh < 1 {
			nh = 1
		}
		return maxEdge, nh
	}
	nw := w * maxEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxEdge
}

// prepare runs Downscale and falls back to the original bytes on any
// failure, including a panic inside a decoder. It never returns an error.
func prepare(data []byte, opts Options) (out []byte, resized bool) {
	defer func() {
		if r := recover(); r != nil {
			out, resized = data, false
		}
	}()
	processed, err := downscale(data, opts)
	if err != nil {
		return data, false
	}
	return processed, true
}
