// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger records which species each device has sighted.
//
// # Description
//
// A device owns an ordered list of sightings. Appends are rate limited per
// (device, species): a sighting of the same species within the configured
// window of the most recent one is reported as skipped and not stored.
//
// # Concurrency
//
// The recency check and the append are two store calls. Within one
// process they are serialised per (device, species) by a keyed mutex, so
// two simultaneous uploads cannot both pass the check. Separate processes
// sharing one database can still race; that window is accepted.
package ledger

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultWindow is the rate-limit window used when none is configured.
const DefaultWindow = 10 * time.Second

// Ledger appends and reads device sightings.
type Ledger struct {
	devices store.DeviceStore
	species store.SpeciesStore
	window  time.Duration
	apiBase string
	now     func() time.Time
	locks   *keyedMutex
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

// Options configures a Ledger.
type Options struct {
	// Window is the per-(device, species) rate-limit window.
	Window time.Duration
	// APIBaseURL prefixes image URLs, e.g. http://localhost:3000/api.
	APIBaseURL string
	// Now overrides the clock. Tests only.
	Now func() time.Time
}

func New(devices store.DeviceStore, species store.SpeciesStore, opts Options, logger *slog.Logger, metrics *observability.PipelineMetrics) *Ledger {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		devices: devices,
		species: species,
		window:  opts.Window,
		apiBase: strings.TrimRight(opts.APIBaseURL, "/"),
		now:     opts.Now,
		locks:   newKeyedMutex(),
		logger:  logger,
		metrics: metrics,
	}
}

// AppendResult describes one AppendSighting call. When Skipped is true
// nothing was written and Device is nil.
type AppendResult struct {
	Skipped   bool              `json:"skipped"`
	DeviceID  string            `json:"deviceId"`
	FishID    string            `json:"fishId"`
	FishName  string            `json:"fishName,omitempty"`
	ImageURL  string            `json:"imageUrl"`
	Timestamp time.Time         `json:"timestamp"`
	SinceLast time.Duration     `json:"-"`
	Device    *datatypes.Device `json:"device,omitempty"`
}

// EnsureDevice creates the device if it does not exist.
func (l *Ledger) EnsureDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	return l.devices.EnsureDevice(ctx, deviceID)
}

// AppendSighting records that deviceID saw speciesID in the image at
// imagePath at ts. The device is created if absent. If the device's most
// recent sighting of speciesID is less than the window before now, the
// append is skipped.
func (l *Ledger) AppendSighting(ctx context.Context, deviceID, speciesID, imagePath string, ts time.Time) (*AppendResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "ledger.AppendSighting")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID), attribute.String("fish.id", speciesID))

	unlock := l.locks.Lock(deviceID + "|" + speciesID)
	defer unlock()

	result := &AppendResult{
		DeviceID:  deviceID,
		FishID:    speciesID,
		ImageURL:  imagePath,
		Timestamp: ts,
	}

	device, err := l.devices.EnsureDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	if last, ok := latestSighting(device.Fish, speciesID); ok {
		since := l.now().Sub(last.Timestamp)
		if since < l.window {
			result.Skipped = true
			result.SinceLast = since
			if sp, err := l.species.FindSpeciesByID(ctx, speciesID); err == nil {
				result.FishName = sp.Name
			}
			span.SetAttributes(attribute.Bool("sighting.skipped", true))
			l.logger.Info("Sighting skipped by rate limit",
				"device_id", deviceID, "fish_id", speciesID, "since_last", since, "window", l.window)
			l.metrics.RecordSighting(true)
			return result, nil
		}
	}

	updated, err := l.devices.PushSighting(ctx, deviceID, datatypes.Sighting{
		Fish:      speciesID,
		FishID:    speciesID,
		ImageURL:  imagePath,
		Timestamp: ts,
	})
	if err != nil {
		return nil, err
	}
	result.Device = updated
	l.metrics.RecordSighting(false)
	l.logger.Info("Sighting recorded", "device_id", deviceID, "fish_id", speciesID, "sightings", len(updated.Fish))
	return result, nil
}

// RecordSighting appends without the rate-limit check, creating the device
// when absent.
func (l *Ledger) RecordSighting(ctx context.Context, deviceID string, s datatypes.Sighting) (*datatypes.Device, error) {
	if s.Fish == "" {
		s.Fish = s.FishID
	}
	if s.FishID == "" {
		s.FishID = s.Fish
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = l.now()
	}
	return l.devices.PushSighting(ctx, deviceID, s)
}

// GetSightings returns the device's sightings in stored order with species
// expanded and image paths rewritten to retrieval URLs. Unknown devices
// are NotFound. Sightings whose species no longer resolves keep a nil Fish.
func (l *Ledger) GetSightings(ctx context.Context, deviceID string) ([]datatypes.SightingView, error) {
	device, err := l.devices.FindDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	views := make([]datatypes.SightingView, 0, len(device.Fish))
	if len(device.Fish) == 0 {
		return views, nil
	}

	ids := make([]string, 0, len(device.Fish))
	for _, s := range device.Fish {
		ids = append(ids, s.FishID)
	}
	species, err := l.species.FindSpeciesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, s := range device.Fish {
		views = append(views, datatypes.SightingView{
			Fish:      species[s.FishID],
			FishID:    s.FishID,
			ImageURL:  l.ImageURL(s.ImageURL),
			Timestamp: s.Timestamp,
		})
	}
	return views, nil
}

// ImageURL turns a stored relative image path into the URL of the image
// serving route. Absolute http(s) URLs are returned unchanged.
func (l *Ledger) ImageURL(rel string) string {
	if rel == "" || strings.HasPrefix(rel, "http://") || strings.HasPrefix(rel, "https://") {
		return rel
	}
	segments := strings.Split(strings.TrimPrefix(rel, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return l.apiBase + "/fish/image/" + strings.Join(segments, "/")
}

// latestSighting returns the most recent sighting of speciesID.
func latestSighting(list []datatypes.Sighting, speciesID string) (datatypes.Sighting, bool) {
	matches := make([]datatypes.Sighting, 0, 4)
	for _, s := range list {
		if s.FishID == speciesID || s.Fish == speciesID {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return datatypes.Sighting{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Timestamp.After(matches[j].Timestamp)
	})
	return matches[0], true
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
