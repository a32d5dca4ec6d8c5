// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the persistence contracts for species and devices.
//
// Implementations live in store/mongo (document database) and store/badger
// (embedded key-value store). Both translate driver failures into
// apperrors kinds: a missing record is NotFound, a unique-key collision
// is DuplicateKey, a malformed id is Validation (code CastError), and
// everything else is Persistence.
package store

import (
	"context"

	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
)

// ChildKind names one of the append-only species child collections.
type ChildKind string

const (
	ChildColors    ChildKind = "colors"
	ChildPredators ChildKind = "predators"
	ChildFunFacts  ChildKind = "funFacts"
	ChildImages    ChildKind = "images"
)

// ChildKinds lists every child collection in creation order.
var ChildKinds = []ChildKind{ChildColors, ChildPredators, ChildFunFacts, ChildImages}

// SpeciesStore persists catalog entries and their child collections.
type SpeciesStore interface {
	// FindSpeciesByName is a case-sensitive exact match.
	FindSpeciesByName(ctx context.Context, name string) (*datatypes.Species, error)
	FindSpeciesByID(ctx context.Context, id string) (*datatypes.Species, error)
	// FindSpeciesByIDs returns the species that exist, keyed by id.
	FindSpeciesByIDs(ctx context.Context, ids []string) (map[string]*datatypes.Species, error)
	// InsertSpecies assigns ID and timestamps. A taken name is DuplicateKey.
	InsertSpecies(ctx context.Context, s *datatypes.Species) (*datatypes.Species, error)
	InsertChildren(ctx context.Context, fishID string, kind ChildKind, values []string) error
	SpeciesDetail(ctx context.Context, id string) (*datatypes.SpeciesDetail, error)
}

// DeviceStore persists devices and their embedded sighting lists.
type DeviceStore interface {
	// CreateDevice fails with DuplicateKey when the identifier is taken.
	CreateDevice(ctx context.Context, deviceID string) (*datatypes.Device, error)
	FindDevice(ctx context.Context, deviceID string) (*datatypes.Device, error)
	// EnsureDevice is an idempotent create-if-absent.
	EnsureDevice(ctx context.Context, deviceID string) (*datatypes.Device, error)
	// PushSighting appends to the device's list, creating the device when
	// absent, as one conditional update.
	PushSighting(ctx context.Context, deviceID string, s datatypes.Sighting) (*datatypes.Device, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	SpeciesStore
	DeviceStore
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
