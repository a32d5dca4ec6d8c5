// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the FishTracker domain records: devices and their
// sighting history, the shared species catalog, and the per-species child
// collections.
package datatypes

import (
	"time"
)

// WaterType is the closed set of habitats a species can live in.
type WaterType string

const (
	WaterFreshwater WaterType = "Freshwater"
	WaterSaltwater  WaterType = "Saltwater"
	WaterBrackish   WaterType = "Brackish"
)

// Valid reports whether w is one of the known water types.
func (w WaterType) Valid() bool {
	switch w {
	case WaterFreshwater, WaterSaltwater, WaterBrackish:
		return true
	}
	return false
}

// ConservationStatus is the IUCN-style 8-value status set.
type ConservationStatus string

const (
	StatusLeastConcern         ConservationStatus = "Least Concern"
	StatusNearThreatened       ConservationStatus = "Near Threatened"
	StatusVulnerable           ConservationStatus = "Vulnerable"
	StatusEndangered           ConservationStatus = "Endangered"
	StatusCriticallyEndangered ConservationStatus = "Critically Endangered"
	StatusExtinctInTheWild     ConservationStatus = "Extinct in the Wild"
	StatusExtinct              ConservationStatus = "Extinct"
	StatusDataDeficient        ConservationStatus = "Data Deficient"
)

// ConservationStatuses lists every accepted status in severity order.
var ConservationStatuses = []ConservationStatus{
	StatusLeastConcern,
	StatusNearThreatened,
	StatusVulnerable,
	StatusEndangered,
	StatusCriticallyEndangered,
	StatusExtinctInTheWild,
	StatusExtinct,
	StatusDataDeficient,
}

// Valid reports whether s is one of the accepted statuses.
func (s ConservationStatus) Valid() bool {
	for _, known := range ConservationStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Species is a catalog entry keyed by its unique, case-sensitive common name.
// Records are created once and never updated by the detection flows.
type Species struct {
	ID                    string             `json:"_id"`
	Name                  string             `json:"name"`
	CaptureTimestamp      time.Time          `json:"captureTimestamp"`
	Family                string             `json:"family"`
	MinSize               float64            `json:"minSize"`
	MaxSize               float64            `json:"maxSize"`
	WaterType             WaterType          `json:"waterType"`
	Description           string             `json:"description"`
	ColorDescription      string             `json:"colorDescription"`
	DepthRangeMin         float64            `json:"depthRangeMin"`
	DepthRangeMax         float64            `json:"depthRangeMax"`
	Environment           string             `json:"environment"`
	Region                string             `json:"region"`
	ConservationStatus    ConservationStatus `json:"conservationStatus"`
	ConsStatusDescription string             `json:"consStatusDescription"`
	FavoriteIndicator     bool               `json:"favoriteIndicator"`
	AIAccuracy            float64            `json:"aiAccuracy"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

// Color, Predator, FunFact and SpeciesImage are append-only child records
// of a species.
type Color struct {
	ID        string    `json:"_id"`
	FishID    string    `json:"fishId"`
	ColorName string    `json:"colorName"`
	CreatedAt time.Time `json:"createdAt"`
}

type Predator struct {
	ID           string    `json:"_id"`
	FishID       string    `json:"fishId"`
	PredatorName string    `json:"predatorName"`
	CreatedAt    time.Time `json:"createdAt"`
}

type FunFact struct {
	ID                 string    `json:"_id"`
	FishID             string    `json:"fishId"`
	FunFactDescription string    `json:"funFactDescription"`
	CreatedAt          time.Time `json:"createdAt"`
}

type SpeciesImage struct {
	ID        string    `json:"_id"`
	FishID    string    `json:"fishId"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

// SpeciesDetail is a species with every child collection loaded.
type SpeciesDetail struct {
	Fish      *Species       `json:"fish"`
	Images    []SpeciesImage `json:"images"`
	Colors    []Color        `json:"colors"`
	Predators []Predator     `json:"predators"`
	FunFacts  []FunFact      `json:"funFacts"`
}

// Sighting is one (species, image, time) entry in a device's history.
// FishID duplicates Fish; both always hold the same species id.
type Sighting struct {
	Fish      string    `json:"fish"`
	FishID    string    `json:"fishId"`
	ImageURL  string    `json:"imageUrl"`
	Timestamp time.Time `json:"timestamp"`
}

// Device is a client installation and its ordered sighting history.
type Device struct {
	ID               string     `json:"_id"`
	DeviceIdentifier string     `json:"deviceIdentifier"`
	Fish             []Sighting `json:"fish"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// SightingView is a sighting with the species reference expanded and the
// image path rewritten into a retrievable URL.
type SightingView struct {
	Fish      *Species  `json:"fish"`
	FishID    string    `json:"fishId"`
	ImageURL  string    `json:"imageUrl"`
	Timestamp time.Time `json:"timestamp"`
}
