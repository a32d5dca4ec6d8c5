// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

// SpeciesProfile is the canonical structured description of a species as
// produced by enrichment or submitted for registration. It carries the
// species attributes plus the child collections to create alongside it.
type SpeciesProfile struct {
	Name                  string             `json:"name" validate:"required"`
	Family                string             `json:"family" validate:"required"`
	MinSize               float64            `json:"minSize" validate:"gte=0"`
	MaxSize               float64            `json:"maxSize" validate:"gte=0"`
	WaterType             WaterType          `json:"waterType" validate:"required,watertype"`
	Description           string             `json:"description" validate:"required"`
	ColorDescription      string             `json:"colorDescription" validate:"required"`
	DepthRangeMin         float64            `json:"depthRangeMin" validate:"gte=0"`
	DepthRangeMax         float64            `json:"depthRangeMax" validate:"gte=0"`
	Environment           string             `json:"environment" validate:"required"`
	Region                string             `json:"region" validate:"required"`
	ConservationStatus    ConservationStatus `json:"conservationStatus" validate:"required,consstatus"`
	ConsStatusDescription string             `json:"consStatusDescription" validate:"required"`
	FavoriteIndicator     bool               `json:"favoriteIndicator"`
	AIAccuracy            float64            `json:"aiAccuracy" validate:"gte=0,lte=100"`

	Colors    NameList `json:"colors,omitempty"`
	Predators NameList `json:"predators,omitempty"`
	FunFacts  NameList `json:"funFacts,omitempty"`
	Images    NameList `json:"images,omitempty"`
}

// ProfileShape records which payload layout a profile was decoded from.
type ProfileShape int

const (
	// ShapeFlat: attributes and child arrays at the top level.
	ShapeFlat ProfileShape = iota
	// ShapeNested: attributes under "fishData", child arrays beside or inside it.
	ShapeNested
)

func (s ProfileShape) String() string {
	if s == ShapeNested {
		return "nested"
	}
	return "flat"
}

// ErrProfileNotObject is returned when the payload is not a JSON object.
var ErrProfileNotObject = errors.New("species profile must be a JSON object")

// NormalizeProfile decodes a species profile from either accepted layout:
//
//	{"fishData": {...attributes...}, "colors": [...], "predators": [...], "funFacts": [...]}
//	{...attributes..., "colors": [...], ...}
//
// Child arrays may hold plain strings or objects such as {"colorName": "Blue"}.
// When both the nested object and the top level carry an array, the nested
// one wins.
func NormalizeProfile(raw []byte) (*SpeciesProfile, ProfileShape, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ShapeFlat, ErrProfileNotObject
	}

	var envelope struct {
		FishData json.RawMessage `json:"fishData"`
		profileLists
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, ShapeFlat, fmt.Errorf("decode species profile: %w", err)
	}

	body := trimmed
	shape := ShapeFlat
	if fd := bytes.TrimSpace(envelope.FishData); len(fd) > 0 && !bytes.Equal(fd, []byte("null")) {
		if fd[0] != '{' {
			return nil, ShapeNested, ErrProfileNotObject
		}
		body = fd
		shape = ShapeNested
	}

	var profile SpeciesProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, shape, fmt.Errorf("decode species attributes: %w", err)
	}

	if shape == ShapeNested {
		profile.fillLists(envelope.profileLists)
	}
	profile.Name = strings.TrimSpace(profile.Name)

	return &profile, shape, nil
}

// ToSpecies builds a species record from the profile attributes.
func (p *SpeciesProfile) ToSpecies() *Species {
	return &Species{
		Name:                  strings.TrimSpace(p.Name),
		Family:                strings.TrimSpace(p.Family),
		MinSize:               p.MinSize,
		MaxSize:               p.MaxSize,
		WaterType:             p.WaterType,
		Description:           strings.TrimSpace(p.Description),
		ColorDescription:      strings.TrimSpace(p.ColorDescription),
		DepthRangeMin:         p.DepthRangeMin,
		DepthRangeMax:         p.DepthRangeMax,
		Environment:           strings.TrimSpace(p.Environment),
		Region:                strings.TrimSpace(p.Region),
		ConservationStatus:    p.ConservationStatus,
		ConsStatusDescription: strings.TrimSpace(p.ConsStatusDescription),
		FavoriteIndicator:     p.FavoriteIndicator,
		AIAccuracy:            p.AIAccuracy,
	}
}

// profileLists holds child arrays found beside "fishData".
type profileLists struct {
	Colors    NameList `json:"colors"`
	Predators NameList `json:"predators"`
	FunFacts  NameList `json:"funFacts"`
	Images    NameList `json:"images"`
}

func (p *SpeciesProfile) fillLists(outer profileLists) {
	if len(p.Colors) == 0 {
		p.Colors = outer.Colors
	}
	if len(p.Predators) == 0 {
		p.Predators = outer.Predators
	}
	if len(p.FunFacts) == 0 {
		p.FunFacts = outer.FunFacts
	}
	if len(p.Images) == 0 {
		p.Images = outer.Images
	}
}

// NameList is a []string that also accepts [{"colorName": "x"}, ...].
type NameList []string

var nameListKeys = []string{"colorName", "predatorName", "funFactDescription", "url", "name", "value"}

func (n *NameList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = nil
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			return fmt.Errorf("list entry is neither string nor object: %s", item)
		}
		for _, key := range nameListKeys {
			if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				break
			}
		}
	}
	*n = out
	return nil
}

// =============================================================================
// Validation
// =============================================================================

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with FishTracker rules registered
// and field names reported by their JSON tag.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("watertype", func(fl validator.FieldLevel) bool {
			return WaterType(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("consstatus", func(fl validator.FieldLevel) bool {
			return ConservationStatus(fl.Field().String()).Valid()
		})
		validate = v
	})
	return validate
}

// Validate runs the struct rules over the profile.
func (p *SpeciesProfile) Validate() error {
	return Validator().Struct(p)
}
