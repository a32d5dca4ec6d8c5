// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/aijson"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

// EnrichmentResult describes one completed identification run.
type EnrichmentResult struct {
	FishName  string                 `json:"fishName"`
	ImagePath string                 `json:"imagePath"`
	Species   *datatypes.Species     `json:"species"`
	Known     bool                   `json:"known"`
	Created   bool                   `json:"created"`
	Shape     datatypes.ProfileShape `json:"-"`
	Sighting  *ledger.AppendResult   `json:"sighting"`
}

// Enricher turns a detected image into a catalog entry and a sighting.
// The name call always runs; the enrichment call only runs for species
// not yet in the catalog.
type Enricher struct {
	model   llm.LLMClient
	images  imagestore.Store
	catalog *catalog.Catalog
	ledger  *ledger.Ledger
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

func NewEnricher(model llm.LLMClient, images imagestore.Store, cat *catalog.Catalog, led *ledger.Ledger, logger *slog.Logger, metrics *observability.PipelineMetrics) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		model:   model,
		images:  images,
		catalog: cat,
		ledger:  led,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// Process runs identification and enrichment for one image. Every failure
// ends the run; the species is only created from a fully parsed profile.
func (e *Enricher) Process(ctx context.Context, image []byte, deviceID string) (*EnrichmentResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline.Enrich")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID))

	name, err := e.IdentifyName(ctx, image)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("fish.name", name))
	e.logger.Info("Identified fish name", "device_id", deviceID, "species", name)

	imagePath, err := e.images.Save(ctx, deviceID, image)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("saving image: %w", err)
	}

	result := &EnrichmentResult{FishName: name, ImagePath: imagePath}

	found, existing, err := e.catalog.Exists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("checking catalog: %w", err)
	}
	if found {
		e.logger.Info("Fish is already known, adding to device", "device_id", deviceID, "species", name)
		result.Known = true
		result.Species = existing
	} else {
		e.logger.Info("Fish is not known, proceeding with full enrichment", "device_id", deviceID, "species", name)
		profile, shape, err := e.FetchProfile(ctx, image)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if strings.TrimSpace(profile.Name) == "" {
			profile.Name = name
		}
		species, created, err := e.catalog.FindOrCreate(ctx, profile)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("registering species: %w", err)
		}
		result.Species = species
		result.Created = created
		result.Shape = shape
	}

	sighting, err := e.ledger.AppendSighting(ctx, deviceID, result.Species.ID, imagePath, e.now())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("recording sighting: %w", err)
	}
	result.Sighting = sighting
	if sighting.Skipped {
		e.logger.Info("Sighting skipped to avoid spamming", "device_id", deviceID, "species", result.Species.Name)
	}
	return result, nil
}

// IdentifyName asks the model for the species common name only. A reply
// without a parsable, non-empty fishName is an Upstream parse error.
func (e *Enricher) IdentifyName(ctx context.Context, image []byte) (string, error) {
	reply, err := e.call(ctx, observability.StageName, nameSystemPrompt, nameUserPrompt, image, nameParams)
	if err != nil {
		return "", apperrors.FromModel(err, "AI identification failed")
	}
	var parsed struct {
		FishName string `json:"fishName"`
	}
	if err := aijson.Decode(reply, &parsed); err != nil {
		return "", apperrors.Upstream(apperrors.UpstreamParse, 0, "Failed to parse fish name JSON from AI response", err)
	}
	name := strings.TrimSpace(parsed.FishName)
	if name == "" {
		return "", apperrors.Upstream(apperrors.UpstreamParse, 0, "No fish name found in AI response", nil)
	}
	return name, nil
}

// FetchProfile asks the model for a full species profile. Flat and
// fishData-wrapped replies are both accepted; anything else is an Upstream
// parse error.
func (e *Enricher) FetchProfile(ctx context.Context, image []byte) (*datatypes.SpeciesProfile, datatypes.ProfileShape, error) {
	reply, err := e.call(ctx, observability.StageEnrichment, enrichmentSystemPrompt, enrichmentUserPrompt, image, enrichmentParams)
	if err != nil {
		return nil, 0, apperrors.FromModel(err, "AI enrichment failed")
	}
	raw, err := aijson.Raw(reply)
	if err != nil {
		return nil, 0, apperrors.Upstream(apperrors.UpstreamParse, 0, "Failed to parse enrichment JSON from AI response", err)
	}
	profile, shape, err := datatypes.NormalizeProfile(raw)
	if err != nil {
		return nil, 0, apperrors.Upstream(apperrors.UpstreamParse, 0, "Invalid fish data returned from AI", err)
	}
	e.logger.Debug("Parsed species profile", "species", profile.Name, "shape", shape.String())
	return profile, shape, nil
}

func (e *Enricher) call(ctx context.Context, stage, system, user string, image []byte, params llm.GenerationParams) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "model."+stage)
	defer span.End()

	started := time.Now()
	reply, err := e.model.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user, Image: image, ImageMIME: imageMIME(image)},
	}, params)
	e.metrics.ObserveModelCall(stage, started, err)
	if err != nil {
		span.RecordError(err)
		e.logger.Error("Model call failed", "stage", stage, "error", err)
		return "", err
	}
	return reply, nil
}
