// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline turns uploaded photos into catalog entries and device
// sightings.
//
// # Description
//
// An upload first passes the detection gate. Images that clear it go
// through identification and, for unknown species, enrichment, followed by
// the catalog upsert and the sighting append. The second half runs either
// inline or as a detached task depending on configuration.
//
// # Failure Policy
//
//   - Detection: an unparsable reply is treated as a tentative detection.
//   - Identification and enrichment: any failure ends the run.
//   - Detached runs report failures to the log and metrics only.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/FishTracker/services/fishtracker/catalog"
	"github.com/AleutianAI/FishTracker/services/fishtracker/imagestore"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

// Summary messages for the upload response envelope.
const (
	MsgNoFish     = "Successfully processed image but no fish detected"
	MsgProcessed  = "Fish detected and processed synchronously"
	MsgBackground = "Fish detected! Processing image in background..."
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Model   llm.LLMClient
	Images  imagestore.Store
	Catalog *catalog.Catalog
	Ledger  *ledger.Ledger
	Runner  *Runner
	Logger  *slog.Logger
	Metrics *observability.PipelineMetrics
}

// Options select gate and execution behavior.
type Options struct {
	Threshold float64
	// ProcessSync makes HandleUpload wait for enrichment.
	ProcessSync bool
}

type Pipeline struct {
	detector *Detector
	enricher *Enricher
	runner   *Runner
	sync     bool
	logger   *slog.Logger
}

func New(deps Deps, opts Options) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runner := deps.Runner
	if runner == nil {
		runner = NewRunner(logger, deps.Metrics)
	}
	return &Pipeline{
		detector: NewDetector(deps.Model, opts.Threshold, logger, deps.Metrics),
		enricher: NewEnricher(deps.Model, deps.Images, deps.Catalog, deps.Ledger, logger, deps.Metrics),
		runner:   runner,
		sync:     opts.ProcessSync,
		logger:   logger,
	}
}

// UploadResult is the data of an upload response.
type UploadResult struct {
	FishDetected bool      `json:"fishDetected"`
	Data         []Finding `json:"data"`
	Message      string    `json:"message,omitempty"`
	TaskID       string    `json:"taskId,omitempty"`

	// Summary is the envelope message.
	Summary    string            `json:"-"`
	Detection  *Detection        `json:"-"`
	Enrichment *EnrichmentResult `json:"-"`
	Task       *Task             `json:"-"`
}

// Detector exposes the detection stage.
func (p *Pipeline) Detector() *Detector { return p.detector }

// Enricher exposes the identification and enrichment stage.
func (p *Pipeline) Enricher() *Enricher { return p.enricher }

// HandleUpload runs the pipeline for one image from a registered device.
//
// With no fish detected the result has FishDetected false and an empty
// Data list. Otherwise enrichment runs inline when configured for sync
// processing, and its error is returned; in background mode the result
// carries the task id and later failures are only logged.
func (p *Pipeline) HandleUpload(ctx context.Context, image []byte, deviceID string) (*UploadResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline.HandleUpload")
	defer span.End()
	span.SetAttributes(attribute.String("device.id", deviceID), attribute.Int("image.bytes", len(image)))

	det, err := p.detector.Detect(ctx, image)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !det.Passed {
		return &UploadResult{
			FishDetected: false,
			Data:         []Finding{},
			Message:      "No fish detected in the image",
			Summary:      MsgNoFish,
			Detection:    det,
		}, nil
	}

	result := &UploadResult{
		FishDetected: true,
		Data:         []Finding{det.Finding()},
		Detection:    det,
	}

	if p.sync {
		enrichment, err := p.enricher.Process(ctx, image, deviceID)
		if err != nil {
			span.RecordError(err)
			p.logger.Error("Error processing fish image", "device_id", deviceID, "mode", "sync", "error", err)
			return nil, err
		}
		result.Enrichment = enrichment
		result.Summary = MsgProcessed
		return result, nil
	}

	task, err := p.runner.Go(ctx, "enrich", func(ctx context.Context) (*EnrichmentResult, error) {
		return p.enricher.Process(ctx, image, deviceID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	result.Task = task
	result.TaskID = task.ID
	result.Summary = MsgBackground
	return result, nil
}
