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
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/aijson"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultThreshold is the minimum confidence for a positive detection.
const DefaultThreshold = 0.6

// Detection outcomes, also used as metric labels.
const (
	OutcomeDetected      = "detected"
	OutcomeNoFish        = "no_fish"
	OutcomeLowConfidence = "low_confidence"
	OutcomeUnparsed      = "unparsed"
)

// Detection is the interpreted reply of the detection call.
type Detection struct {
	HasFish bool
	// Confidence is nil when the model omitted it or sent a non-number.
	Confidence  *float64
	Description string
	// Parsed is false when the reply could not be decoded and the
	// conservative default was substituted.
	Parsed  bool
	Passed  bool
	Outcome string
}

// Finding is one entry of the upload response data list.
type Finding struct {
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description"`
}

// Finding reports the detection for clients, substituting defaults for a
// missing or zero confidence and an empty description.
func (d *Detection) Finding() Finding {
	f := Finding{Confidence: 0.8, Description: "Fish detected in image"}
	if d.Confidence != nil && *d.Confidence != 0 {
		f.Confidence = *d.Confidence
	}
	if d.Description != "" {
		f.Description = d.Description
	}
	return f
}

type detectionReply struct {
	HasFish     bool   `json:"hasFish"`
	Confidence  any    `json:"confidence"`
	Description string `json:"description"`
}

// Detector runs the fish-presence gate.
type Detector struct {
	model     llm.LLMClient
	threshold float64
	logger    *slog.Logger
	metrics   *observability.PipelineMetrics
}

func NewDetector(model llm.LLMClient, threshold float64, logger *slog.Logger, metrics *observability.PipelineMetrics) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{model: model, threshold: threshold, logger: logger, metrics: metrics}
}

// Threshold returns the configured confidence threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect asks the model whether image contains a fish and applies the
// confidence gate. A reply that cannot be parsed counts as a detection
// with confidence 0.6. Only provider failures are returned as errors.
func (d *Detector) Detect(ctx context.Context, image []byte) (*Detection, error) {
	ctx, span := observability.Tracer().Start(ctx, "pipeline.Detect")
	defer span.End()

	started := time.Now()
	reply, err := d.model.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: detectionSystemPrompt},
		{Role: llm.RoleUser, Content: detectionUserPrompt, Image: image, ImageMIME: imageMIME(image)},
	}, detectionParams)
	d.metrics.ObserveModelCall(observability.StageDetection, started, err)
	if err != nil {
		span.RecordError(err)
		d.logger.Error("Detection model call failed", "error", err)
		return nil, apperrors.FromModel(err, "AI vision API error")
	}

	det := d.interpret(reply)
	span.SetAttributes(
		attribute.String("detection.outcome", det.Outcome),
		attribute.Bool("detection.passed", det.Passed),
	)
	d.metrics.RecordDetection(det.Outcome)
	d.logger.Info("Detection finished", "outcome", det.Outcome, "has_fish", det.HasFish, "threshold", d.threshold)
	return det, nil
}

func (d *Detector) interpret(reply string) *Detection {
	var parsed detectionReply
	if err := aijson.Decode(reply, &parsed); err != nil {
		d.logger.Warn("Failed to parse detection response, proceeding with conservative detection", "error", err)
		conf := DefaultThreshold
		return &Detection{
			HasFish:     true,
			Confidence:  &conf,
			Description: "Unparsed AI response",
			Passed:      conf >= d.threshold,
			Outcome:     OutcomeUnparsed,
		}
	}

	det := &Detection{HasFish: parsed.HasFish, Description: parsed.Description, Parsed: true}
	if c, ok := parsed.Confidence.(float64); ok {
		det.Confidence = &c
	}
	switch {
	case !det.HasFish:
		det.Outcome = OutcomeNoFish
	case det.Confidence != nil && *det.Confidence < d.threshold:
		det.Outcome = OutcomeLowConfidence
	default:
		det.Outcome = OutcomeDetected
		det.Passed = true
	}
	return det
}

// imageMIME sniffs the content type, defaulting to JPEG.
func imageMIME(image []byte) string {
	ct := http.DetectContentType(image)
	switch ct {
	case "image/png", "image/webp", "image/gif", "image/jpeg":
		return ct
	default:
		return "image/jpeg"
	}
}
