// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat answers free-text questions about the fish a device has
// sighted.
//
// The model is grounded with one system message listing the device's
// species and told to answer only from it. Transient provider failures are
// retried with exponential backoff; everything else is classified and
// returned at once.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/FishTracker/pkg/validation"
	"github.com/AleutianAI/FishTracker/services/fishtracker/aijson"
	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/ledger"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/llm"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = 500 * time.Millisecond
)

var chatParams = llm.GenerationParams{MaxTokens: llm.Int(1000), Temperature: llm.Float32(0.7)}

// Answer is the data of a chat response. Response holds the decoded JSON
// when Parsed is true and the cleaned text otherwise.
type Answer struct {
	Response any    `json:"response"`
	Raw      string `json:"raw"`
	Parsed   bool   `json:"parsed"`
}

type Options struct {
	Attempts int
	Backoff  time.Duration
	// Sleep waits between attempts. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Service struct {
	model    llm.LLMClient
	ledger   *ledger.Ledger
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger
	metrics  *observability.PipelineMetrics
}

func New(model llm.LLMClient, led *ledger.Ledger, opts Options, logger *slog.Logger, metrics *observability.PipelineMetrics) *Service {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		model:    model,
		ledger:   led,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
		sleep:    opts.Sleep,
		logger:   logger,
		metrics:  metrics,
	}
}

// Ask validates question, loads the device's sightings and asks the model.
//
// # Errors
//
//   - Validation: bad device id or question
//   - NotFound: unknown device, or a device with no sightings
//   - Upstream: provider failure after retries, or an empty reply
func (s *Service) Ask(ctx context.Context, deviceID, question string) (*Answer, error) {
	ctx, span := observability.Tracer().Start(ctx, "chat.Ask")
	defer span.End()

	deviceID, err := validation.SanitizeDeviceID(deviceID)
	if err != nil {
		return nil, err
	}
	question, err = validation.SanitizeChatMessage(question)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("device.id", deviceID), attribute.Int("question.length", len(question)))

	sightings, err := s.ledger.GetSightings(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(sightings) == 0 {
		return nil, apperrors.NotFound("deviceId", "No fish data found for this device")
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: BuildSystemMessage(sightings)},
		{Role: llm.RoleUser, Content: question},
	}
	reply, err := s.callWithRetries(ctx, messages)
	if err != nil {
		span.RecordError(err)
		classified := apperrors.FromModel(err, "Failed to process chat request")
		s.logger.Error("Chat request failed", "device_id", deviceID, "kind", classified.Upstream, "error", err)
		return nil, classified
	}
	if strings.TrimSpace(reply) == "" {
		s.logger.Warn("AI returned empty response", "device_id", deviceID)
		return nil, apperrors.FromModel(llm.ErrEmptyResponse, "")
	}

	value, parsed, _ := aijson.ParseLenient(reply)
	span.SetAttributes(attribute.Bool("chat.parsed", parsed))
	return &Answer{Response: value, Raw: reply, Parsed: parsed}, nil
}

func (s *Service) callWithRetries(ctx context.Context, messages []llm.Message) (string, error) {
	var lastErr error
	for attempt := 0; attempt < s.attempts; attempt++ {
		started := time.Now()
		reply, err := s.model.Chat(ctx, messages, chatParams)
		s.metrics.ObserveModelCall(observability.StageChat, started, err)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		s.logger.Warn("Chat model call failed",
			"attempt", attempt+1, "attempts", s.attempts, "status", llm.StatusCode(err), "error", err)
		if !llm.IsTransient(err) || attempt == s.attempts-1 {
			break
		}
		s.metrics.RecordChatRetry()
		if err := s.sleep(ctx, s.backoff*time.Duration(1<<attempt)); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

const systemPreamble = `You are an expert assistant that answers questions about detected fish. Only use the provided fish data and do not invent detections. Provide concise, factual answers. If the question is unrelated, respond that you can only answer about the listed fish.`

const systemFormatting = `When you return structured data (JSON), respond only with a JSON object or array. If you provide explanatory text, put it in plain text after the JSON. Do not include markdown formatting.`

// BuildSystemMessage renders the grounding context: one line per distinct
// species in sighting order.
func BuildSystemMessage(sightings []datatypes.SightingView) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\nDetected fish (one per line):\n")

	seen := make(map[string]bool, len(sightings))
	for _, s := range sightings {
		if seen[s.FishID] {
			continue
		}
		seen[s.FishID] = true
		b.WriteString(speciesLine(s))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(systemFormatting)
	return b.String()
}

func speciesLine(s datatypes.SightingView) string {
	id := orNA(s.FishID)
	if s.Fish == nil {
		return fmt.Sprintf("- Unknown (id: %s) | family: N/A | size: N/A | waterType: N/A", id)
	}
	name := s.Fish.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("- %s (id: %s) | family: %s | size: %s-%s cm | waterType: %s",
		name, id, orNA(s.Fish.Family), formatSize(s.Fish.MinSize), formatSize(s.Fish.MaxSize), orNA(string(s.Fish.WaterType)))
}

func formatSize(v float64) string {
	if v <= 0 {
		return "?"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
