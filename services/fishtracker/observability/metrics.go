// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and tracing for the FishTracker
// service.
//
// # Description
//
// Prometheus metrics cover every pipeline stage:
//   - Detection outcomes and model call latency per stage
//   - Catalog lookups (existing vs created) and child write failures
//   - Sighting appends vs rate-limit skips
//   - Background enrichment tasks and chat retries
//
// Metrics are exposed via GET /api/metrics.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every method is safe to call on a nil *PipelineMetrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fishtracker"

// Stage labels for model calls.
const (
	StageDetection  = "detection"
	StageName       = "identification"
	StageEnrichment = "enrichment"
	StageChat       = "chat"
)

// PipelineMetrics holds all Prometheus metrics for the service.
//
// # Fields
//
//   - DetectionsTotal: detection outcomes (detected, no_fish, low_confidence, unparsed)
//   - ModelCallsTotal: model calls by stage and status (success, error)
//   - ModelCallDuration: model call latency by stage
//   - CatalogLookupsTotal: catalog findOrCreate results (existing, created)
//   - ChildWriteFailuresTotal: swallowed child-record failures by kind
//   - SightingsTotal: ledger appends by result (appended, skipped)
//   - BackgroundTasksTotal: detached enrichment tasks by status
//   - BackgroundTasksInFlight: currently running detached tasks
//   - ChatRetriesTotal: chat model retries after transient failures
type PipelineMetrics struct {
	DetectionsTotal         *prometheus.CounterVec
	ModelCallsTotal         *prometheus.CounterVec
	ModelCallDuration       *prometheus.HistogramVec
	CatalogLookupsTotal     *prometheus.CounterVec
	ChildWriteFailuresTotal *prometheus.CounterVec
	SightingsTotal          *prometheus.CounterVec
	BackgroundTasksTotal    *prometheus.CounterVec
	BackgroundTasksInFlight prometheus.Gauge
	ChatRetriesTotal        prometheus.Counter
}

// NewPipelineMetrics creates and registers the metrics with reg. Tests pass
// prometheus.NewRegistry() to stay isolated from the default registry.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	f := promauto.With(reg)
	return &PipelineMetrics{
		DetectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "detections_total",
			Help:      "Detection stage outcomes",
		}, []string{"outcome"}),

		ModelCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model provider calls by stage and status",
		}, []string{"stage", "status"}),

		ModelCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "model",
			Name:      "call_duration_seconds",
			Help:      "Model provider call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),

		CatalogLookupsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "catalog",
			Name:      "lookups_total",
			Help:      "Species findOrCreate results",
		}, []string{"result"}),

		ChildWriteFailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "catalog",
			Name:      "child_write_failures_total",
			Help:      "Species child-record writes that failed and were skipped",
		}, []string{"kind"}),

		SightingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ledger",
			Name:      "sightings_total",
			Help:      "Sighting appends by result",
		}, []string{"result"}),

		BackgroundTasksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "background_tasks_total",
			Help:      "Detached enrichment tasks by final status",
		}, []string{"status"}),

		BackgroundTasksInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "background_tasks_in_flight",
			Help:      "Detached enrichment tasks currently running",
		}),

		ChatRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "chat",
			Name:      "retries_total",
			Help:      "Chat model retries after transient failures",
		}),
	}
}

func (m *PipelineMetrics) RecordDetection(outcome string) {
	if m == nil {
		return
	}
	m.DetectionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveModelCall records one provider call for stage.
func (m *PipelineMetrics) ObserveModelCall(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallsTotal.WithLabelValues(stage, status).Inc()
	m.ModelCallDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *PipelineMetrics) RecordCatalogLookup(created bool) {
	if m == nil {
		return
	}
	result := "existing"
	if created {
		result = "created"
	}
	m.CatalogLookupsTotal.WithLabelValues(result).Inc()
}

func (m *PipelineMetrics) RecordChildWriteFailure(kind string) {
	if m == nil {
		return
	}
	m.ChildWriteFailuresTotal.WithLabelValues(kind).Inc()
}

func (m *PipelineMetrics) RecordSighting(skipped bool) {
	if m == nil {
		return
	}
	result := "appended"
	if skipped {
		result = "skipped"
	}
	m.SightingsTotal.WithLabelValues(result).Inc()
}

// TaskStarted increments the in-flight gauge.
func (m *PipelineMetrics) TaskStarted() {
	if m == nil {
		return
	}
	m.BackgroundTasksInFlight.Inc()
}

// TaskFinished decrements the in-flight gauge and counts the outcome.
func (m *PipelineMetrics) TaskFinished(err error) {
	if m == nil {
		return
	}
	m.BackgroundTasksInFlight.Dec()
	status := "success"
	if err != nil {
		status = "error"
	}
	m.BackgroundTasksTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) RecordChatRetry() {
	if m == nil {
		return
	}
	m.ChatRetriesTotal.Inc()
}
