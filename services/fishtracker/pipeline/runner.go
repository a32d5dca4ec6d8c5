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
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/google/uuid"
)

// ErrRunnerClosed is returned by Runner.Go after Shutdown has begun.
var ErrRunnerClosed = errors.New("background runner is shutting down")

// Task is a handle to one enrichment run. Callers may Wait on it or drop
// it; either way the run completes.
type Task struct {
	ID     string
	done   chan struct{}
	result *EnrichmentResult
	err    error
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task finishes or ctx is done. Cancelling ctx
// stops the wait, not the task.
func (t *Task) Wait(ctx context.Context) (*EnrichmentResult, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Runner executes detached enrichment tasks and tracks them for shutdown.
//
// # Description
//
// Tasks run on a context that keeps the caller's values (trace span,
// request ids) but not its cancellation, so a client disconnect does not
// abort an enrichment already under way. Failures are logged at Error
// level with the task id and counted in metrics.
type Runner struct {
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

func NewRunner(logger *slog.Logger, metrics *observability.PipelineMetrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, metrics: metrics}
}

// Go starts fn in the background and returns its handle.
func (r *Runner) Go(ctx context.Context, name string, fn func(context.Context) (*EnrichmentResult, error)) (*Task, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRunnerClosed
	}
	r.wg.Add(1)
	r.mu.Unlock()

	task := &Task{ID: uuid.NewString(), done: make(chan struct{})}
	detached := context.WithoutCancel(ctx)
	logger := r.logger.With("task_id", task.ID, "task", name)

	r.metrics.TaskStarted()
	go func() {
		defer r.wg.Done()
		defer close(task.done)
		started := time.Now()
		defer func() {
			if p := recover(); p != nil {
				task.err = errors.New("enrichment task panicked")
				logger.Error("Background task panicked", "panic", p)
				r.metrics.TaskFinished(task.err)
			}
		}()

		task.result, task.err = fn(detached)
		r.metrics.TaskFinished(task.err)
		if task.err != nil {
			logger.Error("Background task failed", "error", task.err, "duration", time.Since(started))
			return
		}
		logger.Info("Background task finished", "duration", time.Since(started))
	}()
	return task, nil
}

// Shutdown stops accepting tasks and waits for running ones until ctx is
// done.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		r.logger.Warn("Shutdown deadline reached with background tasks still running")
		return ctx.Err()
	}
}
