// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	badgerstore "github.com/AleutianAI/FishTracker/services/fishtracker/store/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ledger  *Ledger
	store   *badgerstore.Store
	clock   *fakeClock
	metrics *observability.PipelineMetrics
	trout   *datatypes.Species
	salmon  *datatypes.Species
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	metrics := observability.NewPipelineMetrics(prometheus.NewRegistry())

	ctx := context.Background()
	trout, err := s.InsertSpecies(ctx, &datatypes.Species{Name: "Brown Trout", Family: "Salmonidae", MinSize: 20, MaxSize: 80, WaterType: datatypes.WaterFreshwater})
	require.NoError(t, err)
	salmon, err := s.InsertSpecies(ctx, &datatypes.Species{Name: "Atlantic Salmon", Family: "Salmonidae", MinSize: 50, MaxSize: 120, WaterType: datatypes.WaterBrackish})
	require.NoError(t, err)

	l := New(s, s, Options{Window: 10 * time.Second, APIBaseURL: "http://localhost:3000/api/", Now: clock.Now}, nil, metrics)
	return &fixture{ledger: l, store: s, clock: clock, metrics: metrics, trout: trout, salmon: salmon}
}

func TestAppendSighting_CreatesDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/a.jpg", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	require.NotNil(t, res.Device)
	assert.Equal(t, "dev-1", res.Device.DeviceIdentifier)
	require.Len(t, res.Device.Fish, 1)
	assert.Equal(t, f.trout.ID, res.Device.Fish[0].FishID)
	assert.Equal(t, "fish-images/a.jpg", res.Device.Fish[0].ImageURL)
}

func TestAppendSighting_RateLimitWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/a.jpg", f.clock.Now())
	require.NoError(t, err)

	f.clock.Advance(4 * time.Second)
	res, err := f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/b.jpg", f.clock.Now())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "Brown Trout", res.FishName)
	assert.Equal(t, 4*time.Second, res.SinceLast)
	assert.Nil(t, res.Device)

	// A different species is not affected by the trout window.
	res, err = f.ledger.AppendSighting(ctx, "dev-1", f.salmon.ID, "fish-images/c.jpg", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	// Neither is the same species on another device.
	res, err = f.ledger.AppendSighting(ctx, "dev-2", f.trout.ID, "fish-images/d.jpg", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Skipped)

	f.clock.Advance(6 * time.Second)
	res, err = f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/e.jpg", f.clock.Now())
	require.NoError(t, err)
	assert.False(t, res.Skipped, "window boundary is exclusive")

	device, err := f.store.FindDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Len(t, device.Fish, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SightingsTotal.WithLabelValues("skipped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.SightingsTotal.WithLabelValues("appended")))
}

func TestAppendSighting_ConcurrentSameSpecies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var appended, skipped atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/x.jpg", f.clock.Now())
			if !assert.NoError(t, err) {
				return
			}
			if res.Skipped {
				skipped.Add(1)
			} else {
				appended.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), appended.Load())
	assert.Equal(t, int32(7), skipped.Load())

	device, err := f.store.FindDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Len(t, device.Fish, 1)
	assert.Empty(t, f.ledger.locks.locks, "idle keys are released")
}

func TestGetSightings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.AppendSighting(ctx, "dev-1", f.trout.ID, "fish-images/my trout.jpg", f.clock.Now())
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.ledger.AppendSighting(ctx, "dev-1", f.salmon.ID, "fish-images/salmon.jpg", f.clock.Now())
	require.NoError(t, err)
	_, err = f.ledger.RecordSighting(ctx, "dev-1", datatypes.Sighting{FishID: "missing-species", ImageURL: "fish-images/gone.jpg"})
	require.NoError(t, err)

	views, err := f.ledger.GetSightings(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, views, 3)

	require.NotNil(t, views[0].Fish)
	assert.Equal(t, "Brown Trout", views[0].Fish.Name)
	assert.Equal(t, "http://localhost:3000/api/fish/image/fish-images/my%20trout.jpg", views[0].ImageURL)
	assert.Equal(t, "Atlantic Salmon", views[1].Fish.Name)
	assert.Nil(t, views[2].Fish)
	assert.Equal(t, "missing-species", views[2].FishID)
}

func TestGetSightings_UnknownDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.GetSightings(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetSightings_EmptyDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.ledger.EnsureDevice(ctx, "dev-1")
	require.NoError(t, err)

	views, err := f.ledger.GetSightings(ctx, "dev-1")
	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestImageURL(t *testing.T) {
	l := New(nil, nil, Options{APIBaseURL: "https://fish.example/api"}, nil, nil)
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"fish-images/a.jpg", "https://fish.example/api/fish/image/fish-images/a.jpg"},
		{"/fish-images/a b.jpg", "https://fish.example/api/fish/image/fish-images/a%20b.jpg"},
		{"https://cdn.example/a.jpg", "https://cdn.example/a.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.ImageURL(tt.in), tt.in)
	}
}

func TestLatestSighting(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []datatypes.Sighting{
		{FishID: "a", Timestamp: base.Add(3 * time.Second)},
		{FishID: "b", Timestamp: base.Add(9 * time.Second)},
		{FishID: "a", Timestamp: base.Add(5 * time.Second)},
		{FishID: "a", Timestamp: base.Add(1 * time.Second)},
	}
	got, ok := latestSighting(list, "a")
	require.True(t, ok)
	assert.Equal(t, base.Add(5*time.Second), got.Timestamp)

	_, ok = latestSighting(list, "c")
	assert.False(t, ok)
}
