// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestParseID(t *testing.T) {
	oid := bson.NewObjectID()
	got, err := parseID("fishId", oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, got)

	_, err = parseID("fishId", "not-an-id")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	var ae *apperrors.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "CastError", ae.Code)
	assert.ErrorIs(t, err, bson.ErrInvalidHex)
}

func TestChildCollection(t *testing.T) {
	for _, kind := range store.ChildKinds {
		name, err := childCollection(kind)
		require.NoError(t, err)
		assert.NotEmpty(t, name)
	}
	_, err := childCollection("gills")
	assert.Error(t, err)
}

func TestSpeciesDocRoundTrip(t *testing.T) {
	in := &datatypes.Species{
		Name:               "Atlantic Salmon",
		Family:             "Salmonidae",
		MinSize:            50,
		MaxSize:            150,
		WaterType:          datatypes.WaterBrackish,
		ConservationStatus: datatypes.StatusLeastConcern,
		AIAccuracy:         91,
	}
	doc := speciesToDoc(in)
	doc.ID = bson.NewObjectID()

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded speciesDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	out := decoded.toSpecies()
	assert.Equal(t, doc.ID.Hex(), out.ID)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.WaterType, out.WaterType)
	assert.Equal(t, in.MaxSize, out.MaxSize)
}

func TestDeviceDocToDevice(t *testing.T) {
	fishID := bson.NewObjectID()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d := deviceDoc{
		ID:               bson.NewObjectID(),
		DeviceIdentifier: "device-01",
		Fish:             []sightingDoc{{Fish: fishID, FishID: fishID, ImageURL: "device-01/x.jpg", Timestamp: ts}},
	}

	out := d.toDevice()
	require.Len(t, out.Fish, 1)
	assert.Equal(t, fishID.Hex(), out.Fish[0].Fish)
	assert.Equal(t, out.Fish[0].Fish, out.Fish[0].FishID)
	assert.Equal(t, ts, out.Fish[0].Timestamp)
}

// The tests below need a running MongoDB. Set FISHTRACKER_MONGO_TEST_URI
// (e.g. mongodb://localhost:27017) to enable them.
func connectTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("FISHTRACKER_MONGO_TEST_URI")
	if uri == "" {
		t.Skip("FISHTRACKER_MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbName := "fishtracker_test_" + uuid.NewString()[:8]
	s, err := Connect(ctx, uri, dbName, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.db.Drop(context.Background())
		_ = s.Close(context.Background())
	})
	return s
}

func TestIntegration_SpeciesLifecycle(t *testing.T) {
	s := connectTestStore(t)
	ctx := context.Background()

	created, err := s.InsertSpecies(ctx, &datatypes.Species{Name: "Zander", Family: "Percidae"})
	require.NoError(t, err)

	_, err = s.InsertSpecies(ctx, &datatypes.Species{Name: "Zander", Family: "Percidae"})
	assert.True(t, apperrors.IsDuplicateKey(err))

	found, err := s.FindSpeciesByName(ctx, "Zander")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	require.NoError(t, s.InsertChildren(ctx, created.ID, store.ChildColors, []string{"Grey", "Green"}))
	detail, err := s.SpeciesDetail(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Colors, 2)

	_, err = s.FindSpeciesByID(ctx, bson.NewObjectID().Hex())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestIntegration_DeviceUpsertPush(t *testing.T) {
	s := connectTestStore(t)
	ctx := context.Background()
	fishID := bson.NewObjectID().Hex()

	d, err := s.PushSighting(ctx, "device-mongo", datatypes.Sighting{FishID: fishID, ImageURL: "a.jpg", Timestamp: time.Now().UTC()})
	require.NoError(t, err)
	require.Len(t, d.Fish, 1)

	_, err = s.CreateDevice(ctx, "device-mongo")
	assert.True(t, apperrors.IsDuplicateKey(err))

	d, err = s.EnsureDevice(ctx, "device-mongo")
	require.NoError(t, err)
	assert.Len(t, d.Fish, 1)
}
