// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mongo is the MongoDB implementation of the FishTracker store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Store implements store.Store on MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Connect dials uri, verifies the connection and ensures indexes exist.
func Connect(ctx context.Context, uri, database string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := &Store{
		client: client,
		db:     client.Database(database),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Info("Connected to MongoDB", "database", database)
	return s, nil
}

// EnsureIndexes creates the unique and lookup indexes. Safe to repeat.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collDevices: {
			{Keys: bson.D{{Key: "deviceIdentifier", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collFish: {
			{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collColors:    {{Keys: bson.D{{Key: "fishId", Value: 1}}}},
		collPredators: {{Keys: bson.D{{Key: "fishId", Value: 1}}}},
		collFunFacts:  {{Keys: bson.D{{Key: "fishId", Value: 1}}}},
		collImages:    {{Keys: bson.D{{Key: "fishId", Value: 1}}}},
	}
	for name, models := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes for %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return apperrors.Persistence("database unreachable", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) fish() *mongo.Collection    { return s.db.Collection(collFish) }
func (s *Store) devices() *mongo.Collection { return s.db.Collection(collDevices) }

func childCollection(kind store.ChildKind) (string, error) {
	switch kind {
	case store.ChildColors:
		return collColors, nil
	case store.ChildPredators:
		return collPredators, nil
	case store.ChildFunFacts:
		return collFunFacts, nil
	case store.ChildImages:
		return collImages, nil
	}
	return "", fmt.Errorf("unknown child kind %q", kind)
}

// parseID converts a hex id, reporting malformed input as a cast error.
func parseID(field, id string) (bson.ObjectID, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return bson.NilObjectID, &apperrors.Error{
			Kind:    apperrors.KindValidation,
			Field:   field,
			Code:    "CastError",
			Message: fmt.Sprintf("Invalid %s", field),
			Err:     err,
		}
	}
	return oid, nil
}

// =============================================================================
// Species
// =============================================================================

func (s *Store) FindSpeciesByName(ctx context.Context, name string) (*datatypes.Species, error) {
	var doc speciesDoc
	err := s.fish().FindOne(ctx, bson.M{"name": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("name", fmt.Sprintf("Fish %q not found", name))
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	return doc.toSpecies(), nil
}

func (s *Store) FindSpeciesByID(ctx context.Context, id string) (*datatypes.Species, error) {
	oid, err := parseID("fishId", id)
	if err != nil {
		return nil, err
	}
	var doc speciesDoc
	err = s.fish().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("fishId", "Fish not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	return doc.toSpecies(), nil
}

func (s *Store) FindSpeciesByIDs(ctx context.Context, ids []string) (map[string]*datatypes.Species, error) {
	oids := make([]bson.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := bson.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	out := make(map[string]*datatypes.Species, len(oids))
	if len(oids) == 0 {
		return out, nil
	}
	cursor, err := s.fish().Find(ctx, bson.M{"_id": bson.M{"$in": oids}})
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	var docs []speciesDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, apperrors.Persistence("failed to decode species", err)
	}
	for _, d := range docs {
		sp := d.toSpecies()
		out[sp.ID] = sp
	}
	return out, nil
}

func (s *Store) InsertSpecies(ctx context.Context, sp *datatypes.Species) (*datatypes.Species, error) {
	now := s.now()
	rec := *sp
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.CaptureTimestamp.IsZero() {
		rec.CaptureTimestamp = now
	}
	doc := speciesToDoc(&rec)
	doc.ID = bson.NewObjectID()

	if _, err := s.fish().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Duplicate("name", err)
		}
		return nil, apperrors.Persistence("failed to create species", err)
	}
	rec.ID = doc.ID.Hex()
	return &rec, nil
}

func (s *Store) InsertChildren(ctx context.Context, fishID string, kind store.ChildKind, values []string) error {
	if len(values) == 0 {
		return nil
	}
	coll, err := childCollection(kind)
	if err != nil {
		return err
	}
	oid, err := parseID("fishId", fishID)
	if err != nil {
		return err
	}
	now := s.now()
	docs := make([]any, 0, len(values))
	for _, v := range values {
		d := childDoc{FishID: oid, CreatedAt: now, UpdatedAt: now}
		switch kind {
		case store.ChildColors:
			d.ColorName = v
		case store.ChildPredators:
			d.PredatorName = v
		case store.ChildFunFacts:
			d.FunFactDescription = v
		case store.ChildImages:
			d.URL = v
		}
		docs = append(docs, d)
	}
	if _, err := s.db.Collection(coll).InsertMany(ctx, docs); err != nil {
		return apperrors.Persistence(fmt.Sprintf("failed to create %s", kind), err)
	}
	return nil
}

func (s *Store) SpeciesDetail(ctx context.Context, id string) (*datatypes.SpeciesDetail, error) {
	sp, err := s.FindSpeciesByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oid, _ := bson.ObjectIDFromHex(id)
	detail := &datatypes.SpeciesDetail{
		Fish:      sp,
		Images:    []datatypes.SpeciesImage{},
		Colors:    []datatypes.Color{},
		Predators: []datatypes.Predator{},
		FunFacts:  []datatypes.FunFact{},
	}
	for _, kind := range store.ChildKinds {
		coll, _ := childCollection(kind)
		cursor, err := s.db.Collection(coll).Find(ctx, bson.M{"fishId": oid},
			options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return nil, apperrors.Persistence("failed to load species children", err)
		}
		var docs []childDoc
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, apperrors.Persistence("failed to decode species children", err)
		}
		for _, d := range docs {
			switch kind {
			case store.ChildColors:
				detail.Colors = append(detail.Colors, datatypes.Color{ID: d.ID.Hex(), FishID: id, ColorName: d.ColorName, CreatedAt: d.CreatedAt})
			case store.ChildPredators:
				detail.Predators = append(detail.Predators, datatypes.Predator{ID: d.ID.Hex(), FishID: id, PredatorName: d.PredatorName, CreatedAt: d.CreatedAt})
			case store.ChildFunFacts:
				detail.FunFacts = append(detail.FunFacts, datatypes.FunFact{ID: d.ID.Hex(), FishID: id, FunFactDescription: d.FunFactDescription, CreatedAt: d.CreatedAt})
			case store.ChildImages:
				detail.Images = append(detail.Images, datatypes.SpeciesImage{ID: d.ID.Hex(), FishID: id, URL: d.URL, CreatedAt: d.CreatedAt})
			}
		}
	}
	return detail, nil
}

// =============================================================================
// Devices
// =============================================================================

func (s *Store) CreateDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	now := s.now()
	doc := deviceDoc{
		ID:               bson.NewObjectID(),
		DeviceIdentifier: deviceID,
		Fish:             []sightingDoc{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := s.devices().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.Duplicate("deviceIdentifier", err)
		}
		return nil, apperrors.Persistence("failed to create device", err)
	}
	return doc.toDevice(), nil
}

func (s *Store) FindDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	var doc deviceDoc
	err := s.devices().FindOne(ctx, bson.M{"deviceIdentifier": deviceID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NotFound("deviceId", "Device has not been registered yet")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load device", err)
	}
	return doc.toDevice(), nil
}

func (s *Store) EnsureDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	now := s.now()
	update := bson.M{
		"$setOnInsert": bson.M{
			"deviceIdentifier": deviceID,
			"fish":             bson.A{},
			"createdAt":        now,
			"updatedAt":        now,
		},
	}
	return s.upsertDevice(ctx, deviceID, update)
}

func (s *Store) PushSighting(ctx context.Context, deviceID string, sg datatypes.Sighting) (*datatypes.Device, error) {
	fishOID, err := parseID("fishId", sg.FishID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	update := bson.M{
		"$push": bson.M{"fish": sightingDoc{
			Fish:      fishOID,
			FishID:    fishOID,
			ImageURL:  sg.ImageURL,
			Timestamp: sg.Timestamp,
		}},
		"$set":         bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{"deviceIdentifier": deviceID, "createdAt": now},
	}
	return s.upsertDevice(ctx, deviceID, update)
}

func (s *Store) upsertDevice(ctx context.Context, deviceID string, update bson.M) (*datatypes.Device, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var doc deviceDoc
	err := s.devices().FindOneAndUpdate(ctx, bson.M{"deviceIdentifier": deviceID}, update, opts).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost an upsert race on the unique index; the device now exists.
			return s.retryUpsert(ctx, deviceID, update, opts)
		}
		return nil, apperrors.Persistence("failed to update device", err)
	}
	return doc.toDevice(), nil
}

func (s *Store) retryUpsert(ctx context.Context, deviceID string, update bson.M, opts *options.FindOneAndUpdateOptionsBuilder) (*datatypes.Device, error) {
	var doc deviceDoc
	if err := s.devices().FindOneAndUpdate(ctx, bson.M{"deviceIdentifier": deviceID}, update, opts).Decode(&doc); err != nil {
		return nil, apperrors.Persistence("failed to update device", err)
	}
	return doc.toDevice(), nil
}
