// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout:
//
//	species:id:{id}                -> Species JSON
//	species:name:{name}            -> id
//	child:{kind}:{fishID}:{id}     -> child record JSON
//	device:{deviceIdentifier}      -> Device JSON (sightings embedded)
const (
	prefixSpeciesID   = "species:id:"
	prefixSpeciesName = "species:name:"
	prefixChild       = "child:"
	prefixDevice      = "device:"
)

// Store implements store.Store on BadgerDB.
type Store struct {
	db  *DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New wraps an open database.
func New(db *DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open opens a database with cfg and wraps it.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// OpenInMemory returns an empty store that lives until Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// SetClock replaces the timestamp source. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return apperrors.Persistence("badger database is closed", nil)
	}
	return ctx.Err()
}

func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// =============================================================================
// Species
// =============================================================================

func (s *Store) FindSpeciesByName(ctx context.Context, name string) (*datatypes.Species, error) {
	var out *datatypes.Species
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		id, err := getString(txn, prefixSpeciesName+name)
		if err != nil {
			return err
		}
		out = &datatypes.Species{}
		return getJSON(txn, prefixSpeciesID+id, out)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("name", fmt.Sprintf("Fish %q not found", name))
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	return out, nil
}

func (s *Store) FindSpeciesByID(ctx context.Context, id string) (*datatypes.Species, error) {
	var out datatypes.Species
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixSpeciesID+id, &out)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("fishId", "Fish not found")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	return &out, nil
}

func (s *Store) FindSpeciesByIDs(ctx context.Context, ids []string) (map[string]*datatypes.Species, error) {
	out := make(map[string]*datatypes.Species, len(ids))
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		for _, id := range ids {
			if _, seen := out[id]; seen {
				continue
			}
			var sp datatypes.Species
			err := getJSON(txn, prefixSpeciesID+id, &sp)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[id] = &sp
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Persistence("failed to load species", err)
	}
	return out, nil
}

func (s *Store) InsertSpecies(ctx context.Context, sp *datatypes.Species) (*datatypes.Species, error) {
	rec := *sp
	rec.ID = newID()
	now := s.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	if rec.CaptureTimestamp.IsZero() {
		rec.CaptureTimestamp = now
	}

	errTaken := errors.New("name taken")
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixSpeciesName + rec.Name))
		if err == nil {
			return errTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(prefixSpeciesName+rec.Name), []byte(rec.ID)); err != nil {
			return err
		}
		return setJSON(txn, prefixSpeciesID+rec.ID, &rec)
	})
	if errors.Is(err, errTaken) {
		return nil, apperrors.Duplicate("name", err)
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to create species", err)
	}
	return &rec, nil
}

func (s *Store) InsertChildren(ctx context.Context, fishID string, kind store.ChildKind, values []string) error {
	if len(values) == 0 {
		return nil
	}
	now := s.now()
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, v := range values {
			id := newID()
			rec, err := childRecord(kind, id, fishID, v, now)
			if err != nil {
				return err
			}
			if err := setJSON(txn, childKey(kind, fishID)+id, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Persistence(fmt.Sprintf("failed to create %s", kind), err)
	}
	return nil
}

func (s *Store) SpeciesDetail(ctx context.Context, id string) (*datatypes.SpeciesDetail, error) {
	sp, err := s.FindSpeciesByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &datatypes.SpeciesDetail{
		Fish:      sp,
		Images:    []datatypes.SpeciesImage{},
		Colors:    []datatypes.Color{},
		Predators: []datatypes.Predator{},
		FunFacts:  []datatypes.FunFact{},
	}
	err = s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanChildren(txn, id, detail)
	})
	if err != nil {
		return nil, apperrors.Persistence("failed to load species children", err)
	}
	return detail, nil
}

func scanChildren(txn *badger.Txn, fishID string, detail *datatypes.SpeciesDetail) error {
	for _, kind := range store.ChildKinds {
		prefix := []byte(childKey(kind, fishID))
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 16})
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				switch kind {
				case store.ChildColors:
					var c datatypes.Color
					if err := json.Unmarshal(val, &c); err != nil {
						return err
					}
					detail.Colors = append(detail.Colors, c)
				case store.ChildPredators:
					var p datatypes.Predator
					if err := json.Unmarshal(val, &p); err != nil {
						return err
					}
					detail.Predators = append(detail.Predators, p)
				case store.ChildFunFacts:
					var f datatypes.FunFact
					if err := json.Unmarshal(val, &f); err != nil {
						return err
					}
					detail.FunFacts = append(detail.FunFacts, f)
				case store.ChildImages:
					var im datatypes.SpeciesImage
					if err := json.Unmarshal(val, &im); err != nil {
						return err
					}
					detail.Images = append(detail.Images, im)
				}
				return nil
			})
			if err != nil {
				it.Close()
				return err
			}
		}
		it.Close()
	}
	return nil
}

func childKey(kind store.ChildKind, fishID string) string {
	return prefixChild + string(kind) + ":" + fishID + ":"
}

func childRecord(kind store.ChildKind, id, fishID, value string, now time.Time) (any, error) {
	switch kind {
	case store.ChildColors:
		return datatypes.Color{ID: id, FishID: fishID, ColorName: value, CreatedAt: now}, nil
	case store.ChildPredators:
		return datatypes.Predator{ID: id, FishID: fishID, PredatorName: value, CreatedAt: now}, nil
	case store.ChildFunFacts:
		return datatypes.FunFact{ID: id, FishID: fishID, FunFactDescription: value, CreatedAt: now}, nil
	case store.ChildImages:
		return datatypes.SpeciesImage{ID: id, FishID: fishID, URL: value, CreatedAt: now}, nil
	}
	return nil, fmt.Errorf("unknown child kind %q", kind)
}

// =============================================================================
// Devices
// =============================================================================

func (s *Store) CreateDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	var out *datatypes.Device
	errTaken := errors.New("device identifier taken")
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(prefixDevice + deviceID))
		if err == nil {
			return errTaken
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		out = s.newDevice(deviceID)
		return setJSON(txn, prefixDevice+deviceID, out)
	})
	if errors.Is(err, errTaken) {
		return nil, apperrors.Duplicate("deviceIdentifier", err)
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to create device", err)
	}
	return out, nil
}

func (s *Store) FindDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	var out datatypes.Device
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, prefixDevice+deviceID, &out)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperrors.NotFound("deviceId", "Device has not been registered yet")
	}
	if err != nil {
		return nil, apperrors.Persistence("failed to load device", err)
	}
	return &out, nil
}

func (s *Store) EnsureDevice(ctx context.Context, deviceID string) (*datatypes.Device, error) {
	return s.mutateDevice(ctx, deviceID, func(*datatypes.Device) {})
}

func (s *Store) PushSighting(ctx context.Context, deviceID string, sg datatypes.Sighting) (*datatypes.Device, error) {
	return s.mutateDevice(ctx, deviceID, func(d *datatypes.Device) {
		d.Fish = append(d.Fish, sg)
		d.UpdatedAt = s.now()
	})
}

// mutateDevice loads or creates the device, applies fn and writes it back
// in one transaction.
func (s *Store) mutateDevice(ctx context.Context, deviceID string, fn func(*datatypes.Device)) (*datatypes.Device, error) {
	var out *datatypes.Device
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		d := &datatypes.Device{}
		err := getJSON(txn, prefixDevice+deviceID, d)
		created := false
		if errors.Is(err, badger.ErrKeyNotFound) {
			d = s.newDevice(deviceID)
			created = true
		} else if err != nil {
			return err
		}
		before := len(d.Fish)
		fn(d)
		out = d
		if !created && len(d.Fish) == before {
			return nil
		}
		return setJSON(txn, prefixDevice+deviceID, d)
	})
	if err != nil {
		return nil, apperrors.Persistence("failed to update device", err)
	}
	return out, nil
}

func (s *Store) newDevice(deviceID string) *datatypes.Device {
	now := s.now()
	return &datatypes.Device{
		ID:               newID(),
		DeviceIdentifier: deviceID,
		Fish:             []datatypes.Sighting{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// =============================================================================
// Helpers
// =============================================================================

// newID returns a time-ordered UUID so prefix scans follow insertion order.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func getString(txn *badger.Txn, key string) (string, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return "", err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}
