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
	"time"

	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Collection names match the ones the mobile backend has always used.
const (
	collDevices   = "devices"
	collFish      = "fish"
	collColors    = "fishcolors"
	collPredators = "predators"
	collFunFacts  = "funfacts"
	collImages    = "fishimages"
)

type speciesDoc struct {
	ID                    bson.ObjectID `bson:"_id,omitempty"`
	Name                  string        `bson:"name"`
	CaptureTimestamp      time.Time     `bson:"captureTimestamp"`
	Family                string        `bson:"family"`
	MinSize               float64       `bson:"minSize"`
	MaxSize               float64       `bson:"maxSize"`
	WaterType             string        `bson:"waterType"`
	Description           string        `bson:"description"`
	ColorDescription      string        `bson:"colorDescription"`
	DepthRangeMin         float64       `bson:"depthRangeMin"`
	DepthRangeMax         float64       `bson:"depthRangeMax"`
	Environment           string        `bson:"environment"`
	Region                string        `bson:"region"`
	ConservationStatus    string        `bson:"conservationStatus"`
	ConsStatusDescription string        `bson:"consStatusDescription"`
	FavoriteIndicator     bool          `bson:"favoriteIndicator"`
	AIAccuracy            float64       `bson:"aiAccuracy"`
	CreatedAt             time.Time     `bson:"createdAt"`
	UpdatedAt             time.Time     `bson:"updatedAt"`
}

func speciesToDoc(s *datatypes.Species) speciesDoc {
	return speciesDoc{
		Name:                  s.Name,
		CaptureTimestamp:      s.CaptureTimestamp,
		Family:                s.Family,
		MinSize:               s.MinSize,
		MaxSize:               s.MaxSize,
		WaterType:             string(s.WaterType),
		Description:           s.Description,
		ColorDescription:      s.ColorDescription,
		DepthRangeMin:         s.DepthRangeMin,
		DepthRangeMax:         s.DepthRangeMax,
		Environment:           s.Environment,
		Region:                s.Region,
		ConservationStatus:    string(s.ConservationStatus),
		ConsStatusDescription: s.ConsStatusDescription,
		FavoriteIndicator:     s.FavoriteIndicator,
		AIAccuracy:            s.AIAccuracy,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func (d speciesDoc) toSpecies() *datatypes.Species {
	return &datatypes.Species{
		ID:                    d.ID.Hex(),
		Name:                  d.Name,
		CaptureTimestamp:      d.CaptureTimestamp,
		Family:                d.Family,
		MinSize:               d.MinSize,
		MaxSize:               d.MaxSize,
		WaterType:             datatypes.WaterType(d.WaterType),
		Description:           d.Description,
		ColorDescription:      d.ColorDescription,
		DepthRangeMin:         d.DepthRangeMin,
		DepthRangeMax:         d.DepthRangeMax,
		Environment:           d.Environment,
		Region:                d.Region,
		ConservationStatus:    datatypes.ConservationStatus(d.ConservationStatus),
		ConsStatusDescription: d.ConsStatusDescription,
		FavoriteIndicator:     d.FavoriteIndicator,
		AIAccuracy:            d.AIAccuracy,
		CreatedAt:             d.CreatedAt,
		UpdatedAt:             d.UpdatedAt,
	}
}

// childDoc covers all four child collections; only the field matching the
// collection is set.
type childDoc struct {
	ID                 bson.ObjectID `bson:"_id,omitempty"`
	FishID             bson.ObjectID `bson:"fishId"`
	ColorName          string        `bson:"colorName,omitempty"`
	PredatorName       string        `bson:"predatorName,omitempty"`
	FunFactDescription string        `bson:"funFactDescription,omitempty"`
	URL                string        `bson:"url,omitempty"`
	CreatedAt          time.Time     `bson:"createdAt"`
	UpdatedAt          time.Time     `bson:"updatedAt"`
}

type sightingDoc struct {
	Fish      bson.ObjectID `bson:"fish"`
	FishID    bson.ObjectID `bson:"fishId"`
	ImageURL  string        `bson:"imageUrl"`
	Timestamp time.Time     `bson:"timestamp"`
}

type deviceDoc struct {
	ID               bson.ObjectID `bson:"_id,omitempty"`
	DeviceIdentifier string        `bson:"deviceIdentifier"`
	Fish             []sightingDoc `bson:"fish"`
	CreatedAt        time.Time     `bson:"createdAt"`
	UpdatedAt        time.Time     `bson:"updatedAt"`
}

func (d deviceDoc) toDevice() *datatypes.Device {
	out := &datatypes.Device{
		ID:               d.ID.Hex(),
		DeviceIdentifier: d.DeviceIdentifier,
		Fish:             make([]datatypes.Sighting, 0, len(d.Fish)),
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for _, s := range d.Fish {
		out.Fish = append(out.Fish, datatypes.Sighting{
			Fish:      s.Fish.Hex(),
			FishID:    s.FishID.Hex(),
			ImageURL:  s.ImageURL,
			Timestamp: s.Timestamp,
		})
	}
	return out
}
