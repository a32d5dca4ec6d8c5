// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog implements the species catalog: exact-name lookup and
// first-write-wins creation of species with their child collections.
package catalog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/AleutianAI/FishTracker/services/fishtracker/apperrors"
	"github.com/AleutianAI/FishTracker/services/fishtracker/datatypes"
	"github.com/AleutianAI/FishTracker/services/fishtracker/observability"
	"github.com/AleutianAI/FishTracker/services/fishtracker/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Catalog owns species creation. It never updates an existing species.
type Catalog struct {
	store   store.SpeciesStore
	group   singleflight.Group
	logger  *slog.Logger
	metrics *observability.PipelineMetrics
}

func New(s store.SpeciesStore, logger *slog.Logger, metrics *observability.PipelineMetrics) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{store: s, logger: logger, metrics: metrics}
}

// Exists reports whether a species with exactly this name is catalogued and
// returns it when found.
func (c *Catalog) Exists(ctx context.Context, name string) (bool, *datatypes.Species, error) {
	sp, err := c.store.FindSpeciesByName(ctx, name)
	if apperrors.IsNotFound(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, sp, nil
}

// Get returns a species with all child collections.
func (c *Catalog) Get(ctx context.Context, id string) (*datatypes.SpeciesDetail, error) {
	return c.store.SpeciesDetail(ctx, id)
}

// ValidateProfile trims the name and checks the name and size range. It
// does not run the full field rules; see ValidateProfileStrict.
func ValidateProfile(p *datatypes.SpeciesProfile) error {
	if p == nil {
		return apperrors.Validation("fishData", "Fish data is required")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperrors.Validation("name", "Fish name is required")
	}
	if p.MinSize > 0 && p.MaxSize > 0 && p.MinSize > p.MaxSize {
		return apperrors.Validation("minSize", "minSize cannot be greater than maxSize")
	}
	return nil
}

// ValidateProfileStrict runs ValidateProfile and then every field rule
// (required text, enums, non-negative numbers, accuracy within 0-100).
func ValidateProfileStrict(p *datatypes.SpeciesProfile) error {
	if err := ValidateProfile(p); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return apperrors.FromValidator(err)
	}
	return nil
}

// CreateWithChildren inserts the species and then, best effort, its
// colors, predators, fun facts and images. A failed child write is logged
// and skipped; the species is still returned.
func (c *Catalog) CreateWithChildren(ctx context.Context, p *datatypes.SpeciesProfile) (*datatypes.Species, error) {
	if err := ValidateProfileStrict(p); err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "catalog.CreateWithChildren")
	defer span.End()
	span.SetAttributes(attribute.String("species.name", p.Name))

	sp, err := c.store.InsertSpecies(ctx, p.ToSpecies())
	if err != nil {
		return nil, err
	}

	children := map[store.ChildKind][]string{
		store.ChildColors:    p.Colors,
		store.ChildPredators: p.Predators,
		store.ChildFunFacts:  p.FunFacts,
		store.ChildImages:    p.Images,
	}
	for _, kind := range store.ChildKinds {
		values := children[kind]
		if len(values) == 0 {
			continue
		}
		if err := c.store.InsertChildren(ctx, sp.ID, kind, values); err != nil {
			c.logger.Warn("Failed to create species child records",
				"species", sp.Name, "fish_id", sp.ID, "kind", kind, "error", err)
			c.metrics.RecordChildWriteFailure(string(kind))
		}
	}

	c.logger.Info("Species created", "species", sp.Name, "fish_id", sp.ID)
	return sp, nil
}

// FindOrCreate returns the catalogued species named p.Name, creating it
// from p when absent. An existing record is returned unchanged even if p
// differs. A caller only creates after its own profile passes the strict
// rules. Concurrent creates of one name within this process share a
// single insert that runs detached from any one caller's context; a
// duplicate-key loss against another process resolves to the winner's
// record.
func (c *Catalog) FindOrCreate(ctx context.Context, p *datatypes.SpeciesProfile) (*datatypes.Species, bool, error) {
	if err := ValidateProfile(p); err != nil {
		return nil, false, err
	}

	found, sp, err := c.Exists(ctx, p.Name)
	if err != nil {
		return nil, false, err
	}
	if found {
		c.metrics.RecordCatalogLookup(false)
		return sp, false, nil
	}
	if err := ValidateProfileStrict(p); err != nil {
		return nil, false, err
	}

	type result struct {
		species *datatypes.Species
		created bool
		creator *datatypes.SpeciesProfile
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(p.Name, func() (any, error) {
		found, sp, err := c.Exists(flightCtx, p.Name)
		if err != nil {
			return nil, err
		}
		if found {
			return result{species: sp}, nil
		}
		sp, err = c.CreateWithChildren(flightCtx, p)
		if apperrors.IsDuplicateKey(err) {
			existing, lookupErr := c.store.FindSpeciesByName(flightCtx, p.Name)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return result{species: existing}, nil
		}
		if err != nil {
			return nil, err
		}
		return result{species: sp, created: true, creator: p}, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		r := res.Val.(result)
		// Callers that joined another caller's insert did not create it.
		created := r.created && r.creator == p
		c.metrics.RecordCatalogLookup(created)
		return r.species, created, nil
	}
}
