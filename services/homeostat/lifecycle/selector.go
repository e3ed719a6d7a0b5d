// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
)

// Selection reports one batch selection pass.
type Selection struct {
	// Promoted lists the zooid ids moved into PROBATION, best fitness
	// first.
	Promoted []string `json:"promoted,omitempty"`

	// SkippedNicheFull counts dormant zooids passed over because their
	// niche already holds the maximum probation slots.
	SkippedNicheFull int `json:"skipped_niche_full"`
}

// BatchSelector moves the best dormant zooids into evaluation.
//
//	Description:
//	    Ranks the DORMANT population by fitness and promotes up to
//	    BatchTopK per pass into PROBATION, never pushing a niche past
//	    MaxProbationPerNiche concurrent probation slots. Ties break by
//	    spawn time then id so repeated passes over the same population
//	    pick the same members.
type BatchSelector struct {
	zooids *registry.Zooids
	cfg    config.LifecycleConfig
	logger *slog.Logger
}

// NewBatchSelector builds a BatchSelector. The registry is required.
func NewBatchSelector(zooids *registry.Zooids, cfg config.LifecycleConfig, logger *slog.Logger) (*BatchSelector, error) {
	if zooids == nil {
		return nil, fmt.Errorf("batch selector requires the zooid registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchSelector{zooids: zooids, cfg: cfg, logger: logger}, nil
}

// Select runs one selection pass. A BatchTopK of zero disables
// selection and returns an empty result.
func (s *BatchSelector) Select(ctx context.Context, now time.Time) (*Selection, error) {
	sel := &Selection{}
	if s.cfg.BatchTopK <= 0 {
		return sel, nil
	}

	dormant, err := s.zooids.ListByState(ctx, datatypes.StateDormant)
	if err != nil {
		return nil, fmt.Errorf("list dormant zooids: %w", err)
	}
	if len(dormant) == 0 {
		return sel, nil
	}

	probation, err := s.zooids.ListByState(ctx, datatypes.StateProbation)
	if err != nil {
		return nil, fmt.Errorf("list probation zooids: %w", err)
	}
	load := make(map[string]int, len(probation))
	for _, z := range probation {
		load[z.Niche]++
	}

	sort.Slice(dormant, func(i, j int) bool {
		if dormant[i].Fitness != dormant[j].Fitness {
			return dormant[i].Fitness > dormant[j].Fitness
		}
		if !dormant[i].SpawnedAt.Equal(dormant[j].SpawnedAt) {
			return dormant[i].SpawnedAt.Before(dormant[j].SpawnedAt)
		}
		return dormant[i].ID < dormant[j].ID
	})

	for rank, z := range dormant {
		if len(sel.Promoted) >= s.cfg.BatchTopK {
			break
		}
		if s.cfg.MaxProbationPerNiche > 0 && load[z.Niche] >= s.cfg.MaxProbationPerNiche {
			sel.SkippedNicheFull++
			continue
		}
		reason := fmt.Sprintf("batch selected: fitness %g, rank %d", z.Fitness, rank+1)
		if _, err := s.zooids.Transition(ctx, z.ID, datatypes.StateProbation, reason, now); err != nil {
			return nil, fmt.Errorf("select zooid %s: %w", z.ID, err)
		}
		load[z.Niche]++
		sel.Promoted = append(sel.Promoted, z.ID)
	}

	if len(sel.Promoted) > 0 || sel.SkippedNicheFull > 0 {
		s.logger.Info("batch selection finished",
			"promoted", len(sel.Promoted), "skipped_niche_full", sel.SkippedNicheFull)
	}
	return sel, nil
}
