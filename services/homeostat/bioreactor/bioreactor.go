// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bioreactor runs tournament selection over the zooid
// population.
package bioreactor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/audit"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/config"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/datatypes"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/observability"
	"github.com/AleutianAI/AleutianHomeostat/services/homeostat/registry"
)

// =============================================================================
// Tournament scoring
// =============================================================================

// Score is one tournament entrant's ranked score with its breakdown.
//
// Description:
//
//	The final score combines recorded evaluation fitness with an
//	exploration bonus for under-evidenced challengers:
//	  score = fitness + exploration
//	  exploration = C * sqrt(ln(total_evidence) / entrant_evidence)
//	The incumbent competes on fitness alone; it is the exploit choice,
//	so the exploration term applies only to challengers.
//
// Thread Safety: Score is immutable after creation.
type Score struct {
	// ZooidID is the entrant.
	ZooidID string `json:"zooid_id"`

	// Fitness is the recorded evaluation fitness.
	Fitness float64 `json:"fitness"`

	// ExplorationBonus is the under-evidence bonus, zero for the
	// incumbent.
	ExplorationBonus float64 `json:"exploration_bonus"`

	// FinalScore is fitness plus exploration.
	FinalScore float64 `json:"final_score"`

	// Incumbent marks the defending ACTIVE member.
	Incumbent bool `json:"incumbent"`
}

// TournamentResult records one niche's tournament.
type TournamentResult struct {
	// Niche is the contested niche.
	Niche string `json:"niche"`

	// Replaced reports whether a challenger displaced the incumbent.
	Replaced bool `json:"replaced"`

	// WinnerID is the zooid holding the niche after the tournament.
	WinnerID string `json:"winner_id"`

	// Scores holds every entrant's breakdown, best first.
	Scores []Score `json:"scores"`

	// LoserIDs lists the entrants that left the tournament beaten,
	// demoted to DORMANT or retired per configuration.
	LoserIDs []string `json:"loser_ids,omitempty"`
}

// RunResult summarizes one full selection pass.
type RunResult struct {
	// Tournaments lists the contested niches in run order.
	Tournaments []TournamentResult `json:"tournaments,omitempty"`

	// Replaced counts incumbent displacements across all niches.
	Replaced int `json:"replaced"`
}

// =============================================================================
// Bioreactor
// =============================================================================

// Bioreactor pits PROBATION challengers against ACTIVE incumbents.
//
// Description:
//
//	For every niche holding at least one ACTIVE incumbent and one
//	PROBATION challenger, the bioreactor scores all entrants, ranks
//	them, and replaces the incumbent only when the best challenger
//	clears it by the configured margin. Winners hold or take ACTIVE;
//	every other entrant leaves the tournament to DORMANT, or straight
//	to RETIRED when loser retirement is configured. After a tournament
//	a niche therefore holds exactly one contested ACTIVE member and no
//	challengers. Each tournament appends one audit event.
//
// Thread Safety: Not safe for concurrent use; the orchestrator calls
// Run from its single tick goroutine.
type Bioreactor struct {
	zooids  *registry.Zooids
	trail   *audit.Trail
	metrics *observability.HomeostatMetrics
	cfg     config.BioreactorConfig
	logger  *slog.Logger
}

// New creates a Bioreactor.
//
// Outputs:
//
//	*Bioreactor - ready to run tournaments.
//	error       - a required collaborator is missing.
func New(zooids *registry.Zooids, trail *audit.Trail, metrics *observability.HomeostatMetrics,
	cfg config.BioreactorConfig, logger *slog.Logger) (*Bioreactor, error) {
	if zooids == nil {
		return nil, fmt.Errorf("bioreactor requires the zooid registry")
	}
	if trail == nil {
		return nil, fmt.Errorf("bioreactor requires the audit trail")
	}
	if metrics == nil {
		return nil, fmt.Errorf("bioreactor requires metrics")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bioreactor{zooids: zooids, trail: trail, metrics: metrics, cfg: cfg, logger: logger}, nil
}

// Run executes tournaments for every contested niche.
//
// Outputs:
//
//	*RunResult - per-niche results in deterministic (sorted) niche order.
//	error      - registry fault; completed tournaments stand.
func (b *Bioreactor) Run(ctx context.Context, now time.Time) (*RunResult, error) {
	actives, err := b.zooids.ListByState(ctx, datatypes.StateActive)
	if err != nil {
		return nil, fmt.Errorf("list active zooids: %w", err)
	}
	challengers, err := b.zooids.ListByState(ctx, datatypes.StateProbation)
	if err != nil {
		return nil, fmt.Errorf("list probation zooids: %w", err)
	}

	defenders := make(map[string]*datatypes.Zooid)
	for _, z := range actives {
		cur, ok := defenders[z.Niche]
		if !ok || betterDefender(z, cur) {
			defenders[z.Niche] = z
		}
	}
	byNiche := make(map[string][]*datatypes.Zooid)
	for _, z := range challengers {
		byNiche[z.Niche] = append(byNiche[z.Niche], z)
	}

	var niches []string
	for niche := range byNiche {
		if _, ok := defenders[niche]; ok {
			niches = append(niches, niche)
		}
	}
	sort.Strings(niches)

	result := &RunResult{}
	for _, niche := range niches {
		tr, err := b.tournament(ctx, niche, defenders[niche], byNiche[niche], now)
		if err != nil {
			return nil, err
		}
		result.Tournaments = append(result.Tournaments, *tr)
		if tr.Replaced {
			result.Replaced++
		}
	}
	return result, nil
}

// betterDefender picks the niche's defending incumbent when several
// ACTIVE members exist: highest fitness, then earliest spawn, then id.
func betterDefender(a, b *datatypes.Zooid) bool {
	if a.Fitness != b.Fitness {
		return a.Fitness > b.Fitness
	}
	if !a.SpawnedAt.Equal(b.SpawnedAt) {
		return a.SpawnedAt.Before(b.SpawnedAt)
	}
	return a.ID < b.ID
}

func (b *Bioreactor) tournament(ctx context.Context, niche string, incumbent *datatypes.Zooid,
	challengers []*datatypes.Zooid, now time.Time) (*TournamentResult, error) {

	totalEvidence := incumbent.Evidence
	for _, c := range challengers {
		totalEvidence += c.Evidence
	}

	scores := make([]Score, 0, len(challengers)+1)
	scores = append(scores, Score{
		ZooidID:    incumbent.ID,
		Fitness:    incumbent.Fitness,
		FinalScore: incumbent.Fitness,
		Incumbent:  true,
	})
	for _, c := range challengers {
		bonus := b.explorationBonus(totalEvidence, c.Evidence)
		scores = append(scores, Score{
			ZooidID:          c.ID,
			Fitness:          c.Fitness,
			ExplorationBonus: bonus,
			FinalScore:       c.Fitness + bonus,
		})
		b.logger.Debug("tournament: scored challenger",
			slog.String("niche", niche),
			slog.String("zooid_id", c.ID),
			slog.Float64("fitness", c.Fitness),
			slog.Float64("exploration", bonus),
			slog.Float64("final_score", c.Fitness+bonus),
		)
	}

	// Rank best first; the incumbent wins exact ties.
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].FinalScore != scores[j].FinalScore {
			return scores[i].FinalScore > scores[j].FinalScore
		}
		if scores[i].Incumbent != scores[j].Incumbent {
			return scores[i].Incumbent
		}
		return scores[i].ZooidID < scores[j].ZooidID
	})

	best := scores[0]
	for _, s := range scores {
		if !s.Incumbent {
			best = s
			break
		}
	}
	replaced := best.FinalScore > incumbent.Fitness+b.cfg.ReplaceMargin

	tr := &TournamentResult{Niche: niche, Replaced: replaced, Scores: scores}

	var reason string
	if replaced {
		tr.WinnerID = best.ZooidID
		reason = fmt.Sprintf("challenger %s replaced incumbent %s: score %.4f vs %.4f, margin %.4f",
			best.ZooidID, incumbent.ID, best.FinalScore, incumbent.Fitness, b.cfg.ReplaceMargin)

		if _, err := b.zooids.Transition(ctx, best.ZooidID, datatypes.StateActive,
			fmt.Sprintf("tournament win in %s: score %.4f", niche, best.FinalScore), now); err != nil {
			return nil, fmt.Errorf("promote tournament winner %s: %w", best.ZooidID, err)
		}
		if err := b.demote(ctx, incumbent.ID, niche,
			fmt.Sprintf("tournament loss to %s: score %.4f vs %.4f", best.ZooidID, incumbent.Fitness, best.FinalScore),
			now, tr); err != nil {
			return nil, err
		}
	} else {
		tr.WinnerID = incumbent.ID
		reason = fmt.Sprintf("incumbent %s held: best challenger %s at %.4f, needed above %.4f",
			incumbent.ID, best.ZooidID, best.FinalScore, incumbent.Fitness+b.cfg.ReplaceMargin)
	}

	for _, c := range challengers {
		if replaced && c.ID == best.ZooidID {
			continue
		}
		if err := b.demote(ctx, c.ID, niche,
			fmt.Sprintf("tournament loss in %s to %s", niche, tr.WinnerID), now, tr); err != nil {
			return nil, err
		}
	}

	b.auditEvent(audit.Event{
		EventType: audit.EventTournament,
		Subsystem: niche,
		ZooidID:   tr.WinnerID,
		Outcome:   tournamentOutcome(replaced),
		Reason:    reason,
	})
	b.metrics.RecordTournament(niche, replaced)
	b.logger.Info("tournament finished",
		"niche", niche, "winner", tr.WinnerID, "replaced", replaced,
		"entrants", len(scores), "losers", len(tr.LoserIDs))
	return tr, nil
}

// explorationBonus computes the under-evidence term for a challenger.
// Entrants with no evidence at all get the maximum bonus, twice the
// configured constant.
func (b *Bioreactor) explorationBonus(totalEvidence, evidence int) float64 {
	if b.cfg.ExplorationBonus <= 0 {
		return 0
	}
	if evidence <= 0 {
		return 2 * b.cfg.ExplorationBonus
	}
	if totalEvidence < 2 {
		return 0
	}
	return b.cfg.ExplorationBonus * math.Sqrt(math.Log(float64(totalEvidence))/float64(evidence))
}

// demote moves a tournament loser out of contention, to DORMANT for
// later reselection or to RETIRED when configured.
func (b *Bioreactor) demote(ctx context.Context, id, niche, reason string, now time.Time, tr *TournamentResult) error {
	to := datatypes.StateDormant
	if b.cfg.RetireLosers {
		to = datatypes.StateRetired
	}
	if _, err := b.zooids.Transition(ctx, id, to, reason, now); err != nil {
		return fmt.Errorf("demote tournament loser %s in %s: %w", id, niche, err)
	}
	tr.LoserIDs = append(tr.LoserIDs, id)
	return nil
}

func tournamentOutcome(replaced bool) string {
	if replaced {
		return string(datatypes.OutcomePromote)
	}
	return string(datatypes.OutcomeReject)
}

func (b *Bioreactor) auditEvent(e audit.Event) {
	if _, err := b.trail.Append(e); err != nil {
		b.logger.Error("audit append failed", "event_type", e.EventType, "error", err)
	}
}
