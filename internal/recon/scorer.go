// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package recon

import (
	"context"
	"math"
	"time"

	"github.com/tomtom215/driveguard/internal/logging"
)

// actionBaseScores maps recon actions to base scores. Broader questions
// score higher: "catch me up" sweeps everything the actor touched, while a
// plain summarize targets one document the actor already had open.
var actionBaseScores = map[string]float64{
	"catch_me_up":         5.0,
	"analyze_documents":   4.0,
	"ask_about_this_file": 3.0,
	"summarize_file":      3.0,
	"summarize_long":      2.0,
	"ask_about_context":   2.0,
	"summarize":           1.5,
}

// defaultBaseScore is the score for recon actions not in the table.
const defaultBaseScore = 1.0

// DefaultHalfLife is the decay half-life for cumulative recon scoring.
const DefaultHalfLife = 48 * time.Hour

// Risk thresholds for a cumulative score.
const (
	highRiskScore   = 10.0
	mediumRiskScore = 5.0
)

// BaseScoreFor returns the base score for a recon action.
func BaseScoreFor(action string) float64 {
	if score, ok := actionBaseScores[action]; ok {
		return score
	}
	return defaultBaseScore
}

// RiskLevel maps a cumulative score to a coarse label.
func RiskLevel(score float64) string {
	switch {
	case score >= highRiskScore:
		return "high"
	case score >= mediumRiskScore:
		return "medium"
	default:
		return "low"
	}
}

// Scorer computes an actor's cumulative recon score at a point in time.
// Each stored activity contributes its base score decayed exponentially:
//
//	score(actor, now) = Σ base_i · 0.5^((now − t_i) / halfLife)
//
// The score is therefore monotonically non-increasing in now once no new
// activity is appended.
type Scorer struct {
	store    Store
	halfLife time.Duration
}

// NewScorer creates a scorer over the given store. halfLife <= 0 selects the
// default 48 hours.
func NewScorer(store Store, halfLife time.Duration) *Scorer {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return &Scorer{store: store, halfLife: halfLife}
}

// Score returns the actor's cumulative decayed score at now, rounded to two
// decimals. Store errors yield a zero score; the store layer has already
// logged and degraded.
func (s *Scorer) Score(ctx context.Context, actor string, now time.Time) float64 {
	activities, err := s.store.Activities(ctx, actor)
	if err != nil {
		logging.Err(err).Str("actor", actor).Msg("recon activities unavailable, scoring as zero")
		return 0
	}

	halfLifeHours := s.halfLife.Hours()
	total := 0.0
	for _, a := range activities {
		elapsed := now.Sub(a.Timestamp).Hours()
		if elapsed < 0 {
			// Future-dated activity (clock skew between audit sources):
			// treat as just recorded rather than amplifying it.
			elapsed = 0
		}
		total += a.BaseScore * math.Pow(0.5, elapsed/halfLifeHours)
	}

	return math.Round(total*100) / 100
}
