// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

// CorrelatorConfig configures the correlation engine.
type CorrelatorConfig struct {
	// Window is the recon-to-egress correlation window.
	Window time.Duration

	// DelayedExfilThreshold is the cumulative recon score above which an
	// unmatched egress event still produces a medium finding.
	DelayedExfilThreshold float64

	// CanaryDocIDs are planted documents; any egress touching one is high
	// severity regardless of other signals.
	CanaryDocIDs []string

	// Location is the timezone used for presentation timestamps. Internal
	// comparisons stay in UTC.
	Location *time.Location
}

// DefaultCorrelatorConfig returns sensible defaults.
func DefaultCorrelatorConfig() CorrelatorConfig {
	return CorrelatorConfig{
		Window:                30 * time.Minute,
		DelayedExfilThreshold: 5.0,
		Location:              time.UTC,
	}
}

// Correlator joins recon and egress streams per actor inside a sliding
// window and emits findings. It delegates scoring, enrichment, and intent
// classification so each can be tested in isolation.
type Correlator struct {
	cfg        CorrelatorConfig
	canary     map[string]struct{}
	severity   *SeverityEngine
	scorer     Scorer
	enricher   FileEnricher
	classifier IntentClassifier
}

// NewCorrelator creates a correlator. enricher and classifier may be nil, in
// which case those stages are skipped (used by tests exercising the core
// join).
func NewCorrelator(cfg CorrelatorConfig, scorer Scorer, enricher FileEnricher, classifier IntentClassifier) *Correlator {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	canary := make(map[string]struct{}, len(cfg.CanaryDocIDs))
	for _, id := range cfg.CanaryDocIDs {
		canary[id] = struct{}{}
	}
	return &Correlator{
		cfg:        cfg,
		canary:     canary,
		severity:   NewSeverityEngine(),
		scorer:     scorer,
		enricher:   enricher,
		classifier: classifier,
	}
}

// Correlate runs a full correlation pass and returns findings sorted by
// (severity rank, exfil time). The egress batch must already have passed
// through the RevertDetector.
func (c *Correlator) Correlate(ctx context.Context, recon []*ReconEvent, egress []*EgressEvent) []*Finding {
	start := time.Now()
	defer func() {
		metrics.RecordCorrelation(time.Since(start))
	}()

	buckets := bucketByActor(recon)
	c.logBurstiness(buckets)

	var findings []*Finding
	for _, e := range egress {
		reconScore := c.score(ctx, e)

		matched := false
		for _, r := range buckets[e.Actor] {
			delta := e.Timestamp.Sub(r.Timestamp)
			if delta < 0 || delta > c.cfg.Window {
				continue
			}
			matched = true

			if f := c.buildFinding(ctx, r, e, delta, reconScore); f != nil {
				findings = append(findings, f)
				metrics.RecordFinding(string(f.Severity))
			}
		}

		if !matched && reconScore > c.cfg.DelayedExfilThreshold {
			f := c.delayedFinding(e, reconScore)
			findings = append(findings, f)
			metrics.DelayedExfilFindings.Inc()
			metrics.RecordFinding(string(f.Severity))
			logging.Info().
				Str("actor", e.Actor).
				Str("exfil_event", e.EventName).
				Float64("recon_score", reconScore).
				Msg("delayed exfil after cumulative recon")
		}
	}

	SortFindings(findings)
	return findings
}

// buildFinding constructs one finding for a matched (recon, egress) pair, or
// nil when intent classification suppresses it.
func (c *Correlator) buildFinding(ctx context.Context, r *ReconEvent, e *EgressEvent, delta time.Duration, reconScore float64) *Finding {
	deltaMin := delta.Minutes()
	v := c.severity.Compute(e, deltaMin, reconScore)

	if _, isCanary := c.canary[e.DocID]; isCanary && e.DocID != "" {
		v.Severity = SeverityHigh
		v.Prepend(CodeCanaryDocAccess, "CANARY DOCUMENT ACCESS - ")
		metrics.CanaryHits.Inc()
	}

	f := &Finding{
		Severity:    v.Severity,
		Actor:       e.Actor,
		ExfilEvent:  e.EventName,
		ExfilTime:   c.formatTime(e.Timestamp),
		DocID:       e.DocID,
		DocTitle:    e.DocTitle,
		ReconAction: r.Action,
		ReconTime:   c.formatTime(r.Timestamp),
		DeltaMin:    round2(deltaMin),
		Visibility:  e.Visibility,
		Reason:      v.Reason(),
		EventIDs:    map[string]string{"recon": r.EventID, "exfil": e.EventID},
		ReconScore:  reconScore,
		ReasonCodes: v.Codes,
		IPAddress:   e.IPAddress,
		exfilAt:     e.Timestamp,
	}

	if c.enricher != nil && e.DocID != "" {
		c.enricher.EnrichFinding(ctx, f)
	}

	if c.classifier != nil {
		ia := c.classifier.Classify(IntentRequest{
			Actor:      e.Actor,
			ExfilEvent: e.EventName,
			DocID:      e.DocID,
			DocOwner:   e.Owner,
			Visibility: e.Visibility,
			Timestamp:  e.Timestamp,
			NewValue:   e.NewValue,
		})
		if ia.ShouldSuppress {
			metrics.FindingsSuppressed.WithLabelValues("trusted_domain").Inc()
			logging.Debug().
				Str("actor", e.Actor).
				Str("exfil_event", e.EventName).
				Msg("finding suppressed by intent classification")
			return nil
		}
		f.Intent = &ia
		if ia.Intent == "legitimate" {
			f.Severity = f.Severity.Demote()
		}
	}

	return f
}

// delayedFinding constructs the multi-stage finding for an egress event with
// no windowed recon match but a high cumulative recon score. No enrichment or
// intent pass runs: the signal here is the accumulated recon itself.
func (c *Correlator) delayedFinding(e *EgressEvent, reconScore float64) *Finding {
	return &Finding{
		Severity:    SeverityMedium,
		Actor:       e.Actor,
		ExfilEvent:  e.EventName,
		ExfilTime:   c.formatTime(e.Timestamp),
		DocID:       e.DocID,
		DocTitle:    e.DocTitle,
		ReconAction: DelayedReconAction,
		ReconTime:   DelayedReconTime,
		DeltaMin:    0.0,
		Visibility:  e.Visibility,
		Reason:      fmt.Sprintf("Delayed exfil after cumulative recon (score=%g)", reconScore),
		EventIDs:    map[string]string{"recon": "N/A", "exfil": e.EventID},
		ReconScore:  reconScore,
		IPAddress:   e.IPAddress,
		exfilAt:     e.Timestamp,
	}
}

// score returns the actor's cumulative recon score at the egress instant.
func (c *Correlator) score(ctx context.Context, e *EgressEvent) float64 {
	if c.scorer == nil {
		return 0
	}
	return c.scorer.Score(ctx, e.Actor, e.Timestamp)
}

// logBurstiness emits a debug line per actor whose recon cadence looks
// scripted. Burstiness does not change severity; it gives analysts a hint
// that the recon phase was automated.
func (c *Correlator) logBurstiness(buckets map[string][]*ReconEvent) {
	for actor, events := range buckets {
		ts := make([]time.Time, len(events))
		for i, r := range events {
			ts[i] = r.Timestamp
		}
		if score := BurstinessScore(ts); score >= BurstThreshold {
			logging.Debug().
				Str("actor", actor).
				Float64("burstiness", score).
				Int("recon_events", len(events)).
				Msg("recon cadence looks scripted")
		}
	}
}

// formatTime renders a presentation timestamp in the configured zone.
func (c *Correlator) formatTime(t time.Time) string {
	return t.In(c.cfg.Location).Format(time.RFC3339)
}

// bucketByActor groups recon events by actor.
func bucketByActor(recon []*ReconEvent) map[string][]*ReconEvent {
	buckets := make(map[string][]*ReconEvent)
	for _, r := range recon {
		buckets[r.Actor] = append(buckets[r.Actor], r)
	}
	return buckets
}

// SortFindings orders findings by severity rank (high first) then exfil time
// ascending. The sort is stable so equal keys preserve emission order.
func SortFindings(findings []*Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return findings[i].exfilAt.Before(findings[j].exfilAt)
	})
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
