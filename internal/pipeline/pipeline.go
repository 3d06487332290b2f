// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package pipeline orchestrates one detection run: fetch both activity
// streams, persist recon state, correlate, and emit findings.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/driveguard/internal/config"
	"github.com/tomtom215/driveguard/internal/detection"
	"github.com/tomtom215/driveguard/internal/gws"
	"github.com/tomtom215/driveguard/internal/intent"
	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
	"github.com/tomtom215/driveguard/internal/recon"
)

// ActivityFetcher pages one application's activity feed, optionally narrowed
// to one event name. Satisfied by gws.ReportsClient; tests substitute a stub.
type ActivityFetcher interface {
	FetchActivities(ctx context.Context, application, eventName string, startTime time.Time) ([]gws.Activity, error)
}

// Runner executes detection runs.
type Runner struct {
	cfg      *config.Config
	fetcher  ActivityFetcher
	store    recon.Store
	enricher detection.FileEnricher
	loc      *time.Location
}

// NewRunner wires a runner. enricher may be nil when no Drive metadata
// source is available; findings then go out without file context.
func NewRunner(cfg *config.Config, fetcher ActivityFetcher, store recon.Store, enricher detection.FileEnricher) *Runner {
	return &Runner{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		enricher: enricher,
		loc:      cfg.Location(),
	}
}

// Result summarizes one completed run.
type Result struct {
	RunID       string
	Findings    []*detection.Finding
	ReconEvents int
	EgressCount int
	Elapsed     time.Duration
}

// HighCount returns the number of high-severity findings, which drives the
// CLI exit code.
func (r *Result) HighCount() int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == detection.SeverityHigh {
			n++
		}
	}
	return n
}

// fetchResult carries one stream's activities out of its goroutine.
type fetchResult struct {
	application string
	activities  []gws.Activity
	err         error
}

// Run performs one full detection pass over the lookback window.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	started := time.Now()
	runID := uuid.NewString()
	log := logging.With().Str("run_id", runID).Logger()

	var runErr error
	defer func() {
		metrics.RecordRun(time.Since(started), runErr)
	}()

	startTime := started.Add(-time.Duration(r.cfg.Detection.LookbackHours) * time.Hour)
	log.Info().
		Time("start_time", startTime).
		Int("lookback_hours", r.cfg.Detection.LookbackHours).
		Msg("detection run starting")

	geminiActs, driveActs, err := r.fetchStreams(ctx, startTime)
	if err != nil {
		runErr = err
		return nil, err
	}

	reconEvents := gws.ParseReconEvents(geminiActs)
	egressEvents := gws.ParseEgressEvents(driveActs)
	log.Info().
		Int("recon_events", len(reconEvents)).
		Int("egress_events", len(egressEvents)).
		Msg("activity streams parsed")

	r.recordRecon(ctx, reconEvents)

	detection.NewRevertDetector().Mark(egressEvents)

	baselines := intent.BuildBaselinesFromHistory(egressEvents)
	classifier := intent.NewClassifier(
		r.cfg.Suppress.AllowedExternalDomains,
		r.cfg.Suppress.PartnerDomains,
		baselines,
		r.loc,
	)

	correlator := detection.NewCorrelator(detection.CorrelatorConfig{
		Window:                time.Duration(r.cfg.Detection.WindowMinutes) * time.Minute,
		DelayedExfilThreshold: r.cfg.Detection.DelayedExfilThreshold,
		CanaryDocIDs:          r.cfg.Canary.DocIDs,
		Location:              r.loc,
	}, recon.NewScorer(r.store, 0), r.enricher, classifier)

	findings := correlator.Correlate(ctx, reconEvents, egressEvents)
	detection.SortFindings(findings)
	r.annotateDelayed(ctx, findings)

	result := &Result{
		RunID:       runID,
		Findings:    findings,
		ReconEvents: len(reconEvents),
		EgressCount: len(egressEvents),
		Elapsed:     time.Since(started),
	}
	log.Info().
		Int("findings", len(findings)).
		Int("high", result.HighCount()).
		Dur("elapsed", result.Elapsed).
		Msg("detection run complete")
	return result, nil
}

// fetchStreams pulls the Gemini and Drive feeds concurrently. Both streams
// must succeed: correlation over a partial window would silently under-report.
func (r *Runner) fetchStreams(ctx context.Context, startTime time.Time) (gemini, drive []gws.Activity, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The Gemini feed is filtered server-side to assistant-usage events;
	// the Drive feed takes everything and classifies at ingest.
	streams := map[string]string{
		gws.AppGemini: gws.EventFeatureUtilization,
		gws.AppDrive:  "",
	}
	results := make(chan fetchResult, 2)
	for app, eventName := range streams {
		go func(app, eventName string) {
			acts, err := r.fetcher.FetchActivities(ctx, app, eventName, startTime)
			results <- fetchResult{application: app, activities: acts, err: err}
		}(app, eventName)
	}

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			cancel()
			if err == nil {
				err = fmt.Errorf("fetch %s activities: %w", res.application, res.err)
			}
			continue
		}
		switch res.application {
		case gws.AppGemini:
			gemini = res.activities
		case gws.AppDrive:
			drive = res.activities
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return gemini, drive, nil
}

// recordRecon persists the run's recon events. Store failures degrade inside
// the store layer; nothing here can fail the run.
func (r *Runner) recordRecon(ctx context.Context, events []*detection.ReconEvent) {
	actors := make(map[string]struct{})
	for _, e := range events {
		actors[e.Actor] = struct{}{}
		if err := r.store.Record(ctx, e.Actor, e.Timestamp, e.App, e.Action, e.DocID); err != nil {
			logging.Warn().Err(err).Str("actor", e.Actor).Msg("recon record failed")
		}
	}
	metrics.ReconActorsTracked.Set(float64(len(actors)))
}

// reconWindowChecker is the optional enricher capability behind the
// delayed-exfil annotation; satisfied by filecontext.Enricher.
type reconWindowChecker interface {
	FileInReconWindow(ctx context.Context, docID string, recent map[string]struct{}, exfilAt time.Time) bool
}

// annotateDelayed logs, for each delayed-exfil finding, whether the egressed
// file itself was part of the actor's recent recon. The finding stands either
// way; the signal guides triage.
func (r *Runner) annotateDelayed(ctx context.Context, findings []*detection.Finding) {
	checker, ok := r.enricher.(reconWindowChecker)
	if !ok {
		return
	}

	for _, f := range findings {
		if f.ReconAction != detection.DelayedReconAction || f.DocID == "" {
			continue
		}
		exfilAt, err := time.Parse(time.RFC3339, f.ExfilTime)
		if err != nil {
			continue
		}
		recent, err := r.store.RecentDocIDs(ctx, f.Actor, exfilAt, recon.DefaultRecentWindow)
		if err != nil {
			continue
		}
		if checker.FileInReconWindow(ctx, f.DocID, recent, exfilAt) {
			logging.Info().
				Str("actor", f.Actor).
				Str("doc_id", f.DocID).
				Msg("delayed exfil touched a recently reconned file")
		}
	}
}

// WriteFindings serializes findings as an indented JSON array. An empty run
// still writes a valid empty array so downstream SOAR parsers never see EOF.
func WriteFindings(w io.Writer, findings []*detection.Finding) error {
	if findings == nil {
		findings = []*detection.Finding{}
	}
	out, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	out = append(out, '\n')
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("write findings: %w", err)
	}
	return nil
}

// WriteFindingsFile writes findings to path, or stdout when path is empty.
func WriteFindingsFile(path string, findings []*detection.Finding) error {
	if path == "" {
		return WriteFindings(os.Stdout, findings)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := WriteFindings(f, findings); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
