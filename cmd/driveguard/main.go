// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package main is the Driveguard command-line entry point.
//
// Driveguard correlates Gemini assistant activity ("what did the AI read for
// this user?") with Drive egress activity ("what left the tenant?") from the
// Google Workspace Admin Reports API, and emits ranked findings as JSON for
// SOAR ingestion.
//
// # Exit codes
//
//	0  run completed, no high-severity findings
//	1  run completed, at least one high-severity finding
//	2  configuration or usage error
//	3  authentication or Workspace API failure
//	4  unexpected error
//
// A typical scheduled invocation:
//
//	driveguard --config /etc/driveguard/config.json --lookback-hours 24 \
//	  --output /var/lib/driveguard/findings.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/tomtom215/driveguard/internal/config"
	"github.com/tomtom215/driveguard/internal/filecontext"
	"github.com/tomtom215/driveguard/internal/gws"
	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
	"github.com/tomtom215/driveguard/internal/pipeline"
	"github.com/tomtom215/driveguard/internal/recon"
)

// Set via -ldflags at release build time.
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitOK         = 0
	exitFindings   = 1
	exitConfig     = 2
	exitAuthOrAPI  = 3
	exitUnexpected = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath    string
		lookbackHours int
		windowMinutes int
		outputPath    string
		verbose       bool
		showVersion   bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file (required)")
	flag.IntVar(&lookbackHours, "lookback-hours", 0, "override detection.lookback_hours")
	flag.IntVar(&windowMinutes, "window-minutes", 0, "override detection.window_minutes")
	flag.StringVar(&outputPath, "output", "", "write findings to file instead of stdout")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("driveguard %s (%s)\n", version, commit)
		return exitOK
	}
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "driveguard: --config is required")
		flag.Usage()
		return exitConfig
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Err(err).Msg("configuration load failed")
		return exitConfig
	}
	if lookbackHours > 0 {
		cfg.Detection.LookbackHours = lookbackHours
	}
	if windowMinutes > 0 {
		cfg.Detection.WindowMinutes = windowMinutes
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	if verbose {
		logCfg.Level = "debug"
	}
	// Findings go to stdout; logs must not interleave with them
	logCfg.Output = os.Stderr
	logging.Init(logCfg)

	metrics.AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
	logging.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("driveguard starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runDetection(ctx, cfg, outputPath)
}

func runDetection(ctx context.Context, cfg *config.Config, outputPath string) int {
	store, err := openStore(cfg)
	if err != nil {
		logging.Err(err).Msg("store configuration invalid")
		return exitConfig
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Warn().Err(err).Msg("store close failed")
		}
	}()

	tokens, err := gws.NewTokenSource(
		cfg.Google.ServiceAccountPath,
		cfg.Google.DelegatedUser,
		[]string{gws.ScopeReportsAudit, gws.ScopeDriveMetadata},
	)
	if err != nil {
		logging.Err(err).Msg("service account setup failed")
		return exitAuthOrAPI
	}

	timeout := timeoutOrDefault(cfg.Google.RequestTimeout)
	reports := gws.NewReportsClient(tokens, cfg.Google.CustomerID, cfg.Google.RatePerSecond, timeout)
	drive := gws.NewDriveClient(tokens, cfg.Google.RatePerSecond, timeout)
	enricher := filecontext.NewEnricher(drive, cfg.Severity.SensitiveLabels, internalDomain(cfg.Google.DelegatedUser))

	runner := pipeline.NewRunner(cfg, reports, store, enricher)
	result, err := runner.Run(ctx)
	if err != nil {
		var authErr *gws.AuthError
		var apiErr *gws.APIError
		switch {
		case errors.As(err, &authErr), errors.As(err, &apiErr):
			logging.Err(err).Msg("Workspace API failure")
			return exitAuthOrAPI
		default:
			logging.Err(err).Msg("detection run failed")
			return exitUnexpected
		}
	}

	if err := pipeline.WriteFindingsFile(outputPath, result.Findings); err != nil {
		logging.Err(err).Msg("writing findings failed")
		return exitUnexpected
	}

	if high := result.HighCount(); high > 0 {
		logging.Info().Int("high_findings", high).Msg("high-severity findings present")
		return exitFindings
	}
	return exitOK
}

// openStore opens the configured recon backend. A misspelled scheme is a
// config error; a reachable-but-failing backend is handled by the store
// layer's in-memory degradation, not here.
func openStore(cfg *config.Config) (recon.Store, error) {
	store, err := recon.Open(cfg.Store.URL, cfg.Store.TTL)
	if err != nil {
		var schemeErr *recon.UnknownSchemeError
		if errors.As(err, &schemeErr) {
			return nil, err
		}
		// Backend unreachable at startup: run on memory rather than skip
		// the detection pass entirely
		logging.Warn().Err(err).Str("url", cfg.Store.URL).Msg("recon store unavailable, using in-memory store")
		metrics.RecordStoreDegradation(storeBackendName(cfg.Store.URL))
		return recon.NewMemoryStore(), nil
	}
	return store, nil
}

func storeBackendName(url string) string {
	if scheme, _, found := strings.Cut(url, "://"); found {
		return scheme
	}
	return "memory"
}

// internalDomain derives the workspace's primary domain from the delegated
// admin address.
func internalDomain(delegatedUser string) string {
	if _, domain, found := strings.Cut(delegatedUser, "@"); found {
		return domain
	}
	return ""
}

// timeoutOrDefault guards against a zero request timeout from a hand-edited
// config file.
func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}
