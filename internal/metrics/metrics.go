// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Admin SDK fetch performance (Reports API, Drive API)
// - Event ingestion (parsed / skipped records)
// - Correlation engine throughput and findings
// - Recon-state store health
// - Cache efficiency

var (
	// Admin SDK Fetch Metrics
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gws_fetch_duration_seconds",
			Help:    "Duration of Admin SDK activity fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}, // Paginated fetches can take a while
		},
		[]string{"application"}, // "drive", "gemini_in_workspace_apps"
	)

	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gws_fetch_errors_total",
			Help: "Total number of Admin SDK fetch errors",
		},
		[]string{"application", "error_type"}, // error_type: "auth", "api", "network"
	)

	FetchPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gws_fetch_pages_total",
			Help: "Total number of result pages fetched from the Reports API",
		},
		[]string{"application"},
	)

	// Ingestion Metrics
	EventsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_parsed_total",
			Help: "Total number of audit events parsed into typed events",
		},
		[]string{"stream"}, // "recon", "egress"
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_events_skipped_total",
			Help: "Total number of audit records skipped during parsing",
		},
		[]string{"stream", "reason"}, // reason: "malformed", "missing_actor", "missing_time", "not_recon", "not_egress"
	)

	// Correlation Metrics
	CorrelationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "correlation_duration_seconds",
			Help:    "Duration of a full correlation pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findings_total",
			Help: "Total number of findings produced",
		},
		[]string{"severity"}, // "high", "medium", "low"
	)

	FindingsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findings_suppressed_total",
			Help: "Total number of draft findings suppressed by intent classification",
		},
		[]string{"reason"}, // "trusted_domain"
	)

	DelayedExfilFindings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "findings_delayed_exfil_total",
			Help: "Total number of delayed-exfiltration findings (egress without windowed recon match)",
		},
	)

	CanaryHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "findings_canary_hits_total",
			Help: "Total number of findings that touched a canary document",
		},
	)

	// Recon Store Metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_store_operations_total",
			Help: "Total number of recon store operations",
		},
		[]string{"backend", "operation", "result"}, // backend: "memory", "redis", "badger"; result: "success", "failure"
	)

	StoreDegradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recon_store_degradations_total",
			Help: "Total number of times a durable store fell back to in-memory state",
		},
		[]string{"backend"},
	)

	ReconActorsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recon_actors_tracked",
			Help: "Current number of actors with recorded recon activity",
		},
	)

	// Cache Metrics (General)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"}, // "file_metadata", "intent_baseline"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	// Run Metrics
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "run_duration_seconds",
			Help:    "End-to-end duration of a detection run in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	RunLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "run_last_success_timestamp",
			Help: "Unix timestamp of the last successful detection run",
		},
	)

	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordFetch records an Admin SDK fetch metric.
func RecordFetch(application string, duration time.Duration, pages int, err error) {
	FetchDuration.WithLabelValues(application).Observe(duration.Seconds())
	FetchPages.WithLabelValues(application).Add(float64(pages))
	if err != nil {
		errorType := "api"
		errorMsg := err.Error()
		switch {
		case strings.Contains(errorMsg, "auth"), strings.Contains(errorMsg, "token"):
			errorType = "auth"
		case strings.Contains(errorMsg, "dial"), strings.Contains(errorMsg, "connection"):
			errorType = "network"
		}
		FetchErrors.WithLabelValues(application, errorType).Inc()
	}
}

// RecordEventParsed records a successfully parsed audit event.
func RecordEventParsed(stream string) {
	EventsParsed.WithLabelValues(stream).Inc()
}

// RecordEventSkipped records an audit record skipped during parsing.
func RecordEventSkipped(stream, reason string) {
	EventsSkipped.WithLabelValues(stream, reason).Inc()
}

// RecordFinding records a produced finding by severity.
func RecordFinding(severity string) {
	FindingsTotal.WithLabelValues(severity).Inc()
}

// RecordCorrelation records a completed correlation pass.
func RecordCorrelation(duration time.Duration) {
	CorrelationDuration.Observe(duration.Seconds())
}

// RecordStoreOperation records a recon store operation and its outcome.
func RecordStoreOperation(backend, operation string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	StoreOperations.WithLabelValues(backend, operation, result).Inc()
}

// RecordStoreDegradation records a durable store falling back to memory.
func RecordStoreDegradation(backend string) {
	StoreDegradations.WithLabelValues(backend).Inc()
}

// RecordRun records an end-to-end detection run.
func RecordRun(duration time.Duration, err error) {
	RunDuration.Observe(duration.Seconds())
	if err == nil {
		RunLastSuccess.Set(float64(time.Now().Unix()))
	}
}
