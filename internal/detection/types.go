// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package detection

import (
	"context"
	"time"
)

// Severity indicates the severity level of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank returns the sort rank of a severity: high sorts before medium before
// low; anything unrecognized sorts last.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	default:
		return 3
	}
}

// Promote raises severity one step. High stays high.
func (s Severity) Promote() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return s
	}
}

// Demote lowers severity one step. Low stays low.
func (s Severity) Demote() Severity {
	switch s {
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityLow
	default:
		return s
	}
}

// ReconActions are the assistant interaction types treated as reconnaissance.
// Keys are Workspace audit event names from the Gemini activity stream.
var ReconActions = map[string]struct{}{
	"ask_about_this_file":        {},
	"summarize_file":             {},
	"summarize_long":             {},
	"summarize_proactive_short":  {},
	"ask_about_context":          {},
	"summarize":                  {},
	"catch_me_up":                {},
	"ask_about_unspecified_file": {},
	"summarize_unspecified_file": {},
	"analyze_documents":          {},
	"report_unspecified_files":   {},
}

// ReconApps are the host applications whose assistant events count as recon.
var ReconApps = map[string]struct{}{
	"docs":   {},
	"drive":  {},
	"sheets": {},
	"slides": {},
}

// EgressEventPatterns are substrings matched against Drive audit event names
// to classify an event as potential egress. Substring match is deliberate:
// Drive emits variants like "download_unsampled" and
// "shared_drive_settings_change_visibility".
var EgressEventPatterns = []string{
	"download",
	"export",
	"copy",
	"add_to_folder",
	"change_acl",
	"change_visibility",
	"change_user_access",
	"deny_access_request",
	"request_access",
	"create_shortcut",
	"move",
	"publish_to_web",
	"transfer_ownership",
	"untrash",
}

// HighRiskVisibility are visibility values indicating non-internal access.
var HighRiskVisibility = map[string]struct{}{
	"people_with_link":  {},
	"public_on_the_web": {},
	"shared_externally": {},
}

// ReconEvent is an immutable record of an assistant interaction.
type ReconEvent struct {
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	App       string    `json:"app"`
	Action    string    `json:"action"`
	EventID   string    `json:"event_id"`
	DocID     string    `json:"doc_id,omitempty"`
}

// EgressEvent is a record of a Drive action potentially indicating egress.
// All fields are set by ingest except IsRevert, which is set exactly once by
// the RevertDetector before correlation.
type EgressEvent struct {
	Actor               string    `json:"actor"`
	Timestamp           time.Time `json:"timestamp"`
	EventName           string    `json:"event_name"`
	DocID               string    `json:"doc_id,omitempty"`
	DocTitle            string    `json:"doc_title,omitempty"`
	Visibility          string    `json:"visibility,omitempty"`
	OldVisibility       string    `json:"old_visibility,omitempty"`
	NewValue            string    `json:"new_value,omitempty"`
	OldValue            string    `json:"old_value,omitempty"`
	Owner               string    `json:"owner,omitempty"`
	DestinationFolderID string    `json:"destination_folder_id,omitempty"`
	EventID             string    `json:"event_id"`
	IPAddress           string    `json:"ip_address,omitempty"`
	IsRevert            bool      `json:"is_revert"`
}

// FileContext is the per-document sensitivity block embedded in a finding.
type FileContext struct {
	DocID                  string   `json:"doc_id"`
	Title                  string   `json:"title,omitempty"`
	Owner                  string   `json:"owner,omitempty"`
	Labels                 []string `json:"labels,omitempty"`
	Sensitivity            string   `json:"sensitivity"`
	LastAccessed           string   `json:"last_accessed,omitempty"`
	SharedExternallyBefore bool     `json:"shared_externally_before"`
}

// IntentAnalysis is the output of intent classification, embedded in a
// finding. Reasons are human phrases; ReasonCodes are stable identifiers.
type IntentAnalysis struct {
	Intent         string   `json:"intent"` // "malicious", "suspicious", "legitimate"
	Confidence     float64  `json:"confidence"`
	Reasons        []string `json:"reasons"`
	ReasonCodes    []string `json:"reason_codes"`
	ShouldSuppress bool     `json:"should_suppress"`
}

// Finding is the emitted unit of detection.
type Finding struct {
	Severity    Severity          `json:"severity"`
	Actor       string            `json:"actor"`
	ExfilEvent  string            `json:"exfil_event"`
	ExfilTime   string            `json:"exfil_time"`
	DocID       string            `json:"doc_id,omitempty"`
	DocTitle    string            `json:"doc_title,omitempty"`
	ReconAction string            `json:"recon_action"`
	ReconTime   string            `json:"recon_time"`
	DeltaMin    float64           `json:"delta_minutes"`
	Visibility  string            `json:"visibility,omitempty"`
	Reason      string            `json:"reason"`
	EventIDs    map[string]string `json:"event_ids"`
	ReconScore  float64           `json:"recon_score"`
	FileContext *FileContext      `json:"file_context,omitempty"`
	Intent      *IntentAnalysis   `json:"intent_analysis,omitempty"`
	ReasonCodes []string          `json:"reason_codes"`
	IPAddress   string            `json:"ip_address,omitempty"`
	GeoAnomaly  *bool             `json:"geo_anomaly,omitempty"`

	// exfilAt is the parsed exfil instant kept for sorting; not serialized.
	exfilAt time.Time
}

// DelayedReconAction is the recon_action value for findings driven by
// cumulative recon rather than a single windowed match.
const DelayedReconAction = "cumulative_recon"

// DelayedReconTime is the recon_time placeholder for delayed-exfil findings.
const DelayedReconTime = "N/A (multi-stage)"

// Scorer computes an actor's cumulative recon score at a point in time.
// Implemented by recon.Scorer over a recon.Store.
type Scorer interface {
	Score(ctx context.Context, actor string, now time.Time) float64
}

// FileEnricher attaches file sensitivity context to a draft finding and may
// promote its severity. Implemented by filecontext.Enricher.
type FileEnricher interface {
	EnrichFinding(ctx context.Context, f *Finding)
}

// IntentRequest carries the inputs to intent classification.
type IntentRequest struct {
	Actor      string
	ExfilEvent string
	DocID      string
	DocOwner   string
	Visibility string
	Timestamp  time.Time
	NewValue   string
}

// IntentClassifier produces an intent verdict for a potential-egress action.
// Implemented by intent.Classifier.
type IntentClassifier interface {
	Classify(req IntentRequest) IntentAnalysis
}
