// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package detection

import (
	"fmt"
	"strings"
)

// Reason codes appended by the severity engine and correlator. Codes are
// stable identifiers for downstream tooling; the paired phrases are what
// analysts read.
const (
	CodeExternalToggleRevert   = "external_toggle_revert"
	CodeExternalShareImmediate = "external_share_immediate"
	CodeExportImmediate        = "export_immediate"
	CodeShortcutImmediate      = "shortcut_immediate"
	CodeActivityImmediate      = "activity_immediate"
	CodeSuspicious30Min        = "suspicious_30min"
	CodeActivityCorrelated     = "activity_correlated"
	CodeHighReconScore         = "high_recon_score"
	CodeElevatedReconScore     = "elevated_recon_score"
	CodeCanaryDocAccess        = "canary_doc_access"
)

// Verdict is the (severity, reason phrases, reason codes) triple that
// severity transformations compose over. Each transform appends its code and
// phrase in order; the final reason string joins the phrases with "; ".
type Verdict struct {
	Severity Severity
	Phrases  []string
	Codes    []string
}

// Append adds a reason code and its human phrase.
func (v *Verdict) Append(code, phrase string) {
	v.Codes = append(v.Codes, code)
	v.Phrases = append(v.Phrases, phrase)
}

// Prepend inserts a phrase prefix at the front of the reason string and
// appends the code. Used by the canary override, which decorates rather than
// replaces the underlying reason.
func (v *Verdict) Prepend(code, phrasePrefix string) {
	if len(v.Phrases) > 0 {
		v.Phrases[0] = phrasePrefix + v.Phrases[0]
	} else {
		v.Phrases = []string{phrasePrefix}
	}
	v.Codes = append(v.Codes, code)
}

// Reason returns the human-readable reason string.
func (v *Verdict) Reason() string {
	return strings.Join(v.Phrases, "; ")
}

// egressClass is the one-time classification of an egress event name used by
// the base-severity rules.
type egressClass struct {
	externalShare     bool
	exportDownload    bool
	ownershipTransfer bool
	shortcut          bool
	publish           bool
}

// classifyEgress inspects the event name and visibility once.
func classifyEgress(e *EgressEvent) egressClass {
	name := e.EventName
	_, highRisk := HighRiskVisibility[e.Visibility]

	return egressClass{
		externalShare: (strings.Contains(name, "change_acl") ||
			strings.Contains(name, "change_visibility") ||
			strings.Contains(name, "change_user_access")) && highRisk,
		exportDownload: strings.Contains(name, "download") ||
			strings.Contains(name, "export"),
		ownershipTransfer: strings.Contains(name, "transfer_ownership"),
		shortcut:          strings.Contains(name, "create_shortcut"),
		publish:           strings.Contains(name, "publish_to_web"),
	}
}

// SeverityEngine computes base severity for a correlated (recon, egress)
// pair. It is pure: same inputs always produce the same verdict.
type SeverityEngine struct{}

// NewSeverityEngine returns a severity engine.
func NewSeverityEngine() *SeverityEngine {
	return &SeverityEngine{}
}

// Compute returns the base verdict for an egress event observed deltaMinutes
// after recon, then applies recon-score amplification. First matching base
// rule wins.
func (se *SeverityEngine) Compute(e *EgressEvent, deltaMinutes, reconScore float64) Verdict {
	v := Verdict{}
	c := classifyEgress(e)

	switch {
	case e.IsRevert:
		v.Severity = SeverityHigh
		v.Append(CodeExternalToggleRevert, "External toggle with rapid revert (evasion pattern)")
	case deltaMinutes <= 10 && (c.externalShare || c.ownershipTransfer || c.publish):
		v.Severity = SeverityHigh
		v.Append(CodeExternalShareImmediate, "External share/transfer within 10min of recon")
	case deltaMinutes <= 10 && c.exportDownload:
		v.Severity = SeverityHigh
		v.Append(CodeExportImmediate, "Export/download within 10min of recon")
	case deltaMinutes <= 10 && c.shortcut:
		v.Severity = SeverityMedium
		v.Append(CodeShortcutImmediate, "Shortcut creation within 10min of recon")
	case deltaMinutes <= 10:
		v.Severity = SeverityMedium
		v.Append(CodeActivityImmediate, "Activity within 10min")
	case deltaMinutes <= 30 && (c.externalShare || c.exportDownload || c.ownershipTransfer):
		v.Severity = SeverityMedium
		v.Append(CodeSuspicious30Min, "Suspicious activity within 30min")
	default:
		v.Severity = SeverityLow
		v.Append(CodeActivityCorrelated, "Activity correlation detected")
	}

	se.amplify(&v, reconScore)
	return v
}

// amplify applies recon-score amplification: a high cumulative score promotes
// one step, an elevated score only annotates.
func (se *SeverityEngine) amplify(v *Verdict, reconScore float64) {
	switch {
	case reconScore >= 10.0:
		v.Append(CodeHighReconScore, fmt.Sprintf("High cumulative recon score (%g)", reconScore))
		v.Severity = v.Severity.Promote()
	case reconScore >= 5.0:
		v.Append(CodeElevatedReconScore, fmt.Sprintf("Elevated recon score (%g)", reconScore))
	}
}
