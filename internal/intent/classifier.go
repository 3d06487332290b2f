// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package intent

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomtom215/driveguard/internal/detection"
)

// Stable reason codes attached alongside the human-readable phrases.
const (
	CodeDestTrusted        = "dest_trusted"
	CodeDestPartner        = "dest_partner"
	CodeDestUnknown        = "dest_unknown"
	CodeOwnedFile          = "owned_file"
	CodeOthersFile         = "others_file"
	CodeFamiliarDest       = "familiar_destination"
	CodeFirstTimeDest      = "first_time_destination"
	CodeOffHours           = "off_hours"
	CodeFrequentDownloader = "frequent_downloader"
)

// baselineDownloadFloor is the download count above which an actor is treated
// as a habitual downloader.
const baselineDownloadFloor = 10

// Intent verdict thresholds on the final confidence score.
const (
	maliciousThreshold  = 0.7
	suspiciousThreshold = 0.4
)

// Classifier scores the intent behind an egress action. Rules fire in a
// fixed order, each nudging a confidence score that starts at 0.5; the final
// score maps to a malicious / suspicious / legitimate verdict.
type Classifier struct {
	trusted   map[string]struct{}
	partners  map[string]struct{}
	baselines *Baselines
	loc       *time.Location
}

// NewClassifier builds a classifier from the allow-lists and the per-actor
// baselines. loc is the timezone used for off-hours checks; nil means UTC.
func NewClassifier(trustedDomains, partnerDomains []string, baselines *Baselines, loc *time.Location) *Classifier {
	if baselines == nil {
		baselines = NewBaselines()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Classifier{
		trusted:   domainSet(trustedDomains),
		partners:  domainSet(partnerDomains),
		baselines: baselines,
		loc:       loc,
	}
}

func domainSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			set[d] = struct{}{}
		}
	}
	return set
}

// Classify evaluates one potential-egress action. It also folds the action
// into the actor's baseline, so repeated shares to the same destination
// within a run stop looking first-time.
func (c *Classifier) Classify(req detection.IntentRequest) detection.IntentAnalysis {
	confidence := 0.5
	var reasons []string
	var codes []string
	suppress := false

	add := func(delta float64, phrase, code string) {
		confidence += delta
		reasons = append(reasons, phrase)
		codes = append(codes, code)
	}

	destination := DestinationDomain(req.NewValue)

	if destination != "" {
		switch {
		case c.isTrusted(destination):
			add(-0.4, fmt.Sprintf("Destination domain %s is trusted", destination), CodeDestTrusted)
			suppress = true
		case c.isPartner(destination):
			add(-0.2, fmt.Sprintf("Destination domain %s is a known partner", destination), CodeDestPartner)
		default:
			add(0.3, fmt.Sprintf("Destination domain %s is unknown/untrusted", destination), CodeDestUnknown)
		}
	}

	if req.DocOwner != "" {
		if strings.EqualFold(req.DocOwner, req.Actor) {
			add(-0.1, "User is sharing their own file", CodeOwnedFile)
		} else {
			add(0.3, "User is sharing someone else's file", CodeOthersFile)
		}
	}

	if destination != "" {
		if c.baselines.KnowsDomain(req.Actor, destination) {
			add(-0.2, fmt.Sprintf("User has historically shared with %s", destination), CodeFamiliarDest)
		} else {
			add(0.2, fmt.Sprintf("First-time share with %s", destination), CodeFirstTimeDest)
		}
	}

	if c.offHours(req.Timestamp) {
		add(0.2, "Activity occurred during off-hours", CodeOffHours)
	}

	if isDownloadEvent(req.ExfilEvent) && c.baselines.DownloadCount(req.Actor) > baselineDownloadFloor {
		add(-0.15, "User frequently downloads files (likely legitimate workflow)", CodeFrequentDownloader)
	}

	c.updateBaseline(req, destination)

	confidence = round2(clamp01(confidence))
	return detection.IntentAnalysis{
		Intent:         verdict(confidence),
		Confidence:     confidence,
		Reasons:        reasons,
		ReasonCodes:    codes,
		ShouldSuppress: suppress,
	}
}

func (c *Classifier) isTrusted(domain string) bool {
	_, ok := c.trusted[domain]
	return ok
}

func (c *Classifier) isPartner(domain string) bool {
	_, ok := c.partners[domain]
	return ok
}

// offHours reports whether t falls outside 06:00-20:00 on a weekday, in the
// configured timezone.
func (c *Classifier) offHours(t time.Time) bool {
	local := t.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	hour := local.Hour()
	return hour < 6 || hour > 20
}

func (c *Classifier) updateBaseline(req detection.IntentRequest, destination string) {
	if destination != "" {
		c.baselines.ObserveShare(req.Actor, destination, req.Timestamp)
	}
	if isDownloadEvent(req.ExfilEvent) {
		c.baselines.ObserveDownload(req.Actor, req.Timestamp)
	}
}

func verdict(confidence float64) string {
	switch {
	case confidence >= maliciousThreshold:
		return "malicious"
	case confidence >= suspiciousThreshold:
		return "suspicious"
	default:
		return "legitimate"
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
