// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package intent distinguishes routine collaboration from exfiltration-shaped
// behavior. A rule ladder adjusts a confidence score per finding; per-actor
// baselines built from the same lookback window tell familiar destinations
// and workflows apart from first-time anomalies.
package intent

import (
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/driveguard/internal/detection"
)

// Baseline is one actor's observed sharing behavior.
type Baseline struct {
	Actor         string
	ShareDomains  map[string]struct{}
	ShareCount    int
	DownloadCount int
	FirstSeen     time.Time
	LastUpdated   time.Time
}

// Baselines holds per-actor behavior profiles. Safe for concurrent use.
type Baselines struct {
	mu     sync.Mutex
	actors map[string]*Baseline
}

// NewBaselines returns an empty profile set.
func NewBaselines() *Baselines {
	return &Baselines{actors: make(map[string]*Baseline)}
}

// get returns the actor's baseline, creating it on first sight.
// Caller holds b.mu.
func (b *Baselines) get(actor string, now time.Time) *Baseline {
	bl, ok := b.actors[actor]
	if !ok {
		bl = &Baseline{
			Actor:        actor,
			ShareDomains: make(map[string]struct{}),
			FirstSeen:    now,
		}
		b.actors[actor] = bl
	}
	return bl
}

// ObserveShare records a share to a destination domain.
func (b *Baselines) ObserveShare(actor, domain string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bl := b.get(actor, now)
	if domain != "" {
		bl.ShareDomains[strings.ToLower(domain)] = struct{}{}
	}
	bl.ShareCount++
	bl.LastUpdated = now
}

// ObserveDownload records a download or export.
func (b *Baselines) ObserveDownload(actor string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bl := b.get(actor, now)
	bl.DownloadCount++
	bl.LastUpdated = now
}

// KnowsDomain reports whether the actor has previously shared with domain.
func (b *Baselines) KnowsDomain(actor, domain string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bl, ok := b.actors[actor]
	if !ok {
		return false
	}
	_, known := bl.ShareDomains[strings.ToLower(domain)]
	return known
}

// DownloadCount returns the actor's observed download count.
func (b *Baselines) DownloadCount(actor string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bl, ok := b.actors[actor]; ok {
		return bl.DownloadCount
	}
	return 0
}

// ActorCount returns the number of profiled actors.
func (b *Baselines) ActorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.actors)
}

// BuildBaselinesFromHistory seeds profiles from the run's egress events, so a
// destination an actor shared with earlier in the lookback window counts as
// familiar by the time later events are classified. Any event whose new_value
// names a destination counts, ownership transfers included, not just ACL
// changes.
func BuildBaselinesFromHistory(events []*detection.EgressEvent) *Baselines {
	b := NewBaselines()
	for _, e := range events {
		if domain := DestinationDomain(e.NewValue); domain != "" {
			b.ObserveShare(e.Actor, domain, e.Timestamp)
		}
		if isDownloadEvent(e.EventName) {
			b.ObserveDownload(e.Actor, e.Timestamp)
		}
	}
	return b
}

func isDownloadEvent(name string) bool {
	return name == "download" || name == "export"
}

// DestinationDomain extracts the domain from a share target value, the part
// after the last '@'. Values without an '@' (link visibility settings and the
// like) have no destination.
func DestinationDomain(newValue string) string {
	idx := strings.LastIndex(newValue, "@")
	if idx < 0 || idx == len(newValue)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(newValue[idx+1:]))
}
