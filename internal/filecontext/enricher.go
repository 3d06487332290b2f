// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package filecontext resolves per-document sensitivity for findings.
// Metadata lookups go through a per-run cache: a burst of findings on the
// same document costs one upstream fetch.
package filecontext

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tomtom215/driveguard/internal/cache"
	"github.com/tomtom215/driveguard/internal/detection"
	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

// ErrNotFound is returned by a Source for unknown document ids.
var ErrNotFound = errors.New("file not found")

// File is the raw metadata returned by a Source.
type File struct {
	Name         string
	Owners       []string
	Labels       []string
	Permissions  []Permission
	ModifiedTime string
}

// Permission is one access grant on a file.
type Permission struct {
	Type         string // "user", "group", "domain", "anyone"
	EmailAddress string
}

// Source fetches file metadata. Implemented by gws.DriveClient.
type Source interface {
	Get(ctx context.Context, docID string) (*File, error)
}

// Owner local-parts that mark a file high-sensitivity regardless of labels.
var sensitiveOwnerParts = []string{"exec", "ceo", "cfo", "finance"}

// Label keywords that mark a file medium-sensitivity.
var mediumLabelKeywords = []string{"confidential", "restricted", "internal", "sensitive", "private"}

// cacheCapacity bounds the per-run metadata cache. A lookback window rarely
// touches more than a few thousand distinct documents.
const cacheCapacity = 10000

// Enricher resolves and caches file sensitivity context.
type Enricher struct {
	source Source

	// cache maps doc id to resolved context; nil means the lookup failed
	// and should not be retried this run.
	cache *cache.LRU[*detection.FileContext]

	// configured matches admin-configured sensitive labels; builtin matches
	// the generic medium-sensitivity keywords.
	configured *cache.PatternMatcher
	builtin    *cache.PatternMatcher

	internalDomain string
}

// NewEnricher creates an enricher. sensitiveLabels come from config;
// internalDomain (the workspace's primary domain) is used to judge whether an
// existing permission is external.
func NewEnricher(source Source, sensitiveLabels []string, internalDomain string) *Enricher {
	return &Enricher{
		source:         source,
		cache:          cache.NewLRU[*detection.FileContext](cacheCapacity, 0),
		configured:     cache.NewPatternMatcherFromSlice(sensitiveLabels, nil),
		builtin:        cache.NewPatternMatcherFromSlice(mediumLabelKeywords, nil),
		internalDomain: strings.ToLower(internalDomain),
	}
}

// Lookup returns the context for a document, or nil when metadata is
// unavailable. Unavailability is not an error: a 404 (deleted or
// out-of-scope file) logs a warning, anything else logs an error, and the
// pipeline continues without enrichment either way.
func (e *Enricher) Lookup(ctx context.Context, docID string) *detection.FileContext {
	if docID == "" {
		return nil
	}

	if cached, ok := e.cache.Get(docID); ok {
		metrics.CacheHits.WithLabelValues("file_metadata").Inc()
		return cached
	}
	metrics.CacheMisses.WithLabelValues("file_metadata").Inc()

	file, err := e.source.Get(ctx, docID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logging.Warn().Str("doc_id", docID).Msg("file metadata not found, skipping enrichment")
		} else {
			logging.Err(err).Str("doc_id", docID).Msg("file metadata fetch failed, skipping enrichment")
		}
		e.cache.Add(docID, nil)
		return nil
	}

	fc := e.build(docID, file)
	e.cache.Add(docID, fc)
	return fc
}

// build derives the context block from raw metadata.
func (e *Enricher) build(docID string, file *File) *detection.FileContext {
	owner := ""
	if len(file.Owners) > 0 {
		owner = file.Owners[0]
	}

	return &detection.FileContext{
		DocID:                  docID,
		Title:                  file.Name,
		Owner:                  owner,
		Labels:                 file.Labels,
		Sensitivity:            e.sensitivity(owner, file.Labels),
		LastAccessed:           file.ModifiedTime,
		SharedExternallyBefore: e.sharedExternally(owner, file.Permissions),
	}
}

// sensitivity applies the classification ladder; first match wins.
func (e *Enricher) sensitivity(owner string, labels []string) string {
	for _, label := range labels {
		if e.configured.Contains(label) {
			return "high"
		}
	}

	if local, _, found := strings.Cut(owner, "@"); found || owner != "" {
		local = strings.ToLower(local)
		for _, part := range sensitiveOwnerParts {
			if strings.Contains(local, part) {
				return "high"
			}
		}
	}

	for _, label := range labels {
		if e.builtin.Contains(label) {
			return "medium"
		}
	}

	return "low"
}

// sharedExternally reports whether any existing permission already grants
// non-internal access.
func (e *Enricher) sharedExternally(owner string, permissions []Permission) bool {
	internal := e.internalDomain
	if internal == "" {
		// Fall back to the owner's domain
		if _, domain, found := strings.Cut(owner, "@"); found {
			internal = strings.ToLower(domain)
		}
	}

	for _, p := range permissions {
		if p.Type == "anyone" {
			return true
		}
		if p.EmailAddress == "" || internal == "" {
			continue
		}
		if _, domain, found := strings.Cut(p.EmailAddress, "@"); found {
			if !strings.EqualFold(domain, internal) {
				return true
			}
		}
	}
	return false
}

// reconAccessWindow is how far before an egress a file's last metadata
// access still counts as part of the recon burst.
const reconAccessWindow = 30 * time.Minute

// FileInReconWindow reports whether the egressed file was plausibly part of
// the actor's recent reconnaissance: either its doc id appears in the
// actor's recent recon set, or its metadata shows access within the window
// before the egress.
func (e *Enricher) FileInReconWindow(ctx context.Context, docID string, recent map[string]struct{}, exfilAt time.Time) bool {
	if docID == "" {
		return false
	}
	if _, ok := recent[docID]; ok {
		return true
	}

	fc := e.Lookup(ctx, docID)
	if fc == nil || fc.LastAccessed == "" {
		return false
	}
	accessed, err := time.Parse(time.RFC3339, fc.LastAccessed)
	if err != nil {
		return false
	}
	delta := exfilAt.Sub(accessed)
	return delta >= 0 && delta <= reconAccessWindow
}

// EnrichFinding attaches file context to a draft finding and promotes its
// severity one step when the file is high-sensitivity.
func (e *Enricher) EnrichFinding(ctx context.Context, f *detection.Finding) {
	fc := e.Lookup(ctx, f.DocID)
	if fc == nil {
		return
	}

	f.FileContext = fc
	if f.DocTitle == "" {
		f.DocTitle = fc.Title
	}
	if fc.Sensitivity == "high" {
		f.Severity = f.Severity.Promote()
		f.Reason += " (high-sensitivity file)"
	}
}
