// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package recon tracks per-actor reconnaissance activity across runs and
// scores it with exponential decay. The store is the only component whose
// state must survive process restarts: multi-stage insiders spread recon and
// egress across days, and a fresh process with no memory of last week's
// summarization spree cannot connect the two.
package recon

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

// Activity is the stored form of a recon observation. Append-only; entries
// age out with the backend TTL.
type Activity struct {
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	App       string    `json:"app"`
	Action    string    `json:"action"`
	BaseScore float64   `json:"base_score"`
	DocID     string    `json:"doc_id,omitempty"`
}

// DefaultRecentWindow is the lookback for RecentDocIDs when callers have no
// reason to use a tighter one. Multi-stage insiders typically egress within
// three days of the recon burst.
const DefaultRecentWindow = 72 * time.Hour

// Store is the per-actor recon activity log.
//
// Implementations must be safe for concurrent Record and Activities calls;
// readers observe either the pre- or post-append set, never a partial entry.
type Store interface {
	// Record appends one activity under the actor's key and refreshes the
	// key's TTL.
	Record(ctx context.Context, actor string, ts time.Time, app, action, docID string) error

	// Activities returns all retained activities for the actor, in no
	// particular order.
	Activities(ctx context.Context, actor string) ([]Activity, error)

	// RecentDocIDs returns the doc ids of activities newer than now-window.
	// now is passed in rather than read from the wall clock so callers can
	// anchor recency to the event under analysis.
	RecentDocIDs(ctx context.Context, actor string, now time.Time, window time.Duration) (map[string]struct{}, error)

	// Close releases backend resources.
	Close() error
}

// newActivity builds the stored record, stamping the action's base score at
// record time so scoring never depends on a live score table.
func newActivity(actor string, ts time.Time, app, action, docID string) Activity {
	return Activity{
		Actor:     actor,
		Timestamp: ts,
		App:       app,
		Action:    action,
		BaseScore: BaseScoreFor(action),
		DocID:     docID,
	}
}

// Open selects a store backend by URL scheme:
//
//	memory://            in-process map (default; state dies with the process)
//	redis://host:6379    shared state via Redis
//	badger:///data/path  single-node durable state via Badger
//
// Durable backends are wrapped so that any backend error degrades to an
// in-memory map for the rest of the process lifetime instead of failing the
// run.
func Open(url string, ttl time.Duration) (Store, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		s, err := NewRedisStore(url, ttl)
		if err != nil {
			return nil, err
		}
		return newFallbackStore(s, "redis"), nil
	case strings.HasPrefix(url, "badger://"):
		s, err := NewBadgerStore(strings.TrimPrefix(url, "badger://"), ttl)
		if err != nil {
			return nil, err
		}
		return newFallbackStore(s, "badger"), nil
	default:
		return nil, &UnknownSchemeError{URL: url}
	}
}

// UnknownSchemeError indicates an unsupported store URL.
type UnknownSchemeError struct {
	URL string
}

func (e *UnknownSchemeError) Error() string {
	return "recon store: unknown scheme in url " + e.URL
}

// MemoryStore is the in-process default. It does not implement TTL: a single
// run is far shorter than any retention window.
type MemoryStore struct {
	mu         sync.RWMutex
	activities map[string][]Activity
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{activities: make(map[string][]Activity)}
}

// Record appends one activity.
func (m *MemoryStore) Record(_ context.Context, actor string, ts time.Time, app, action, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities[actor] = append(m.activities[actor], newActivity(actor, ts, app, action, docID))
	metrics.RecordStoreOperation("memory", "record", nil)
	return nil
}

// Activities returns a copy of the actor's activity log.
func (m *MemoryStore) Activities(_ context.Context, actor string) ([]Activity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stored := m.activities[actor]
	out := make([]Activity, len(stored))
	copy(out, stored)
	return out, nil
}

// RecentDocIDs returns doc ids seen within the window ending at now.
func (m *MemoryStore) RecentDocIDs(_ context.Context, actor string, now time.Time, window time.Duration) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := now.Add(-window)
	out := make(map[string]struct{})
	for _, a := range m.activities[actor] {
		if a.DocID != "" && a.Timestamp.After(cutoff) {
			out[a.DocID] = struct{}{}
		}
	}
	return out, nil
}

// ActorCount returns the number of actors with recorded activity.
func (m *MemoryStore) ActorCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.activities)
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// fallbackStore wraps a durable backend and degrades to an in-memory map on
// the first backend error. Store failures must never fail a detection run;
// the cost is losing cross-run state for this process, which is the same
// state a memory-only deployment never had.
type fallbackStore struct {
	backend  Store
	name     string
	memory   *MemoryStore
	mu       sync.Mutex
	degraded bool
}

func newFallbackStore(backend Store, name string) *fallbackStore {
	return &fallbackStore{
		backend: backend,
		name:    name,
		memory:  NewMemoryStore(),
	}
}

// degrade switches all subsequent operations to the in-memory map.
func (f *fallbackStore) degrade(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.degraded {
		return
	}
	f.degraded = true
	metrics.RecordStoreDegradation(f.name)
	logging.Warn().
		Err(err).
		Str("backend", f.name).
		Str("operation", op).
		Msg("recon store backend unavailable, falling back to in-memory state")
}

func (f *fallbackStore) isDegraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

func (f *fallbackStore) Record(ctx context.Context, actor string, ts time.Time, app, action, docID string) error {
	if !f.isDegraded() {
		err := f.backend.Record(ctx, actor, ts, app, action, docID)
		metrics.RecordStoreOperation(f.name, "record", err)
		if err == nil {
			return nil
		}
		f.degrade("record", err)
	}
	return f.memory.Record(ctx, actor, ts, app, action, docID)
}

func (f *fallbackStore) Activities(ctx context.Context, actor string) ([]Activity, error) {
	if !f.isDegraded() {
		activities, err := f.backend.Activities(ctx, actor)
		metrics.RecordStoreOperation(f.name, "activities", err)
		if err == nil {
			return activities, nil
		}
		f.degrade("activities", err)
	}
	return f.memory.Activities(ctx, actor)
}

func (f *fallbackStore) RecentDocIDs(ctx context.Context, actor string, now time.Time, window time.Duration) (map[string]struct{}, error) {
	if !f.isDegraded() {
		ids, err := f.backend.RecentDocIDs(ctx, actor, now, window)
		metrics.RecordStoreOperation(f.name, "recent_docs", err)
		if err == nil {
			return ids, nil
		}
		f.degrade("recent_docs", err)
	}
	return f.memory.RecentDocIDs(ctx, actor, now, window)
}

func (f *fallbackStore) Close() error {
	return f.backend.Close()
}
