// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package recon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestMemoryStoreRecordAndActivities(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	if err := store.Record(ctx, "a@corp.example", now, "docs", "summarize_file", "D1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, "a@corp.example", now.Add(time.Minute), "drive", "catch_me_up", ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	activities, err := store.Activities(ctx, "a@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("len(activities) = %d, want 2", len(activities))
	}
	if activities[0].BaseScore != 3.0 {
		t.Errorf("summarize_file base score = %g, want 3.0", activities[0].BaseScore)
	}
	if activities[1].BaseScore != 5.0 {
		t.Errorf("catch_me_up base score = %g, want 5.0", activities[1].BaseScore)
	}
	if activities[0].DocID != "D1" {
		t.Errorf("DocID = %q", activities[0].DocID)
	}
}

func TestMemoryStoreActorsIsolated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Record(ctx, "a@corp.example", now, "docs", "summarize", "")
	_ = store.Record(ctx, "b@corp.example", now, "docs", "summarize", "")

	got, _ := store.Activities(ctx, "a@corp.example")
	if len(got) != 1 {
		t.Errorf("actor a has %d activities, want 1", len(got))
	}
	if store.ActorCount() != 2 {
		t.Errorf("ActorCount = %d, want 2", store.ActorCount())
	}
}

func TestMemoryStoreRecentDocIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	// Fixed instant: recency anchors to the passed time, not the wall clock
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	_ = store.Record(ctx, "a@corp.example", now.Add(-time.Hour), "docs", "summarize_file", "recent-doc")
	_ = store.Record(ctx, "a@corp.example", now.Add(-48*time.Hour), "docs", "summarize_file", "old-doc")
	_ = store.Record(ctx, "a@corp.example", now.Add(-time.Minute), "drive", "catch_me_up", "")

	ids, err := store.RecentDocIDs(ctx, "a@corp.example", now, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentDocIDs: %v", err)
	}
	if _, ok := ids["recent-doc"]; !ok {
		t.Error("recent-doc should be present")
	}
	if _, ok := ids["old-doc"]; ok {
		t.Error("old-doc is outside the window")
	}
	if len(ids) != 1 {
		t.Errorf("len(ids) = %d, want 1", len(ids))
	}

	// The same log queried a day later has aged out entirely
	ids, err = store.RecentDocIDs(ctx, "a@corp.example", now.Add(25*time.Hour), 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentDocIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("len(ids) = %d, want 0 at a later anchor", len(ids))
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = store.Record(ctx, "a@corp.example", time.Now(), "docs", "summarize", "")
				_, _ = store.Activities(ctx, "a@corp.example")
			}
		}()
	}
	wg.Wait()

	activities, _ := store.Activities(ctx, "a@corp.example")
	if len(activities) != 800 {
		t.Errorf("len(activities) = %d, want 800", len(activities))
	}
}

func TestOpenMemoryScheme(t *testing.T) {
	for _, url := range []string{"", "memory://"} {
		store, err := Open(url, 0)
		if err != nil {
			t.Fatalf("Open(%q): %v", url, err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Errorf("Open(%q) = %T, want *MemoryStore", url, store)
		}
		_ = store.Close()
	}
}

func TestOpenUnknownScheme(t *testing.T) {
	_, err := Open("postgres://localhost/db", 0)
	if err == nil {
		t.Fatal("Open should reject unknown schemes")
	}
	var schemeErr *UnknownSchemeError
	if !errors.As(err, &schemeErr) {
		t.Errorf("err = %v, want *UnknownSchemeError", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	if err := store.Record(ctx, "a@corp.example", now, "docs", "analyze_documents", "D1"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, "a@corp.example", now.Add(time.Minute), "drive", "summarize", ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	activities, err := store.Activities(ctx, "a@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(activities) != 2 {
		t.Fatalf("len(activities) = %d, want 2", len(activities))
	}
	if activities[0].Action != "analyze_documents" || activities[0].BaseScore != 4.0 {
		t.Errorf("activities[0] = %+v", activities[0])
	}

	// TTL refreshed on append
	if mr.TTL("driveguard:recon:a@corp.example") <= 0 {
		t.Error("key should carry a TTL")
	}
}

func TestRedisStoreSkipsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	_ = store.Record(ctx, "a@corp.example", time.Now(), "docs", "summarize", "")
	mr.Lpush("driveguard:recon:a@corp.example", "not json")

	activities, err := store.Activities(ctx, "a@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(activities) != 1 {
		t.Errorf("len(activities) = %d, want 1 (corrupt entry skipped)", len(activities))
	}
}

func TestRedisStoreRecentDocIDs(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore("redis://"+mr.Addr(), 0)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	_ = store.Record(ctx, "a@corp.example", now.Add(-time.Hour), "docs", "summarize_file", "fresh")
	_ = store.Record(ctx, "a@corp.example", now.Add(-72*time.Hour), "docs", "summarize_file", "stale")

	ids, err := store.RecentDocIDs(ctx, "a@corp.example", now, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentDocIDs: %v", err)
	}
	if _, ok := ids["fresh"]; !ok {
		t.Error("fresh doc should be present")
	}
	if _, ok := ids["stale"]; ok {
		t.Error("stale doc should have aged out of the window")
	}
}

func TestOpenRedisBadAddress(t *testing.T) {
	// Unreachable port: Open must fail eagerly, not at first Record
	if _, err := Open("redis://127.0.0.1:1", 0); err == nil {
		t.Error("Open should fail for an unreachable Redis")
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.Record(ctx, "a@corp.example", now.Add(time.Duration(i)*time.Minute), "docs", "summarize", "D1"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	// Same instant twice: keys must not collide
	if err := store.Record(ctx, "a@corp.example", now, "docs", "summarize", "D2"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	activities, err := store.Activities(ctx, "a@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(activities) != 4 {
		t.Errorf("len(activities) = %d, want 4", len(activities))
	}

	other, err := store.Activities(ctx, "b@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("unrelated actor has %d activities", len(other))
	}
}

func TestBadgerStoreRecentDocIDs(t *testing.T) {
	store, err := NewBadgerStore(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewBadgerStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	_ = store.Record(ctx, "a@corp.example", now.Add(-time.Hour), "docs", "summarize_file", "fresh")
	_ = store.Record(ctx, "a@corp.example", now.Add(-72*time.Hour), "docs", "summarize_file", "stale")

	ids, err := store.RecentDocIDs(ctx, "a@corp.example", now, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentDocIDs: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("ids = %v, want only the fresh doc", ids)
	}
}

// failingStore errors on everything; used to exercise degradation.
type failingStore struct{}

func (f *failingStore) Record(context.Context, string, time.Time, string, string, string) error {
	return errors.New("backend down")
}

func (f *failingStore) Activities(context.Context, string) ([]Activity, error) {
	return nil, errors.New("backend down")
}

func (f *failingStore) RecentDocIDs(context.Context, string, time.Time, time.Duration) (map[string]struct{}, error) {
	return nil, errors.New("backend down")
}

func (f *failingStore) Close() error { return nil }

func TestFallbackStoreDegradesToMemory(t *testing.T) {
	fb := newFallbackStore(&failingStore{}, "redis")
	ctx := context.Background()
	now := time.Now()

	// Record must not surface the backend error
	if err := fb.Record(ctx, "a@corp.example", now, "docs", "catch_me_up", ""); err != nil {
		t.Fatalf("Record after degradation: %v", err)
	}
	if !fb.isDegraded() {
		t.Fatal("store should be degraded after a backend failure")
	}

	// Subsequent reads come from the in-memory fallback
	activities, err := fb.Activities(ctx, "a@corp.example")
	if err != nil {
		t.Fatalf("Activities: %v", err)
	}
	if len(activities) != 1 {
		t.Errorf("len(activities) = %d, want 1 from memory fallback", len(activities))
	}
}

func TestFallbackStorePassThroughWhenHealthy(t *testing.T) {
	fb := newFallbackStore(NewMemoryStore(), "redis")
	ctx := context.Background()

	if err := fb.Record(ctx, "a@corp.example", time.Now(), "docs", "summarize", ""); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if fb.isDegraded() {
		t.Error("healthy backend should not degrade")
	}
	activities, _ := fb.Activities(ctx, "a@corp.example")
	if len(activities) != 1 {
		t.Errorf("len(activities) = %d, want 1", len(activities))
	}
}
