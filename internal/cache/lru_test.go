// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUBasicOperations(t *testing.T) {
	c := NewLRU[string](10, time.Minute)

	c.Add("key1", "value1")

	if got, ok := c.Get("key1"); !ok || got != "value1" {
		t.Errorf("Get(key1) = %q, %v; want value1, true", got, ok)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) should return false")
	}

	if !c.Contains("key1") {
		t.Error("Contains(key1) should be true")
	}

	if c.Contains("missing") {
		t.Error("Contains(missing) should be false")
	}

	if !c.Remove("key1") {
		t.Error("Remove(key1) should return true")
	}

	if c.Remove("key1") {
		t.Error("Remove(key1) twice should return false")
	}

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRUStructValues(t *testing.T) {
	type meta struct {
		Name  string
		Owner string
	}

	c := NewLRU[meta](10, 0)
	c.Add("doc-1", meta{Name: "Q3 Roadmap", Owner: "alice@corp.example"})

	got, ok := c.Get("doc-1")
	if !ok {
		t.Fatal("Get(doc-1) should return true")
	}
	if got.Name != "Q3 Roadmap" || got.Owner != "alice@corp.example" {
		t.Errorf("Get(doc-1) = %+v", got)
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU[int](3, time.Minute)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)

	// Touch "a" so "b" becomes the LRU entry
	c.Get("a")

	c.Add("d", 4)

	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if !c.Contains(key) {
			t.Errorf("%s should still be present", key)
		}
	}
}

func TestLRUUpdateExisting(t *testing.T) {
	c := NewLRU[int](2, time.Minute)

	c.Add("a", 1)
	c.Add("a", 2)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	if got, _ := c.Get("a"); got != 2 {
		t.Errorf("Get(a) = %d, want 2", got)
	}
}

func TestLRUTTLExpiration(t *testing.T) {
	c := NewLRU[string](10, 10*time.Millisecond)

	c.Add("key", "value")

	if _, ok := c.Get("key"); !ok {
		t.Fatal("entry should be present before TTL")
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("key"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on access, Len() = %d", c.Len())
	}
}

func TestLRUZeroTTLNeverExpires(t *testing.T) {
	c := NewLRU[string](10, 0)

	c.Add("key", "value")
	time.Sleep(15 * time.Millisecond)

	if _, ok := c.Get("key"); !ok {
		t.Error("entry with ttl=0 should never expire")
	}
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("key%d", i), i)
	}

	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}

	// Cache is usable after Clear
	c.Add("fresh", 1)
	if !c.Contains("fresh") {
		t.Error("cache unusable after Clear")
	}
}

func TestLRUStats(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	c.Add("a", 1)
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	hits, misses, size := c.Stats()
	if hits != 2 {
		t.Errorf("hits = %d, want 2", hits)
	}
	if misses != 1 {
		t.Errorf("misses = %d, want 1", misses)
	}
	if size != 1 {
		t.Errorf("size = %d, want 1", size)
	}
}

func TestLRUDefaultCapacity(t *testing.T) {
	c := NewLRU[int](0, time.Minute)
	if c.capacity != 10000 {
		t.Errorf("capacity = %d, want default 10000", c.capacity)
	}
}

func TestLRUConcurrentAccess(t *testing.T) {
	c := NewLRU[int](100, time.Minute)
	done := make(chan struct{})

	for g := 0; g < 4; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key%d", i%50)
				c.Add(key, i)
				c.Get(key)
				c.Contains(key)
			}
		}(g)
	}

	for g := 0; g < 4; g++ {
		<-done
	}

	if c.Len() > 100 {
		t.Errorf("Len() = %d exceeds capacity 100", c.Len())
	}
}
