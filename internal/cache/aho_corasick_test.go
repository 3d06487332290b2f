// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package cache

import "testing"

func TestAhoCorasickBasicMatch(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPattern("download", "egress")
	ac.AddPattern("export", "egress")
	ac.Build()

	matches := ac.Search("source_copy_export_event")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Pattern != "export" {
		t.Errorf("Pattern = %q, want export", matches[0].Pattern)
	}
	if matches[0].Data != "egress" {
		t.Errorf("Data = %v, want egress", matches[0].Data)
	}
}

func TestAhoCorasickMultipleMatches(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPatterns([]string{"copy", "move", "download"}, nil)
	ac.Build()

	matches := ac.Search("copy_then_move_then_download")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d: %v", len(matches), matches)
	}
}

func TestAhoCorasickCaseInsensitive(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPattern("confidential", nil)
	ac.Build()

	if !ac.Contains("Label-CONFIDENTIAL-v2") {
		t.Error("matching should be case-insensitive")
	}
}

func TestAhoCorasickNoMatch(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPatterns([]string{"download", "export"}, nil)
	ac.Build()

	if matches := ac.Search("view_item"); matches != nil {
		t.Errorf("expected no matches, got %v", matches)
	}
	if ac.Contains("view_item") {
		t.Error("Contains should be false for non-matching text")
	}
}

func TestAhoCorasickOverlappingPatterns(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPattern("change_acl", nil)
	ac.AddPattern("acl", nil)
	ac.Build()

	matches := ac.Search("change_acl")
	if len(matches) != 2 {
		t.Fatalf("expected 2 overlapping matches, got %d: %v", len(matches), matches)
	}
}

func TestAhoCorasickSearchFirst(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPatterns([]string{"move", "download"}, nil)
	ac.Build()

	m, ok := ac.SearchFirst("download_then_move")
	if !ok {
		t.Fatal("expected a match")
	}
	if m.Pattern != "download" {
		t.Errorf("Pattern = %q, want download (first match in text)", m.Pattern)
	}
	if m.Position != 0 {
		t.Errorf("Position = %d, want 0", m.Position)
	}
}

func TestAhoCorasickEmptyPatternIgnored(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPattern("", nil)
	ac.AddPattern("x", nil)
	ac.Build()

	if ac.PatternCount() != 1 {
		t.Errorf("PatternCount = %d, want 1", ac.PatternCount())
	}
}

func TestAhoCorasickUnbuiltReturnsNothing(t *testing.T) {
	ac := NewAhoCorasick()
	ac.AddPattern("download", nil)

	if matches := ac.Search("download"); matches != nil {
		t.Errorf("unbuilt automaton returned matches: %v", matches)
	}
}

func TestPatternMatcherEgressEvents(t *testing.T) {
	// The substring semantics matter: Drive emits variants like
	// "download_unsampled" and "team_drive_membership_change" that still
	// count as the base pattern.
	egress := []string{
		"download", "export", "copy", "add_to_folder", "change_acl",
		"change_visibility", "change_user_access", "deny_access_request",
		"request_access", "create_shortcut", "move", "publish_to_web",
		"transfer_ownership", "untrash",
	}
	pm := NewPatternMatcherFromSlice(egress, nil)

	tests := []struct {
		event string
		want  bool
	}{
		{"download", true},
		{"source_copy", true},
		{"change_user_access", true},
		{"change_acl_editors", true},
		{"view", false},
		{"edit", false},
		{"shared_drive_settings_change_visibility", true},
		{"untrash", true},
		{"rename", false},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			if got := pm.Contains(tt.event); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
