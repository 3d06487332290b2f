// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeTestConfig writes a config file plus a dummy service-account key and
// returns the config path.
func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()

	keyPath := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(keyPath, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.json")
	// Substitute the key path into the content
	content = strings.ReplaceAll(content, "__KEY__", keyPath)
	if err := os.WriteFile(cfgPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return cfgPath
}

const minimalConfig = `{
  "google": {
    "service_account_path": "__KEY__",
    "delegated_user": "admin@corp.example"
  }
}`

func TestLoadMinimalConfig(t *testing.T) {
	path := writeTestConfig(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Defaults applied
	if cfg.Google.CustomerID != "my_customer" {
		t.Errorf("CustomerID = %q, want my_customer", cfg.Google.CustomerID)
	}
	if cfg.Google.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Google.Timezone)
	}
	if cfg.Detection.LookbackHours != 24 {
		t.Errorf("LookbackHours = %d, want 24", cfg.Detection.LookbackHours)
	}
	if cfg.Detection.WindowMinutes != 30 {
		t.Errorf("WindowMinutes = %d, want 30", cfg.Detection.WindowMinutes)
	}
	if cfg.Detection.DelayedExfilThreshold != 5.0 {
		t.Errorf("DelayedExfilThreshold = %g, want 5.0", cfg.Detection.DelayedExfilThreshold)
	}
	if cfg.Store.URL != "memory://" {
		t.Errorf("Store.URL = %q, want memory://", cfg.Store.URL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {
    "service_account_path": "__KEY__",
    "delegated_user": "admin@corp.example",
    "customer_id": "C0123abcd",
    "timezone": "America/New_York"
  },
  "detection": {
    "lookback_hours": 48,
    "window_minutes": 10
  },
  "store": {
    "url": "redis://localhost:6379/0"
  },
  "canary": {
    "doc_ids": ["canary-doc-1", "canary-doc-2"]
  },
  "suppressions": {
    "allowed_external_domains": ["trusted.example"],
    "partner_domains": ["partner.example"]
  },
  "severity_overrides": {
    "sensitive_labels": ["confidential", "restricted"],
    "high_risk_folders": ["folder-hr", "folder-legal"]
  },
  "logging": {
    "level": "debug",
    "format": "console"
  }
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Google.CustomerID != "C0123abcd" {
		t.Errorf("CustomerID = %q", cfg.Google.CustomerID)
	}
	if cfg.Detection.LookbackHours != 48 {
		t.Errorf("LookbackHours = %d, want 48", cfg.Detection.LookbackHours)
	}
	if cfg.Detection.WindowMinutes != 10 {
		t.Errorf("WindowMinutes = %d, want 10", cfg.Detection.WindowMinutes)
	}
	if len(cfg.Canary.DocIDs) != 2 {
		t.Errorf("Canary.DocIDs = %v", cfg.Canary.DocIDs)
	}
	if len(cfg.Suppress.AllowedExternalDomains) != 1 || cfg.Suppress.AllowedExternalDomains[0] != "trusted.example" {
		t.Errorf("AllowedExternalDomains = %v", cfg.Suppress.AllowedExternalDomains)
	}
	if len(cfg.Severity.SensitiveLabels) != 2 {
		t.Errorf("SensitiveLabels = %v", cfg.Severity.SensitiveLabels)
	}
	if loc := cfg.Location(); loc.String() != "America/New_York" {
		t.Errorf("Location() = %v", loc)
	}
}

func TestLoadLegacyFlatConfig(t *testing.T) {
	// The original tool's config file keeps most keys at the top level
	path := writeTestConfig(t, `{
  "service_account_path": "__KEY__",
  "delegated_user": "admin@corp.example",
  "customer_id": "C0123abcd",
  "timezone": "America/New_York",
  "redis_url": "redis://localhost:6379/0",
  "canary_doc_ids": ["canary-1"],
  "suppressions": {"allowed_external_domains": ["trusted.example"]},
  "partner_domains": ["partner.example"],
  "severity_overrides": {"sensitive_labels": ["confidential"]},
  "high_risk_folders": ["folder-hr"]
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Google.DelegatedUser != "admin@corp.example" {
		t.Errorf("DelegatedUser = %q", cfg.Google.DelegatedUser)
	}
	if cfg.Google.CustomerID != "C0123abcd" {
		t.Errorf("CustomerID = %q", cfg.Google.CustomerID)
	}
	if cfg.Google.Timezone != "America/New_York" {
		t.Errorf("Timezone = %q", cfg.Google.Timezone)
	}
	if cfg.Store.URL != "redis://localhost:6379/0" {
		t.Errorf("Store.URL = %q, want the redis_url value", cfg.Store.URL)
	}
	if len(cfg.Canary.DocIDs) != 1 || cfg.Canary.DocIDs[0] != "canary-1" {
		t.Errorf("Canary.DocIDs = %v", cfg.Canary.DocIDs)
	}
	if len(cfg.Suppress.PartnerDomains) != 1 || cfg.Suppress.PartnerDomains[0] != "partner.example" {
		t.Errorf("PartnerDomains = %v", cfg.Suppress.PartnerDomains)
	}
	if len(cfg.Suppress.AllowedExternalDomains) != 1 {
		t.Errorf("AllowedExternalDomains = %v", cfg.Suppress.AllowedExternalDomains)
	}
	if len(cfg.Severity.HighRiskFolders) != 1 || cfg.Severity.HighRiskFolders[0] != "folder-hr" {
		t.Errorf("HighRiskFolders = %v", cfg.Severity.HighRiskFolders)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("Load() should fail for an empty path")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeTestConfig(t, `{"google": {`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail for malformed JSON")
	}
}

func TestLoadMissingDelegatedUser(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {"service_account_path": "__KEY__"}
}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail without delegated_user")
	}
}

func TestLoadInvalidDelegatedUser(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {
    "service_account_path": "__KEY__",
    "delegated_user": "not-an-email"
  }
}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail for a non-email delegated_user")
	}
}

func TestLoadMissingServiceAccountFile(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {
    "service_account_path": "/nonexistent/sa.json",
    "delegated_user": "admin@corp.example"
  }
}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail when the key file does not exist")
	}
}

func TestLoadInvalidTimezone(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {
    "service_account_path": "__KEY__",
    "delegated_user": "admin@corp.example",
    "timezone": "Not/AZone"
  }
}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail for an invalid timezone")
	}
}

func TestLoadInvalidStoreScheme(t *testing.T) {
	path := writeTestConfig(t, `{
  "google": {
    "service_account_path": "__KEY__",
    "delegated_user": "admin@corp.example"
  },
  "store": {"url": "postgres://localhost/db"}
}`)
	if _, err := Load(path); err == nil {
		t.Error("Load() should fail for an unknown store scheme")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIVEGUARD_DETECTION_WINDOW_MINUTES", "15")
	t.Setenv("DRIVEGUARD_CANARY_DOC_IDS", "doc-a, doc-b,doc-c")
	t.Setenv("DRIVEGUARD_LOGGING_LEVEL", "warn")

	path := writeTestConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Detection.WindowMinutes != 15 {
		t.Errorf("WindowMinutes = %d, want 15 (env override)", cfg.Detection.WindowMinutes)
	}
	if len(cfg.Canary.DocIDs) != 3 {
		t.Errorf("Canary.DocIDs = %v, want 3 entries from comma-separated env", cfg.Canary.DocIDs)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"DRIVEGUARD_GOOGLE_SERVICE_ACCOUNT_PATH", "google.service_account_path"},
		{"DRIVEGUARD_GOOGLE_DELEGATED_USER", "google.delegated_user"},
		{"DRIVEGUARD_DETECTION_LOOKBACK_HOURS", "detection.lookback_hours"},
		{"DRIVEGUARD_STORE_URL", "store.url"},
		{"DRIVEGUARD_SUPPRESSIONS_ALLOWED_EXTERNAL_DOMAINS", "suppressions.allowed_external_domains"},
		{"DRIVEGUARD_SEVERITY_OVERRIDES_SENSITIVE_LABELS", "severity_overrides.sensitive_labels"},
		{"DRIVEGUARD_LOGGING_LEVEL", "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Google.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Google.RequestTimeout)
	}
	if cfg.Store.TTL != 14*24*time.Hour {
		t.Errorf("Store.TTL = %v, want 14 days", cfg.Store.TTL)
	}
	if cfg.Google.RatePerSecond != 5 {
		t.Errorf("RatePerSecond = %g", cfg.Google.RatePerSecond)
	}
}
