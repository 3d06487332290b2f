// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package config loads and validates Driveguard configuration.
//
// Configuration is layered with Koanf v2:
//  1. Defaults: built-in sensible defaults
//  2. Config file: JSON config file passed via --config
//  3. Environment variables: DRIVEGUARD_* overrides any setting
//
// Precedence: ENV > File > Defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment variable overrides.
// DRIVEGUARD_GOOGLE_DELEGATED_USER -> google.delegated_user
const EnvPrefix = "DRIVEGUARD_"

// Config is the top-level Driveguard configuration.
type Config struct {
	Google    GoogleConfig    `koanf:"google" validate:"required"`
	Detection DetectionConfig `koanf:"detection"`
	Store     StoreConfig     `koanf:"store"`
	Canary    CanaryConfig    `koanf:"canary"`
	Suppress  SuppressConfig  `koanf:"suppressions"`
	Severity  SeverityConfig  `koanf:"severity_overrides"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// GoogleConfig holds Workspace Admin SDK access settings.
type GoogleConfig struct {
	// ServiceAccountPath is the path to the service-account key JSON file.
	ServiceAccountPath string `koanf:"service_account_path" validate:"required"`

	// DelegatedUser is the admin account to impersonate via domain-wide
	// delegation. The Reports API rejects direct service-account access.
	DelegatedUser string `koanf:"delegated_user" validate:"required,email"`

	// CustomerID scopes Reports API queries. "my_customer" means the
	// customer owning the delegated user.
	CustomerID string `koanf:"customer_id"`

	// Timezone is the IANA timezone used for off-hours intent analysis.
	Timezone string `koanf:"timezone"`

	// RequestTimeout bounds individual Admin SDK HTTP requests.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RatePerSecond throttles Reports API calls.
	RatePerSecond float64 `koanf:"rate_per_second" validate:"gte=0"`
}

// DetectionConfig holds correlation engine tunables. The CLI flags
// --lookback-hours and --window-minutes override these when set.
type DetectionConfig struct {
	// LookbackHours is how far back to fetch audit activity.
	LookbackHours int `koanf:"lookback_hours" validate:"gte=1,lte=720"`

	// WindowMinutes is the recon-to-egress correlation window.
	WindowMinutes int `koanf:"window_minutes" validate:"gte=1,lte=1440"`

	// DelayedExfilThreshold is the cumulative recon score above which an
	// unmatched egress event still produces a finding.
	DelayedExfilThreshold float64 `koanf:"delayed_exfil_threshold" validate:"gte=0"`
}

// StoreConfig selects the recon-state backend.
type StoreConfig struct {
	// URL selects the backend by scheme:
	//   memory://           in-process only (default)
	//   redis://host:6379   shared state across runs and hosts
	//   badger:///data/path single-node durable state
	URL string `koanf:"url"`

	// TTL bounds how long recon activity is retained in durable backends.
	TTL time.Duration `koanf:"ttl"`
}

// CanaryConfig lists planted canary documents. Any egress touching one is
// escalated regardless of other signals.
type CanaryConfig struct {
	DocIDs []string `koanf:"doc_ids"`
}

// SuppressConfig holds allow-lists consulted by intent classification.
type SuppressConfig struct {
	// AllowedExternalDomains are destination domains considered trusted;
	// matching findings are suppressed entirely.
	AllowedExternalDomains []string `koanf:"allowed_external_domains"`

	// PartnerDomains are known partners; sharing to them lowers intent
	// score but does not suppress.
	PartnerDomains []string `koanf:"partner_domains"`
}

// SeverityConfig holds file-context escalation settings.
type SeverityConfig struct {
	// SensitiveLabels are Drive label substrings that mark a file
	// high-sensitivity (matched case-insensitively).
	SensitiveLabels []string `koanf:"sensitive_labels"`

	// HighRiskFolders are folder IDs whose contents are high-sensitivity.
	HighRiskFolders []string `koanf:"high_risk_folders"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Google: GoogleConfig{
			CustomerID:     "my_customer",
			Timezone:       "UTC",
			RequestTimeout: 30 * time.Second,
			RatePerSecond:  5, // Reports API default quota is generous; stay well under it
		},
		Detection: DetectionConfig{
			LookbackHours:         24,
			WindowMinutes:         30,
			DelayedExfilThreshold: 5.0,
		},
		Store: StoreConfig{
			URL: "memory://",
			TTL: 14 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration from the given JSON file path with environment
// variable overrides applied on top. The path is required; a missing or
// unreadable file is a configuration error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file
	if err := k.Load(file.Provider(path), json.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	applyLegacyKeys(k)

	// Layer 3: environment variables (highest priority)
	// DRIVEGUARD_GOOGLE_DELEGATED_USER -> google.delegated_user
	envProvider := env.Provider(EnvPrefix, ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Slice fields arrive from env vars as comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// legacyKeyAliases maps the flat key layout of the original Python tool's
// config file to the nested paths used here, so existing config files keep
// loading unchanged.
var legacyKeyAliases = map[string]string{
	"service_account_path": "google.service_account_path",
	"delegated_user":       "google.delegated_user",
	"customer_id":          "google.customer_id",
	"timezone":             "google.timezone",
	"redis_url":            "store.url",
	"canary_doc_ids":       "canary.doc_ids",
	"partner_domains":      "suppressions.partner_domains",
	"high_risk_folders":    "severity_overrides.high_risk_folders",
}

// applyLegacyKeys moves flat-layout keys from the config file onto their
// nested equivalents. Runs after the file layer and before the env layer, so
// environment overrides still win.
func applyLegacyKeys(k *koanf.Koanf) {
	for legacy, canonical := range legacyKeyAliases {
		if !k.Exists(legacy) {
			continue
		}
		_ = k.Set(canonical, k.Get(legacy))
		k.Delete(legacy)
	}
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - DRIVEGUARD_GOOGLE_SERVICE_ACCOUNT_PATH -> google.service_account_path
//   - DRIVEGUARD_DETECTION_WINDOW_MINUTES -> detection.window_minutes
//   - DRIVEGUARD_STORE_URL -> store.url
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	// Section prefixes map to nested config paths; everything after the
	// section name stays a single key (keys themselves contain underscores).
	sections := []string{
		"google", "detection", "store", "canary",
		"suppressions", "severity_overrides", "logging",
	}
	for _, section := range sections {
		prefix := section + "_"
		if strings.HasPrefix(key, prefix) {
			return section + "." + strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

// sliceConfigPaths defines which config paths should be parsed as
// comma-separated slices when they arrive from environment variables.
var sliceConfigPaths = []string{
	"canary.doc_ids",
	"suppressions.allowed_external_domains",
	"suppressions.partner_domains",
	"severity_overrides.sensitive_labels",
	"severity_overrides.high_risk_folders",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from the JSON file)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := isValidationErrors(err, &verrs); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("field %s failed validation rule %q", first.Namespace(), first.Tag())
		}
		return err
	}

	if err := c.validateServiceAccount(); err != nil {
		return err
	}
	if err := c.validateTimezone(); err != nil {
		return err
	}
	return c.validateStoreURL()
}

// isValidationErrors unwraps validator.ValidationErrors without importing errors
// at every call site.
func isValidationErrors(err error, target *validator.ValidationErrors) bool {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		*target = verrs
		return true
	}
	return false
}

// validateServiceAccount checks the key file exists before auth is attempted,
// so a bad path surfaces as a config error rather than an auth error.
func (c *Config) validateServiceAccount() error {
	if _, err := os.Stat(c.Google.ServiceAccountPath); err != nil {
		return fmt.Errorf("service account key file %s: %w", c.Google.ServiceAccountPath, err)
	}
	return nil
}

// validateTimezone checks the configured timezone is a loadable IANA name.
func (c *Config) validateTimezone() error {
	if _, err := time.LoadLocation(c.Google.Timezone); err != nil {
		return fmt.Errorf("GOOGLE_TIMEZONE %q is not a valid IANA timezone: %w", c.Google.Timezone, err)
	}
	return nil
}

// validateStoreURL checks the recon-state backend URL has a known scheme.
func (c *Config) validateStoreURL() error {
	url := c.Store.URL
	switch {
	case url == "", strings.HasPrefix(url, "memory://"),
		strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"),
		strings.HasPrefix(url, "badger://"):
		return nil
	default:
		return fmt.Errorf("STORE_URL %q has unknown scheme (expected memory://, redis://, or badger://)", url)
	}
}

// Location returns the configured timezone as a *time.Location.
// Validate must have succeeded first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Google.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
