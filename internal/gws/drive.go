// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package gws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/driveguard/internal/filecontext"
	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

const (
	driveBaseURL = "https://www.googleapis.com/drive/v3"

	// driveFields limits metadata responses to what enrichment reads.
	driveFields = "name,owners(emailAddress),permissions(type,emailAddress),modifiedTime,labelInfo(labels(id))"

	breakerName = "drive_metadata"
)

// driveFile mirrors the Drive v3 files.get response for the requested fields.
type driveFile struct {
	Name   string `json:"name"`
	Owners []struct {
		EmailAddress string `json:"emailAddress"`
	} `json:"owners"`
	Permissions []struct {
		Type         string `json:"type"`
		EmailAddress string `json:"emailAddress"`
	} `json:"permissions"`
	ModifiedTime string `json:"modifiedTime"`
	LabelInfo    struct {
		Labels []struct {
			ID string `json:"id"`
		} `json:"labels"`
	} `json:"labelInfo"`

	// Legacy v2-style label flags; tolerated so mixed-API mirrors of file
	// metadata still classify.
	Labels map[string]bool `json:"labels"`
}

// DriveClient fetches file metadata for enrichment. A circuit breaker keeps
// a degraded Drive API from stalling the whole run: once it opens, lookups
// fail fast and findings go out without file context.
type DriveClient struct {
	tokens  *TokenSource
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*filecontext.File]
	baseURL string
}

// NewDriveClient builds a metadata client sharing the reports rate budget
// model: its own limiter, same per-second setting.
func NewDriveClient(tokens *TokenSource, ratePerSecond float64, timeout time.Duration) *DriveClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}

	c := &DriveClient{
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		baseURL: driveBaseURL,
	}

	c.breaker = gobreaker.NewCircuitBreaker[*filecontext.File](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// A 404 is a definitive answer, not a backend failure
			return err == nil || errors.Is(err, filecontext.ErrNotFound)
		},
	})
	return c
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Get implements filecontext.Source.
func (c *DriveClient) Get(ctx context.Context, docID string) (*filecontext.File, error) {
	file, err := c.breaker.Execute(func() (*filecontext.File, error) {
		return c.fetch(ctx, docID)
	})

	switch {
	case err == nil || errors.Is(err, filecontext.ErrNotFound):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
	}
	return file, err
}

func (c *DriveClient) fetch(ctx context.Context, docID string) (*filecontext.File, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{
		"fields":            {driveFields},
		"supportsAllDrives": {"true"},
	}
	endpoint := fmt.Sprintf("%s/files/%s?%s", c.baseURL, url.PathEscape(docID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build metadata request: %w", err)
	}
	if err := c.tokens.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file metadata: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read metadata response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, filecontext.ErrNotFound
	default:
		return nil, &APIError{
			Op:         "fetch file metadata",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var df driveFile
	if err := json.Unmarshal(body, &df); err != nil {
		return nil, fmt.Errorf("decode metadata response: %w", err)
	}

	file := &filecontext.File{
		Name:         df.Name,
		ModifiedTime: df.ModifiedTime,
	}
	for _, o := range df.Owners {
		file.Owners = append(file.Owners, o.EmailAddress)
	}
	for _, p := range df.Permissions {
		file.Permissions = append(file.Permissions, filecontext.Permission{
			Type:         p.Type,
			EmailAddress: p.EmailAddress,
		})
	}
	for _, l := range df.LabelInfo.Labels {
		file.Labels = append(file.Labels, l.ID)
	}
	for name, set := range df.Labels {
		if set {
			file.Labels = append(file.Labels, name)
		}
	}
	return file, nil
}
