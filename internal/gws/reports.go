// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

package gws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/driveguard/internal/logging"
	"github.com/tomtom215/driveguard/internal/metrics"
)

const (
	reportsBaseURL = "https://admin.googleapis.com/admin/reports/v1"

	// Application names in the Reports activity feed.
	AppDrive  = "drive"
	AppGemini = "gemini_in_workspace_apps"

	// EventFeatureUtilization is the Gemini feed's event name for assistant
	// usage. The interaction type lives in the event's "action" parameter,
	// not the name, so the feed is filtered to this one event.
	EventFeatureUtilization = "feature_utilization"

	// pageSize is the Reports API maximum per page.
	pageSize = 500
)

// Activity is one record in the Reports activity feed.
type Activity struct {
	ID        ActivityID `json:"id"`
	Actor     Actor      `json:"actor"`
	IPAddress string     `json:"ipAddress"`
	Events    []Event    `json:"events"`
}

// ActivityID identifies an activity record.
type ActivityID struct {
	Time            string `json:"time"`
	UniqueQualifier string `json:"uniqueQualifier"`
	ApplicationName string `json:"applicationName"`
	CustomerID      string `json:"customerId"`
}

// Actor is the account that performed the activity.
type Actor struct {
	Email     string `json:"email"`
	ProfileID string `json:"profileId"`
}

// Event is one event within an activity record.
type Event struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// activityPage is one page of the feed.
type activityPage struct {
	Items         []Activity `json:"items"`
	NextPageToken string     `json:"nextPageToken"`
}

// ReportsClient pages through the Admin Reports activity feed. A shared rate
// limiter keeps the two concurrent fetch streams inside the admin API quota.
type ReportsClient struct {
	tokens     *TokenSource
	client     *http.Client
	limiter    *rate.Limiter
	baseURL    string
	customerID string
}

// NewReportsClient builds a client. ratePerSecond bounds request rate across
// all fetches made through this client; customerID scopes the queries.
func NewReportsClient(tokens *TokenSource, customerID string, ratePerSecond float64, timeout time.Duration) *ReportsClient {
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	return &ReportsClient{
		tokens:     tokens,
		client:     &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		baseURL:    reportsBaseURL,
		customerID: customerID,
	}
}

// FetchActivities returns all activity records for one application since
// startTime, following pagination to the end. A non-empty eventName narrows
// the feed server-side to that event.
func (c *ReportsClient) FetchActivities(ctx context.Context, application, eventName string, startTime time.Time) ([]Activity, error) {
	started := time.Now()
	var all []Activity
	pageToken := ""
	pages := 0

	for {
		page, err := c.fetchPage(ctx, application, eventName, startTime, pageToken)
		if err != nil {
			metrics.RecordFetch(application, time.Since(started), pages, err)
			return nil, err
		}
		pages++
		all = append(all, page.Items...)

		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	metrics.RecordFetch(application, time.Since(started), pages, nil)
	logging.Debug().
		Str("application", application).
		Int("activities", len(all)).
		Int("pages", pages).
		Dur("elapsed", time.Since(started)).
		Msg("activity fetch complete")
	return all, nil
}

func (c *ReportsClient) fetchPage(ctx context.Context, application, eventName string, startTime time.Time, pageToken string) (*activityPage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	q := url.Values{
		"startTime":  {startTime.UTC().Format(time.RFC3339)},
		"maxResults": {fmt.Sprint(pageSize)},
	}
	if eventName != "" {
		q.Set("eventName", eventName)
	}
	if c.customerID != "" {
		q.Set("customerId", c.customerID)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	endpoint := fmt.Sprintf("%s/activity/users/all/applications/%s?%s",
		c.baseURL, url.PathEscape(application), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build activities request: %w", err)
	}
	if err := c.tokens.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &APIError{Op: "fetch " + application + " activities", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, &APIError{Op: "read " + application + " activities response", Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &AuthError{
			Op:  "fetch " + application + " activities",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	default:
		return nil, &APIError{
			Op:         "fetch " + application + " activities",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var page activityPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode activities response: %w", err)
	}
	return &page, nil
}
