// Driveguard - AI-Assisted Insider Threat Detection for Google Workspace
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/driveguard

// Package gws is the Google Workspace client layer: service-account
// authentication with domain-wide delegation, the Admin Reports activity
// feed, and Drive file metadata.
package gws

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/driveguard/internal/logging"
)

const (
	// googleTokenURL is the OAuth2 token endpoint for the JWT bearer grant.
	googleTokenURL = "https://oauth2.googleapis.com/token"

	jwtBearerGrant = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertionLifetime is the validity window claimed in each signed JWT.
	// Google caps it at one hour.
	assertionLifetime = time.Hour

	// tokenRefreshMargin renews tokens this long before expiry so a token
	// never dies mid-pagination.
	tokenRefreshMargin = 2 * time.Minute
)

// OAuth scopes needed by the two fetchers. Read-only throughout.
const (
	ScopeReportsAudit  = "https://www.googleapis.com/auth/admin.reports.audit.readonly"
	ScopeDriveMetadata = "https://www.googleapis.com/auth/drive.metadata.readonly"
)

// serviceAccountKey is the relevant subset of a Google service-account JSON
// key file.
type serviceAccountKey struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// TokenSource mints and caches OAuth2 access tokens for a service account
// impersonating a Workspace user via domain-wide delegation. Safe for
// concurrent use.
type TokenSource struct {
	key      *serviceAccountKey
	signer   *rsa.PrivateKey
	subject  string
	scopes   []string
	tokenURL string
	client   *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource loads a service-account key file and prepares a source that
// impersonates subject (the delegated admin) with the given scopes.
func NewTokenSource(keyPath, subject string, scopes []string) (*TokenSource, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &AuthError{Op: "read service account key", Err: err}
	}

	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, &AuthError{Op: "parse service account key", Err: err}
	}
	if key.Type != "service_account" {
		return nil, &AuthError{Op: "parse service account key", Err: fmt.Errorf("key type %q, want service_account", key.Type)}
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, &AuthError{Op: "parse service account key", Err: errors.New("missing client_email or private_key")}
	}

	signer, err := parsePrivateKey(key.PrivateKey)
	if err != nil {
		return nil, &AuthError{Op: "parse private key", Err: err}
	}

	tokenURL := key.TokenURI
	if tokenURL == "" {
		tokenURL = googleTokenURL
	}

	return &TokenSource{
		key:      &key,
		signer:   signer,
		subject:  subject,
		scopes:   scopes,
		tokenURL: tokenURL,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block in private_key")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, want RSA", key)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// Token returns a valid access token, minting a new one when the cached
// token is near expiry.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.token != "" && time.Now().Before(ts.expires.Add(-tokenRefreshMargin)) {
		return ts.token, nil
	}

	token, lifetime, err := ts.exchange(ctx)
	if err != nil {
		return "", err
	}

	ts.token = token
	ts.expires = time.Now().Add(lifetime)
	logging.Debug().
		Str("subject", ts.subject).
		Dur("lifetime", lifetime).
		Msg("minted access token")
	return token, nil
}

// exchange signs a delegation assertion and trades it for an access token.
func (ts *TokenSource) exchange(ctx context.Context) (string, time.Duration, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.key.ClientEmail,
		"sub":   ts.subject,
		"scope": strings.Join(ts.scopes, " "),
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	assertion := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if ts.key.PrivateKeyID != "" {
		assertion.Header["kid"] = ts.key.PrivateKeyID
	}
	signed, err := assertion.SignedString(ts.signer)
	if err != nil {
		return "", 0, &AuthError{Op: "sign assertion", Err: err}
	}

	form := url.Values{
		"grant_type": {jwtBearerGrant},
		"assertion":  {signed},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, &AuthError{Op: "build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", 0, &AuthError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, &AuthError{Op: "read token response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", 0, &AuthError{
			Op:  "token exchange",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", 0, &AuthError{Op: "decode token response", Err: err}
	}
	if tok.AccessToken == "" {
		return "", 0, &AuthError{Op: "decode token response", Err: errors.New("empty access_token")}
	}

	lifetime := time.Duration(tok.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = assertionLifetime
	}
	return tok.AccessToken, lifetime, nil
}

// authorize stamps the bearer token onto an outgoing request.
func (ts *TokenSource) authorize(ctx context.Context, req *http.Request) error {
	token, err := ts.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}
