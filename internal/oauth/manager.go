// Package oauth is the opaque token refresher (spec component C2): given a
// credential's refresh token it returns a refreshed access token. The
// credential pool depends on it only through the credential.Refresher
// interface; this package supplies the one concrete implementation, built
// on golang.org/x/oauth2's refresh_token grant exchange.
package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// Manager refreshes OAuth access tokens against the token endpoint named in
// each call's Credentials.TokenURI.
type Manager struct {
	httpClient *http.Client
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithNowFunc overrides the clock, for deterministic tests.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager constructs a Manager with sane defaults.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RefreshToken exchanges a refresh token for a fresh access token against
// creds.TokenURI using the OAuth2 refresh_token grant.
func (m *Manager) RefreshToken(ctx context.Context, creds Credentials) (Refreshed, error) {
	if creds.RefreshToken == "" {
		return Refreshed{}, fmt.Errorf("empty refresh-token")
	}
	if creds.TokenURI == "" {
		return Refreshed{}, fmt.Errorf("missing token endpoint")
	}

	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: creds.TokenURI,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return Refreshed{}, fmt.Errorf("refresh token exchange failed: %w", err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = m.now().Add(time.Hour)
	}

	return Refreshed{
		AccessToken:  tok.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}
