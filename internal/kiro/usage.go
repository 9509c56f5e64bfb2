// Package kiro supplies the one concrete implementation of
// credential.UsageProbe: an HTTP client that asks the upstream Kiro service
// for a credential's current usage limits. Like the OAuth refresh exchange
// in package oauth, the upstream request/response wire format is treated as
// an opaque external contract (spec §1 non-goals) — this client only needs
// to know the endpoint shape well enough to populate the handful of fields
// admin.Service's balance payload reads back out.
package kiro

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"kiro-broker/internal/credential"
	"kiro-broker/internal/logging"

	log "github.com/sirupsen/logrus"
)

// UsageEndpoint configures where GetUsageLimitsFor sends its request.
type UsageEndpoint struct {
	// URL is the full usage-limits endpoint, e.g.
	// "https://codewhisperer.<region>.amazonaws.com/getUsageLimits".
	// If empty, RegionURLFunc is used to derive one from the credential's
	// effective API region.
	URL string
	// RegionURLFunc derives the endpoint URL from an API region when URL is
	// unset, letting one UsageClient serve credentials pinned to different
	// regions.
	RegionURLFunc func(apiRegion string) string
}

func (e UsageEndpoint) resolve(apiRegion string) string {
	if e.URL != "" {
		return e.URL
	}
	if e.RegionURLFunc != nil {
		return e.RegionURLFunc(apiRegion)
	}
	return ""
}

// UsageClient implements credential.UsageProbe against the upstream Kiro
// usage-limits endpoint.
type UsageClient struct {
	httpClient       *http.Client
	endpoint         UsageEndpoint
	globalRegion     string
	globalAuthRegion string
	globalAPIRegion  string
}

// Option configures a UsageClient.
type Option func(*UsageClient)

// WithHTTPClient overrides the client used for the usage request.
func WithHTTPClient(c *http.Client) Option {
	return func(u *UsageClient) { u.httpClient = c }
}

// WithGlobalRegions supplies the fallback region triple used to resolve a
// credential's effective regions when it carries no region of its own
// (mirrors credential.Credential.EffectiveAPIRegion's resolution order).
func WithGlobalRegions(region, authRegion, apiRegion string) Option {
	return func(u *UsageClient) {
		u.globalRegion = region
		u.globalAuthRegion = authRegion
		u.globalAPIRegion = apiRegion
	}
}

// NewUsageClient constructs a UsageClient hitting endpoint.
func NewUsageClient(endpoint UsageEndpoint, opts ...Option) *UsageClient {
	u := &UsageClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

type usageRequest struct {
	ProfileARN string `json:"profileArn,omitempty"`
}

// GetUsageLimitsFor satisfies credential.UsageProbe. cred is a detached copy
// (Manager.GetUsageLimitsFor clones before calling out), so it is read
// without locking.
func (u *UsageClient) GetUsageLimitsFor(ctx context.Context, cred *credential.Credential) (map[string]interface{}, error) {
	if cred.AccessToken == "" {
		return nil, fmt.Errorf("credential %d has no access token", cred.ID)
	}

	apiRegion := cred.EffectiveAPIRegion(u.globalAPIRegion, u.globalRegion)
	url := u.endpoint.resolve(apiRegion)
	if url == "" {
		return nil, fmt.Errorf("no usage endpoint configured for region %q", apiRegion)
	}

	body, err := json.Marshal(usageRequest{ProfileARN: cred.ProfileARN})
	if err != nil {
		return nil, fmt.Errorf("encode usage request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build usage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("usage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind := logging.ErrorKind(resp.StatusCode, true)
		log.WithFields(log.Fields{
			"credentialId": cred.ID,
			"status":       resp.StatusCode,
			"errorKind":    kind,
		}).Warn("usage limits request failed")

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("usage request unauthorized: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("usage request upstream error: status %d", resp.StatusCode)
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode usage response: %w", err)
	}
	return raw, nil
}
