package kiro

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-broker/internal/credential"
)

func TestUsageClientGetUsageLimitsForSuccess(t *testing.T) {
	var gotAuth, gotProfileARN string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotProfileARN, _ = body["profileArn"].(string)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"currentUsage":      10.0,
			"usageLimit":        100.0,
			"subscriptionTitle": "Pro",
		})
	}))
	defer server.Close()

	client := NewUsageClient(UsageEndpoint{URL: server.URL}, WithHTTPClient(server.Client()))

	cred := &credential.Credential{ID: 1, AccessToken: "tok-abc", ProfileARN: "arn:aws:profile"}
	raw, err := client.GetUsageLimitsFor(context.Background(), cred)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-abc", gotAuth)
	assert.Equal(t, "arn:aws:profile", gotProfileARN)
	assert.Equal(t, 10.0, raw["currentUsage"])
	assert.Equal(t, 100.0, raw["usageLimit"])
	assert.Equal(t, "Pro", raw["subscriptionTitle"])
}

func TestUsageClientGetUsageLimitsForRejectsCredentialWithoutAccessToken(t *testing.T) {
	client := NewUsageClient(UsageEndpoint{URL: "http://example.invalid"})
	cred := &credential.Credential{ID: 2}
	_, err := client.GetUsageLimitsFor(context.Background(), cred)
	assert.Error(t, err)
}

func TestUsageClientGetUsageLimitsForUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewUsageClient(UsageEndpoint{URL: server.URL}, WithHTTPClient(server.Client()))
	cred := &credential.Credential{ID: 3, AccessToken: "tok"}
	_, err := client.GetUsageLimitsFor(context.Background(), cred)
	assert.Error(t, err)
}

func TestUsageEndpointRegionURLFunc(t *testing.T) {
	endpoint := UsageEndpoint{
		RegionURLFunc: func(region string) string {
			return "https://codewhisperer." + region + ".amazonaws.com/getUsageLimits"
		},
	}
	assert.Equal(t, "https://codewhisperer.us-east-1.amazonaws.com/getUsageLimits", endpoint.resolve("us-east-1"))

	direct := UsageEndpoint{URL: "https://fixed.example/usage"}
	assert.Equal(t, "https://fixed.example/usage", direct.resolve("ignored"))
}
