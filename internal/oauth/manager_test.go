package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenServer(t *testing.T, accessToken, newRefreshToken string, expiresIn int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("refresh_token"))

		resp := map[string]interface{}{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		}
		if newRefreshToken != "" {
			resp["refresh_token"] = newRefreshToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestManagerRefreshTokenSuccess(t *testing.T) {
	server := newTestTokenServer(t, "new-access", "new-refresh", 3600)
	defer server.Close()

	m := NewManager(WithHTTPClient(server.Client()))
	refreshed, err := m.RefreshToken(context.Background(), Credentials{
		ClientID:     "client",
		ClientSecret: "secret",
		RefreshToken: "old-refresh",
		TokenURI:     server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-access", refreshed.AccessToken)
	assert.Equal(t, "new-refresh", refreshed.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), refreshed.ExpiresAt, 5*time.Second)
}

func TestManagerRefreshTokenPreservesRefreshTokenWhenServerOmitsIt(t *testing.T) {
	server := newTestTokenServer(t, "new-access", "", 3600)
	defer server.Close()

	m := NewManager(WithHTTPClient(server.Client()))
	refreshed, err := m.RefreshToken(context.Background(), Credentials{
		RefreshToken: "stays-the-same",
		TokenURI:     server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "stays-the-same", refreshed.RefreshToken)
}

func TestManagerRefreshTokenRejectsEmptyRefreshToken(t *testing.T) {
	m := NewManager()
	_, err := m.RefreshToken(context.Background(), Credentials{TokenURI: "http://example.invalid"})
	require.Error(t, err)
}

func TestManagerRefreshTokenRejectsBadEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewManager(WithHTTPClient(server.Client()))
	_, err := m.RefreshToken(context.Background(), Credentials{
		RefreshToken: "rt",
		TokenURI:     server.URL,
	})
	require.Error(t, err)
}

func TestURLParses(t *testing.T) {
	_, err := url.Parse("http://example.com")
	require.NoError(t, err)
}
