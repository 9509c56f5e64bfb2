package admin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiro-broker/internal/apierrors"
	"kiro-broker/internal/balance"
	"kiro-broker/internal/credential"
)

type noopRefresher struct{}

func (noopRefresher) RefreshToken(ctx context.Context, creds credential.RefreshableCredentials) (credential.RefreshResult, error) {
	return credential.RefreshResult{
		AccessToken:  "access-" + creds.RefreshToken,
		RefreshToken: creds.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

type fakeUsageProbe struct {
	payload map[string]interface{}
	err     error
	calls   int
}

func (f *fakeUsageProbe) GetUsageLimitsFor(ctx context.Context, cred *credential.Credential) (map[string]interface{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func newTestService(t *testing.T, probe *fakeUsageProbe) (*Service, *credential.Manager) {
	t.Helper()
	mgr := credential.NewManager(credential.Options{
		Refresher:  noopRefresher{},
		UsageProbe: probe,
	})
	cache := balance.NewCache(filepath.Join(t.TempDir(), "balance_cache.json"))
	return NewService(mgr, cache), mgr
}

func TestGetBalanceComputesDerivedFields(t *testing.T) {
	probe := &fakeUsageProbe{payload: map[string]interface{}{
		"currentUsage":      25.0,
		"usageLimit":        100.0,
		"subscriptionTitle": "Pro",
	}}
	svc, mgr := newTestService(t, probe)
	id, err := mgr.Add(context.Background(), credential.AddRequest{RefreshToken: "tok"})
	require.NoError(t, err)

	payload, err := svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 25.0, payload.CurrentUsage)
	assert.Equal(t, 100.0, payload.UsageLimit)
	assert.Equal(t, 75.0, payload.Remaining)
	assert.Equal(t, 25.0, payload.UsagePercentage)
	assert.Equal(t, "Pro", payload.SubscriptionTitle)
}

func TestGetBalanceIsCachedAcrossCalls(t *testing.T) {
	probe := &fakeUsageProbe{payload: map[string]interface{}{"currentUsage": 1.0, "usageLimit": 2.0}}
	svc, mgr := newTestService(t, probe)
	id, err := mgr.Add(context.Background(), credential.AddRequest{RefreshToken: "tok"})
	require.NoError(t, err)

	_, err = svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	_, err = svc.GetBalance(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, 1, probe.calls)
}

func TestGetBalanceUnknownCredentialIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeUsageProbe{})
	_, err := svc.GetBalance(context.Background(), 999)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.NotFound, apiErr.Kind)
}

func TestAddCredentialClassifiesDuplicateAsInvalidInput(t *testing.T) {
	svc, mgr := newTestService(t, &fakeUsageProbe{})
	_, err := mgr.Add(context.Background(), credential.AddRequest{RefreshToken: "dup"})
	require.NoError(t, err)

	_, err = svc.AddCredential(context.Background(), credential.AddRequest{RefreshToken: "dup"})
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidInput, apiErr.Kind)
}

func TestSetLoadBalancingModeRejectsUnknownMode(t *testing.T) {
	svc, _ := newTestService(t, &fakeUsageProbe{})
	err := svc.SetLoadBalancingMode("round-robin")
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.InvalidInput, apiErr.Kind)
}

func TestDeleteCredentialPurgesBalanceCache(t *testing.T) {
	probe := &fakeUsageProbe{payload: map[string]interface{}{"currentUsage": 1.0, "usageLimit": 2.0}}
	svc, mgr := newTestService(t, probe)
	id, err := mgr.Add(context.Background(), credential.AddRequest{RefreshToken: "tok"})
	require.NoError(t, err)

	_, err = svc.GetBalance(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, probe.calls)

	require.NoError(t, svc.DeleteCredential(id))
	_, cached := svc.cache.Get(id)
	assert.False(t, cached)

	// credential gone -> not found, not a cache hit
	_, err = svc.GetBalance(context.Background(), id)
	assert.Error(t, err)
}

func TestDeleteCredentialUnknownIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, &fakeUsageProbe{})
	err := svc.DeleteCredential(123)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.NotFound, apiErr.Kind)
}
