package credential

import (
	"context"
	"fmt"
	"time"
)

// CurrentResult is what Current() hands the caller: the credential id and
// its access token.
type CurrentResult struct {
	ID          int64
	AccessToken string
}

// Current returns the current credential; if its access token is missing or
// within the refresh-skew window of expiry it performs an on-demand refresh
// first (spec §4.2). Concurrent callers for the same credential share one
// in-flight refresh (spec §5, scenario 1).
func (m *Manager) Current(ctx context.Context) (CurrentResult, error) {
	m.mu.RLock()
	target := m.currentLocked()
	m.mu.RUnlock()

	if target == nil {
		return CurrentResult{}, fmt.Errorf("no credentials available")
	}

	if target.NeedsRefresh(m.refreshSkew) {
		if err := m.refreshCredential(ctx, target.ID); err != nil {
			return CurrentResult{}, err
		}
	}

	target.mu.RLock()
	defer target.mu.RUnlock()
	return CurrentResult{ID: target.ID, AccessToken: target.AccessToken}, nil
}

// refreshCredential performs (or joins) a single-flight refresh for id. The
// collection lock is never held across the network call: the per-id gate is
// acquired, the refresh runs unlocked, then the result is applied under the
// credential's own lock (spec §5 lock discipline).
func (m *Manager) refreshCredential(ctx context.Context, id int64) error {
	return m.refreshGate.Do(ctx, id, func(ctx context.Context) error {
		m.mu.RLock()
		target, ok := m.lookupLocked(id)
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("credential %d not found", id)
		}

		// Re-check under the gate: another waiter may have just refreshed it.
		if !target.NeedsRefresh(m.refreshSkew) {
			return nil
		}

		if m.refresher == nil {
			return fmt.Errorf("no token refresher configured")
		}

		target.mu.RLock()
		creds := RefreshableCredentials{
			ClientID:     target.ClientID,
			ClientSecret: target.ClientSecret,
			RefreshToken: target.RefreshToken,
			TokenURI:     m.defaultTokenURI,
		}
		target.mu.RUnlock()

		result, err := m.refresher.RefreshToken(ctx, creds)
		if err != nil {
			m.recordFailure(id, err)
			return err
		}

		m.recordSuccess(id, result)
		return nil
	})
}

// GetUsageLimitsFor calls the upstream usage endpoint for id; errors are
// returned unclassified for the caller (admin service) to classify.
func (m *Manager) GetUsageLimitsFor(ctx context.Context, id int64) (map[string]interface{}, error) {
	if m.usageProbe == nil {
		return nil, fmt.Errorf("no usage probe configured")
	}
	m.mu.RLock()
	target, ok := m.lookupLocked(id)
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("credential %d not found", id)
	}
	return m.usageProbe.GetUsageLimitsFor(ctx, target.Clone())
}

// StartPeriodicRefresh runs refreshExpiring on a ticker until ctx is done.
// Driven by internal/runtime.TaskManager in cmd/server.
func (m *Manager) StartPeriodicRefresh(ctx context.Context, interval time.Duration) error {
	m.refreshExpiring(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.refreshExpiring(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) refreshExpiring(ctx context.Context) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.credentials))
	for _, c := range m.credentials {
		if isSelectable(c) && c.NeedsRefresh(m.refreshSkew) {
			ids = append(ids, c.ID)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.refreshCredential(ctx, id)
	}
}
