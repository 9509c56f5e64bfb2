package credential

import (
	"context"
	"fmt"
	"strings"

	"kiro-broker/internal/events"
)

// Add validates and inserts a new credential, probing the upstream with a
// one-shot refresh before committing (spec §4.2 "add").
func (m *Manager) Add(ctx context.Context, req AddRequest) (int64, error) {
	if err := validateRefreshToken(req.RefreshToken); err != nil {
		return 0, err
	}

	m.mu.RLock()
	for _, c := range m.credentials {
		c.mu.RLock()
		dup := c.RefreshToken == req.RefreshToken
		c.mu.RUnlock()
		if dup {
			m.mu.RUnlock()
			return 0, fmt.Errorf("duplicate refresh-token: credential exists")
		}
	}
	m.mu.RUnlock()

	authMethod := req.AuthMethod
	if authMethod == "" {
		authMethod = "social"
	}

	cand := &Credential{
		RefreshToken: req.RefreshToken,
		AccessToken:  req.AccessToken,
		ExpiresAt:    req.ExpiresAt,
		ClientID:     req.ClientID,
		ClientSecret: req.ClientSecret,
		ProfileARN:   req.ProfileARN,
		AuthMethod:   authMethod,
		Region:       req.Region,
		AuthRegion:   req.AuthRegion,
		APIRegion:    req.APIRegion,
		MachineID:    req.MachineID,
		Priority:     req.Priority,
		Email:        req.Email,
	}

	// Probe the upstream with a one-shot refresh before committing, unless
	// the caller already supplied a live access token (Cloud Pass injection
	// path, spec §4.6, already carries a fresh token from the license server).
	if cand.AccessToken == "" {
		if err := m.probeRefresh(ctx, cand); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	m.nextID++
	cand.ID = m.nextID
	m.credentials = append(m.credentials, cand)
	m.byID[cand.ID] = cand
	if m.currentID == 0 {
		m.currentID = cand.ID
	}
	m.mu.Unlock()

	m.persist()
	m.publish(events.TopicCredentialAdded, toStatusItem(cand.Clone()))
	return cand.ID, nil
}

func (m *Manager) probeRefresh(ctx context.Context, cand *Credential) error {
	if m.refresher == nil {
		return nil
	}
	tokenURI := m.defaultTokenURI
	result, err := m.refresher.RefreshToken(ctx, RefreshableCredentials{
		ClientID:     cand.ClientID,
		ClientSecret: cand.ClientSecret,
		RefreshToken: cand.RefreshToken,
		TokenURI:     tokenURI,
	})
	if err != nil {
		return err
	}
	cand.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		cand.RefreshToken = result.RefreshToken
	}
	if !result.ExpiresAt.IsZero() {
		expires := result.ExpiresAt
		cand.ExpiresAt = &expires
	}
	return nil
}

func validateRefreshToken(token string) error {
	if token == "" {
		return fmt.Errorf("missing refresh-token")
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty refresh-token")
	}
	if strings.Contains(token, "***") {
		return fmt.Errorf("truncated refresh-token")
	}
	return nil
}

// Delete removes a credential; if it was current, rotation is performed
// atomically as part of the delete (spec §9 design-note resolution of the
// original's "relies on a subsequent call to switch" open question).
func (m *Manager) Delete(id int64) error {
	m.mu.Lock()
	target, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("credential %d not found", id)
	}

	filtered := make([]*Credential, 0, len(m.credentials)-1)
	for _, c := range m.credentials {
		if c.ID != id {
			filtered = append(filtered, c)
		}
	}
	m.credentials = filtered
	delete(m.byID, id)

	var rotatedTo int64
	if m.currentID == id {
		rotatedTo = m.switchToNextLocked()
	}
	m.mu.Unlock()

	m.persist()
	m.publish(events.TopicCredentialDeleted, toStatusItem(target.Clone()))
	m.publishRotation(rotatedTo)
	return nil
}

// SetDisabled toggles a credential's disabled flag. Setting disabled=true on
// the current credential triggers switch_to_next afterward, per spec §4.4 —
// that rotation step lives here so both the admin service and any other
// caller of the manager observe the same atomic behavior.
func (m *Manager) SetDisabled(id int64, disabled bool) error {
	m.mu.Lock()
	target, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("credential %d not found", id)
	}

	target.mu.Lock()
	target.Disabled = disabled
	if !disabled {
		target.FailureCount = 0
	}
	target.mu.Unlock()

	wasCurrent := m.currentID == id
	var rotatedTo int64
	if disabled && wasCurrent {
		rotatedTo = m.switchToNextLocked()
	}
	m.mu.Unlock()

	m.persist()
	topic := events.TopicCredentialEnabled
	if disabled {
		topic = events.TopicCredentialDisabled
	}
	m.publish(topic, toStatusItem(target.Clone()))
	m.publishRotation(rotatedTo)
	return nil
}

// SetPriority updates a credential's scheduling priority.
func (m *Manager) SetPriority(id int64, priority uint32) error {
	m.mu.Lock()
	target, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("credential %d not found", id)
	}
	target.mu.Lock()
	target.Priority = priority
	target.mu.Unlock()
	m.mu.Unlock()

	m.persist()
	return nil
}

// ResetAndEnable clears failure-count and enables the credential.
func (m *Manager) ResetAndEnable(id int64) error {
	m.mu.RLock()
	target, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("credential %d not found", id)
	}

	target.mu.Lock()
	target.FailureCount = 0
	target.Disabled = false
	target.mu.Unlock()

	m.persist()
	m.publish(events.TopicCredentialEnabled, toStatusItem(target.Clone()))
	return nil
}

// recordFailure increments failure-count and, at threshold, disables the
// credential and (if it was current) rotates away from it. cred.mu and m.mu
// must NOT be held by the caller.
func (m *Manager) recordFailure(id int64, refreshErr error) {
	m.mu.Lock()
	target, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}

	var disabledNow bool
	target.mu.Lock()
	target.FailureCount++
	if target.FailureCount >= m.failureThreshold {
		target.Disabled = true
		disabledNow = true
	}
	target.mu.Unlock()

	var rotatedTo int64
	if disabledNow && m.currentID == id {
		rotatedTo = m.switchToNextLocked()
	}
	m.mu.Unlock()

	m.persist()
	if disabledNow {
		m.publish(events.TopicCredentialDisabled, toStatusItem(target.Clone()))
	}
	m.publishRotation(rotatedTo)
}

func (m *Manager) recordSuccess(id int64, result RefreshResult) {
	m.mu.RLock()
	target, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	now := m.now()
	target.mu.Lock()
	target.FailureCount = 0
	target.SuccessCount++
	target.LastUsedAt = &now
	target.AccessToken = result.AccessToken
	if result.RefreshToken != "" {
		target.RefreshToken = result.RefreshToken
	}
	if !result.ExpiresAt.IsZero() {
		expires := result.ExpiresAt
		target.ExpiresAt = &expires
	}
	target.mu.Unlock()

	m.persist()
}
