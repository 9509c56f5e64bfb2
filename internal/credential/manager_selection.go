package credential

import "sort"

// orderedLocked returns credentials ordered by (priority asc, id asc); the
// deterministic order used by both scheduling policies (spec §4.2).
func (m *Manager) orderedLocked() []*Credential {
	ordered := make([]*Credential, len(m.credentials))
	copy(ordered, m.credentials)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

func isSelectable(c *Credential) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.Disabled
}

// firstSelectableLocked picks the initial current-id on load: in priority
// mode the lowest-priority enabled credential; in balanced mode the first
// in ring order. Must be called with m.mu held.
func (m *Manager) firstSelectableLocked() int64 {
	for _, c := range m.orderedLocked() {
		if isSelectable(c) {
			return c.ID
		}
	}
	return 0
}

// currentLocked resolves the current credential pointer, re-picking if the
// stored current-id is stale (deleted or disabled). Must be called with
// m.mu held for read or write.
func (m *Manager) currentLocked() *Credential {
	if m.currentID != 0 {
		if c, ok := m.byID[m.currentID]; ok && isSelectable(c) {
			return c
		}
	}
	for _, c := range m.orderedLocked() {
		if isSelectable(c) {
			return c
		}
	}
	return nil
}

// switchToNextLocked advances current-id to the next selectable credential
// under the active policy. Must be called with m.mu (write) held.
func (m *Manager) switchToNextLocked() int64 {
	ordered := m.orderedLocked()
	if len(ordered) == 0 {
		m.currentID = 0
		return 0
	}

	switch m.mode {
	case ModeBalanced:
		n := len(ordered)
		for i := 0; i < n; i++ {
			m.ringPos = (m.ringPos + 1) % n
			cand := ordered[m.ringPos]
			if isSelectable(cand) {
				m.currentID = cand.ID
				return m.currentID
			}
		}
	default: // ModePriority: sticky lowest-priority enabled credential
		for _, cand := range ordered {
			if isSelectable(cand) {
				m.currentID = cand.ID
				return m.currentID
			}
		}
	}

	m.currentID = 0
	return 0
}

// SwitchToNext performs an atomic rotation to the next selectable credential
// and publishes TopicCredentialRotated for the new current credential.
func (m *Manager) SwitchToNext() int64 {
	m.mu.Lock()
	newID := m.switchToNextLocked()
	m.mu.Unlock()

	m.publishRotation(newID)
	return newID
}
