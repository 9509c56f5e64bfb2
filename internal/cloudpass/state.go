package cloudpass

import (
	"context"
	"sync"
	"time"

	"kiro-broker/internal/events"
)

// Status is the point-in-time snapshot of the Cloud Pass worker's state
// (spec §3 CloudPassState), read by the admin service and written only by
// the worker.
type Status struct {
	Enabled             bool      `json:"enabled"`
	Connected           bool      `json:"connected"`
	ServerURL           string    `json:"serverUrl"`
	DeviceID            string    `json:"deviceId"`
	LicenseCodeMasked   string    `json:"licenseCodeMasked"`
	RefreshIntervalSecs int       `json:"refreshIntervalSeconds"`
	Reassign            bool      `json:"reassign"`
	ClientVersion       string    `json:"clientVersion"`
	LastRefreshAt       *time.Time `json:"lastRefreshAt,omitempty"`
	LastRefreshOK       bool      `json:"lastRefreshOk"`
	LastRefreshError    string    `json:"lastRefreshError,omitempty"`
	RefreshSuccessCount uint64    `json:"refreshSuccessCount"`
	RefreshFailureCount uint64    `json:"refreshFailureCount"`
	LicenseExpiresAt    string    `json:"licenseExpiresAt,omitempty"`
	Kicked              bool      `json:"kicked"`
	InjectedCredentialID *int64   `json:"injectedCredentialId,omitempty"`
}

// State is the worker's shared, thread-safe status plus the manual-refresh
// trigger (spec §4.6): worker writes, admin service reads.
type State struct {
	mu     sync.RWMutex
	status Status

	// refreshSignal coalesces manual-refresh requests into a single pending
	// wakeup: a size-1 buffered channel stands in for the source's async
	// notifier, where a send that finds the buffer full is simply dropped
	// because a refresh is already pending.
	refreshSignal chan struct{}

	publisher events.Publisher
}

// SetPublisher wires the hub the worker announces status changes on. Left
// unset, status updates are simply not published (used in tests that don't
// care about the event feed).
func (s *State) SetPublisher(p events.Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

func (s *State) publish() {
	s.mu.RLock()
	p := s.publisher
	snapshot := s.status
	s.mu.RUnlock()
	if p == nil {
		return
	}
	p.Publish(context.Background(), events.TopicCloudPassStatus, snapshot, nil)
}

// Disabled returns a State representing an unconfigured Cloud Pass worker.
func Disabled() *State {
	return &State{
		status:        Status{Enabled: false},
		refreshSignal: make(chan struct{}, 1),
	}
}

// NewState builds the initial State for a configured Cloud Pass worker.
func NewState(serverURL, deviceID, licenseCode string, refreshIntervalSecs int, reassign bool, clientVersion string) *State {
	return &State{
		status: Status{
			Enabled:             true,
			ServerURL:           serverURL,
			DeviceID:            deviceID,
			LicenseCodeMasked:   maskLicenseCode(licenseCode),
			RefreshIntervalSecs: refreshIntervalSecs,
			Reassign:            reassign,
			ClientVersion:       clientVersion,
		},
		refreshSignal: make(chan struct{}, 1),
	}
}

func maskLicenseCode(code string) string {
	if len(code) > 6 {
		return code[:6] + "***"
	}
	return code + "***"
}

// Snapshot returns a copy of the current status.
func (s *State) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RecordSuccess updates status after a successful refresh + injection cycle.
func (s *State) RecordSuccess(credentialID *int64, licenseExpiresAt string, kicked bool) {
	s.mu.Lock()
	now := time.Now()
	s.status.Connected = true
	s.status.LastRefreshAt = &now
	s.status.LastRefreshOK = true
	s.status.LastRefreshError = ""
	s.status.RefreshSuccessCount++
	s.status.Kicked = kicked
	if credentialID != nil {
		s.status.InjectedCredentialID = credentialID
	}
	if licenseExpiresAt != "" {
		s.status.LicenseExpiresAt = licenseExpiresAt
	}
	s.mu.Unlock()

	s.publish()
}

// RecordFailure updates status after a failed refresh attempt.
func (s *State) RecordFailure(errMsg string) {
	s.mu.Lock()
	now := time.Now()
	s.status.LastRefreshAt = &now
	s.status.LastRefreshOK = false
	s.status.LastRefreshError = errMsg
	s.status.RefreshFailureCount++
	s.mu.Unlock()

	s.publish()
}

// RecordKicked marks the device as evicted by the license server.
func (s *State) RecordKicked() {
	s.mu.Lock()
	s.status.Kicked = true
	s.mu.Unlock()

	s.publish()
}

// DeviceID returns the configured device id.
func (s *State) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.DeviceID
}

// TriggerRefresh requests an out-of-band refresh cycle. A pending request
// that hasn't been consumed yet is not duplicated.
func (s *State) TriggerRefresh() {
	select {
	case s.refreshSignal <- struct{}{}:
	default:
	}
}

// RefreshSignal exposes the channel the worker selects on alongside its
// interval timer.
func (s *State) RefreshSignal() <-chan struct{} {
	return s.refreshSignal
}
