package credential

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"kiro-broker/internal/events"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// Refresher is the opaque token refresher (spec component C2): given a
// credential it returns a refreshed access token. The manager depends on
// this interface only; internal/oauth supplies the concrete implementation.
type Refresher interface {
	RefreshToken(ctx context.Context, creds RefreshableCredentials) (RefreshResult, error)
}

// RefreshableCredentials is the subset of a Credential a Refresher needs.
type RefreshableCredentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURI     string
}

// RefreshResult is what a successful refresh produces.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// UsageProbe fetches raw upstream usage data for a credential; errors are
// preserved unclassified for the admin service to classify (spec §4.2).
type UsageProbe interface {
	GetUsageLimitsFor(ctx context.Context, cred *Credential) (map[string]interface{}, error)
}

// LoadBalancingMode is the pool's scheduling policy.
type LoadBalancingMode string

const (
	ModePriority LoadBalancingMode = "priority"
	ModeBalanced LoadBalancingMode = "balanced"
)

// Options configure a Manager.
type Options struct {
	Store             *Store
	Refresher         Refresher
	UsageProbe        UsageProbe
	Publisher         events.Publisher
	FailureThreshold  uint32        // default 3
	RefreshSkew       time.Duration // default 300s
	LoadBalancingMode LoadBalancingMode
	TokenURI          string // default token endpoint used when a credential doesn't carry its own
	Now               func() time.Time
}

// Manager is the Multi-Token Manager (C3): scheduling, selection, failure
// tracking, concurrent-refresh suppression, rotation.
type Manager struct {
	mu           sync.RWMutex
	credentials  []*Credential
	byID         map[int64]*Credential
	nextID       int64
	currentID    int64
	mode         LoadBalancingMode
	ringPos      int

	failureThreshold uint32
	refreshSkew      time.Duration
	defaultTokenURI  string

	store      *Store
	refresher  Refresher
	usageProbe UsageProbe
	publisher  events.Publisher
	refreshGate *InflightCoordinator

	persistMu sync.Mutex
	now       func() time.Time
}

// NewManager constructs a Manager with the given options, applying defaults
// documented in spec §9 (threshold=3, skew=300s).
func NewManager(opts Options) *Manager {
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 3
	}
	skew := opts.RefreshSkew
	if skew <= 0 {
		skew = 300 * time.Second
	}
	mode := opts.LoadBalancingMode
	if mode == "" {
		mode = ModePriority
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		credentials:      make([]*Credential, 0),
		byID:             make(map[int64]*Credential),
		failureThreshold: threshold,
		refreshSkew:      skew,
		defaultTokenURI:  opts.TokenURI,
		mode:             mode,
		store:            opts.Store,
		refresher:        opts.Refresher,
		usageProbe:       opts.UsageProbe,
		publisher:        opts.Publisher,
		refreshGate:      NewInflightCoordinator(),
		now:              now,
	}
}

// Load reads the persisted pool from disk, restoring nextID/currentID.
func (m *Manager) Load() error {
	if m.store == nil {
		return nil
	}
	creds, err := m.store.Load()
	if err != nil {
		return err
	}

	sort.Slice(creds, func(i, j int) bool { return creds[i].ID < creds[j].ID })

	m.mu.Lock()
	m.credentials = creds
	m.byID = make(map[int64]*Credential, len(creds))
	var maxID int64
	for _, c := range creds {
		m.byID[c.ID] = c
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	m.nextID = maxID
	if len(creds) > 0 {
		m.currentID = m.firstSelectableLocked()
	}
	m.mu.Unlock()

	log.Infof("credential pool loaded: %d credentials", len(creds))
	return nil
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	m.mu.RLock()
	snapshot := make([]*Credential, len(m.credentials))
	copy(snapshot, m.credentials)
	m.mu.RUnlock()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.store.Save(snapshot); err != nil {
		log.WithError(err).Error("failed to persist credential pool")
	}
}

func (m *Manager) publish(topic events.Topic, payload interface{}) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(context.Background(), topic, payload, nil)
}

// publishRotation announces the credential switch_to_next landed on, if any.
// Called after m.mu has been released, never while held, matching every
// other mutator's persist-then-publish ordering.
func (m *Manager) publishRotation(newCurrentID int64) {
	if newCurrentID == 0 {
		return
	}
	m.mu.RLock()
	c, ok := m.byID[newCurrentID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.publish(events.TopicCredentialRotated, toStatusItem(c.Clone()))
}

// Snapshot returns a non-blocking, lock-free point-in-time view of the pool.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]StatusItem, 0, len(m.credentials))
	available := 0
	ordered := make([]*Credential, len(m.credentials))
	copy(ordered, m.credentials)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, c := range ordered {
		clone := c.Clone()
		if !clone.Disabled {
			available++
		}
		items = append(items, toStatusItem(clone))
	}

	return Snapshot{
		Total:     len(m.credentials),
		Available: available,
		CurrentID: m.currentID,
		Items:     items,
	}
}

func toStatusItem(c *Credential) StatusItem {
	return StatusItem{
		ID:                c.ID,
		AuthMethod:        c.AuthMethod,
		Region:            c.Region,
		AuthRegion:        c.AuthRegion,
		APIRegion:         c.APIRegion,
		MachineID:         c.MachineID,
		Priority:          c.Priority,
		Disabled:          c.Disabled,
		FailureCount:      c.FailureCount,
		SuccessCount:      c.SuccessCount,
		LastUsedAt:        c.LastUsedAt,
		SubscriptionTitle: c.SubscriptionTitle,
		Email:             c.Email,
		RefreshTokenHash:  refreshTokenHash(c.RefreshToken),
	}
}

// refreshTokenHash derives a display-only fingerprint for a refresh token so
// admin snapshots can distinguish credentials without ever exposing the
// secret itself.
func refreshTokenHash(refreshToken string) string {
	if refreshToken == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])
}

// LoadBalancingMode returns the active scheduling policy.
func (m *Manager) LoadBalancingMode() LoadBalancingMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetLoadBalancingMode validates and sets the scheduling policy.
func (m *Manager) SetLoadBalancingMode(mode LoadBalancingMode) error {
	if mode != ModePriority && mode != ModeBalanced {
		return fmt.Errorf("invalid load balancing mode %q", mode)
	}
	m.mu.Lock()
	m.mode = mode
	m.ringPos = 0
	m.mu.Unlock()
	return nil
}

// get-by-id, no clone, for internal mutation use under m.mu.
func (m *Manager) lookupLocked(id int64) (*Credential, bool) {
	c, ok := m.byID[id]
	return c, ok
}

// GetByID returns a cloned credential by id.
func (m *Manager) GetByID(id int64) (*Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}
