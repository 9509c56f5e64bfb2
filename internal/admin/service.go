// Package admin implements the Admin Service (spec component C5): the
// business-logic layer that mutates the credential pool and classifies
// heterogeneous upstream errors into the stable taxonomy (spec §7).
package admin

import (
	"context"
	"fmt"
	"time"

	"kiro-broker/internal/apierrors"
	"kiro-broker/internal/balance"
	"kiro-broker/internal/credential"
)

// Service wraps the credential Manager and the balance Cache, enforcing the
// business rules in spec §4.4.
type Service struct {
	manager *credential.Manager
	cache   *balance.Cache
}

// NewService constructs a Service.
func NewService(manager *credential.Manager, cache *balance.Cache) *Service {
	return &Service{manager: manager, cache: cache}
}

// GetAllCredentials returns the pool snapshot.
func (s *Service) GetAllCredentials() credential.Snapshot {
	return s.manager.Snapshot()
}

// AddCredential validates and inserts a credential, classifying any failure.
func (s *Service) AddCredential(ctx context.Context, req credential.AddRequest) (int64, error) {
	id, err := s.manager.Add(ctx, req)
	if err != nil {
		return 0, apierrors.ClassifyAdd(err)
	}
	return id, nil
}

// DeleteCredential removes a credential and purges its balance cache entry.
func (s *Service) DeleteCredential(id int64) error {
	if err := s.manager.Delete(id); err != nil {
		return apierrors.ClassifyLookup(err)
	}
	s.cache.Delete(id)
	return nil
}

// SetDisabled toggles a credential's disabled flag. When disabling the
// current credential, the manager itself performs switch_to_next as part of
// SetDisabled — see credential.Manager.SetDisabled.
func (s *Service) SetDisabled(id int64, disabled bool) error {
	if err := s.manager.SetDisabled(id, disabled); err != nil {
		return apierrors.ClassifyLookup(err)
	}
	return nil
}

// SetPriority updates a credential's scheduling priority.
func (s *Service) SetPriority(id int64, priority uint32) error {
	if err := s.manager.SetPriority(id, priority); err != nil {
		return apierrors.ClassifyLookup(err)
	}
	return nil
}

// ResetAndEnable clears failure-count and enables the credential.
func (s *Service) ResetAndEnable(id int64) error {
	if err := s.manager.ResetAndEnable(id); err != nil {
		return apierrors.ClassifyLookup(err)
	}
	return nil
}

// GetBalance is the cache-through get_balance operation (spec §4.3 + §4.4).
func (s *Service) GetBalance(ctx context.Context, id int64) (balance.Payload, error) {
	if _, ok := s.manager.GetByID(id); !ok {
		return balance.Payload{}, apierrors.New(apierrors.NotFound, fmt.Sprintf("credential %d not found", id))
	}

	payload, err := s.cache.GetOrCompute(id, func(id int64) (balance.Payload, error) {
		raw, err := s.manager.GetUsageLimitsFor(ctx, id)
		if err != nil {
			return balance.Payload{}, err
		}
		return payloadFromRaw(raw), nil
	})
	if err != nil {
		return balance.Payload{}, apierrors.ClassifyBalance(err)
	}
	return payload, nil
}

func payloadFromRaw(raw map[string]interface{}) balance.Payload {
	getFloat := func(key string) float64 {
		if v, ok := raw[key]; ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
		return 0
	}

	usage := getFloat("currentUsage")
	limit := getFloat("usageLimit")
	remaining := limit - usage
	if remaining < 0 {
		remaining = 0
	}
	var pct float64
	if limit > 0 {
		pct = usage / limit * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
	}

	title, _ := raw["subscriptionTitle"].(string)

	var nextReset *time.Time
	if s, ok := raw["nextDateReset"].(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			nextReset = &t
		}
	}

	return balance.Payload{
		CurrentUsage:      usage,
		UsageLimit:        limit,
		Remaining:         remaining,
		UsagePercentage:   pct,
		NextResetAt:       nextReset,
		SubscriptionTitle: title,
	}
}

// LoadBalancingMode returns the current scheduling policy.
func (s *Service) LoadBalancingMode() credential.LoadBalancingMode {
	return s.manager.LoadBalancingMode()
}

// SetLoadBalancingMode validates and applies a new scheduling policy;
// invalid input is a client error, not internal (spec §4.4).
func (s *Service) SetLoadBalancingMode(mode string) error {
	m := credential.LoadBalancingMode(mode)
	if m != credential.ModePriority && m != credential.ModeBalanced {
		return apierrors.New(apierrors.InvalidInput, fmt.Sprintf("invalid load balancing mode %q", mode))
	}
	if err := s.manager.SetLoadBalancingMode(m); err != nil {
		return apierrors.New(apierrors.InvalidInput, err.Error())
	}
	return nil
}
