package cloudpass

import (
	"context"
	"fmt"
	"strings"
	"time"

	"kiro-broker/internal/credential"

	log "github.com/sirupsen/logrus"
)

// Manager is the subset of credential.Manager the worker needs to inject
// refreshed credentials, kept narrow so tests can fake it.
type Manager interface {
	Add(ctx context.Context, req credential.AddRequest) (int64, error)
	GetUsageLimitsFor(ctx context.Context, id int64) (map[string]interface{}, error)
}

// Worker is the Cloud Pass background refresh task (spec component C7): it
// periodically (and on manual trigger) pulls a credential bundle from the
// license server and injects it into the credential pool via the same path
// the admin "add" operation uses.
type Worker struct {
	client    *Client
	manager   Manager
	state     *State
	interval  time.Duration
	reassign  bool
	machineID string
}

// NewWorker constructs a Worker. machineID, if non-empty, overrides the
// device id as the injected credential's machineId field (spec §4.6).
func NewWorker(client *Client, manager Manager, state *State, interval time.Duration, reassign bool, machineID string) *Worker {
	return &Worker{
		client:    client,
		manager:   manager,
		state:     state,
		interval:  interval,
		reassign:  reassign,
		machineID: machineID,
	}
}

// Run drives the refresh loop until ctx is canceled. It is intended to be
// launched via runtime.TaskManager.Start.
func (w *Worker) Run(ctx context.Context) error {
	log.WithFields(log.Fields{
		"serverUrl": w.state.Snapshot().ServerURL,
		"deviceId":  w.client.DeviceID(),
		"interval":  w.interval,
	}).Info("cloud pass worker started")

	select {
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		if err := w.refreshOnce(ctx); err != nil {
			w.state.RecordFailure(err.Error())
			log.WithError(err).Error("cloud pass credential refresh failed")
		} else {
			log.Info("cloud pass credential refresh succeeded")
		}

		if err := w.client.Heartbeat(ctx); err != nil {
			log.WithError(err).Warn("cloud pass heartbeat failed")
		}

		select {
		case <-time.After(w.interval):
		case <-w.state.RefreshSignal():
			log.Info("cloud pass received manual refresh request")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refreshOnce performs a single get-credentials + kicked/reassign resolution
// + injection cycle (spec §4.6).
func (w *Worker) refreshOnce(ctx context.Context) error {
	creds, err := w.client.GetCredentials(ctx, w.reassign)
	if err != nil {
		return err
	}

	if creds.Kicked {
		w.state.RecordKicked()
		log.Warn("cloud pass: this device has been kicked")

		if !w.reassign {
			return fmt.Errorf("device kicked; enable reassign to auto-claim")
		}

		log.Info("cloud pass: attempting to reclaim device slot")
		if err := w.client.ClaimActive(ctx); err != nil {
			return err
		}

		creds, err = w.client.GetCredentials(ctx, true)
		if err != nil {
			return err
		}
		if creds.Kicked {
			return fmt.Errorf("still kicked after reclaiming; check license code")
		}
	}

	if creds.LicenseExpiresAt != "" {
		log.WithField("licenseExpiresAt", creds.LicenseExpiresAt).Info("cloud pass license validity")
	}

	return w.inject(ctx, creds)
}

// inject writes a resolved credential bundle into the pool through
// Manager.Add — the same path the admin "add" operation uses (spec §4.6).
func (w *Worker) inject(ctx context.Context, creds ResolvedCredentials) error {
	if creds.RefreshToken == "" {
		return fmt.Errorf("server did not return a refreshToken")
	}

	machineID := w.machineID
	if machineID == "" {
		machineID = w.client.DeviceID()
	}

	req := credential.AddRequest{
		RefreshToken: creds.RefreshToken,
		AccessToken:  creds.AccessToken,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		ProfileARN:   creds.ProfileARN,
		AuthMethod:   "idc",
		Region:       creds.Region,
		MachineID:    machineID,
	}
	if creds.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, creds.ExpiresAt); err == nil {
			req.ExpiresAt = &t
		}
	}

	log.WithFields(log.Fields{
		"accessToken":  maskPrefix(creds.AccessToken),
		"refreshToken": maskPrefix(creds.RefreshToken),
		"region":       creds.Region,
		"profileArn":   creds.ProfileARN,
	}).Info("cloud pass credential resolved")

	id, err := w.manager.Add(ctx, req)
	if err != nil {
		// A duplicate refresh-token means the bundle hasn't changed since
		// the last cycle: that's a successful no-op, not a failure.
		if strings.Contains(err.Error(), "duplicate") {
			log.Info("cloud pass credential unchanged, skipping injection")
			w.state.RecordSuccess(nil, creds.LicenseExpiresAt, creds.Kicked)
			return nil
		}
		return err
	}

	log.WithField("credentialId", id).Info("cloud pass credential injected")
	w.state.RecordSuccess(&id, creds.LicenseExpiresAt, creds.Kicked)

	if _, err := w.manager.GetUsageLimitsFor(ctx, id); err != nil {
		log.WithError(err).Warn("failed to fetch subscription tier for injected credential")
	}

	return nil
}

func maskPrefix(s string) string {
	if len(s) <= 8 {
		if s == "" {
			return "N/A"
		}
		return s
	}
	return s[:8]
}
