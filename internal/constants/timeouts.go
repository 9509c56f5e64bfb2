package constants

import "time"

const (
	// CredentialRefreshInterval controls how frequently the pool sweeps for
	// expiring credentials outside of on-demand refresh.
	CredentialRefreshInterval = 5 * time.Minute
	// ServerShutdownTimeout bounds graceful admin HTTP server shutdown.
	ServerShutdownTimeout = 10 * time.Second
)
