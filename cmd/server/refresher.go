package main

import (
	"context"

	"kiro-broker/internal/credential"
	"kiro-broker/internal/oauth"
)

// oauthRefresher adapts oauth.Manager's Credentials/Refreshed shapes to the
// credential.Refresher interface the pool depends on. The pool package
// never imports oauth directly: this is the sole wiring point, left at the
// composition root (cmd/server) where concrete implementations meet their
// abstract consumers.
type oauthRefresher struct {
	manager *oauth.Manager
}

func (r *oauthRefresher) RefreshToken(ctx context.Context, creds credential.RefreshableCredentials) (credential.RefreshResult, error) {
	refreshed, err := r.manager.RefreshToken(ctx, oauth.Credentials{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RefreshToken: creds.RefreshToken,
		TokenURI:     creds.TokenURI,
	})
	if err != nil {
		return credential.RefreshResult{}, err
	}
	return credential.RefreshResult{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.ExpiresAt,
	}, nil
}
