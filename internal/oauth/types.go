package oauth

import "time"

// Credentials carries the fields a token refresh needs; it is the opaque
// refresher's view into a credential.Credential, decoupled from the pool's
// own type so this package has no dependency on internal/credential.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURI     string
}

// Refreshed is the result of a successful refresh.
type Refreshed struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
