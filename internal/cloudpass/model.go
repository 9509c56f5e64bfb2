package cloudpass

import "encoding/json"

// getCredentialsRequest is the POST /api/get-credentials body.
type getCredentialsRequest struct {
	Code          string `json:"code"`
	DeviceID      string `json:"deviceId"`
	ClientVersion string `json:"clientVersion"`
	Reassign      *bool  `json:"reassign,omitempty"`
}

// heartbeatRequest is the shared body for /api/heartbeat and /api/claim-active.
type heartbeatRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"deviceId"`
}

// rawResponse is the response envelope as it comes over the wire: it may be
// plaintext (fields populated directly, possibly nested) or an encrypted
// envelope (key/iv/tag/data populated, data a base64 string rather than an
// object) — spec §4.5.
type rawResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`

	Encrypted bool          `json:"encrypted,omitempty"`
	Key       string        `json:"key,omitempty"`
	IV        string        `json:"iv,omitempty"`
	Tag       string        `json:"tag,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Credentials *nestedCreds `json:"credentials,omitempty"`

	// top-level flat fields, present when not nested
	AccessToken      string `json:"accessToken,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	ExpiresAt        string `json:"expiresAt,omitempty"`
	Region           string `json:"region,omitempty"`
	ProfileARN       string `json:"profileArn,omitempty"`
	Kicked           *bool  `json:"kicked,omitempty"`
	LicenseExpiresAt string `json:"licenseExpiresAt,omitempty"`
}

type nestedData struct {
	AccessToken      string       `json:"accessToken,omitempty"`
	RefreshToken     string       `json:"refreshToken,omitempty"`
	ClientID         string       `json:"clientId,omitempty"`
	ClientSecret     string       `json:"clientSecret,omitempty"`
	ExpiresAt        string       `json:"expiresAt,omitempty"`
	Region           string       `json:"region,omitempty"`
	ProfileARN       string       `json:"profileArn,omitempty"`
	Kicked           *bool        `json:"kicked,omitempty"`
	LicenseExpiresAt string       `json:"licenseExpiresAt,omitempty"`
	Credentials      *nestedCreds `json:"credentials,omitempty"`
}

type nestedCreds struct {
	AccessToken      string `json:"accessToken,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	ClientID         string `json:"clientId,omitempty"`
	ClientSecret     string `json:"clientSecret,omitempty"`
	ExpiresAt        string `json:"expiresAt,omitempty"`
	Region           string `json:"region,omitempty"`
	ProfileARN       string `json:"profileArn,omitempty"`
	Kicked           *bool  `json:"kicked,omitempty"`
	LicenseExpiresAt string `json:"licenseExpiresAt,omitempty"`
}

// ResolvedCredentials is the flat result produced by resolving a rawResponse
// per the precedence rules in spec §4.5.
type ResolvedCredentials struct {
	AccessToken      string
	RefreshToken     string
	ClientID         string
	ClientSecret     string
	ExpiresAt        string
	Region           string
	ProfileARN       string
	Kicked           bool
	LicenseExpiresAt string
}

// firstNonEmpty returns the first non-empty value. Callers pass one named
// field from each of the four candidate levels, most-specific first, matching
// spec §4.5's precedence: credentials > data.credentials > data.* > top-level.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstBool(vals ...*bool) bool {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return false
}

// resolve implements spec §4.5's response-shape precedence, taking the
// first non-null value per field across credentials / data.credentials /
// data.* / top-level.
func (r *rawResponse) resolve() ResolvedCredentials {
	var dataObj *nestedData
	if len(r.Data) > 0 {
		var d nestedData
		if err := json.Unmarshal(r.Data, &d); err == nil {
			dataObj = &d
		}
	}

	var dataCreds *nestedCreds
	if dataObj != nil {
		dataCreds = dataObj.Credentials
	}

	topCreds := r.Credentials

	str := func(topCredsVal, dataCredsVal, dataVal, topVal func() string) string {
		var a, b, c string
		if topCreds != nil {
			a = topCredsVal()
		}
		if dataCreds != nil {
			b = dataCredsVal()
		}
		if dataObj != nil {
			c = dataVal()
		}
		return firstNonEmpty(a, b, c, topVal())
	}

	res := ResolvedCredentials{
		AccessToken: str(
			func() string { return topCreds.AccessToken },
			func() string { return dataCreds.AccessToken },
			func() string { return dataObj.AccessToken },
			func() string { return r.AccessToken },
		),
		RefreshToken: str(
			func() string { return topCreds.RefreshToken },
			func() string { return dataCreds.RefreshToken },
			func() string { return dataObj.RefreshToken },
			func() string { return r.RefreshToken },
		),
		ClientID: str(
			func() string { return topCreds.ClientID },
			func() string { return dataCreds.ClientID },
			func() string { return dataObj.ClientID },
			func() string { return r.ClientID },
		),
		ClientSecret: str(
			func() string { return topCreds.ClientSecret },
			func() string { return dataCreds.ClientSecret },
			func() string { return dataObj.ClientSecret },
			func() string { return r.ClientSecret },
		),
		ExpiresAt: str(
			func() string { return topCreds.ExpiresAt },
			func() string { return dataCreds.ExpiresAt },
			func() string { return dataObj.ExpiresAt },
			func() string { return r.ExpiresAt },
		),
		Region: str(
			func() string { return topCreds.Region },
			func() string { return dataCreds.Region },
			func() string { return dataObj.Region },
			func() string { return r.Region },
		),
		ProfileARN: str(
			func() string { return topCreds.ProfileARN },
			func() string { return dataCreds.ProfileARN },
			func() string { return dataObj.ProfileARN },
			func() string { return r.ProfileARN },
		),
		LicenseExpiresAt: str(
			func() string { return topCreds.LicenseExpiresAt },
			func() string { return dataCreds.LicenseExpiresAt },
			func() string { return dataObj.LicenseExpiresAt },
			func() string { return r.LicenseExpiresAt },
		),
	}

	var topKicked, dataCredsKicked, dataKicked *bool
	if topCreds != nil {
		topKicked = topCreds.Kicked
	}
	if dataCreds != nil {
		dataCredsKicked = dataCreds.Kicked
	}
	if dataObj != nil {
		dataKicked = dataObj.Kicked
	}
	res.Kicked = firstBool(topKicked, dataCredsKicked, dataKicked, r.Kicked)

	return res
}
