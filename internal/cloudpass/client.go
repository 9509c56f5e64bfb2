// Package cloudpass implements the Cloud Pass Client (spec component C6):
// an HTTP client for the license server that fetches hybrid-encrypted
// credential bundles and posts heartbeats / reassignment claims.
package cloudpass

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// rsaPublicKeyPEM is the license server's fixed RSA public key, used only to
// undo the raw RSA encryption it applies to the per-response AES key — the
// same raw-modpow operation as Node's crypto.publicEncrypt/publicDecrypt.
const rsaPublicKeyPEM = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAzSEy6tgft6momfTbXV54
H1gTUgIqkjA103aQwyiolpdXmPY1NoCVR4IzgkZppoXNyYGtfJP1bbxYJHR3l0kX
ksnUe0Y8iuV75bjvHYMgOdNR1iqqRlQ8DM7FAq0IJ1Y5sY8UN8zqzkI9tGUrDaCh
0aIl7dXpKbhfBw4EbIGzsjTmSlbK1i25Jcq55knvKZVlH4E9N+zqETUIY5Njd3Xd
bVz53eaxXu1etKCf8VoFZWp7J3/0WR4CvThsZRtjls0YGTpZCuFwSg9byWwF0VKv
Mvr1L6n3eCH7UdEnLCJ2w9VSaGQ+lfcLBt5LTAhZzZrGikvyrllYmbUX9Ts3UzyQ
GQIDAQAB
-----END PUBLIC KEY-----`

// Config is the subset of configuration the client needs to talk to the
// license server (spec §6 cloudPass config block).
type Config struct {
	ServerURL     string
	LicenseCode   string
	DeviceID      string
	ClientVersion string
}

// Client calls the license server's /api/get-credentials, /api/heartbeat,
// and /api/claim-active endpoints.
type Client struct {
	httpClient    *http.Client
	serverURL     string
	licenseCode   string
	deviceID      string
	clientVersion string
	rsaPublicKey  *rsa.PublicKey
}

// New constructs a Client, resolving the device id from config or the
// on-disk device-id file if unset.
func New(cfg Config) (*Client, error) {
	deviceID := cfg.DeviceID
	if deviceID == "" {
		deviceID = readOrGenerateDeviceID()
	}

	pub, err := parseRSAPublicKey(rsaPublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("cloudpass: parse rsa public key: %w", err)
	}

	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		serverURL:     strings.TrimRight(cfg.ServerURL, "/"),
		licenseCode:   cfg.LicenseCode,
		deviceID:      deviceID,
		clientVersion: cfg.ClientVersion,
		rsaPublicKey:  pub,
	}, nil
}

// DeviceID returns the device id this client identifies itself with.
func (c *Client) DeviceID() string { return c.deviceID }

// GetCredentials calls /api/get-credentials and resolves the response into
// a flat credential bundle (spec §4.5).
func (c *Client) GetCredentials(ctx context.Context, reassign bool) (ResolvedCredentials, error) {
	req := getCredentialsRequest{
		Code:          c.licenseCode,
		DeviceID:      c.deviceID,
		ClientVersion: c.clientVersion,
	}
	if reassign {
		t := true
		req.Reassign = &t
	}

	var raw rawResponse
	if err := c.post(ctx, "/api/get-credentials", req, &raw); err != nil {
		return ResolvedCredentials{}, err
	}

	if raw.Encrypted {
		decrypted, err := c.decrypt(raw)
		if err != nil {
			return ResolvedCredentials{}, fmt.Errorf("cloudpass: decrypt response: %w", err)
		}
		raw = decrypted
	}

	if !raw.Success {
		msg := raw.Message
		if msg == "" {
			msg = "unknown error"
		}
		return ResolvedCredentials{}, fmt.Errorf("cloudpass: get-credentials failed: %s", msg)
	}

	return raw.resolve(), nil
}

// Heartbeat calls /api/heartbeat. Failure does not affect the caller's main
// flow (spec §4.6) — it returns an error for the caller to log, not to act on.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.postNoResponse(ctx, "/api/heartbeat", heartbeatRequest{Code: c.licenseCode, DeviceID: c.deviceID})
}

// ClaimActive calls /api/claim-active to reclaim an evicted device slot.
func (c *Client) ClaimActive(ctx context.Context) error {
	return c.postNoResponse(ctx, "/api/claim-active", heartbeatRequest{Code: c.licenseCode, DeviceID: c.deviceID})
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cloudpass: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloudpass: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cloudpass: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloudpass: decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) postNoResponse(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cloudpass: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloudpass: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cloudpass: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.WithField("path", path).WithField("status", resp.StatusCode).Warn("cloud pass request returned non-2xx")
	}
	return nil
}

// decrypt reverses the license server's hybrid encryption: the AES-256 data
// key arrives RSA-"encrypted" with the server's private key (recoverable via
// the matching public key's raw modular exponentiation, the same operation
// RSA signature verification performs), and the payload itself is AES-256-GCM
// sealed under that key (spec §4.5).
func (c *Client) decrypt(raw rawResponse) (rawResponse, error) {
	if raw.Key == "" || raw.IV == "" || raw.Tag == "" {
		return rawResponse{}, fmt.Errorf("encrypted response missing key/iv/tag")
	}

	encKey, err := base64.StdEncoding.DecodeString(raw.Key)
	if err != nil {
		return rawResponse{}, fmt.Errorf("decode key: %w", err)
	}
	ivBytes, err := base64.StdEncoding.DecodeString(raw.IV)
	if err != nil {
		return rawResponse{}, fmt.Errorf("decode iv: %w", err)
	}
	tagBytes, err := base64.StdEncoding.DecodeString(raw.Tag)
	if err != nil {
		return rawResponse{}, fmt.Errorf("decode tag: %w", err)
	}

	var encDataStr string
	if err := json.Unmarshal(raw.Data, &encDataStr); err != nil {
		return rawResponse{}, fmt.Errorf("encrypted response data is not a base64 string: %w", err)
	}
	encData, err := base64.StdEncoding.DecodeString(encDataStr)
	if err != nil {
		return rawResponse{}, fmt.Errorf("decode data: %w", err)
	}

	aesKey, err := rsaPublicDecrypt(c.rsaPublicKey, encKey)
	if err != nil {
		return rawResponse{}, fmt.Errorf("rsa unwrap aes key: %w", err)
	}
	if len(aesKey) != 32 {
		return rawResponse{}, fmt.Errorf("unwrapped aes key has length %d, want 32", len(aesKey))
	}

	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return rawResponse{}, fmt.Errorf("construct aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(ivBytes))
	if err != nil {
		return rawResponse{}, fmt.Errorf("construct gcm: %w", err)
	}

	ciphertextWithTag := append(append([]byte{}, encData...), tagBytes...)
	plaintext, err := gcm.Open(nil, ivBytes, ciphertextWithTag, nil)
	if err != nil {
		return rawResponse{}, fmt.Errorf("aes-gcm open: %w", err)
	}

	var decoded rawResponse
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		return rawResponse{}, fmt.Errorf("parse decrypted payload: %w", err)
	}
	return decoded, nil
}

// rsaPublicDecrypt performs the raw RSA operation m = c^e mod n and strips
// PKCS#1 v1.5 type-1 padding (0x00 0x01 [0xFF...] 0x00 [data]). This is the
// same low-level step RSA signature verification uses, repurposed here
// because the license server "encrypts" with its private key rather than
// signing, so ordinary RSA decryption (which expects private-key padding)
// does not apply.
func rsaPublicDecrypt(pub *rsa.PublicKey, ciphertext []byte) ([]byte, error) {
	keyLen := (pub.N.BitLen() + 7) / 8
	if len(ciphertext) != keyLen {
		return nil, fmt.Errorf("ciphertext length %d, want %d", len(ciphertext), keyLen)
	}

	c := new(big.Int).SetBytes(ciphertext)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)

	mBytes := m.Bytes()
	if len(mBytes) < keyLen {
		padded := make([]byte, keyLen)
		copy(padded[keyLen-len(mBytes):], mBytes)
		mBytes = padded
	}

	if len(mBytes) < 11 || mBytes[0] != 0x00 || mBytes[1] != 0x01 {
		return nil, fmt.Errorf("malformed pkcs#1 v1.5 padding")
	}

	i := 2
	for i < len(mBytes) && mBytes[i] == 0xFF {
		i++
	}
	if i >= len(mBytes) || mBytes[i] != 0x00 {
		return nil, fmt.Errorf("pkcs#1 v1.5 padding missing separator")
	}

	return mBytes[i+1:], nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return rsaPub, nil
}

// readOrGenerateDeviceID reads ~/.kiro-device-id, generating and persisting a
// fresh random 32-hex-char id on first run. Write failures are non-fatal: the
// generated id is still usable for the current process.
func readOrGenerateDeviceID() string {
	path := deviceIDPath()

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}

	id := randomHexID(32)
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		log.WithError(err).Warn("failed to persist device id file")
	}
	return id
}

func deviceIDPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".kiro-device-id")
}

func randomHexID(nChars int) string {
	buf := make([]byte, (nChars+1)/2)
	if _, err := crand.Read(buf); err != nil {
		log.WithError(err).Error("failed to read random bytes for device id")
	}
	return hex.EncodeToString(buf)[:nChars]
}
