package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// RelayCredentials is a time-limited TURN-style credential set for relaying
// call media through a relay server, per spec §4.7/§6: a username of the
// form "<expiry-unix>:<user>" and a password derived as
// base64(HMAC-SHA1(secret, username)) so the relay can verify it without a
// shared session, only the long-lived HMAC secret.
type RelayCredentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	TTL      int64    `json:"ttl"`
}

type credentialRequest struct {
	Username   string `json:"username"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// CredentialClient fetches relay credentials from a credential endpoint
// over HTTP, mirroring offlinebroker.Client's net/http-direct shape since
// no HTTP client library appears anywhere in the example corpus.
type CredentialClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewCredentialClient builds a client against baseURL (e.g.
// "https://relay.example.com"). httpClient may be nil, in which case a
// client with a 10-second timeout is used.
func NewCredentialClient(baseURL string, httpClient *http.Client) *CredentialClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &CredentialClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        logrus.WithField("component", "voice.credentials"),
	}
}

// Fetch requests relay credentials for username valid for ttlSeconds.
func (c *CredentialClient) Fetch(ctx context.Context, username string, ttlSeconds int64) (RelayCredentials, error) {
	body, err := json.Marshal(credentialRequest{Username: username, TTLSeconds: ttlSeconds})
	if err != nil {
		return RelayCredentials{}, fmt.Errorf("voice: encode credential request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credentials", bytes.NewReader(body))
	if err != nil {
		return RelayCredentials{}, fmt.Errorf("voice: build credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return RelayCredentials{}, fmt.Errorf("voice: credential request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RelayCredentials{}, fmt.Errorf("voice: credential request: unexpected status %d", resp.StatusCode)
	}

	var out RelayCredentials
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return RelayCredentials{}, fmt.Errorf("voice: decode credential response: %w", err)
	}
	return out, nil
}
