package offlinebroker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultListLimit = 100

// Envelope is one store-and-forward envelope as returned by the broker's
// GET /store listing.
type Envelope struct {
	EnvelopeID      string `json:"envelope_id"`
	RecipientPeerID string `json:"recipient_peer_id"`
	SenderPeerID    string `json:"sender_peer_id"`
	MessageID       string `json:"message_id"`
	Type            string `json:"type"`
	EncryptedPayload []byte `json:"encrypted_payload"`
	ExpiresAt       int64  `json:"expires_at"`
}

type storeRequest struct {
	RecipientPeerID  string `json:"recipient_peer_id"`
	SenderPeerID     string `json:"sender_peer_id"`
	EncryptedPayload []byte `json:"encrypted_payload"`
	MessageID        string `json:"message_id"`
	Type             string `json:"type"`
}

type storeResponse struct {
	EnvelopeID string `json:"envelope_id"`
	ExpiresAt  int64  `json:"expires_at"`
}

// Client speaks the three-operation broker protocol over HTTP: POST
// /store, GET /store, DELETE /store. No HTTP client library appears
// anywhere in the example corpus beyond the standard library, so this is
// built directly on net/http with context deadlines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewClient builds a broker client against baseURL (e.g.
// "https://broker.example.com"). httpClient may be nil, in which case a
// client with a 30-second timeout is used.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        logrus.WithField("component", "offlinebroker"),
	}
}

// Store enqueues an encrypted envelope for recipientPeerID. Duplicate
// Store calls for the same (messageID, recipientPeerID) pair are
// idempotent on the broker side.
func (c *Client) Store(ctx context.Context, recipientPeerID, senderPeerID, messageID, msgType string, payload []byte) (envelopeID string, expiresAt int64, err error) {
	body, err := json.Marshal(storeRequest{
		RecipientPeerID:  recipientPeerID,
		SenderPeerID:     senderPeerID,
		EncryptedPayload: payload,
		MessageID:        messageID,
		Type:             msgType,
	})
	if err != nil {
		return "", 0, fmt.Errorf("offlinebroker: encode store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("offlinebroker: build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("offlinebroker: store request to %s: %w", recipientPeerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", 0, fmt.Errorf("offlinebroker: store request: unexpected status %d", resp.StatusCode)
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("offlinebroker: decode store response: %w", err)
	}
	return out.EnvelopeID, out.ExpiresAt, nil
}

// Retrieve lists envelopes waiting for peerID, bounded by limit (0 uses
// the broker's default of 100).
func (c *Client) Retrieve(ctx context.Context, peerID string, limit int) ([]Envelope, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	url := fmt.Sprintf("%s/store?peer_id=%s&limit=%d", c.baseURL, peerID, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("offlinebroker: build retrieve request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("offlinebroker: retrieve request for %s: %w", peerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("offlinebroker: retrieve request: unexpected status %d", resp.StatusCode)
	}

	var envelopes []Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelopes); err != nil {
		return nil, fmt.Errorf("offlinebroker: decode retrieve response: %w", err)
	}
	return envelopes, nil
}

// Acknowledge deletes envelopeIDs from the broker once the caller has
// durably consumed them.
func (c *Client) Acknowledge(ctx context.Context, envelopeIDs []string) error {
	if len(envelopeIDs) == 0 {
		return nil
	}

	body, err := json.Marshal(envelopeIDs)
	if err != nil {
		return fmt.Errorf("offlinebroker: encode acknowledge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/store", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("offlinebroker: build acknowledge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("offlinebroker: acknowledge request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("offlinebroker: acknowledge request: unexpected status %d", resp.StatusCode)
	}
	return nil
}
