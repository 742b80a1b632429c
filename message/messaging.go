package message

import (
	"context"
	cryptorand "crypto/rand"
	cryptosha256 "crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/offlinebroker"
	"github.com/edsonmartins/mepassa/session"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/wire"
)

// Sender delivers an already-framed message to a peer. Implemented by
// whatever layer owns reaching the peer (connmgr, a relay, a direct
// transport) — the handler itself only knows how to build and interpret
// frames, keeping the handler decoupled from connmgr/overlay specifics.
type Sender interface {
	Send(peer crypto.PeerID, frame *wire.Frame) error
}

// InboundCallback notifies the host application of a successfully
// decrypted inbound message.
type InboundCallback func(peer crypto.PeerID, conversationID, messageID, body string)

// SessionResetCallback notifies the host that a peer's session was torn
// down after exceeding the decrypt-failure threshold, so the host can
// re-establish a session (a fresh handshake) before further sends.
type SessionResetCallback func(peer crypto.PeerID, reason error)

// TypingCallback notifies the host of an inbound typing indicator.
type TypingCallback func(peer crypto.PeerID)

type failureWindow struct {
	count       int
	windowStart time.Time
}

// Handler drives the outbound/inbound message lifecycle: encrypting
// through a peer's session.Session, persisting status through
// store.Store, and reacting to ACKs, read receipts, and repeated decrypt
// failures.
type Handler struct {
	self   crypto.PeerID
	sender Sender
	store  *store.Store
	broker *offlinebroker.Client
	nonces *crypto.NonceStore

	mu       sync.Mutex
	sessions map[crypto.PeerID]*session.Session
	failures map[crypto.PeerID]*failureWindow

	onInbound      InboundCallback
	onSessionReset SessionResetCallback
	onTyping       TypingCallback

	log *logrus.Entry
}

// NewHandler creates a message handler for the local peer self, sending
// through sender and persisting through st.
func NewHandler(self crypto.PeerID, sender Sender, st *store.Store) *Handler {
	return &Handler{
		self:     self,
		sender:   sender,
		store:    st,
		sessions: make(map[crypto.PeerID]*session.Session),
		failures: make(map[crypto.PeerID]*failureWindow),
		log:      logrus.WithField("component", "message"),
	}
}

// AddSession registers the session used to encrypt/decrypt traffic with
// peer, replacing any prior session for that peer.
func (h *Handler) AddSession(peer crypto.PeerID, s *session.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[peer] = s
	delete(h.failures, peer)
}

// RemoveSession drops the session for peer, if any.
func (h *Handler) RemoveSession(peer crypto.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, peer)
}

// HasSession reports whether a session is currently established with peer.
func (h *Handler) HasSession(peer crypto.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[peer]
	return ok
}

// OnInboundMessage sets the callback invoked for every successfully
// decrypted inbound chat message.
func (h *Handler) OnInboundMessage(cb InboundCallback) { h.onInbound = cb }

// OnSessionReset sets the callback invoked when a peer's session is torn
// down after repeated decrypt failures.
func (h *Handler) OnSessionReset(cb SessionResetCallback) { h.onSessionReset = cb }

// OnTyping sets the callback invoked for inbound typing indicators.
func (h *Handler) OnTyping(cb TypingCallback) { h.onTyping = cb }

// SetOfflineBroker attaches the client used to fall back to store-and-
// forward delivery when the connection manager reports a peer
// unreachable. A handler with no broker attached simply fails the send.
func (h *Handler) SetOfflineBroker(broker *offlinebroker.Client) { h.broker = broker }

// SetNonceStore attaches the replay-detection store consulted before every
// inbound message frame is decrypted. A handler with no store attached
// performs no frame-level replay check (decrypt-failure counting still
// applies).
func (h *Handler) SetNonceStore(ns *crypto.NonceStore) { h.nonces = ns }

// frameNonce derives the 32-byte replay-detection key for an inbound frame
// from the sending peer and the frame's message id: the double ratchet's
// skipped-message-key cache can successfully re-decrypt a captured-and-
// replayed frame, so replay rejection has to happen before Decrypt is
// ever called rather than relying on it to fail.
func frameNonce(peer crypto.PeerID, frame *wire.Frame) [32]byte {
	h := cryptosha256.New()
	h.Write([]byte(peer.String()))
	h.Write([]byte(frame.MessageID))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (h *Handler) sessionFor(peer crypto.PeerID) (*session.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[peer]
	return s, ok
}

// SendMessage encrypts text through peer's session and dispatches it,
// persisting the message as MessageStatusPending first and advancing it to
// MessageStatusSent once the send call itself succeeds; delivery and read
// confirmation arrive later via HandleInbound's ACK/read-receipt handling.
// If the send fails with errs.ErrUnreachable, the ciphertext is instead
// enqueued with the offline broker (when one is attached) and the message
// stays pending; any other send error marks it failed.
func (h *Handler) SendMessage(ctx context.Context, conversationID string, peer crypto.PeerID, text string) (string, error) {
	s, ok := h.sessionFor(peer)
	if !ok {
		return "", ErrNoSession
	}

	header, ciphertext, err := s.Encrypt([]byte(text))
	if err != nil {
		return "", fmt.Errorf("message: encrypt for %s: %w", peer, err)
	}

	messageID, err := generateMessageID()
	if err != nil {
		return "", fmt.Errorf("message: generate message id: %w", err)
	}

	now := time.Now()
	frame := &wire.Frame{
		Type:             wire.TypeMessage,
		MessageID:        messageID,
		Sender:           h.self.String(),
		RecipientOrGroup: peer.String(),
		TimestampMs:      uint64(now.UnixMilli()),
		Ciphertext:       encodeEnvelope(header, ciphertext),
	}

	if err := h.store.InsertMessage(ctx, store.Message{
		ID:             messageID,
		ConversationID: conversationID,
		SenderPeerID:   h.self.String(),
		Body:           text,
		Timestamp:      now.UnixMilli(),
	}); err != nil {
		return "", fmt.Errorf("message: persist outbound message: %w", err)
	}

	if err := h.sender.Send(peer, frame); err != nil {
		if errors.Is(err, errs.ErrUnreachable) {
			return messageID, h.fallbackToOfflineBroker(ctx, conversationID, messageID, peer, frame.Ciphertext, err)
		}
		if statusErr := h.store.UpdateMessageStatus(ctx, messageID, store.MessageStatusFailed); statusErr != nil {
			h.log.WithError(statusErr).Warn("failed to mark message failed")
		}
		return messageID, fmt.Errorf("message: send to %s: %w", peer, err)
	}

	if err := h.store.UpdateMessageStatus(ctx, messageID, store.MessageStatusSent); err != nil {
		h.log.WithError(err).Warn("failed to mark message sent")
	}

	return messageID, nil
}

// fallbackToOfflineBroker enqueues ciphertext with the attached broker and
// caches it locally so a retried POST after a network error is
// recognizable as the same delivery attempt. The message stays pending and
// nil is returned once the broker accepts the envelope; with no broker
// attached, or when the broker store fails, the returned error wraps the
// cause.
func (h *Handler) fallbackToOfflineBroker(ctx context.Context, conversationID, messageID string, peer crypto.PeerID, ciphertext []byte, sendErr error) error {
	if h.broker == nil {
		return fmt.Errorf("message: send to %s: %w (no offline broker attached)", peer, sendErr)
	}

	envelopeID, expiresAt, err := h.broker.Store(ctx, peer.String(), h.self.String(), messageID, "text", ciphertext)
	if err != nil {
		return fmt.Errorf("message: offline broker store for %s: %w", peer, err)
	}

	if err := h.store.PutOfflineEnvelope(ctx, store.OfflineEnvelope{
		EnvelopeID:      envelopeID,
		RecipientPeerID: peer.String(),
		SenderPeerID:    h.self.String(),
		MessageID:       messageID,
		Payload:         ciphertext,
		ReceivedAt:      time.Now().Unix(),
	}); err != nil {
		h.log.WithError(err).Warn("failed to cache staged offline envelope")
	}

	h.log.WithFields(logrus.Fields{
		"peer":       peer,
		"envelope":   envelopeID,
		"expires_at": expiresAt,
	}).Info("peer unreachable, message queued with offline broker")
	return nil
}

// SendTyping notifies peer that the local user is composing a message.
func (h *Handler) SendTyping(peer crypto.PeerID) error {
	frame := &wire.Frame{
		Type:             wire.TypeTyping,
		Sender:           h.self.String(),
		RecipientOrGroup: peer.String(),
		TimestampMs:      uint64(time.Now().UnixMilli()),
	}
	return h.sender.Send(peer, frame)
}

// SendReadReceipt tells the sender of messageID that it has been read.
func (h *Handler) SendReadReceipt(peer crypto.PeerID, messageID string) error {
	frame := &wire.Frame{
		Type:             wire.TypeReadReceipt,
		MessageID:        messageID,
		Sender:           h.self.String(),
		RecipientOrGroup: peer.String(),
		TimestampMs:      uint64(time.Now().UnixMilli()),
	}
	return h.sender.Send(peer, frame)
}

// HandleInbound processes one frame received from peer, dispatching by
// wire.Type: MESSAGE frames are decrypted and persisted, ACK/READ_RECEIPT
// frames advance the corresponding outbound message's status, and TYPING
// frames are forwarded to the typing callback.
func (h *Handler) HandleInbound(ctx context.Context, peer crypto.PeerID, conversationID string, frame *wire.Frame) error {
	switch frame.Type {
	case wire.TypeMessage:
		return h.handleInboundMessage(ctx, peer, conversationID, frame)
	case wire.TypeAck:
		return h.store.UpdateMessageStatus(ctx, frame.MessageID, store.MessageStatusDelivered)
	case wire.TypeReadReceipt:
		return h.store.UpdateMessageStatus(ctx, frame.MessageID, store.MessageStatusRead)
	case wire.TypeTyping:
		if h.onTyping != nil {
			h.onTyping(peer)
		}
		return nil
	default:
		return fmt.Errorf("message: unsupported frame type %s", frame.Type)
	}
}

func (h *Handler) handleInboundMessage(ctx context.Context, peer crypto.PeerID, conversationID string, frame *wire.Frame) error {
	s, ok := h.sessionFor(peer)
	if !ok {
		return ErrNoSession
	}

	if h.nonces != nil {
		if !h.nonces.CheckAndStore(frameNonce(peer, frame), int64(frame.TimestampMs/1000)) {
			h.log.WithFields(logrus.Fields{"peer": peer, "message_id": frame.MessageID}).Warn("dropping replayed message frame")
			return fmt.Errorf("message: replay detected from %s", peer)
		}
	}

	header, ciphertext, err := decodeEnvelope(frame.Ciphertext)
	if err != nil {
		return fmt.Errorf("message: decode envelope from %s: %w", peer, err)
	}

	plaintext, err := s.Decrypt(header, ciphertext)
	if err != nil {
		if h.recordDecryptFailure(peer) {
			h.RemoveSession(peer)
			resetErr := fmt.Errorf("%w: %v", ErrSessionReset, err)
			if h.onSessionReset != nil {
				h.onSessionReset(peer, resetErr)
			}
			return resetErr
		}
		return fmt.Errorf("message: decrypt from %s: %w", peer, err)
	}
	h.clearDecryptFailures(peer)

	if err := h.store.InsertMessage(ctx, store.Message{
		ID:             frame.MessageID,
		ConversationID: conversationID,
		SenderPeerID:   peer.String(),
		Body:           string(plaintext),
		Timestamp:      int64(frame.TimestampMs),
	}); err != nil {
		return fmt.Errorf("message: persist inbound message: %w", err)
	}
	if err := h.store.UpdateMessageStatus(ctx, frame.MessageID, store.MessageStatusDelivered); err != nil {
		h.log.WithError(err).Warn("failed to mark inbound message delivered")
	}

	ack := &wire.Frame{
		Type:             wire.TypeAck,
		MessageID:        frame.MessageID,
		Sender:           h.self.String(),
		RecipientOrGroup: peer.String(),
		TimestampMs:      uint64(time.Now().UnixMilli()),
	}
	if err := h.sender.Send(peer, ack); err != nil {
		h.log.WithError(err).Warn("failed to send ack")
	}

	if h.onInbound != nil {
		h.onInbound(peer, conversationID, frame.MessageID, string(plaintext))
	}
	return nil
}

// recordDecryptFailure increments peer's failure count within the current
// 60-second window, resetting the window if it has elapsed, and reports
// whether the count has now exceeded decryptFailureThreshold.
func (h *Handler) recordDecryptFailure(peer crypto.PeerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	w, ok := h.failures[peer]
	if !ok || now.Sub(w.windowStart) > time.Minute {
		w = &failureWindow{windowStart: now}
		h.failures[peer] = w
	}
	w.count++
	return w.count > decryptFailureThreshold
}

func (h *Handler) clearDecryptFailures(peer crypto.PeerID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.failures, peer)
}

func generateMessageID() (string, error) {
	buf := make([]byte, 16)
	if _, err := cryptorand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
