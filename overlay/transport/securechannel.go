package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
)

const noiseHandshakeProtocolID = "noise-ik/1.0.0"

var (
	ErrChannelNotEstablished = errors.New("transport: secure channel not established")
	ErrHandshakeInProgress   = errors.New("transport: handshake already in progress")
)

// SecureChannel authenticates a peer by its long-term signing key using a
// Noise_IK handshake, then wraps a raw Transport so every Send/receive is
// additionally encrypted under the resulting session keys. This is the
// transport-layer encryption described in the overlay stack; it has no
// visibility into the end-to-end ratchet session traffic carries once
// established.
type SecureChannel struct {
	mu         sync.Mutex
	underlying Transport
	staticKey  [32]byte
	handlers   map[string]Handler

	sessions    map[string]*crypto.NoiseSession
	handshakes  map[string]*crypto.NoiseHandshake
}

// NewSecureChannel wraps underlying, authenticating with the local
// long-term signing key staticKey.
func NewSecureChannel(underlying Transport, staticKey [32]byte) *SecureChannel {
	sc := &SecureChannel{
		underlying: underlying,
		staticKey:  staticKey,
		handlers:   make(map[string]Handler),
		sessions:   make(map[string]*crypto.NoiseSession),
		handshakes: make(map[string]*crypto.NoiseHandshake),
	}
	underlying.RegisterHandler(noiseHandshakeProtocolID, sc.handleHandshakeFrame)
	return sc
}

// Dial initiates a Noise_IK handshake against a peer whose long-term
// public key is known (the IK pattern requires it), blocking until the
// session is established or the handshake fails.
func (sc *SecureChannel) Dial(peerKey [32]byte, addr net.Addr) error {
	key := addr.String()

	sc.mu.Lock()
	if _, exists := sc.sessions[key]; exists {
		sc.mu.Unlock()
		return nil
	}
	if _, inProgress := sc.handshakes[key]; inProgress {
		sc.mu.Unlock()
		return ErrHandshakeInProgress
	}
	hs, err := crypto.NewNoiseHandshake(true, sc.staticKey, peerKey)
	if err != nil {
		sc.mu.Unlock()
		return fmt.Errorf("transport: start handshake: %w", err)
	}
	sc.handshakes[key] = hs
	sc.mu.Unlock()

	msg, session, err := hs.WriteMessage(nil)
	if err != nil {
		return fmt.Errorf("transport: write handshake message: %w", err)
	}
	if session != nil {
		sc.completeHandshake(key, session)
	}
	return sc.underlying.Send(noiseHandshakeProtocolID, msg, addr)
}

func (sc *SecureChannel) handleHandshakeFrame(payload []byte, addr net.Addr) {
	logger := logrus.WithFields(logrus.Fields{"component": "overlay/transport", "operation": "handshake", "peer": addr})
	key := addr.String()

	sc.mu.Lock()
	hs, inProgress := sc.handshakes[key]
	if !inProgress {
		var err error
		hs, err = crypto.NewNoiseHandshake(false, sc.staticKey, [32]byte{})
		if err != nil {
			sc.mu.Unlock()
			logger.WithError(err).Warn("failed to start responder handshake")
			return
		}
		sc.handshakes[key] = hs
	}
	sc.mu.Unlock()

	_, session, err := hs.ReadMessage(payload)
	if err != nil {
		logger.WithError(err).Warn("handshake read failed")
		sc.mu.Lock()
		delete(sc.handshakes, key)
		sc.mu.Unlock()
		return
	}

	if session != nil {
		sc.completeHandshake(key, session)
		return
	}

	// Responder side of IK completes in one round trip; reply immediately.
	reply, respSession, err := hs.WriteMessage(nil)
	if err != nil {
		logger.WithError(err).Warn("handshake reply failed")
		return
	}
	if respSession != nil {
		sc.completeHandshake(key, respSession)
	}
	if err := sc.underlying.Send(noiseHandshakeProtocolID, reply, addr); err != nil {
		logger.WithError(err).Warn("failed to send handshake reply")
	}
}

func (sc *SecureChannel) completeHandshake(key string, session *crypto.NoiseSession) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.sessions[key] = session
	delete(sc.handshakes, key)
	logrus.WithFields(logrus.Fields{"component": "overlay/transport", "operation": "handshake"}).Info("secure channel established")
}

// RegisterHandler routes decrypted payloads for protocolID once a session
// with the sender exists; frames arriving before a handshake completes are
// dropped.
func (sc *SecureChannel) RegisterHandler(protocolID string, handler Handler) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.handlers[protocolID] = handler
	sc.underlying.RegisterHandler(protocolID, func(payload []byte, addr net.Addr) {
		plaintext, err := sc.decrypt(addr, payload)
		if err != nil {
			return
		}
		handler(plaintext, addr)
	})
}

// Send encrypts payload under the established session with addr and sends
// it under protocolID. Returns ErrChannelNotEstablished if Dial/handshake
// hasn't completed for that peer yet.
func (sc *SecureChannel) Send(protocolID string, payload []byte, addr net.Addr) error {
	sc.mu.Lock()
	session, ok := sc.sessions[addr.String()]
	sc.mu.Unlock()
	if !ok {
		return ErrChannelNotEstablished
	}

	ciphertext, err := session.EncryptMessage(payload)
	if err != nil {
		return fmt.Errorf("transport: encrypt: %w", err)
	}
	return sc.underlying.Send(protocolID, ciphertext, addr)
}

func (sc *SecureChannel) decrypt(addr net.Addr, ciphertext []byte) ([]byte, error) {
	sc.mu.Lock()
	session, ok := sc.sessions[addr.String()]
	sc.mu.Unlock()
	if !ok {
		return nil, ErrChannelNotEstablished
	}
	return session.DecryptMessage(ciphertext)
}

func (sc *SecureChannel) LocalAddr() net.Addr { return sc.underlying.LocalAddr() }
func (sc *SecureChannel) Close() error        { return sc.underlying.Close() }
