// Package rtp provides RTP transport integration with the overlay stack.
//
// This file bridges per-call RTP sessions to the overlay's Transport,
// routing inbound audio frames to the session whose remote address
// produced them.
package rtp

import (
	"fmt"
	"net"
	"sync"

	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/sirupsen/logrus"
)

// AudioReceiveCallback is invoked when a complete audio frame is decoded
// from an inbound RTP packet for the named call.
type AudioReceiveCallback func(callID string, pcm []byte)

// TransportIntegration manages RTP sessions over the overlay transport,
// one session per active call.
type TransportIntegration struct {
	mu          sync.RWMutex
	transport   transport.Transport
	sessions    map[string]*Session // callID -> Session
	addrToCall  map[string]string   // address string -> callID
	callToAddr  map[string]net.Addr // callID -> address

	onAudio AudioReceiveCallback

	handlersSetup bool
}

// NewTransportIntegration creates a new RTP transport integration over tr.
func NewTransportIntegration(tr transport.Transport) (*TransportIntegration, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	ti := &TransportIntegration{
		transport:  tr,
		sessions:   make(map[string]*Session),
		addrToCall: make(map[string]string),
		callToAddr: make(map[string]net.Addr),
	}
	ti.setupPacketHandler()
	return ti, nil
}

// setupPacketHandler registers the audio RTP handler with the transport.
// Idempotent: calling it again after the first call has no effect.
func (ti *TransportIntegration) setupPacketHandler() {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if ti.handlersSetup {
		return
	}
	ti.handlersSetup = true
	ti.transport.RegisterHandler(AudioProtocolID, ti.handleInboundAudio)
}

// CreateSession establishes an RTP session for callID, addressed to
// remoteAddr.
func (ti *TransportIntegration) CreateSession(callID string, remoteAddr net.Addr) (*Session, error) {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	if _, exists := ti.sessions[callID]; exists {
		return nil, fmt.Errorf("rtp session already exists for call %s", callID)
	}

	session, err := NewSession(callID, ti.transport, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create RTP session: %w", err)
	}

	ti.sessions[callID] = session
	ti.addrToCall[remoteAddr.String()] = callID
	ti.callToAddr[callID] = remoteAddr

	return session, nil
}

// GetSession retrieves the RTP session for callID.
func (ti *TransportIntegration) GetSession(callID string) (*Session, bool) {
	ti.mu.RLock()
	defer ti.mu.RUnlock()
	session, ok := ti.sessions[callID]
	return session, ok
}

// CloseSession tears down the RTP session for callID.
func (ti *TransportIntegration) CloseSession(callID string) error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	session, exists := ti.sessions[callID]
	if !exists {
		return fmt.Errorf("no RTP session exists for call %s", callID)
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close session: %w", err)
	}

	if addr, ok := ti.callToAddr[callID]; ok {
		delete(ti.addrToCall, addr.String())
		delete(ti.callToAddr, callID)
	}
	delete(ti.sessions, callID)
	return nil
}

// handleInboundAudio dispatches one inbound audio RTP frame to the session
// whose remote address matches addr, and invokes the receive callback with
// the decoded PCM-encoded Opus frame.
func (ti *TransportIntegration) handleInboundAudio(payload []byte, addr net.Addr) {
	ti.mu.RLock()
	callID, ok := ti.addrToCall[addr.String()]
	if !ok {
		ti.mu.RUnlock()
		logrus.WithField("remote_addr", addr.String()).Debug("voice/rtp: no session for inbound audio address")
		return
	}
	session := ti.sessions[callID]
	ti.mu.RUnlock()

	audioData, err := session.ReceivePacket(payload)
	if err != nil {
		logrus.WithError(err).WithField("call_id", callID).Warn("voice/rtp: failed to process inbound audio packet")
		return
	}

	if ti.onAudio != nil && len(audioData) > 0 {
		ti.onAudio(callID, audioData)
	}
}

// SetAudioReceiveCallback registers the callback invoked for each decoded
// inbound audio frame. Pass nil to unregister.
func (ti *TransportIntegration) SetAudioReceiveCallback(callback AudioReceiveCallback) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.onAudio = callback
}

// Close shuts down every active RTP session.
func (ti *TransportIntegration) Close() error {
	ti.mu.Lock()
	defer ti.mu.Unlock()

	for callID, session := range ti.sessions {
		if err := session.Close(); err != nil {
			logrus.WithError(err).WithField("call_id", callID).Warn("voice/rtp: error closing session")
		}
	}
	ti.sessions = make(map[string]*Session)
	ti.addrToCall = make(map[string]string)
	ti.callToAddr = make(map[string]net.Addr)
	return nil
}
