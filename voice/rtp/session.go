// Package rtp provides RTP transport functionality for the voice pipeline.
//
// This package handles RTP session management, packet handling, and jitter
// buffer management for the audio stream of a single call.
package rtp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/overlay/transport"
)

// Session represents the RTP session for one active call's audio stream,
// identified by the call id rather than a connection handle so it survives
// a connmgr path change underneath it.
type Session struct {
	mu      sync.RWMutex
	callID  string
	ssrc    uint32
	created time.Time

	audioPacketizer   *AudioPacketizer
	audioDepacketizer *AudioDepacketizer
	transport         transport.Transport
	remoteAddr        net.Addr

	stats Statistics
}

// NewSession creates a new RTP session for callID, sending audio to
// remoteAddr over tr.
func NewSession(callID string, tr transport.Transport, remoteAddr net.Addr) (*Session, error) {
	if tr == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if remoteAddr == nil {
		return nil, fmt.Errorf("remote address cannot be nil")
	}

	audioPacketizer, err := NewAudioPacketizer(48000, tr, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio packetizer: %w", err)
	}

	return &Session{
		callID:            callID,
		created:           time.Now(),
		audioPacketizer:   audioPacketizer,
		audioDepacketizer: NewAudioDepacketizer(),
		transport:         tr,
		remoteAddr:        remoteAddr,
		stats:             Statistics{},
	}, nil
}

// SendAudioPacket wraps encoded audio data in an RTP packet and sends it to
// the session's remote peer.
func (s *Session) SendAudioPacket(data []byte, sampleCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.audioPacketizer == nil {
		return fmt.Errorf("audio packetizer not initialized")
	}

	if err := s.audioPacketizer.PacketizeAndSend(data, sampleCount); err != nil {
		return fmt.Errorf("failed to send audio packet: %w", err)
	}

	s.stats.PacketsSent++
	return nil
}

// ReceivePacket parses an inbound RTP packet and returns its decoded Opus
// payload.
func (s *Session) ReceivePacket(packet []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(packet) == 0 {
		return nil, fmt.Errorf("packet cannot be empty")
	}
	if s.audioDepacketizer == nil {
		return nil, fmt.Errorf("audio depacketizer not initialized")
	}

	audioData, _, err := s.audioDepacketizer.ProcessPacket(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to process audio packet: %w", err)
	}

	s.stats.PacketsReceived++
	return audioData, nil
}

// Statistics tracks quality-monitoring counters for one RTP session.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	PacketsLost     uint64
	Jitter          time.Duration
	Bandwidth       uint64 // bits per second
}

// GetStatistics returns the session's current counters.
func (s *Session) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// GetBufferedAudio retrieves the next buffered audio frame from the jitter
// buffer, if any is ready for playback.
func (s *Session) GetBufferedAudio() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.audioDepacketizer == nil {
		return nil, false
	}
	return s.audioDepacketizer.GetBufferedAudio()
}

// Close releases the session's packetizer/depacketizer state.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audioPacketizer = nil
	s.audioDepacketizer = nil
	return nil
}
