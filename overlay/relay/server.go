package relay

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/overlay/transport"
)

// Default capacity limits for a relay server, matching the operating
// envelope a single always-on peer is expected to donate to the network.
const (
	DefaultGlobalCircuitLimit = 100
	DefaultPerPeerCircuitLimit = 10
	DefaultCircuitByteRate    = 1 << 20 // 1 MiB/s per circuit
)

// circuit tracks one registered peer's relay session: its current address
// and a token bucket limiting how fast frames addressed to it are
// forwarded.
type circuit struct {
	addr    net.Addr
	bucket  *tokenBucket
}

// Server is an in-memory circuit relay: peers register their id and
// address, and the server forwards data frames between registered peers
// by target id, subject to global and per-source circuit limits and a
// per-circuit byte rate cap.
type Server struct {
	transport transport.Transport

	globalLimit  int
	perPeerLimit int
	byteRate     int

	mu       sync.Mutex
	circuits map[string]*circuit
	bySource map[string]int
}

// NewServer starts relaying over underlying using default capacity
// limits.
func NewServer(underlying transport.Transport) *Server {
	s := &Server{
		transport:    underlying,
		globalLimit:  DefaultGlobalCircuitLimit,
		perPeerLimit: DefaultPerPeerCircuitLimit,
		byteRate:     DefaultCircuitByteRate,
		circuits:     make(map[string]*circuit),
		bySource:     make(map[string]int),
	}
	underlying.RegisterHandler(registerProtocolID, s.handleRegister)
	underlying.RegisterHandler(dataProtocolID, s.handleData)
	underlying.RegisterHandler(pingProtocolID, s.handlePing)
	underlying.RegisterHandler(disconnectProtocolID, s.handleDisconnect)
	return s
}

func (s *Server) handleRegister(payload []byte, addr net.Addr) {
	peerID := string(payload)
	logger := logrus.WithFields(logrus.Fields{"component": "overlay/relay", "role": "server", "peer": peerID, "addr": addr})

	s.mu.Lock()
	if len(s.circuits) >= s.globalLimit {
		s.mu.Unlock()
		logger.Warn("rejecting registration: global circuit limit reached")
		return
	}
	if _, exists := s.circuits[peerID]; !exists && s.bySource[addr.String()] >= s.perPeerLimit {
		s.mu.Unlock()
		logger.Warn("rejecting registration: per-peer circuit limit reached")
		return
	}
	s.circuits[peerID] = &circuit{addr: addr, bucket: newTokenBucket(s.byteRate)}
	s.bySource[addr.String()]++
	s.mu.Unlock()

	logger.Info("relay circuit registered")
}

func (s *Server) handleDisconnect(payload []byte, addr net.Addr) {
	peerID := string(payload)
	s.mu.Lock()
	if _, ok := s.circuits[peerID]; ok {
		delete(s.circuits, peerID)
		if s.bySource[addr.String()] > 0 {
			s.bySource[addr.String()]--
		}
	}
	s.mu.Unlock()
}

func (s *Server) handlePing(_ []byte, addr net.Addr) {
	_ = s.transport.Send(pongProtocolID, nil, addr)
}

func (s *Server) handleData(payload []byte, from net.Addr) {
	targetPeerID, body, err := decodeTargeted(payload)
	if err != nil {
		return
	}

	// Forwarded frames carry the sender's peer id in place of the target's.
	s.mu.Lock()
	target, ok := s.circuits[targetPeerID]
	sourcePeerID := ""
	for id, c := range s.circuits {
		if c.addr.String() == from.String() {
			sourcePeerID = id
			break
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if !target.bucket.allow(len(body)) {
		logrus.WithFields(logrus.Fields{"component": "overlay/relay", "role": "server", "peer": targetPeerID}).Debug("dropping frame: circuit rate limit exceeded")
		return
	}

	if err := s.transport.Send(dataProtocolID, encodeTargeted(sourcePeerID, body), target.addr); err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/relay", "role": "server", "peer": targetPeerID, "error": err}).Warn("failed to forward relayed frame")
	}
}

// CircuitCount returns the number of currently registered circuits.
func (s *Server) CircuitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.circuits)
}

// tokenBucket is a simple byte-rate limiter: tokens refill in proportion to
// the time elapsed at ratePerSecond, capped at one second's worth.
type tokenBucket struct {
	mu         sync.Mutex
	rate       int
	tokens     int
	lastRefill time.Time
}

func newTokenBucket(ratePerSecond int) *tokenBucket {
	return &tokenBucket{rate: ratePerSecond, tokens: ratePerSecond, lastRefill: time.Now()}
}

func (b *tokenBucket) allow(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := time.Since(b.lastRefill)
	if elapsed > 0 {
		refill := int(elapsed.Seconds() * float64(b.rate))
		if refill > 0 {
			b.tokens += refill
			if b.tokens > b.rate {
				b.tokens = b.rate
			}
			b.lastRefill = time.Now()
		}
	}

	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}
