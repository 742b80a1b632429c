package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	identifyRequestProtocolID  = "overlay/identify/1.0.0"
	identifyResponseProtocolID = "overlay/identify-response/1.0.0"

	defaultIdentifyTimeout = 3 * time.Second
)

// CurrentProtocolVersion is the Identify protocol version this build speaks.
const CurrentProtocolVersion = 1

// PeerInfo is what a peer discloses about itself in response to an Identify
// request: the protocol version it speaks, the addresses it listens on, and
// the application protocol ids it supports.
type PeerInfo struct {
	ProtocolVersion uint32   `json:"protocol_version"`
	ListenAddrs     []string `json:"listen_addrs"`
	Protocols       []string `json:"protocols"`
}

// IdentifyService answers Identify requests with the local PeerInfo and lets
// the caller query a peer's PeerInfo in turn. Grounded on the
// identify-on-connect exchange the teacher performs in dht/bootstrap.go
// (negotiating a ProtocolVersion before trusting a newly seen node) and the
// request/response liveness probe transport/nat.go builds around
// PacketPingRequest, folded here into one small pair of protocols instead of
// a dedicated handshake manager.
type IdentifyService struct {
	t    Transport
	self func() PeerInfo

	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan PeerInfo

	log *logrus.Entry
}

// NewIdentifyService registers the Identify request/response handlers on t.
// self is invoked fresh on every incoming request, so a caller whose
// listening address or supported protocol list changes after construction
// (a relay server added later, say) never needs to re-register.
func NewIdentifyService(t Transport, self func() PeerInfo) *IdentifyService {
	s := &IdentifyService{
		t:       t,
		self:    self,
		timeout: defaultIdentifyTimeout,
		pending: make(map[string]chan PeerInfo),
		log:     logrus.WithField("component", "overlay/transport/identify"),
	}
	t.RegisterHandler(identifyRequestProtocolID, s.handleRequest)
	t.RegisterHandler(identifyResponseProtocolID, s.handleResponse)
	return s
}

// SetTimeout overrides how long Identify waits for a response.
func (s *IdentifyService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Identify asks addr to disclose its PeerInfo, blocking until it responds,
// ctx is done, or the timeout elapses.
func (s *IdentifyService) Identify(ctx context.Context, addr net.Addr) (PeerInfo, error) {
	key := addr.String()
	ch := make(chan PeerInfo, 1)

	s.mu.Lock()
	s.pending[key] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	if err := s.t.Send(identifyRequestProtocolID, nil, addr); err != nil {
		return PeerInfo{}, fmt.Errorf("overlay/transport: send identify request to %s: %w", addr, err)
	}

	select {
	case info := <-ch:
		return info, nil
	case <-time.After(s.timeout):
		return PeerInfo{}, fmt.Errorf("overlay/transport: identify %s: timed out", addr)
	case <-ctx.Done():
		return PeerInfo{}, ctx.Err()
	}
}

func (s *IdentifyService) handleRequest(_ []byte, from net.Addr) {
	body, err := json.Marshal(s.self())
	if err != nil {
		s.log.WithError(err).Warn("failed to marshal local peer info")
		return
	}
	if err := s.t.Send(identifyResponseProtocolID, body, from); err != nil {
		s.log.WithError(err).Debug("failed to send identify response")
	}
}

func (s *IdentifyService) handleResponse(payload []byte, from net.Addr) {
	var info PeerInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		s.log.WithError(err).Debug("dropping malformed identify response")
		return
	}
	s.mu.Lock()
	ch, ok := s.pending[from.String()]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- info:
	default:
	}
}
