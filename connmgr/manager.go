package connmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/overlay/natprobe"
	"github.com/edsonmartins/mepassa/overlay/relay"
	"github.com/edsonmartins/mepassa/overlay/transport"
)

const (
	probeProtocolID    = "connmgr/probe/1.0.0"
	probeAckProtocolID = "connmgr/probe-ack/1.0.0"

	defaultProbeTimeout = 3 * time.Second
)

// Method identifies one of the ordered connection-establishment strategies.
type Method uint8

const (
	MethodDirect Method = iota
	MethodHolePunch
	MethodRelay
)

func (m Method) String() string {
	switch m {
	case MethodDirect:
		return "direct"
	case MethodHolePunch:
		return "hole-punch"
	case MethodRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Attempt records the outcome of trying a single method once.
type Attempt struct {
	Method     Method
	RemoteAddr net.Addr
	Success    bool
	Err        error
	Duration   time.Duration
	Timestamp  time.Time
}

// Manager establishes connections to peers using the ordered strategy
// direct -> hole-punch -> relay, skipping hole-punch when the local NAT is
// symmetric, and retrying the whole sequence with exponential backoff.
type Manager struct {
	transport   transport.Transport
	holePuncher *relay.HolePuncher
	relayClient *relay.Client
	prober      *natprobe.Prober

	probeTimeout time.Duration

	mu       sync.Mutex
	attempts []Attempt
	pending  map[string]chan struct{}

	log *logrus.Entry
}

// New creates a connection manager. relayClient and holePuncher may be nil
// if the caller has no relay servers configured or no bound UDP socket to
// hole-punch from, in which case those methods are skipped.
func New(t transport.Transport, holePuncher *relay.HolePuncher, relayClient *relay.Client, prober *natprobe.Prober) *Manager {
	m := &Manager{
		transport:    t,
		holePuncher:  holePuncher,
		relayClient:  relayClient,
		prober:       prober,
		probeTimeout: defaultProbeTimeout,
		pending:      make(map[string]chan struct{}),
		log:          logrus.WithField("component", "connmgr"),
	}
	t.RegisterHandler(probeProtocolID, m.handleProbe)
	t.RegisterHandler(probeAckProtocolID, m.handleProbeAck)
	return m
}

// SetProbeTimeout overrides how long a direct-connection probe waits for an
// acknowledgment before being considered failed.
func (m *Manager) SetProbeTimeout(d time.Duration) {
	if d > 0 {
		m.probeTimeout = d
	}
}

// Connect establishes a connection to peerID reachable at remoteAddr,
// returning the address ultimately used to reach it (which may be a
// relay.PeerAddress rather than remoteAddr itself). It tries the full
// direct/hole-punch/relay sequence up to five times, waiting 1, 2, 4 and 8
// seconds between attempts, before giving up.
func (m *Manager) Connect(ctx context.Context, peerID string, remoteAddr net.Addr) (net.Addr, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := m.wait(ctx, backoffSchedule[attempt-1]); err != nil {
				return nil, err
			}
		}

		if addr, err := m.tryDirect(ctx, remoteAddr); err == nil {
			return addr, nil
		} else {
			lastErr = err
		}

		if m.shouldHolePunch(ctx) {
			if addr, err := m.tryHolePunch(ctx, remoteAddr); err == nil {
				return addr, nil
			} else {
				lastErr = err
			}
		}

		if addr, err := m.tryRelay(ctx, peerID); err == nil {
			return addr, nil
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	return nil, fmt.Errorf("%w: all %d attempts to reach %s failed, last error: %v", errs.ErrUnreachable, maxAttempts, peerID, lastErr)
}

func (m *Manager) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shouldHolePunch reports whether hole punching is worth attempting: a
// symmetric NAT assigns a fresh mapping per destination, so a punch aimed
// at one peer's observed address almost never lands on the mapping that
// peer will actually see.
func (m *Manager) shouldHolePunch(ctx context.Context) bool {
	if m.holePuncher == nil {
		return false
	}
	if m.prober == nil {
		return true
	}
	natType, err := m.prober.Classify(ctx)
	if err != nil {
		return true
	}
	return natType != natprobe.TypeSymmetric
}

func (m *Manager) tryDirect(ctx context.Context, remoteAddr net.Addr) (net.Addr, error) {
	start := time.Now()
	ackCh := make(chan struct{}, 1)

	m.mu.Lock()
	m.pending[remoteAddr.String()] = ackCh
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, remoteAddr.String())
		m.mu.Unlock()
	}()

	if err := m.transport.Send(probeProtocolID, nil, remoteAddr); err != nil {
		return nil, m.record(Attempt{Method: MethodDirect, RemoteAddr: remoteAddr, Err: err, Duration: time.Since(start), Timestamp: start})
	}

	timeout := time.NewTimer(m.probeTimeout)
	defer timeout.Stop()

	select {
	case <-ackCh:
		m.record(Attempt{Method: MethodDirect, RemoteAddr: remoteAddr, Success: true, Duration: time.Since(start), Timestamp: start})
		return remoteAddr, nil
	case <-timeout.C:
		err := errors.New("direct probe timed out")
		return nil, m.record(Attempt{Method: MethodDirect, RemoteAddr: remoteAddr, Err: err, Duration: time.Since(start), Timestamp: start})
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) handleProbe(_ []byte, from net.Addr) {
	if err := m.transport.Send(probeAckProtocolID, nil, from); err != nil {
		m.log.WithError(err).Debug("failed to ack probe")
	}
}

func (m *Manager) handleProbeAck(_ []byte, from net.Addr) {
	m.mu.Lock()
	ch, ok := m.pending[from.String()]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (m *Manager) tryHolePunch(ctx context.Context, remoteAddr net.Addr) (net.Addr, error) {
	start := time.Now()
	udpAddr, ok := remoteAddr.(*net.UDPAddr)
	if !ok {
		err := fmt.Errorf("hole punch requires a UDP address, got %T", remoteAddr)
		return nil, m.record(Attempt{Method: MethodHolePunch, RemoteAddr: remoteAddr, Err: err, Duration: time.Since(start), Timestamp: start})
	}

	result, err := m.holePuncher.Punch(ctx, udpAddr)
	if err != nil {
		return nil, m.record(Attempt{Method: MethodHolePunch, RemoteAddr: remoteAddr, Err: err, Duration: time.Since(start), Timestamp: start})
	}
	if result != relay.PunchSuccess {
		err := fmt.Errorf("hole punch unsuccessful: result %d", result)
		return nil, m.record(Attempt{Method: MethodHolePunch, RemoteAddr: remoteAddr, Err: err, Duration: time.Since(start), Timestamp: start})
	}

	m.record(Attempt{Method: MethodHolePunch, RemoteAddr: remoteAddr, Success: true, Duration: time.Since(start), Timestamp: start})
	return remoteAddr, nil
}

func (m *Manager) tryRelay(ctx context.Context, peerID string) (net.Addr, error) {
	start := time.Now()
	if m.relayClient == nil {
		err := errors.New("no relay client configured")
		return nil, m.record(Attempt{Method: MethodRelay, Err: err, Duration: time.Since(start), Timestamp: start})
	}

	if m.relayClient.State() != relay.StateConnected {
		if err := m.relayClient.Connect(ctx); err != nil {
			return nil, m.record(Attempt{Method: MethodRelay, Err: fmt.Errorf("relay connect: %w", err), Duration: time.Since(start), Timestamp: start})
		}
	}

	if err := m.relayClient.RelayTo(peerID, nil); err != nil {
		return nil, m.record(Attempt{Method: MethodRelay, Err: fmt.Errorf("relay probe: %w", err), Duration: time.Since(start), Timestamp: start})
	}

	m.record(Attempt{Method: MethodRelay, Success: true, Duration: time.Since(start), Timestamp: start})
	return &relay.PeerAddress{PeerID: peerID}, nil
}

func (m *Manager) record(a Attempt) error {
	m.mu.Lock()
	m.attempts = append(m.attempts, a)
	if len(m.attempts) > 100 {
		m.attempts = m.attempts[len(m.attempts)-100:]
	}
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"method":  a.Method,
		"success": a.Success,
	}).Debug("connection attempt")

	return a.Err
}

// AttemptHistory returns a snapshot of recorded attempts, most recent last,
// bounded to the last 100.
func (m *Manager) AttemptHistory() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}
