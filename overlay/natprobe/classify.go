package natprobe

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Type classifies how restrictively a NAT maps outbound UDP traffic,
// from least to most restrictive.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeNone         // no NAT: the local address is already public
	TypeFullCone
	TypeRestrictedCone
	TypePortRestrictedCone
	TypeSymmetric
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeFullCone:
		return "full-cone"
	case TypeRestrictedCone:
		return "restricted-cone"
	case TypePortRestrictedCone:
		return "port-restricted-cone"
	case TypeSymmetric:
		return "symmetric"
	default:
		return "unknown"
	}
}

// Prober classifies the local NAT using external STUN servers and caches
// the result for a configurable interval, since the classification rarely
// changes within a single run.
type Prober struct {
	stun *STUNClient

	mu            sync.Mutex
	cached        Type
	publicAddr    net.Addr
	lastCheck     time.Time
	cacheInterval time.Duration
}

// NewProber creates a classifier using default public STUN servers.
func NewProber() *Prober {
	return &Prober{stun: NewSTUNClient(), cacheInterval: 10 * time.Minute}
}

// SetSTUNServers overrides the STUN servers used for classification.
func (p *Prober) SetSTUNServers(servers []string) {
	p.stun.SetServers(servers)
}

// Classify determines the local NAT type by querying two STUN servers from
// the same local UDP socket and comparing the mapped addresses they
// observe: an identical mapping rules out symmetric NAT, a different
// mapping per server confirms it. Distinguishing full-cone from
// (port-)restricted-cone requires an unsolicited-packet test this prober
// doesn't perform (no cooperating second peer is assumed available), so a
// non-symmetric result conservatively reports TypePortRestrictedCone
// unless the local address already equals the observed public address
// (TypeNone).
func (p *Prober) Classify(ctx context.Context) (Type, error) {
	p.mu.Lock()
	if !p.lastCheck.IsZero() && time.Since(p.lastCheck) < p.cacheInterval {
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	if len(p.stun.servers) < 2 {
		return TypeUnknown, errors.New("natprobe: classification needs at least two STUN servers")
	}

	connA, mappedA, err := p.probe(ctx, p.stun.servers[0])
	if err != nil {
		return TypeUnknown, fmt.Errorf("natprobe: probe first server: %w", err)
	}
	defer connA.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.stun.timeout)
	}
	connA.SetDeadline(deadline)
	mappedB, err := queryThroughConn(connA, p.stun.servers[1])
	connA.SetDeadline(time.Time{})
	if err != nil {
		return TypeUnknown, fmt.Errorf("natprobe: probe second server: %w", err)
	}

	result := TypePortRestrictedCone
	if mappedA.String() == connA.LocalAddr().String() {
		result = TypeNone
	} else if mappedA.String() != mappedB.String() {
		result = TypeSymmetric
	}

	p.mu.Lock()
	p.cached = result
	p.publicAddr = mappedA
	p.lastCheck = time.Now()
	p.mu.Unlock()

	return result, nil
}

// probe binds a fresh local UDP socket and queries server, returning the
// socket (left open so later calls may reuse its local port) and the
// mapped address STUN reported for it.
func (p *Prober) probe(ctx context.Context, server string) (*net.UDPConn, net.Addr, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(p.stun.timeout)
	}
	conn.SetDeadline(deadline)

	mapped, err := queryThroughConn(conn, server)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetDeadline(time.Time{})
	return conn, mapped, nil
}

// queryThroughConn runs the STUN binding exchange over an already-bound
// socket, so the classifier can compare mappings for the same local port
// across servers.
func queryThroughConn(conn *net.UDPConn, server string) (net.Addr, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}

	transactionID := make([]byte, 12)
	if _, err := rand.Read(transactionID); err != nil {
		return nil, err
	}
	request := buildBindingRequest(transactionID)

	if _, err := conn.WriteToUDP(request, serverAddr); err != nil {
		return nil, err
	}

	response := make([]byte, 1024)
	n, _, err := conn.ReadFromUDP(response)
	if err != nil {
		return nil, err
	}

	return parseBindingResponse(response[:n], transactionID)
}

// PublicAddress runs Classify if needed and returns the most recently
// observed public mapping.
func (p *Prober) PublicAddress(ctx context.Context) (net.Addr, error) {
	if _, err := p.Classify(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publicAddr, nil
}
