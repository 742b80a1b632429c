package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/overlay/transport"
)

const (
	registerProtocolID   = "relay/register/1.0.0"
	dataProtocolID       = "relay/data/1.0.0"
	pingProtocolID       = "relay/ping/1.0.0"
	pongProtocolID       = "relay/pong/1.0.0"
	disconnectProtocolID = "relay/disconnect/1.0.0"
)

// State is the lifecycle of a Client's connection to its relay server.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

// ServerInfo describes one candidate relay server, ordered by Priority
// (lower connects first).
type ServerInfo struct {
	Address  string
	Priority int
}

// DataHandler is invoked for every relayed frame addressed to this peer,
// with addr identifying the originating peer through the relay.
type DataHandler func(payload []byte, addr net.Addr)

// Client maintains a connection to one relay server at a time, registering
// this peer's id with it and exchanging data frames with other peers that
// register there too.
type Client struct {
	localPeerID string
	transport   transport.Transport
	servers     []ServerInfo

	mu           sync.RWMutex
	state        State
	activeServer *ServerInfo
	dataHandler  DataHandler

	ctx    context.Context
	cancel context.CancelFunc

	keepalive *time.Ticker
}

// NewClient creates a relay client identified to relay servers by
// localPeerID, sending and receiving frames over transport.
func NewClient(localPeerID string, underlying transport.Transport) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		localPeerID: localPeerID,
		transport:   underlying,
		state:       StateDisconnected,
		ctx:         ctx,
		cancel:      cancel,
	}
	underlying.RegisterHandler(dataProtocolID, c.handleData)
	underlying.RegisterHandler(pongProtocolID, c.handlePong)
	return c
}

// AddServer registers a candidate relay server.
func (c *Client) AddServer(server ServerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append(c.servers, server)
}

// Connect registers with the highest-priority reachable relay server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	servers := c.sortedServers()
	c.mu.Unlock()

	if len(servers) == 0 {
		c.setState(StateFailed)
		return errors.New("relay: no servers configured")
	}

	var lastErr error
	for _, server := range servers {
		addr, err := net.ResolveUDPAddr("udp",server.Address)
		if err != nil {
			lastErr = err
			continue
		}
		if err := c.register(addr); err != nil {
			lastErr = err
			logrus.WithFields(logrus.Fields{"component": "overlay/relay", "server": server.Address, "error": err}).Warn("relay registration failed")
			continue
		}

		s := server
		c.mu.Lock()
		c.activeServer = &s
		c.state = StateConnected
		c.mu.Unlock()
		c.startKeepalive(addr)

		logrus.WithFields(logrus.Fields{"component": "overlay/relay", "server": server.Address}).Info("registered with relay server")
		return nil
	}

	c.setState(StateFailed)
	return fmt.Errorf("relay: failed to register with any server: %w", lastErr)
}

func (c *Client) register(addr net.Addr) error {
	return c.transport.Send(registerProtocolID, []byte(c.localPeerID), addr)
}

// RelayTo forwards payload to targetPeerID through the active relay
// server.
func (c *Client) RelayTo(targetPeerID string, payload []byte) error {
	c.mu.RLock()
	server := c.activeServer
	state := c.state
	c.mu.RUnlock()

	if state != StateConnected || server == nil {
		return errors.New("relay: not connected to a relay server")
	}
	addr, err := net.ResolveUDPAddr("udp",server.Address)
	if err != nil {
		return err
	}

	framed := encodeTargeted(targetPeerID, payload)
	return c.transport.Send(dataProtocolID, framed, addr)
}

// SetDataHandler installs the callback for inbound relayed frames.
func (c *Client) SetDataHandler(handler DataHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dataHandler = handler
}

func (c *Client) handleData(payload []byte, addr net.Addr) {
	sourcePeerID, body, err := decodeTargeted(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/relay", "error": err}).Debug("dropping malformed relayed frame")
		return
	}

	c.mu.RLock()
	handler := c.dataHandler
	c.mu.RUnlock()
	if handler != nil {
		handler(body, &PeerAddress{RelayServer: addr.String(), PeerID: sourcePeerID})
	}
}

func (c *Client) handlePong(_ []byte, _ net.Addr) {}

func (c *Client) startKeepalive(addr net.Addr) {
	c.mu.Lock()
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	c.keepalive = time.NewTicker(30 * time.Second)
	ticker := c.keepalive
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.transport.Send(pingProtocolID, nil, addr); err != nil {
					logrus.WithFields(logrus.Fields{"component": "overlay/relay", "error": err}).Warn("relay keepalive ping failed")
				}
			}
		}
	}()
}

func (c *Client) sortedServers() []ServerInfo {
	servers := make([]ServerInfo, len(c.servers))
	copy(servers, c.servers)
	for i := 1; i < len(servers); i++ {
		key := servers[i]
		j := i - 1
		for j >= 0 && servers[j].Priority > key.Priority {
			servers[j+1] = servers[j]
			j--
		}
		servers[j+1] = key
	}
	return servers
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close disconnects from the active relay server, if any.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepalive != nil {
		c.keepalive.Stop()
	}
	if c.activeServer != nil {
		if addr, err := net.ResolveUDPAddr("udp",c.activeServer.Address); err == nil {
			_ = c.transport.Send(disconnectProtocolID, []byte(c.localPeerID), addr)
		}
	}
	c.state = StateDisconnected
	c.activeServer = nil
	return nil
}

// PeerAddress is a net.Addr identifying a peer reached indirectly through
// a relay server rather than directly.
type PeerAddress struct {
	RelayServer string
	PeerID      string
}

func (a *PeerAddress) Network() string { return "relay" }
func (a *PeerAddress) String() string  { return fmt.Sprintf("relay://%s/%s", a.RelayServer, a.PeerID) }

// encodeTargeted prefixes payload with the length-prefixed target peer id
// the relay server uses to route it.
func encodeTargeted(peerID string, payload []byte) []byte {
	out := make([]byte, 2+len(peerID)+len(payload))
	binary.BigEndian.PutUint16(out, uint16(len(peerID)))
	copy(out[2:], peerID)
	copy(out[2+len(peerID):], payload)
	return out
}

func decodeTargeted(data []byte) (peerID string, payload []byte, err error) {
	if len(data) < 2 {
		return "", nil, errors.New("relay: frame too short")
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return "", nil, errors.New("relay: truncated peer id")
	}
	return string(data[2 : 2+n]), data[2+n:], nil
}
