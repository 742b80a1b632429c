package dht

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/transport"
)

const (
	pingProtocolID     = "dht/ping/1.0.0"
	pongProtocolID     = "dht/pong/1.0.0"
	findNodeProtocolID = "dht/findnode/1.0.0"
	nodesProtocolID    = "dht/nodes/1.0.0"

	// Alpha is Kademlia's lookup concurrency: the number of closest known
	// nodes queried in parallel at each step of FindNode.
	Alpha = 3

	findNodeTimeout = 5 * time.Second
)

// Handler wires a RoutingTable to the wire protocol that keeps it
// populated: inbound pings are answered with a pong, inbound pongs refresh
// the matching entry's status, inbound find-node
// requests answer with the closest known nodes, and FindNode drives an
// iterative lookup outbound.
type Handler struct {
	transport transport.Transport
	table     *RoutingTable
	selfID    crypto.PeerID

	mu      sync.Mutex
	pending map[string]chan []*nodeEntry
}

// NewHandler attaches DHT request/response handling to underlying for the
// local peer selfID, populating table as requests and responses arrive.
func NewHandler(underlying transport.Transport, table *RoutingTable, selfID crypto.PeerID) *Handler {
	h := &Handler{
		transport: underlying,
		table:     table,
		selfID:    selfID,
		pending:   make(map[string]chan []*nodeEntry),
	}
	underlying.RegisterHandler(pingProtocolID, h.handlePing)
	underlying.RegisterHandler(pongProtocolID, h.handlePong)
	underlying.RegisterHandler(findNodeProtocolID, h.handleFindNode)
	underlying.RegisterHandler(nodesProtocolID, h.handleNodes)
	return h
}

func (h *Handler) handlePing(_ []byte, addr net.Addr) {
	if err := h.transport.Send(pongProtocolID, nil, addr); err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Warn("failed to send pong")
	}
}

func (h *Handler) handlePong(_ []byte, addr net.Addr) {
	for _, node := range h.table.AllNodes() {
		if node.Address != nil && node.Address.String() == addr.String() {
			node.RecordPingResult(true)
			return
		}
	}
}

func (h *Handler) handleFindNode(payload []byte, addr net.Addr) {
	target, err := decodePeerID(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Debug("dropping malformed find-node request")
		return
	}

	closest := h.table.FindClosestNodes(target, BucketSize)
	entries := make([]*nodeEntry, 0, len(closest))
	for _, n := range closest {
		entries = append(entries, &nodeEntry{id: n.ID, addr: n.Address.String()})
	}

	if err := h.transport.Send(nodesProtocolID, encodeNodes(entries), addr); err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Warn("failed to send nodes response")
	}
}

func (h *Handler) handleNodes(payload []byte, addr net.Addr) {
	entries, err := decodeNodes(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "overlay/dht", "error": err}).Debug("dropping malformed nodes response")
		return
	}

	for _, e := range entries {
		resolved, err := net.ResolveUDPAddr("udp", e.addr)
		if err != nil {
			continue
		}
		node := NewNode(e.id, resolved)
		h.table.AddNode(node)
	}

	h.mu.Lock()
	ch, ok := h.pending[addr.String()]
	h.mu.Unlock()
	if ok {
		select {
		case ch <- entries:
		default:
		}
	}
}

// Ping sends a liveness probe to addr.
func (h *Handler) Ping(addr net.Addr) error {
	return h.transport.Send(pingProtocolID, nil, addr)
}

// FindNode runs one round of the iterative lookup for target: it queries
// up to Alpha of the closest nodes currently known and returns the union
// of their responses merged into the routing table.
func (h *Handler) FindNode(ctx context.Context, target crypto.PeerID) ([]*Node, error) {
	candidates := h.table.FindClosestNodes(target, Alpha)
	if len(candidates) == 0 {
		return nil, errors.New("dht: no candidates to query")
	}

	results := make(chan []*nodeEntry, len(candidates))
	for _, candidate := range candidates {
		addr := candidate.Address
		ch := make(chan []*nodeEntry, 1)

		h.mu.Lock()
		h.pending[addr.String()] = ch
		h.mu.Unlock()

		if err := h.transport.Send(findNodeProtocolID, encodePeerID(target), addr); err != nil {
			logrus.WithFields(logrus.Fields{"component": "overlay/dht", "peer": addr, "error": err}).Warn("find-node send failed")
			continue
		}

		go func(addr net.Addr, ch chan []*nodeEntry) {
			select {
			case entries := <-ch:
				results <- entries
			case <-time.After(findNodeTimeout):
				results <- nil
			case <-ctx.Done():
				results <- nil
			}
			h.mu.Lock()
			delete(h.pending, addr.String())
			h.mu.Unlock()
		}(addr, ch)
	}

	for range candidates {
		<-results
	}

	return h.table.FindClosestNodes(target, BucketSize), nil
}

type nodeEntry struct {
	id   crypto.PeerID
	addr string
}

func encodePeerID(id crypto.PeerID) []byte {
	s := id.String()
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out, uint16(len(s)))
	copy(out[2:], s)
	return out
}

func decodePeerID(data []byte) (crypto.PeerID, error) {
	if len(data) < 2 {
		return "", fmt.Errorf("dht: payload too short")
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return "", fmt.Errorf("dht: truncated peer id")
	}
	return crypto.ParsePeerID(string(data[2 : 2+n]))
}

func encodeNodes(entries []*nodeEntry) []byte {
	var out []byte
	count := make([]byte, 2)
	binary.BigEndian.PutUint16(count, uint16(len(entries)))
	out = append(out, count...)
	for _, e := range entries {
		out = append(out, encodePeerID(e.id)...)
		addrLen := make([]byte, 2)
		binary.BigEndian.PutUint16(addrLen, uint16(len(e.addr)))
		out = append(out, addrLen...)
		out = append(out, []byte(e.addr)...)
	}
	return out
}

func decodeNodes(data []byte) ([]*nodeEntry, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("dht: payload too short")
	}
	count := int(binary.BigEndian.Uint16(data))
	data = data[2:]

	entries := make([]*nodeEntry, 0, count)
	for i := 0; i < count; i++ {
		id, err := decodePeerID(data)
		if err != nil {
			return nil, err
		}
		idLen := 2 + int(binary.BigEndian.Uint16(data))
		data = data[idLen:]

		if len(data) < 2 {
			return nil, fmt.Errorf("dht: truncated node entry")
		}
		addrLen := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < addrLen {
			return nil, fmt.Errorf("dht: truncated node address")
		}
		addr := string(data[:addrLen])
		data = data[addrLen:]

		entries = append(entries, &nodeEntry{id: id, addr: addr})
	}
	return entries, nil
}
