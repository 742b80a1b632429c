package dht

import (
	"net"
	"time"

	"github.com/edsonmartins/mepassa/crypto"
)

// Status is the liveness classification of a routing table entry.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusGood
	StatusBad
)

// PingStats tracks ping round trips to a node, used to derive its Status.
type PingStats struct {
	LastPingSent     time.Time
	LastPingReceived time.Time
	PingCount        uint32
	SuccessCount     uint32
	FailureCount     uint32
}

// Node is one entry in the routing table: a peer identified by its
// PeerID, reachable at Address.
type Node struct {
	ID        crypto.PeerID
	Address   net.Addr
	LastSeen  time.Time
	Status    Status
	PingStats PingStats

	distance [20]byte // cached XOR distance from the owning table's self id
}

// NewNode creates a routing table entry for id at addr, marked as just
// seen.
func NewNode(id crypto.PeerID, addr net.Addr) *Node {
	return &Node{ID: id, Address: addr, LastSeen: time.Now(), Status: StatusUnknown}
}

// IsActive reports whether the node was seen within timeout.
func (n *Node) IsActive(timeout time.Duration) bool {
	return time.Since(n.LastSeen) < timeout
}

// Touch marks the node as freshly seen with the given status.
func (n *Node) Touch(status Status) {
	n.LastSeen = time.Now()
	n.Status = status
}

// RecordPingSent marks that a ping went out to this node.
func (n *Node) RecordPingSent() {
	n.PingStats.LastPingSent = time.Now()
	n.PingStats.PingCount++
}

// RecordPingResult updates ping statistics and status for a completed
// ping round trip.
func (n *Node) RecordPingResult(success bool) {
	if success {
		n.PingStats.LastPingReceived = time.Now()
		n.PingStats.SuccessCount++
		n.Touch(StatusGood)
		return
	}
	n.PingStats.FailureCount++
	if n.PingStats.FailureCount > n.PingStats.SuccessCount {
		n.Touch(StatusBad)
	}
}

// Reliability returns the fraction of pings this node has answered, in
// [0,1]; zero if no pings have been sent yet.
func (n *Node) Reliability() float64 {
	if n.PingStats.PingCount == 0 {
		return 0
	}
	return float64(n.PingStats.SuccessCount) / float64(n.PingStats.PingCount)
}

// idBytes decodes a PeerID to its raw 20-byte hash, panicking on a
// malformed id since every id entering this package has already been
// validated by crypto.ParsePeerID or derived by crypto.NewPeerID.
func idBytes(id crypto.PeerID) [20]byte {
	b, err := id.Bytes()
	if err != nil {
		panic("dht: invalid peer id: " + err.Error())
	}
	return b
}

// xorDistance computes the bytewise XOR distance between two peer ids.
func xorDistance(a, b [20]byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// lessDistance reports whether distance a is lexicographically (and hence
// numerically, for a fixed-width big-endian-style XOR metric) smaller
// than b.
func lessDistance(a, b [20]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
