package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/edsonmartins/mepassa/crypto"
)

// BucketSize is Kademlia's k parameter: the maximum population of one
// routing table bucket and the default width of a find-node response.
const BucketSize = 20

// numBuckets is the width of a crypto.PeerID in bits — 20 bytes — so
// bucket i holds nodes whose id differs from the local one first at bit
// i (counting from the most significant bit of byte 0).
const numBuckets = 160

// KBucket holds up to BucketSize nodes at one distance range from the
// local node, ordered least- to most-recently-seen.
type KBucket struct {
	mu      sync.RWMutex
	nodes   []*Node
	maxSize int
}

// NewKBucket creates an empty bucket with the given capacity.
func NewKBucket(maxSize int) *KBucket {
	return &KBucket{nodes: make([]*Node, 0, maxSize), maxSize: maxSize}
}

// AddNode inserts or refreshes node, evicting a bad node to make room if
// the bucket is full. Returns false if the bucket is full of good/
// unknown nodes and node doesn't already occupy a slot.
func (kb *KBucket) AddNode(node *Node) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, existing := range kb.nodes {
		if existing.ID == node.ID {
			kb.nodes = append(kb.nodes[:i], kb.nodes[i+1:]...)
			kb.nodes = append(kb.nodes, node)
			return true
		}
	}

	if len(kb.nodes) < kb.maxSize {
		kb.nodes = append(kb.nodes, node)
		return true
	}

	for i, existing := range kb.nodes {
		if existing.Status == StatusBad {
			kb.nodes[i] = node
			return true
		}
	}

	return false
}

// RemoveNode removes the entry for id, if present.
func (kb *KBucket) RemoveNode(id crypto.PeerID) bool {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	for i, node := range kb.nodes {
		if node.ID == id {
			last := len(kb.nodes) - 1
			kb.nodes[i] = kb.nodes[last]
			kb.nodes = kb.nodes[:last]
			return true
		}
	}
	return false
}

// Nodes returns a snapshot of the bucket's current contents.
func (kb *KBucket) Nodes() []*Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]*Node, len(kb.nodes))
	copy(out, kb.nodes)
	return out
}

// RoutingTable is a Kademlia routing table of numBuckets k-buckets keyed
// by crypto.PeerID XOR distance.
type RoutingTable struct {
	buckets [numBuckets]*KBucket
	selfID  crypto.PeerID
	selfRaw [20]byte
	mu      sync.RWMutex
}

// NewRoutingTable creates a routing table for the local peer selfID, with
// each bucket capped at maxBucketSize (BucketSize in normal operation).
func NewRoutingTable(selfID crypto.PeerID, maxBucketSize int) *RoutingTable {
	rt := &RoutingTable{selfID: selfID, selfRaw: idBytes(selfID)}
	for i := range rt.buckets {
		rt.buckets[i] = NewKBucket(maxBucketSize)
	}
	return rt
}

// AddNode places node in the bucket matching its distance from the local
// id. Adding the local node itself is a no-op.
func (rt *RoutingTable) AddNode(node *Node) bool {
	if node.ID == rt.selfID {
		return false
	}
	node.distance = xorDistance(rt.selfRaw, idBytes(node.ID))
	idx := bucketIndex(node.distance)

	rt.mu.RLock()
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()
	return bucket.AddNode(node)
}

// RemoveNode removes id from whichever bucket holds it.
func (rt *RoutingTable) RemoveNode(id crypto.PeerID) bool {
	dist := xorDistance(rt.selfRaw, idBytes(id))
	idx := bucketIndex(dist)
	rt.mu.RLock()
	bucket := rt.buckets[idx]
	rt.mu.RUnlock()
	return bucket.RemoveNode(id)
}

// FindClosestNodes returns up to count nodes ordered by increasing XOR
// distance from target, the core primitive behind find-node lookups.
func (rt *RoutingTable) FindClosestNodes(target crypto.PeerID, count int) []*Node {
	targetRaw := idBytes(target)

	all := rt.AllNodes()
	sort.Slice(all, func(i, j int) bool {
		di := xorDistance(targetRaw, idBytes(all[i].ID))
		dj := xorDistance(targetRaw, idBytes(all[j].ID))
		return lessDistance(di, dj)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// AllNodes returns every node currently tracked across all buckets.
func (rt *RoutingTable) AllNodes() []*Node {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	var all []*Node
	for _, bucket := range rt.buckets {
		all = append(all, bucket.Nodes()...)
	}
	return all
}

// BucketNodes returns the nodes in bucket idx, or nil if idx is out of
// range.
func (rt *RoutingTable) BucketNodes(idx int) []*Node {
	if idx < 0 || idx >= numBuckets {
		return nil
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[idx].Nodes()
}

// RemoveStaleNodes evicts every node not seen within maxAge, returning
// the number removed.
func (rt *RoutingTable) RemoveStaleNodes(maxAge time.Duration) int {
	removed := 0
	for _, node := range rt.AllNodes() {
		if time.Since(node.LastSeen) > maxAge {
			if rt.RemoveNode(node.ID) {
				removed++
			}
		}
	}
	return removed
}

// TotalNodeCount returns how many nodes the table currently tracks.
func (rt *RoutingTable) TotalNodeCount() int {
	return len(rt.AllNodes())
}

// bucketIndex returns the index of the first set bit in distance,
// counting from the most significant bit of byte 0, or numBuckets-1 if
// distance is all zero (the local node's own, unreachable, slot).
func bucketIndex(distance [20]byte) int {
	for i, b := range distance {
		if b == 0 {
			continue
		}
		for j := 0; j < 8; j++ {
			if (b>>(7-j))&1 == 1 {
				return i*8 + j
			}
		}
	}
	return numBuckets - 1
}
