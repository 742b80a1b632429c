package dht

import (
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/transport"
)

func randomPeerID(t *testing.T) crypto.PeerID {
	t.Helper()
	var pub [32]byte
	_, err := rand.Read(pub[:])
	require.NoError(t, err)
	return crypto.NewPeerID(pub)
}

func TestBucketIndexZeroDistanceIsLastBucket(t *testing.T) {
	var zero [20]byte
	assert.Equal(t, numBuckets-1, bucketIndex(zero))
}

func TestBucketIndexFirstDifferingBit(t *testing.T) {
	var d [20]byte
	d[0] = 0x01 // only the lowest bit of the most significant byte differs
	assert.Equal(t, 7, bucketIndex(d))

	d[0] = 0x80 // highest bit differs
	assert.Equal(t, 0, bucketIndex(d))
}

func TestRoutingTableAddAndFindClosest(t *testing.T) {
	self := randomPeerID(t)
	rt := NewRoutingTable(self, BucketSize)

	var added []crypto.PeerID
	for i := 0; i < 30; i++ {
		id := randomPeerID(t)
		added = append(added, id)
		ok := rt.AddNode(NewNode(id, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 10000 + i}))
		assert.True(t, ok)
	}

	assert.Equal(t, len(added), rt.TotalNodeCount())

	closest := rt.FindClosestNodes(added[0], 5)
	require.NotEmpty(t, closest)
	assert.Equal(t, added[0], closest[0].ID)
}

func TestRoutingTableRejectsSelf(t *testing.T) {
	self := randomPeerID(t)
	rt := NewRoutingTable(self, BucketSize)
	assert.False(t, rt.AddNode(NewNode(self, &net.UDPAddr{Port: 1})))
}

func TestKBucketEvictsBadNodeWhenFull(t *testing.T) {
	kb := NewKBucket(2)
	a := NewNode(randomPeerID(t), &net.UDPAddr{Port: 1})
	b := NewNode(randomPeerID(t), &net.UDPAddr{Port: 2})
	c := NewNode(randomPeerID(t), &net.UDPAddr{Port: 3})

	require.True(t, kb.AddNode(a))
	require.True(t, kb.AddNode(b))
	assert.False(t, kb.AddNode(c)) // full of good/unknown nodes

	b.Touch(StatusBad)
	assert.True(t, kb.AddNode(c))
	ids := map[crypto.PeerID]bool{}
	for _, n := range kb.Nodes() {
		ids[n.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[c.ID])
	assert.False(t, ids[b.ID])
}

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestHandlerPingUpdatesStatus(t *testing.T) {
	aliceID, bobID := randomPeerID(t), randomPeerID(t)
	aliceTransport, bobTransport := newLoopbackUDP(t), newLoopbackUDP(t)

	aliceTable := NewRoutingTable(aliceID, BucketSize)
	NewHandler(aliceTransport, aliceTable, aliceID)
	bobTable := NewRoutingTable(bobID, BucketSize)
	bobHandler := NewHandler(bobTransport, bobTable, bobID)

	bobTable.AddNode(NewNode(aliceID, aliceTransport.LocalAddr()))
	require.NoError(t, bobHandler.Ping(aliceTransport.LocalAddr()))
	time.Sleep(100 * time.Millisecond)

	nodes := bobTable.AllNodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, StatusGood, nodes[0].Status)
}

func TestHandlerFindNodeDiscoversPeers(t *testing.T) {
	aliceID, bobID, carolID := randomPeerID(t), randomPeerID(t), randomPeerID(t)
	aliceTransport := newLoopbackUDP(t)
	bobTransport := newLoopbackUDP(t)

	aliceTable := NewRoutingTable(aliceID, BucketSize)
	aliceHandler := NewHandler(aliceTransport, aliceTable, aliceID)

	bobTable := NewRoutingTable(bobID, BucketSize)
	NewHandler(bobTransport, bobTable, bobID)
	bobTable.AddNode(NewNode(carolID, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 55555}))

	aliceTable.AddNode(NewNode(bobID, bobTransport.LocalAddr()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := aliceHandler.FindNode(ctx, carolID)
	require.NoError(t, err)

	found := false
	for _, n := range aliceTable.AllNodes() {
		if n.ID == carolID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestBootstrapperRequiresAtLeastOneSuccess(t *testing.T) {
	selfID := randomPeerID(t)
	tr := newLoopbackUDP(t)
	table := NewRoutingTable(selfID, BucketSize)
	handler := NewHandler(tr, table, selfID)
	bootstrapper := NewBootstrapper(handler, table)

	err := bootstrapper.Bootstrap(context.Background(), selfID)
	assert.Error(t, err)
}

func TestEncodeDecodePeerID(t *testing.T) {
	id := randomPeerID(t)
	encoded := encodePeerID(id)
	decoded, err := decodePeerID(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)
}

func TestEncodeDecodeNodes(t *testing.T) {
	entries := []*nodeEntry{
		{id: randomPeerID(t), addr: "127.0.0.1:1111"},
		{id: randomPeerID(t), addr: "127.0.0.1:2222"},
	}
	encoded := encodeNodes(entries)
	decoded, err := decodeNodes(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, entries[0].id, decoded[0].id)
	assert.Equal(t, entries[1].addr, decoded[1].addr)
}
