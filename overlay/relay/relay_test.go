package relay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/overlay/transport"
)

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestClientRegisterAndRelayData(t *testing.T) {
	serverTransport := newLoopbackUDP(t)
	server := NewServer(serverTransport)

	aliceTransport := newLoopbackUDP(t)
	bobTransport := newLoopbackUDP(t)

	alice := NewClient("alice", aliceTransport)
	alice.AddServer(ServerInfo{Address: serverTransport.LocalAddr().String(), Priority: 0})
	bob := NewClient("bob", bobTransport)
	bob.AddServer(ServerInfo{Address: serverTransport.LocalAddr().String(), Priority: 0})

	require.NoError(t, alice.Connect(context.Background()))
	require.NoError(t, bob.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, server.CircuitCount())

	received := make(chan []byte, 1)
	bob.SetDataHandler(func(payload []byte, addr net.Addr) {
		received <- payload
	})

	require.NoError(t, alice.RelayTo("bob", []byte("hello bob")))

	select {
	case payload := <-received:
		assert.Equal(t, "hello bob", string(payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relayed frame")
	}
}

func TestServerRejectsOverGlobalLimit(t *testing.T) {
	serverTransport := newLoopbackUDP(t)
	server := NewServer(serverTransport)
	server.globalLimit = 1

	first := newLoopbackUDP(t)
	second := newLoopbackUDP(t)

	c1 := NewClient("p1", first)
	c1.AddServer(ServerInfo{Address: serverTransport.LocalAddr().String()})
	require.NoError(t, c1.Connect(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, server.CircuitCount())

	c2 := NewClient("p2", second)
	c2.AddServer(ServerInfo{Address: serverTransport.LocalAddr().String()})
	require.NoError(t, c2.Connect(context.Background()))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, server.CircuitCount())
}

func TestTokenBucketLimitsRate(t *testing.T) {
	b := newTokenBucket(10)
	assert.True(t, b.allow(10))
	assert.False(t, b.allow(1))
}

func TestEncodeDecodeTargeted(t *testing.T) {
	framed := encodeTargeted("peer-xyz", []byte("payload"))
	peerID, body, err := decodeTargeted(framed)
	require.NoError(t, err)
	assert.Equal(t, "peer-xyz", peerID)
	assert.Equal(t, "payload", string(body))
}

func TestDecodeTargetedTruncated(t *testing.T) {
	_, _, err := decodeTargeted([]byte{0, 5, 'a'})
	assert.Error(t, err)
}

func TestHolePunchRoundTrip(t *testing.T) {
	a, err := NewHolePuncher(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer a.Close()

	b, err := NewHolePuncher(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer b.Close()

	go func() {
		buf := make([]byte, 1024)
		for i := 0; i < 5; i++ {
			b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, from, err := b.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "PUNCH_HOLE" {
				b.conn.WriteToUDP([]byte("PONG"), from)
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	result, err := a.Punch(ctx, b.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, PunchSuccess, result)

	got, ok := a.Result(b.LocalAddr())
	require.True(t, ok)
	assert.Equal(t, PunchSuccess, got)
}
