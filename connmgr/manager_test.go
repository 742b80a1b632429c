package connmgr

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/overlay/natprobe"
	"github.com/edsonmartins/mepassa/overlay/relay"
	"github.com/edsonmartins/mepassa/overlay/transport"
)

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestConnectSucceedsDirectlyWhenPeerResponds(t *testing.T) {
	aliceTransport := newLoopbackUDP(t)
	bobTransport := newLoopbackUDP(t)

	aliceMgr := New(aliceTransport, nil, nil, nil)
	New(bobTransport, nil, nil, nil) // bob's manager answers probes automatically

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	addr, err := aliceMgr.Connect(ctx, "bob", bobTransport.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, bobTransport.LocalAddr().String(), addr.String())

	history := aliceMgr.AttemptHistory()
	require.Len(t, history, 1)
	assert.Equal(t, MethodDirect, history[0].Method)
	assert.True(t, history[0].Success)
}

func TestConnectFallsBackToHolePunchWhenDirectUnreachable(t *testing.T) {
	aliceTransport := newLoopbackUDP(t)
	aliceUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer aliceUDP.Close()

	bobUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer bobUDP.Close()

	hp, err := relay.NewHolePuncher(aliceUDP.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer hp.Close()

	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := bobUDP.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if string(buf[:n]) == "PUNCH_HOLE" {
				bobUDP.WriteToUDP([]byte("PONG"), from)
			}
		}
	}()

	mgr := New(aliceTransport, hp, nil, nil)
	mgr.SetProbeTimeout(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	_ = unreachable // a truly unreachable direct target isn't used: UDP has no connection refusal signal

	addr, err := mgr.Connect(ctx, "bob", bobUDP.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, bobUDP.LocalAddr().String(), addr.String())

	history := mgr.AttemptHistory()
	require.GreaterOrEqual(t, len(history), 2)
	assert.Equal(t, MethodDirect, history[0].Method)
	assert.False(t, history[0].Success)
	assert.Equal(t, MethodHolePunch, history[1].Method)
	assert.True(t, history[1].Success)
}

func TestConnectFallsBackToRelayWhenNoDirectOrHolePunch(t *testing.T) {
	relayServerTransport := newLoopbackUDP(t)
	aliceTransport := newLoopbackUDP(t)

	server := relay.NewServer(relayServerTransport)
	_ = server

	aliceRelay := relay.NewClient("alice", aliceTransport)
	aliceRelay.AddServer(relay.ServerInfo{Address: relayServerTransport.LocalAddr().String(), Priority: 0})

	mgr := New(aliceTransport, nil, aliceRelay, nil)
	mgr.SetProbeTimeout(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	addr, err := mgr.Connect(ctx, "bob", unreachable)
	require.NoError(t, err)
	assert.Equal(t, "bob", addr.(*relay.PeerAddress).PeerID)

	history := mgr.AttemptHistory()
	last := history[len(history)-1]
	assert.Equal(t, MethodRelay, last.Method)
	assert.True(t, last.Success)
}

func TestConnectReturnsErrorWhenDeadlineExpiresDuringBackoff(t *testing.T) {
	aliceTransport := newLoopbackUDP(t)
	mgr := New(aliceTransport, nil, nil, nil)
	mgr.SetProbeTimeout(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	_, err := mgr.Connect(ctx, "nobody", unreachable)
	assert.Error(t, err)
}

// --- symmetric-NAT STUN fixture ------------------------------------------
//
// Minimal standalone RFC 5389 binding-response encoder, duplicated from
// (rather than imported from) overlay/natprobe's own test fixture since
// that package's STUN constants are unexported.

const (
	testStunMagicCookie       = 0x2112A442
	testStunHeaderSize        = 20
	testStunBindingResponse   = 0x0101
	testStunAttrXorMappedAddr = 0x0020
)

func fakeSTUNServer(t *testing.T, mapped *net.UDPAddr) string {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1024)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if n < testStunHeaderSize {
				continue
			}
			txID := append([]byte(nil), buf[8:20]...)
			conn.WriteToUDP(buildTestBindingResponse(txID, mapped), from)
		}
	}()
	return conn.LocalAddr().String()
}

func buildTestBindingResponse(txID []byte, mapped *net.UDPAddr) []byte {
	attr := make([]byte, 8)
	binary.BigEndian.PutUint16(attr[0:2], 0x01)
	port := uint16(mapped.Port) ^ uint16(testStunMagicCookie>>16)
	binary.BigEndian.PutUint16(attr[2:4], port)
	ip4 := mapped.IP.To4()
	addr := binary.BigEndian.Uint32(ip4) ^ uint32(testStunMagicCookie)
	binary.BigEndian.PutUint32(attr[4:8], addr)

	attrHeader := make([]byte, 4)
	binary.BigEndian.PutUint16(attrHeader[0:2], testStunAttrXorMappedAddr)
	binary.BigEndian.PutUint16(attrHeader[2:4], uint16(len(attr)))
	body := append(attrHeader, attr...)

	header := make([]byte, testStunHeaderSize)
	binary.BigEndian.PutUint16(header[0:2], testStunBindingResponse)
	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)))
	binary.BigEndian.PutUint32(header[4:8], testStunMagicCookie)
	copy(header[8:20], txID)
	return append(header, body...)
}

// TestConnectSkipsHolePunchAndUsesRelayWhenNATIsSymmetric exercises spec
// §8 scenario 3's NAT-classification half: two STUN servers reporting
// different mapped ports for the same local socket classify the NAT as
// symmetric, which must make Connect skip hole punching entirely (a punch
// aimed at one observed mapping almost never matches what the peer will
// see) and go straight to the relay, even though a working hole puncher is
// available and would otherwise succeed.
func TestConnectSkipsHolePunchAndUsesRelayWhenNATIsSymmetric(t *testing.T) {
	serverA := fakeSTUNServer(t, &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 11111})
	serverB := fakeSTUNServer(t, &net.UDPAddr{IP: net.ParseIP("203.0.113.5"), Port: 22222})

	prober := natprobe.NewProber()
	prober.SetSTUNServers([]string{serverA, serverB})

	relayServerTransport := newLoopbackUDP(t)
	relay.NewServer(relayServerTransport)

	aliceTransport := newLoopbackUDP(t)
	aliceRelay := relay.NewClient("alice", aliceTransport)
	aliceRelay.AddServer(relay.ServerInfo{Address: relayServerTransport.LocalAddr().String(), Priority: 0})

	aliceUDP, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer aliceUDP.Close()
	hp, err := relay.NewHolePuncher(aliceUDP.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer hp.Close()

	mgr := New(aliceTransport, hp, aliceRelay, prober)
	mgr.SetProbeTimeout(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	unreachable := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	addr, err := mgr.Connect(ctx, "bob", unreachable)
	require.NoError(t, err)
	assert.Equal(t, "bob", addr.(*relay.PeerAddress).PeerID)

	history := mgr.AttemptHistory()
	for _, a := range history {
		assert.NotEqual(t, MethodHolePunch, a.Method, "symmetric NAT must never attempt hole punching")
	}
	last := history[len(history)-1]
	assert.Equal(t, MethodRelay, last.Method)
	assert.True(t, last.Success)
}
