package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackUDP(t *testing.T) *UDPTransport {
	t.Helper()
	tr, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestIdentifyReturnsPeerResponderInfo(t *testing.T) {
	a := newLoopbackUDP(t)
	b := newLoopbackUDP(t)

	NewIdentifyService(b, func() PeerInfo {
		return PeerInfo{ProtocolVersion: CurrentProtocolVersion, ListenAddrs: []string{b.LocalAddr().String()}, Protocols: []string{"chat/1.0.0", "voice/1.0.0"}}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	aIdentify := NewIdentifyService(a, func() PeerInfo { return PeerInfo{ProtocolVersion: CurrentProtocolVersion} })
	info, err := aIdentify.Identify(ctx, b.LocalAddr())
	require.NoError(t, err)
	assert.Equal(t, uint32(CurrentProtocolVersion), info.ProtocolVersion)
	assert.Equal(t, []string{b.LocalAddr().String()}, info.ListenAddrs)
	assert.ElementsMatch(t, []string{"chat/1.0.0", "voice/1.0.0"}, info.Protocols)
}

func TestIdentifyTimesOutWhenPeerNeverResponds(t *testing.T) {
	a := newLoopbackUDP(t)
	silent := newLoopbackUDP(t) // no IdentifyService registered: requests go unanswered

	svc := NewIdentifyService(a, func() PeerInfo { return PeerInfo{ProtocolVersion: CurrentProtocolVersion} })
	svc.SetTimeout(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := svc.Identify(ctx, silent.LocalAddr())
	assert.Error(t, err)
}

func TestIdentifyRespectsContextCancellation(t *testing.T) {
	a := newLoopbackUDP(t)
	silent := newLoopbackUDP(t)

	svc := NewIdentifyService(a, func() PeerInfo { return PeerInfo{ProtocolVersion: CurrentProtocolVersion} })
	svc.SetTimeout(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := svc.Identify(ctx, silent.LocalAddr())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
