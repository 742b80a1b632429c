package natprobe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDetectsSymmetricNAT(t *testing.T) {
	serverA := fakeSTUNServer(t, func(from *net.UDPAddr) *net.UDPAddr {
		return &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 10001}
	})
	serverB := fakeSTUNServer(t, func(from *net.UDPAddr) *net.UDPAddr {
		return &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 20002}
	})

	p := NewProber()
	p.SetSTUNServers([]string{serverA, serverB})
	p.stun.SetTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := p.Classify(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeSymmetric, result)
}

func TestClassifyDetectsConeNAT(t *testing.T) {
	observed := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 30003}
	responder := func(from *net.UDPAddr) *net.UDPAddr { return observed }
	serverA := fakeSTUNServer(t, responder)
	serverB := fakeSTUNServer(t, responder)

	p := NewProber()
	p.SetSTUNServers([]string{serverA, serverB})
	p.stun.SetTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := p.Classify(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypePortRestrictedCone, result)
}

func TestClassifyCachesResult(t *testing.T) {
	calls := 0
	observed := &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 40004}
	server := fakeSTUNServer(t, func(from *net.UDPAddr) *net.UDPAddr {
		calls++
		return observed
	})

	p := NewProber()
	p.SetSTUNServers([]string{server, server})
	p.stun.SetTimeout(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Classify(ctx)
	require.NoError(t, err)
	firstCalls := calls

	_, err = p.Classify(ctx)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, calls, "second Classify within cacheInterval should not re-probe")
}

func TestClassifyRequiresTwoServers(t *testing.T) {
	p := NewProber()
	p.SetSTUNServers([]string{"127.0.0.1:1"})
	_, err := p.Classify(context.Background())
	assert.Error(t, err)
}
