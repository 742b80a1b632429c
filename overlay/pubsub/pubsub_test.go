package pubsub

import (
	"context"
	cryptorand "crypto/rand"
	"net"
	"sync"
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
	_, err := cryptorand.Read(pub[:])
	require.NoError(t, err)
	return crypto.NewPeerID(pub)
}

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTopicPublishDeliversToAllSubscribersExceptSelf(t *testing.T) {
	selfID := randomPeerID(t)
	selfTransport := newLoopbackUDP(t)

	var mu sync.Mutex
	received := make(map[string]int)
	var wg sync.WaitGroup

	const n = 3
	wg.Add(n)
	subs := make([]*Subscriber, 0, n)
	for i := 0; i < n; i++ {
		peerTransport := newLoopbackUDP(t)
		peerID := randomPeerID(t)
		peerTransport.RegisterHandler(publishProtocolID, func(payload []byte, from net.Addr) {
			mu.Lock()
			received[string(payload)]++
			mu.Unlock()
			wg.Done()
		})
		subs = append(subs, &Subscriber{PeerID: peerID, Address: peerTransport.LocalAddr()})
	}

	topic := NewTopic("group-1", selfTransport, selfID)
	topic.Subscribe(&Subscriber{PeerID: selfID, Address: selfTransport.LocalAddr()})
	for _, s := range subs {
		topic.Subscribe(s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := topic.Publish(ctx, []byte("hello group"))
	require.NoError(t, err)
	assert.Equal(t, n, res.Delivered)
	assert.Empty(t, res.Failed)

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deliveries")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, n, received["hello group"])
}

func TestTopicPublishWithNoOtherSubscribersSucceeds(t *testing.T) {
	selfID := randomPeerID(t)
	selfTransport := newLoopbackUDP(t)
	topic := NewTopic("solo", selfTransport, selfID)
	topic.Subscribe(&Subscriber{PeerID: selfID, Address: selfTransport.LocalAddr()})

	res, err := topic.Publish(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestTopicPublishReportsFailureWhenAllUnreachable(t *testing.T) {
	selfID := randomPeerID(t)
	selfTransport := newLoopbackUDP(t)
	topic := NewTopic("unreachable", selfTransport, selfID)

	dead := newLoopbackUDP(t)
	deadAddr := dead.LocalAddr()
	dead.Close()

	topic.Subscribe(&Subscriber{PeerID: randomPeerID(t), Address: deadAddr})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := topic.PublishWithOptions(ctx, []byte("x"), WithTimeout(200*time.Millisecond))
	assert.Error(t, err)
}

func TestUnsubscribeRemovesSubscriber(t *testing.T) {
	selfID := randomPeerID(t)
	selfTransport := newLoopbackUDP(t)
	topic := NewTopic("group-2", selfTransport, selfID)

	peerID := randomPeerID(t)
	topic.Subscribe(&Subscriber{PeerID: peerID, Address: selfTransport.LocalAddr()})
	assert.Len(t, topic.Subscribers(), 1)

	topic.Unsubscribe(peerID)
	assert.Empty(t, topic.Subscribers())
}

func TestManagerRoutesInboundToHandler(t *testing.T) {
	aliceID, bobID := randomPeerID(t), randomPeerID(t)
	aliceTransport, bobTransport := newLoopbackUDP(t), newLoopbackUDP(t)

	bobMgr := NewManager(bobTransport, bobID)
	gotCh := make(chan []byte, 1)
	bobMgr.OnMessage(func(topicID string, payload []byte, from net.Addr) {
		gotCh <- payload
	})

	aliceMgr := NewManager(aliceTransport, aliceID)
	topic := aliceMgr.Topic("group-3")
	topic.Subscribe(&Subscriber{PeerID: bobID, Address: bobTransport.LocalAddr()})

	_, err := topic.Publish(context.Background(), []byte("ping"))
	require.NoError(t, err)

	select {
	case got := <-gotCh:
		assert.Equal(t, "ping", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestWithMaxWorkersCapsAndDefaults(t *testing.T) {
	cfg := defaultConfig()
	WithMaxWorkers(0)(cfg)
	assert.Equal(t, defaultMaxWorkers, cfg.MaxWorkers)

	WithMaxWorkers(500)(cfg)
	assert.Equal(t, maxMaxWorkers, cfg.MaxWorkers)

	WithMaxWorkers(5)(cfg)
	assert.Equal(t, 5, cfg.MaxWorkers)
}

func TestWithTimeoutIgnoresNonPositive(t *testing.T) {
	cfg := defaultConfig()
	WithTimeout(-time.Second)(cfg)
	assert.Equal(t, defaultTimeout, cfg.Timeout)

	WithTimeout(5 * time.Second)(cfg)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}
