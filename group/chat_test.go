package group

import (
	"context"
	cryptorand "crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/pubsub"
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

func TestCreateMakesSelfFounder(t *testing.T) {
	selfID := randomPeerID(t)
	mgr := pubsub.NewManager(newLoopbackUDP(t), selfID)

	chat, err := Create("book club", ChatTypeText, PrivacyPrivate, selfID, mgr)
	require.NoError(t, err)
	require.Len(t, chat.Members(), 1)
	assert.Equal(t, RoleFounder, chat.Members()[0].Role)
	assert.Equal(t, "book club", chat.Name())
}

func TestAddMemberThenKickRequiresPrivilege(t *testing.T) {
	selfID := randomPeerID(t)
	mgr := pubsub.NewManager(newLoopbackUDP(t), selfID)
	chat, err := Create("group", ChatTypeText, PrivacyPublic, selfID, mgr)
	require.NoError(t, err)

	bob := randomPeerID(t)
	chat.AddMember(bob, "bob")
	require.Equal(t, 2, chat.MemberCount())

	carol := randomPeerID(t)
	chat.AddMember(carol, "carol")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// demoting self to a plain member means it can no longer remove anyone.
	chat.mu.Lock()
	chat.members[selfID].Role = RoleUser
	chat.mu.Unlock()
	err = chat.KickMember(ctx, bob)
	assert.Error(t, err)
	assert.Equal(t, 3, chat.MemberCount())

	// restoring founder rank lets the kick through.
	chat.mu.Lock()
	chat.members[selfID].Role = RoleFounder
	chat.mu.Unlock()
	require.NoError(t, chat.KickMember(ctx, carol))
	assert.Equal(t, 2, chat.MemberCount())
	for _, m := range chat.Members() {
		assert.NotEqual(t, carol, m.PeerID)
	}
}

// TestKickMemberExcludesRemovedPeerFromFurtherBroadcasts exercises the
// group's rekey-on-removal contract at the roster layer: once a peer is
// kicked it is unsubscribed from the topic, so it receives no further
// broadcasts regardless of what sender-key rotation the caller performs
// on session.GroupSession afterward (see session.TestGroupSessionRekeyOnRemoval
// for the cryptographic half of this scenario).
func TestKickMemberExcludesRemovedPeerFromFurtherBroadcasts(t *testing.T) {
	selfID := randomPeerID(t)
	selfTransport := newLoopbackUDP(t)
	mgr := pubsub.NewManager(selfTransport, selfID)
	chat, err := Create("group", ChatTypeText, PrivacyPublic, selfID, mgr)
	require.NoError(t, err)

	bobTransport := newLoopbackUDP(t)
	bob := randomPeerID(t)
	received := make(chan []byte, 4)
	bobTransport.RegisterHandler("pubsub/publish/1.0.0", func(payload []byte, _ net.Addr) {
		received <- payload
	})

	chat.AddMember(bob, "bob")
	chat.topic.Subscribe(&pubsub.Subscriber{PeerID: bob, Address: bobTransport.LocalAddr()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, chat.KickMember(ctx, bob))

	for _, m := range chat.Members() {
		assert.NotEqual(t, bob, m.PeerID)
	}

	// KickMember unsubscribes peer from the topic before broadcasting the
	// removal, so bob must not receive even the kick notification itself.
	select {
	case <-received:
		t.Fatal("kicked member still received a broadcast")
	case <-time.After(200 * time.Millisecond):
	}
}
