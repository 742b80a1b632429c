package handshake

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/edsonmartins/mepassa/session"
)

func newLoopbackUDP(t *testing.T) *transport.UDPTransport {
	t.Helper()
	tr, err := transport.NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func newTestIdentity(t *testing.T) (*identity.Identity, *identity.PreKeyStore) {
	t.Helper()
	id, err := identity.Generate(t.TempDir(), []byte("test-passphrase"))
	require.NoError(t, err)
	pks, err := identity.OpenPreKeyStore(id)
	require.NoError(t, err)
	return id, pks
}

func TestInitiateEstablishesSessionOnBothSides(t *testing.T) {
	aliceID, alicePreKeys := newTestIdentity(t)
	bobID, bobPreKeys := newTestIdentity(t)

	aliceTransport := newLoopbackUDP(t)
	bobTransport := newLoopbackUDP(t)

	aliceMgr := NewManager(aliceTransport, aliceID, alicePreKeys, session.Options{})
	bobMgr := NewManager(bobTransport, bobID, bobPreKeys, session.Options{})

	var bobSession *session.Session
	bobSessionCh := make(chan struct{})
	bobMgr.OnSessionEstablished(func(peer crypto.PeerID, s *session.Session) {
		if peer == aliceID.PeerID {
			bobSession = s
			close(bobSessionCh)
		}
	})

	var bobSawAliceIdentity bool
	bobMgr.OnPeerIdentity(func(peer crypto.PeerID, _ ed25519.PublicKey, _ [32]byte) {
		if peer == aliceID.PeerID {
			bobSawAliceIdentity = true
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	aliceSession, err := aliceMgr.Initiate(ctx, bobID.PeerID, bobTransport.LocalAddr())
	require.NoError(t, err)
	require.NotNil(t, aliceSession)

	select {
	case <-bobSessionCh:
	case <-time.After(time.Second):
		t.Fatal("bob's handshake manager never reported a session")
	}
	require.NotNil(t, bobSession)
	assert.True(t, bobSawAliceIdentity)

	plaintext := []byte("hello across the wire")
	header, ciphertext, err := aliceSession.Encrypt(plaintext)
	require.NoError(t, err)
	decrypted, err := bobSession.Decrypt(header, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestInitiateTimesOutWhenPeerNeverResponds(t *testing.T) {
	aliceID, alicePreKeys := newTestIdentity(t)
	bobID, _ := newTestIdentity(t)

	aliceTransport := newLoopbackUDP(t)
	silentTransport := newLoopbackUDP(t) // no handshake.Manager listening

	aliceMgr := NewManager(aliceTransport, aliceID, alicePreKeys, session.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := aliceMgr.Initiate(ctx, bobID.PeerID, silentTransport.LocalAddr())
	assert.Error(t, err)
}
