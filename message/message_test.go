package message

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/offlinebroker"
	"github.com/edsonmartins/mepassa/session"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/wire"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	dir, err := os.MkdirTemp("", "mepassa-message-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	id, err := identity.Generate(dir, []byte("test-passphrase"))
	require.NoError(t, err)
	return id
}

func establishPair(t *testing.T) (*session.Session, *session.Session, crypto.PeerID, crypto.PeerID) {
	t.Helper()

	alice := newTestIdentity(t)
	bob := newTestIdentity(t)

	bobPreKeys, err := identity.OpenPreKeyStore(bob)
	require.NoError(t, err)

	bundle, err := bobPreKeys.FetchBundle()
	require.NoError(t, err)

	aliceSession, ephemeralPublic, err := session.EstablishInitiator(alice, bob.PeerID, bob.DH.Public, bundle, session.Options{})
	require.NoError(t, err)

	mediumTerm := bobPreKeys.MediumTermPrivateKey()
	oneTime, err := bobPreKeys.OneTimePrivateKey(bundle.OneTimeID)
	require.NoError(t, err)

	bobSession, err := session.EstablishResponder(bob, alice.PeerID, alice.DH.Public, ephemeralPublic, mediumTerm, oneTime, session.Options{})
	require.NoError(t, err)

	return aliceSession, bobSession, alice.PeerID, bob.PeerID
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// pipeSender delivers frames synchronously to a peer's Handler, standing
// in for an overlay transport in tests.
type pipeSender struct {
	peers map[crypto.PeerID]*Handler
	from  crypto.PeerID
	ctx   context.Context
	conv  map[crypto.PeerID]string
}

func (p *pipeSender) Send(peer crypto.PeerID, frame *wire.Frame) error {
	h := p.peers[peer]
	return h.HandleInbound(p.ctx, p.from, p.conv[p.from], frame)
}

func setupConversation(t *testing.T, st *store.Store, self, peer crypto.PeerID) string {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertContact(ctx, store.Contact{PeerID: peer, DisplayName: string(peer), Status: "active", AddedAt: time.Now().Unix()}))
	require.NoError(t, st.UpsertContact(ctx, store.Contact{PeerID: self, DisplayName: string(self), Status: "active", AddedAt: time.Now().Unix()}))
	convID := "conv-" + string(self) + "-" + string(peer)
	require.NoError(t, st.CreateDirectConversation(ctx, convID, string(peer), time.Now().Unix()))
	return convID
}

func TestSendMessageEncryptsAndDeliversWithAck(t *testing.T) {
	aliceSess, bobSess, aliceID, bobID := establishPair(t)

	aliceStore := newTestStore(t)
	bobStore := newTestStore(t)

	aliceConv := setupConversation(t, aliceStore, aliceID, bobID)
	bobConv := setupConversation(t, bobStore, bobID, aliceID)

	aliceHandler := NewHandler(aliceID, nil, aliceStore)
	bobHandler := NewHandler(bobID, nil, bobStore)
	aliceHandler.AddSession(bobID, aliceSess)
	bobHandler.AddSession(aliceID, bobSess)

	ctx := context.Background()
	bobSender := &pipeSender{peers: map[crypto.PeerID]*Handler{aliceID: aliceHandler}, from: bobID, ctx: ctx, conv: map[crypto.PeerID]string{bobID: aliceConv}}
	bobHandler.sender = bobSender

	var receivedBody string
	bobHandler.OnInboundMessage(func(peer crypto.PeerID, conversationID, messageID, body string) {
		receivedBody = body
	})

	aliceSender := &pipeSender{peers: map[crypto.PeerID]*Handler{bobID: bobHandler}, from: aliceID, ctx: ctx, conv: map[crypto.PeerID]string{aliceID: bobConv}}
	aliceHandler.sender = aliceSender

	messageID, err := aliceHandler.SendMessage(ctx, aliceConv, bobID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", receivedBody)

	msgs, err := aliceStore.ListConversationMessages(ctx, aliceConv, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, messageID, msgs[0].ID)
	assert.Equal(t, store.MessageStatusDelivered, msgs[0].Status)

	bobMsgs, err := bobStore.ListConversationMessages(ctx, bobConv, 10)
	require.NoError(t, err)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, store.MessageStatusDelivered, bobMsgs[0].Status)
}

func TestSendMessageWithoutSessionFails(t *testing.T) {
	st := newTestStore(t)
	self := crypto.NewPeerID([32]byte{1})
	peer := crypto.NewPeerID([32]byte{2})
	h := NewHandler(self, nil, st)

	_, err := h.SendMessage(context.Background(), "conv", peer, "hi")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRepeatedDecryptFailuresResetSession(t *testing.T) {
	_, bobSess, aliceID, bobID := establishPair(t)
	bobStore := newTestStore(t)
	bobConv := setupConversation(t, bobStore, bobID, aliceID)

	bobHandler := NewHandler(bobID, nil, bobStore)
	bobHandler.AddSession(aliceID, bobSess)

	var resetCalled bool
	bobHandler.OnSessionReset(func(peer crypto.PeerID, reason error) {
		resetCalled = true
	})

	badFrame := &wire.Frame{
		Type:             wire.TypeMessage,
		MessageID:        "bad-1",
		Sender:           aliceID.String(),
		RecipientOrGroup: bobID.String(),
		TimestampMs:      1,
		Ciphertext:       []byte("not a valid envelope at all, too short and wrong"),
	}

	var lastErr error
	for i := 0; i <= decryptFailureThreshold; i++ {
		lastErr = bobHandler.HandleInbound(context.Background(), aliceID, bobConv, badFrame)
	}

	require.Error(t, lastErr)
	assert.ErrorIs(t, lastErr, ErrSessionReset)
	assert.True(t, resetCalled)
	assert.False(t, bobHandler.HasSession(aliceID))
}

type unreachableSender struct{}

func (unreachableSender) Send(peer crypto.PeerID, frame *wire.Frame) error {
	return fmt.Errorf("connmgr: %w", errs.ErrUnreachable)
}

func TestSendMessageFallsBackToOfflineBrokerWhenUnreachable(t *testing.T) {
	aliceSess, _, aliceID, bobID := establishPair(t)
	aliceStore := newTestStore(t)
	aliceConv := setupConversation(t, aliceStore, aliceID, bobID)

	brokerServer := httptest.NewServer(offlinebroker.NewServer(0))
	t.Cleanup(brokerServer.Close)
	brokerClient := offlinebroker.NewClient(brokerServer.URL, nil)

	aliceHandler := NewHandler(aliceID, unreachableSender{}, aliceStore)
	aliceHandler.AddSession(bobID, aliceSess)
	aliceHandler.SetOfflineBroker(brokerClient)

	ctx := context.Background()
	messageID, err := aliceHandler.SendMessage(ctx, aliceConv, bobID, "ping")
	require.NoError(t, err)

	msgs, err := aliceStore.ListConversationMessages(ctx, aliceConv, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.MessageStatusPending, msgs[0].Status)

	envelopes, err := brokerClient.Retrieve(ctx, bobID.String(), 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, messageID, envelopes[0].MessageID)
	assert.NotEmpty(t, envelopes[0].EncryptedPayload)

	cached, err := aliceStore.ListOfflineEnvelopes(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, messageID, cached[0].MessageID)
}

func TestSendMessageWithoutBrokerReportsUnreachable(t *testing.T) {
	aliceSess, _, aliceID, bobID := establishPair(t)
	aliceStore := newTestStore(t)
	aliceConv := setupConversation(t, aliceStore, aliceID, bobID)

	aliceHandler := NewHandler(aliceID, unreachableSender{}, aliceStore)
	aliceHandler.AddSession(bobID, aliceSess)

	_, err := aliceHandler.SendMessage(context.Background(), aliceConv, bobID, "ping")
	assert.Error(t, err)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	aliceSess, _, _, _ := establishPair(t)
	header, ciphertext, err := aliceSess.Encrypt([]byte("payload"))
	require.NoError(t, err)

	encoded := encodeEnvelope(header, ciphertext)
	decodedHeader, decodedCiphertext, err := decodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, header, decodedHeader)
	assert.Equal(t, ciphertext, decodedCiphertext)
}
