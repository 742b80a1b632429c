package mepassa

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/message"
	"github.com/edsonmartins/mepassa/offlinebroker"
	"github.com/edsonmartins/mepassa/session"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/voice"
	"github.com/edsonmartins/mepassa/wire"
)

// This file covers the six end-to-end scenarios every release of this
// engine has to satisfy, one test per scenario except where a scenario is
// already fully exercised by an existing package-level test — in which
// case this file documents that coverage instead of duplicating it:
//
//  1. two-peer direct chat               -> TestTwoPeerDirectChatDeliversAndUpdatesStatus
//  2. offline delivery                   -> TestOfflineDeliveryQueuesThenRedeliversOnReconnect
//  3. symmetric-NAT relay                -> connmgr.TestConnectSkipsHolePunchAndUsesRelayWhenNATIsSymmetric
//  4. out-of-order decrypt               -> TestOutOfOrderFrameDeliveryDecryptsAllMessages
//  5. group rekey on removal             -> session.TestGroupSessionRekeyOnRemoval (sender-key rotation)
//                                           + group.TestKickMemberExcludesRemovedPeerFromFurtherBroadcasts (roster)
//  6. call timeout                       -> TestCallRingTimeoutEndsAsNoAnswerAcrossTwoEngines
//
// Scenario 3 needs a forged symmetric NAT classification, which requires
// driving connmgr.Manager directly against a fake STUN fixture; doing that
// against two full Engines would mean faking packet loss convincingly
// enough to force the exact classification without ever tripping the real
// STUN client's public server list, which is both fragile and redundant
// with the focused connmgr-level test. Scenario 5's cryptographic half
// (sender-key rotation) and roster half (unsubscribe-then-broadcast
// ordering) are both already covered independently; gluing them into one
// Engine-level test would re-assert the same two invariants without
// exercising anything new.

func newTestEngine(t *testing.T, bootstrap []BootstrapNode) *Engine {
	t.Helper()
	opts := NewOptions()
	opts.DataDir = t.TempDir()
	opts.BootstrapNodes = bootstrap
	opts.BootstrapTimeout = 2 * time.Second
	e, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, e.ListenOn("127.0.0.1:0"))
	t.Cleanup(func() { e.Close() })
	return e
}

// bootstrapPair brings up two engines on loopback with bob seeded off
// alice's address, then has each bootstrap against the other so both
// routing tables know the peer's address before any send is attempted.
func bootstrapPair(t *testing.T) (alice, bob *Engine) {
	t.Helper()
	alice = newTestEngine(t, nil)
	bob = newTestEngine(t, []BootstrapNode{
		{Address: alice.ListenAddress().String(), PeerID: alice.LocalPeerID().String()},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bob.Bootstrap(ctx))
	require.NoError(t, alice.Bootstrap(ctx))
	return alice, bob
}

func waitForCondition(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}

// --- scenario 1: two-peer direct chat ------------------------------------

func TestTwoPeerDirectChatDeliversAndUpdatesStatus(t *testing.T) {
	alice, bob := bootstrapPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bobEvents := make(chan Event, 16)
	go func() {
		for ev := range bob.Events() {
			bobEvents <- ev
		}
	}()

	msgID, err := alice.SendText(ctx, bob.LocalPeerID(), "hello")
	require.NoError(t, err)

	var received Event
	select {
	case received = <-bobEvents:
	case <-time.After(2 * time.Second):
		t.Fatal("bob never received a message event")
	}
	assert.Equal(t, EventMessageReceived, received.Kind)
	assert.Equal(t, "hello", received.Body)

	// alice's own copy goes pending -> sent immediately, then delivered
	// once bob's ack round-trips, all within the scenario's 2s bound.
	waitForCondition(t, 2*time.Second, func() bool {
		conv, err := alice.GetConversation(ctx, bob.LocalPeerID(), 10, 0)
		return err == nil && len(conv) == 1 && conv[0].Status == store.MessageStatusDelivered
	})

	aliceConv, err := alice.GetConversation(ctx, bob.LocalPeerID(), 10, 0)
	require.NoError(t, err)
	require.Len(t, aliceConv, 1)
	assert.Equal(t, msgID, aliceConv[0].ID)
	assert.Equal(t, store.MessageStatusDelivered, aliceConv[0].Status)

	bobConv, err := bob.GetConversation(ctx, alice.LocalPeerID(), 10, 0)
	require.NoError(t, err)
	require.Len(t, bobConv, 1)
	assert.Equal(t, "hello", bobConv[0].Body)
}

// --- scenario 2: offline delivery ----------------------------------------
//
// Driven at the message.Handler + offlinebroker level rather than through
// two full Engines: simulating "peer unreachable" convincingly through a
// live connmgr (direct probe, hole punch, relay, each with its own
// backoff) without an actual network partition would mean waiting out
// connmgr's real multi-second backoff schedule or fabricating packet
// loss, neither of which is necessary to exercise the handler/broker
// contract this scenario is actually about. unreachableSender stands in
// for exactly the error connMgr.Connect returns once every strategy is
// exhausted (see connmgr.Manager.Connect), which is the seam
// message.Handler.SendMessage reacts to.

func newScenarioIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate(t.TempDir(), []byte("test-passphrase"))
	require.NoError(t, err)
	return id
}

func establishScenarioSessionPair(t *testing.T) (aliceSess, bobSess *session.Session, alice, bob *identity.Identity) {
	t.Helper()
	alice = newScenarioIdentity(t)
	bob = newScenarioIdentity(t)

	bobPreKeys, err := identity.OpenPreKeyStore(bob)
	require.NoError(t, err)
	bundle, err := bobPreKeys.FetchBundle()
	require.NoError(t, err)

	aliceSess, ephemeralPublic, err := session.EstablishInitiator(alice, bob.PeerID, bob.DH.Public, bundle, session.Options{})
	require.NoError(t, err)

	mediumTerm := bobPreKeys.MediumTermPrivateKey()
	oneTime, err := bobPreKeys.OneTimePrivateKey(bundle.OneTimeID)
	require.NoError(t, err)
	bobSess, err = session.EstablishResponder(bob, alice.PeerID, alice.DH.Public, ephemeralPublic, mediumTerm, oneTime, session.Options{})
	require.NoError(t, err)

	return aliceSess, bobSess, alice, bob
}

func newScenarioStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "scenario.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

type unreachableSender struct{}

func (unreachableSender) Send(peer crypto.PeerID, frame *wire.Frame) error {
	return fmt.Errorf("connmgr: %w", errs.ErrUnreachable)
}

// ackPipeSender delivers only what a live transport would actually
// deliver in this scenario: bob's ack frame, routed straight into alice's
// handler in-process instead of over a socket.
type ackPipeSender struct {
	to   *message.Handler
	from crypto.PeerID
	conv string
}

func (p *ackPipeSender) Send(peer crypto.PeerID, frame *wire.Frame) error {
	return p.to.HandleInbound(context.Background(), p.from, p.conv, frame)
}

func TestOfflineDeliveryQueuesThenRedeliversOnReconnect(t *testing.T) {
	aliceSess, bobSess, aliceID, bobID := establishScenarioSessionPair(t)
	aliceStore := newScenarioStore(t)
	bobStore := newScenarioStore(t)

	ctx := context.Background()
	aliceConv := "conv-alice-bob"
	bobConv := "conv-bob-alice"
	require.NoError(t, aliceStore.CreateDirectConversation(ctx, aliceConv, bobID.PeerID.String(), time.Now().Unix()))
	require.NoError(t, bobStore.CreateDirectConversation(ctx, bobConv, aliceID.PeerID.String(), time.Now().Unix()))

	brokerServer := httptest.NewServer(offlinebroker.NewServer(time.Hour))
	t.Cleanup(brokerServer.Close)
	brokerClient := offlinebroker.NewClient(brokerServer.URL, nil)

	aliceHandler := message.NewHandler(aliceID.PeerID, unreachableSender{}, aliceStore)
	aliceHandler.AddSession(bobID.PeerID, aliceSess)
	aliceHandler.SetOfflineBroker(brokerClient)

	// A sends "ping" while B is unreachable: status stays pending, and
	// exactly one envelope lands at the broker with a non-empty payload.
	messageID, err := aliceHandler.SendMessage(ctx, aliceConv, bobID.PeerID, "ping")
	require.NoError(t, err)

	aliceMsgs, err := aliceStore.ListConversationMessages(ctx, aliceConv, 10)
	require.NoError(t, err)
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, store.MessageStatusPending, aliceMsgs[0].Status)

	envelopes, err := brokerClient.Retrieve(ctx, bobID.PeerID.String(), 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, messageID, envelopes[0].MessageID)
	assert.Greater(t, len(envelopes[0].EncryptedPayload), 0)

	// B comes online: its handler's ack is piped straight back into
	// alice's handler, exactly as Engine.sendFrame would route it over a
	// live connection once one exists.
	bobHandler := message.NewHandler(bobID.PeerID, &ackPipeSender{to: aliceHandler, from: bobID.PeerID, conv: aliceConv}, bobStore)
	bobHandler.AddSession(aliceID.PeerID, bobSess)

	scheduler := offlinebroker.NewScheduler(brokerClient, bobID.PeerID.String(), func(envs []offlinebroker.Envelope) {
		var acked []string
		for _, env := range envs {
			frame := &wire.Frame{
				Type:             wire.TypeMessage,
				MessageID:        env.MessageID,
				Sender:           env.SenderPeerID,
				RecipientOrGroup: env.RecipientPeerID,
				TimestampMs:      uint64(time.Now().UnixMilli()),
				Ciphertext:       env.EncryptedPayload,
			}
			if err := bobHandler.HandleInbound(ctx, aliceID.PeerID, bobConv, frame); err != nil {
				t.Errorf("bob failed to process replayed envelope: %v", err)
				continue
			}
			acked = append(acked, env.EnvelopeID)
		}
		if len(acked) > 0 {
			require.NoError(t, brokerClient.Acknowledge(ctx, acked))
		}
	})
	scheduler.TriggerOnlineTransition(ctx)

	// B received and persisted the message, and the broker queue is now
	// empty; A's own copy advanced from pending to delivered via the ack
	// bob's handler routed straight back.
	bobMsgs, err := bobStore.ListConversationMessages(ctx, bobConv, 10)
	require.NoError(t, err)
	require.Len(t, bobMsgs, 1)
	assert.Equal(t, "ping", bobMsgs[0].Body)

	remaining, err := brokerClient.Retrieve(ctx, bobID.PeerID.String(), 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	aliceMsgs, err = aliceStore.ListConversationMessages(ctx, aliceConv, 10)
	require.NoError(t, err)
	require.Len(t, aliceMsgs, 1)
	assert.Equal(t, store.MessageStatusDelivered, aliceMsgs[0].Status)
}

// --- scenario 4: out-of-order decrypt -------------------------------------

type capturingSender struct {
	frames []*wire.Frame
}

func (c *capturingSender) Send(peer crypto.PeerID, frame *wire.Frame) error {
	c.frames = append(c.frames, frame)
	return nil
}

func TestOutOfOrderFrameDeliveryDecryptsAllMessages(t *testing.T) {
	aliceSess, bobSess, aliceID, bobID := establishScenarioSessionPair(t)
	aliceStore := newScenarioStore(t)
	bobStore := newScenarioStore(t)

	ctx := context.Background()
	aliceConv := "conv-alice-bob"
	bobConv := "conv-bob-alice"
	require.NoError(t, aliceStore.CreateDirectConversation(ctx, aliceConv, bobID.PeerID.String(), time.Now().Unix()))
	require.NoError(t, bobStore.CreateDirectConversation(ctx, bobConv, aliceID.PeerID.String(), time.Now().Unix()))

	capture := &capturingSender{}
	aliceHandler := message.NewHandler(aliceID.PeerID, capture, aliceStore)
	aliceHandler.AddSession(bobID.PeerID, aliceSess)

	bobHandler := message.NewHandler(bobID.PeerID, &capturingSender{}, bobStore)
	bobHandler.AddSession(aliceID.PeerID, bobSess)

	bodies := []string{"m1", "m2", "m3"}
	for _, body := range bodies {
		_, err := aliceHandler.SendMessage(ctx, aliceConv, bobID.PeerID, body)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // guarantee strictly increasing timestamps
	}
	require.Len(t, capture.frames, 3)

	// wire delivers m3 before m1 before m2.
	order := []int{2, 0, 1}
	for _, i := range order {
		require.NoError(t, bobHandler.HandleInbound(ctx, aliceID.PeerID, bobConv, capture.frames[i]))
	}

	msgs, err := bobStore.ListConversationMessages(ctx, bobConv, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, want := range bodies {
		assert.Equal(t, want, msgs[i].Body, "DB order must follow send timestamp, not delivery order")
	}
}

// --- scenario 6: call timeout --------------------------------------------

func TestCallRingTimeoutEndsAsNoAnswerAcrossTwoEngines(t *testing.T) {
	alice, bob := bootstrapPair(t)

	alice.voiceMgr.SetTimeouts(50*time.Millisecond, 15*time.Second)
	bob.voiceMgr.SetTimeouts(50*time.Millisecond, 15*time.Second)

	aliceEvents := make(chan Event, 16)
	go func() {
		for ev := range alice.Events() {
			aliceEvents <- ev
		}
	}()
	bobEvents := make(chan Event, 16)
	go func() {
		for ev := range bob.Events() {
			bobEvents <- ev
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	callID, err := alice.StartCall(ctx, bob.LocalPeerID())
	require.NoError(t, err)

	// bob never answers: drain his incoming-call event, but take no action.
	select {
	case ev := <-bobEvents:
		require.Equal(t, EventIncomingCall, ev.Kind)
		require.NotNil(t, ev.Call)
		assert.Equal(t, callID, ev.Call.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("bob never saw the incoming call")
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-aliceEvents:
			if ev.Kind == EventCallStateChanged && ev.Call.ID == callID && ev.Call.State() == voice.StateEnded {
				assert.Equal(t, voice.EndReasonNoAnswer, ev.Call.EndReason())
				return
			}
		case <-deadline:
			t.Fatal("alice's call never reached Ended{NoAnswer} within the shortened ring timeout")
		}
	}
}
