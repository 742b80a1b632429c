package voice

import (
	"context"
	cryptorand "crypto/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/wire"
)

func randomPeerID(t *testing.T) crypto.PeerID {
	t.Helper()
	var pub [32]byte
	_, err := cryptorand.Read(pub[:])
	require.NoError(t, err)
	return crypto.NewPeerID(pub)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mepassa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// noopSender discards every signaling frame, acting as the peer endpoint's
// transport for tests that only need the local side of the state machine.
type noopSender struct{}

func (noopSender) Send(crypto.PeerID, *wire.Frame) error { return nil }

func waitForState(t *testing.T, call *Call, want State, within time.Duration) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if call.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call did not reach state %v within %v, still %v", want, within, call.State())
}

func TestStartCallRingTimeoutEndsAsNoAnswer(t *testing.T) {
	self := randomPeerID(t)
	peer := randomPeerID(t)
	m := NewManager(self, noopSender{}, newTestStore(t))
	m.SetTimeouts(30*time.Millisecond, 15*time.Second)

	ctx := context.Background()
	call, err := m.StartCall(ctx, peer, 0)
	require.NoError(t, err)
	assert.Equal(t, StateRinging, call.State())

	waitForState(t, call, StateEnded, time.Second)
	assert.Equal(t, EndReasonNoAnswer, call.EndReason())

	_, active := m.ActiveCall()
	assert.False(t, active, "ended call must clear the single active-call slot")
}

func TestConnectingCallTimesOutAsConnectFail(t *testing.T) {
	self := randomPeerID(t)
	peer := randomPeerID(t)
	m := NewManager(self, noopSender{}, newTestStore(t))
	m.SetTimeouts(15*time.Second, 30*time.Millisecond)

	ctx := context.Background()
	call, err := m.StartCall(ctx, peer, 0)
	require.NoError(t, err)

	// peer answers: ringing -> connecting, arming the connect timeout.
	require.NoError(t, m.HandleSignal(ctx, peer, &wire.Frame{
		Type:             wire.TypeAnswer,
		CallID:           call.ID,
		Sender:           peer.String(),
		RecipientOrGroup: self.String(),
	}))
	assert.Equal(t, StateConnecting, call.State())

	waitForState(t, call, StateEnded, time.Second)
	assert.Equal(t, EndReasonConnectFail, call.EndReason())
}

func TestConfirmMediaFlowingCancelsConnectTimeout(t *testing.T) {
	self := randomPeerID(t)
	peer := randomPeerID(t)
	m := NewManager(self, noopSender{}, newTestStore(t))
	m.SetTimeouts(15*time.Second, 30*time.Millisecond)

	ctx := context.Background()
	call, err := m.StartCall(ctx, peer, 0)
	require.NoError(t, err)
	require.NoError(t, m.HandleSignal(ctx, peer, &wire.Frame{
		Type:   wire.TypeAnswer,
		CallID: call.ID,
	}))

	m.ConfirmMediaFlowing(call.ID)
	assert.Equal(t, StateActive, call.State())

	// the already-armed connect timer still fires, but armConnectTimeout
	// only acts while the call is still Connecting, so Active survives it.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateActive, call.State())
}

func TestStartCallRejectsSecondConcurrentCall(t *testing.T) {
	self := randomPeerID(t)
	m := NewManager(self, noopSender{}, newTestStore(t))
	ctx := context.Background()

	_, err := m.StartCall(ctx, randomPeerID(t), 0)
	require.NoError(t, err)

	_, err = m.StartCall(ctx, randomPeerID(t), 0)
	assert.ErrorIs(t, err, ErrCallAlreadyActive)
}
