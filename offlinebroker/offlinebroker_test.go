package offlinebroker

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, retention time.Duration) (*Client, *Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(retention)
	httpSrv := httptest.NewServer(srv)
	t.Cleanup(httpSrv.Close)
	return NewClient(httpSrv.URL, nil), srv, httpSrv
}

func TestStoreThenRetrieveRoundTrips(t *testing.T) {
	client, _, _ := newTestServer(t, 0)
	ctx := context.Background()

	envelopeID, expiresAt, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("ciphertext"))
	require.NoError(t, err)
	assert.NotEmpty(t, envelopeID)
	assert.Greater(t, expiresAt, time.Now().Unix())

	envelopes, err := client.Retrieve(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, envelopeID, envelopes[0].EnvelopeID)
	assert.Equal(t, []byte("ciphertext"), envelopes[0].EncryptedPayload)
	assert.Equal(t, "alice", envelopes[0].SenderPeerID)
}

func TestStoreIsIdempotentForSameMessageAndRecipient(t *testing.T) {
	client, _, _ := newTestServer(t, 0)
	ctx := context.Background()

	id1, _, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("first"))
	require.NoError(t, err)
	id2, _, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	envelopes, err := client.Retrieve(ctx, "bob", 0)
	require.NoError(t, err)
	require.Len(t, envelopes, 1)
	assert.Equal(t, []byte("first"), envelopes[0].EncryptedPayload)
}

func TestAcknowledgeRemovesEnvelopes(t *testing.T) {
	client, _, _ := newTestServer(t, 0)
	ctx := context.Background()

	id, _, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, client.Acknowledge(ctx, []string{id}))

	envelopes, err := client.Retrieve(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, envelopes)
}

func TestEnvelopesExpireAfterRetentionWindow(t *testing.T) {
	client, srv, _ := newTestServer(t, time.Millisecond)
	ctx := context.Background()

	_, _, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("x"))
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	srv.now = time.Now

	envelopes, err := client.Retrieve(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Empty(t, envelopes)
}

func TestSchedulerPollsOnOnlineTransitionAndPeriodically(t *testing.T) {
	client, _, _ := newTestServer(t, 0)
	ctx := context.Background()

	_, _, err := client.Store(ctx, "bob", "alice", "msg-1", "text", []byte("hi"))
	require.NoError(t, err)

	var received int
	done := make(chan struct{}, 1)
	sched := NewScheduler(client, "bob", func(envelopes []Envelope) {
		received += len(envelopes)
		if len(envelopes) > 0 {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})

	sched.TriggerOnlineTransition(ctx)
	assert.Equal(t, 1, received)
	<-done // consume the signal from the online-transition poll

	sched.SetInterval(10*time.Millisecond, 0)
	runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	sched.Start(runCtx)
	defer sched.Stop()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("scheduler never delivered the envelope on a periodic poll")
	}
}

func TestRetrieveRejectsMissingPeerID(t *testing.T) {
	client, _, _ := newTestServer(t, 0)
	_, err := client.Retrieve(context.Background(), "", 0)
	assert.Error(t, err)
}
