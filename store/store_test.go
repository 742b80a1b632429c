package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "mepassa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := newTestStore(t)
	v, err := s.currentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestContactUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := Contact{PeerID: "peer-a", DisplayName: "Alice", PublicKey: []byte("pub"), DHPublicKey: []byte("dh"), Status: "online", AddedAt: 1}
	require.NoError(t, s.UpsertContact(ctx, c))

	got, err := s.GetContact(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "online", got.Status)

	c.DisplayName = "Alice B."
	require.NoError(t, s.UpsertContact(ctx, c))
	got, err = s.GetContact(ctx, "peer-a")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", got.DisplayName)
}

func TestGetContactMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetContact(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoRows)
}

func TestMessageLifecycleAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContact(ctx, Contact{PeerID: "peer-a", PublicKey: []byte("x"), DHPublicKey: []byte("y"), AddedAt: 1}))
	require.NoError(t, s.CreateDirectConversation(ctx, "conv-1", "peer-a", 1))

	require.NoError(t, s.InsertMessage(ctx, Message{ID: "m2", ConversationID: "conv-1", SenderPeerID: "peer-a", Body: "second", Timestamp: 20}))
	require.NoError(t, s.InsertMessage(ctx, Message{ID: "m1", ConversationID: "conv-1", SenderPeerID: "peer-a", Body: "first", Timestamp: 10}))

	msgs, err := s.ListConversationMessages(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)

	require.NoError(t, s.UpdateMessageStatus(ctx, "m1", MessageStatusSent))
	require.NoError(t, s.UpdateMessageStatus(ctx, "m1", MessageStatusDelivered))
	// regression to an earlier status must not move a later one backward
	require.NoError(t, s.UpdateMessageStatus(ctx, "m1", MessageStatusSent))

	msgs, err = s.ListConversationMessages(ctx, "conv-1", 10)
	require.NoError(t, err)
	assert.Equal(t, MessageStatusDelivered, msgs[0].Status)
}

func TestSearchMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContact(ctx, Contact{PeerID: "peer-a", PublicKey: []byte("x"), DHPublicKey: []byte("y"), AddedAt: 1}))
	require.NoError(t, s.CreateDirectConversation(ctx, "conv-1", "peer-a", 1))
	require.NoError(t, s.InsertMessage(ctx, Message{ID: "m1", ConversationID: "conv-1", SenderPeerID: "peer-a", Body: "the quick brown fox", Timestamp: 10}))
	require.NoError(t, s.InsertMessage(ctx, Message{ID: "m2", ConversationID: "conv-1", SenderPeerID: "peer-a", Body: "a lazy dog", Timestamp: 20}))

	results, err := s.SearchMessages(ctx, "fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].MessageID)
}

func TestOfflineEnvelopeCacheIdempotentPut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := OfflineEnvelope{EnvelopeID: "env-1", RecipientPeerID: "peer-a", SenderPeerID: "peer-b", MessageID: "m1", Payload: []byte("ct"), ReceivedAt: 1}
	require.NoError(t, s.PutOfflineEnvelope(ctx, e))
	require.NoError(t, s.PutOfflineEnvelope(ctx, e))

	list, err := s.ListOfflineEnvelopes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteOfflineEnvelopes(ctx, []string{"env-1", "missing"}))
	list, err = s.ListOfflineEnvelopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGroupMembership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, Group{ID: "group-1", Name: "Friends", CreatedAt: 1}))
	require.NoError(t, s.AddGroupMember(ctx, "group-1", "peer-a", 1))
	require.NoError(t, s.AddGroupMember(ctx, "group-1", "peer-a", 1))
	require.NoError(t, s.AddGroupMember(ctx, "group-1", "peer-b", 2))

	members, err := s.ListGroupMembers(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-a", "peer-b"}, members)

	require.NoError(t, s.RemoveGroupMember(ctx, "group-1", "peer-a"))
	members, err = s.ListGroupMembers(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer-b"}, members)
}
