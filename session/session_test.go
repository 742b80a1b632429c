package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/identity"
)

func newTestIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	dir, err := os.MkdirTemp("", "mepassa-session-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	id, err := identity.Generate(dir, []byte("test-passphrase"))
	require.NoError(t, err)
	return id
}

func establishPair(t *testing.T, opts Options) (*Session, *Session) {
	t.Helper()

	alice := newTestIdentity(t)
	bob := newTestIdentity(t)

	bobPreKeys, err := identity.OpenPreKeyStore(bob)
	require.NoError(t, err)

	bundle, err := bobPreKeys.FetchBundle()
	require.NoError(t, err)

	aliceSession, ephemeralPublic, err := EstablishInitiator(alice, bob.PeerID, bob.DH.Public, bundle, opts)
	require.NoError(t, err)

	mediumTerm := bobPreKeys.MediumTermPrivateKey()
	oneTime, err := bobPreKeys.OneTimePrivateKey(bundle.OneTimeID)
	require.NoError(t, err)

	bobSession, err := EstablishResponder(bob, alice.PeerID, alice.DH.Public, ephemeralPublic, mediumTerm, oneTime, opts)
	require.NoError(t, err)

	return aliceSession, bobSession
}

func TestEstablishAndRoundTrip(t *testing.T) {
	alice, bob := establishPair(t, Options{})

	assert.Equal(t, StateEstablished, alice.State())
	assert.Equal(t, StateEstablished, bob.State())

	h, ct, err := alice.Encrypt([]byte("hi bob"))
	require.NoError(t, err)

	pt, err := bob.Decrypt(h, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi bob"), pt)
}

func TestSimplifiedAgreementRoundTrip(t *testing.T) {
	alice, bob := establishPair(t, Options{SimplifiedAgreement: true})

	h, ct, err := alice.Encrypt([]byte("simplified"))
	require.NoError(t, err)

	pt, err := bob.Decrypt(h, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("simplified"), pt)
}

func TestDecryptIsIdempotent(t *testing.T) {
	alice, bob := establishPair(t, Options{})

	h, ct, err := alice.Encrypt([]byte("once"))
	require.NoError(t, err)

	pt1, err := bob.Decrypt(h, ct)
	require.NoError(t, err)

	pt2, err := bob.Decrypt(h, ct)
	require.NoError(t, err)

	assert.Equal(t, pt1, pt2)
}

func TestEncryptRejectsOversizedPayload(t *testing.T) {
	alice, _ := establishPair(t, Options{})

	_, _, err := alice.Encrypt(make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestTerminatedSessionRejectsEncrypt(t *testing.T) {
	alice, _ := establishPair(t, Options{})
	alice.Terminate()

	_, _, err := alice.Encrypt([]byte("too late"))
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestGroupSessionSealOpen(t *testing.T) {
	var aliceID, bobID crypto.PeerID = "alice", "bob"

	aliceGroup, err := NewGroupSession("group-1", aliceID)
	require.NoError(t, err)
	bobGroup, err := NewGroupSession("group-1", bobID)
	require.NoError(t, err)

	chainKey, counter := aliceGroup.OwnChainKey()
	bobGroup.ImportMemberKey(aliceID, chainKey, counter)

	msg, err := aliceGroup.Seal([]byte("hello group"))
	require.NoError(t, err)

	pt, err := bobGroup.Open(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello group"), pt)
}

func TestGroupSessionRekeyOnRemoval(t *testing.T) {
	var aliceID, bobID crypto.PeerID = "alice", "bob"

	aliceGroup, err := NewGroupSession("group-1", aliceID)
	require.NoError(t, err)
	bobGroup, err := NewGroupSession("group-1", bobID)
	require.NoError(t, err)

	chainKey, counter := aliceGroup.OwnChainKey()
	bobGroup.ImportMemberKey(aliceID, chainKey, counter)

	require.NoError(t, aliceGroup.Rekey())

	msg, err := aliceGroup.Seal([]byte("after rekey"))
	require.NoError(t, err)

	_, err = bobGroup.Open(msg)
	assert.Error(t, err, "bob still holds alice's pre-rekey chain and shouldn't decrypt")
}
