package ratchet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/mepassa/crypto"
)

func newTestPair(t *testing.T) (*State, *State) {
	t.Helper()

	receiverKP, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	var sharedSecret [32]byte
	copy(sharedSecret[:], []byte("shared-secret-from-key-agreement"))

	sender, err := NewSender(sharedSecret, receiverKP.Public)
	require.NoError(t, err)

	receiver := NewReceiver(sharedSecret, receiverKP)

	return sender, receiver
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sender, receiver := newTestPair(t)

	h, ct, err := sender.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)

	pt, err := receiver.Decrypt(h, ct, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)
}

func TestOutOfOrderDelivery(t *testing.T) {
	sender, receiver := newTestPair(t)

	h1, ct1, err := sender.Encrypt([]byte("first"), nil)
	require.NoError(t, err)
	h2, ct2, err := sender.Encrypt([]byte("second"), nil)
	require.NoError(t, err)
	h3, ct3, err := sender.Encrypt([]byte("third"), nil)
	require.NoError(t, err)

	pt3, err := receiver.Decrypt(h3, ct3, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("third"), pt3)

	pt1, err := receiver.Decrypt(h1, ct1, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), pt1)

	pt2, err := receiver.Decrypt(h2, ct2, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), pt2)
}

func TestDHRatchetStepOnReply(t *testing.T) {
	sender, receiver := newTestPair(t)

	h, ct, err := sender.Encrypt([]byte("ping"), nil)
	require.NoError(t, err)
	_, err = receiver.Decrypt(h, ct, nil)
	require.NoError(t, err)

	// Receiver replies; sender must perform a DH ratchet step to decrypt it,
	// since it carries a new ratchet public key.
	rh, rct, err := receiver.Encrypt([]byte("pong"), nil)
	require.NoError(t, err)

	pt, err := sender.Decrypt(rh, rct, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), pt)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sender, receiver := newTestPair(t)

	h, ct, err := sender.Encrypt([]byte("hello"), nil)
	require.NoError(t, err)

	ct[0] ^= 0xFF

	_, err = receiver.Decrypt(h, ct, nil)
	assert.Error(t, err)
}

func TestSkippedKeysBounded(t *testing.T) {
	sender, receiver := newTestPair(t)

	var last Header
	var lastCT []byte
	for i := 0; i < MaxSkippedKeys+5; i++ {
		h, ct, err := sender.Encrypt([]byte("msg"), nil)
		require.NoError(t, err)
		last, lastCT = h, ct
	}

	_, err := receiver.Decrypt(last, lastCT, nil)
	assert.ErrorIs(t, err, ErrTooManySkipped)
}
