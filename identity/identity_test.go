package identity

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateThenLoadRoundTripsPeerID(t *testing.T) {
	dir := t.TempDir()
	passphrase := []byte("correct horse battery staple")

	generated, err := Generate(dir, passphrase)
	require.NoError(t, err)

	loaded, err := Load(dir, passphrase)
	require.NoError(t, err)

	assert.Equal(t, generated.PeerID, loaded.PeerID)
	assert.Equal(t, generated.DH.Public, loaded.DH.Public)
	assert.True(t, ed25519.PublicKey(generated.PublicKey).Equal(loaded.PublicKey))
}

func TestGenerateTwiceFails(t *testing.T) {
	dir := t.TempDir()
	_, err := Generate(dir, []byte("pw"))
	require.NoError(t, err)

	_, err = Generate(dir, []byte("pw"))
	assert.ErrorIs(t, err, ErrIdentityExists)
}

func TestLoadWithoutIdentityFails(t *testing.T) {
	_, err := Load(t.TempDir(), []byte("pw"))
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestLoadOrGenerateGeneratesThenReusesSameIdentity(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrGenerate(dir, []byte("pw"))
	require.NoError(t, err)

	second, err := LoadOrGenerate(dir, []byte("pw"))
	require.NoError(t, err)

	assert.Equal(t, first.PeerID, second.PeerID)
}

func TestWipeThenGenerateProducesFreshIdentity(t *testing.T) {
	dir := t.TempDir()
	original, err := Generate(dir, []byte("pw"))
	require.NoError(t, err)

	require.NoError(t, original.Wipe())

	_, err = Load(dir, []byte("pw"))
	assert.ErrorIs(t, err, ErrNoIdentity)

	regenerated, err := Generate(dir, []byte("pw"))
	require.NoError(t, err)
	assert.NotEqual(t, original.PeerID, regenerated.PeerID)
}

func TestSignProducesEd25519VerifiableSignature(t *testing.T) {
	id, err := Generate(t.TempDir(), []byte("pw"))
	require.NoError(t, err)

	msg := []byte("hello peer")
	sig := id.Sign(msg)
	assert.True(t, ed25519.Verify(id.PublicKey, msg, sig))
	assert.False(t, ed25519.Verify(id.PublicKey, []byte("tampered"), sig))
}

func TestExportImportRoundTripsPrivateKeyMaterial(t *testing.T) {
	srcDir := t.TempDir()
	original, err := Generate(srcDir, []byte("pw"))
	require.NoError(t, err)

	var encKey [32]byte
	for i := range encKey {
		encKey[i] = byte(i + 1)
	}

	blob, err := original.Export(encKey)
	require.NoError(t, err)

	dstDir := t.TempDir()
	imported, err := Import(dstDir, []byte("new-pw"), encKey, blob)
	require.NoError(t, err)

	assert.Equal(t, original.PeerID, imported.PeerID)
	assert.Equal(t, original.DH.Private, imported.DH.Private)

	// a wrong encryption key must not unseal the blob.
	var wrongKey [32]byte
	_, err = Import(t.TempDir(), []byte("new-pw"), wrongKey, blob)
	assert.Error(t, err)
}

func TestImportRejectsTruncatedBlob(t *testing.T) {
	_, err := Import(t.TempDir(), []byte("pw"), [32]byte{}, []byte("short"))
	assert.Error(t, err)
}
