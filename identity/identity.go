package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
)

// ErrIdentityExists is returned by Generate when a signing key is already
// persisted in dataDir; callers must explicitly Wipe before re-creating one.
var ErrIdentityExists = errors.New("identity: identity already exists in data directory")

// ErrNoIdentity is returned by Load when dataDir holds no signing key.
var ErrNoIdentity = errors.New("identity: no identity found in data directory")

const identityKeyName = "signing_key"
const identityDHKeyName = "identity_dh_key"

// Identity is the engine's long-term signing keypair, its companion
// Diffie-Hellman keypair used for key agreement, and its derived peer
// identifier. The signing private key never leaves this struct in
// plaintext form except transiently inside Export; the Diffie-Hellman
// keypair, private half included, is exposed through DH.
type Identity struct {
	PeerID     crypto.PeerID
	PublicKey  ed25519.PublicKey
	DH         *crypto.KeyPair // long-term X25519 keypair, used as IK in X3DH
	privateKey ed25519.PrivateKey

	store   *crypto.EncryptedKeyStore
	dataDir string
}

// Generate creates a brand-new long-term identity under dataDir, sealed with
// passphrase. It fails with ErrIdentityExists if one is already persisted.
func Generate(dataDir string, passphrase []byte) (*Identity, error) {
	logger := logrus.WithFields(logrus.Fields{"component": "identity", "operation": "Generate"})

	store, err := crypto.NewEncryptedKeyStore(filepath.Join(dataDir, "identity"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: open key store: %w", err)
	}

	if _, err := store.LoadKey(identityKeyName); err == nil {
		return nil, ErrIdentityExists
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate signing key: %w", err)
	}

	if err := store.StoreKey(identityKeyName, priv); err != nil {
		return nil, fmt.Errorf("identity: persist signing key: %w", err)
	}

	dhKeyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("identity: generate identity DH key: %w", err)
	}
	if err := store.StoreKey(identityDHKeyName, dhKeyPair.Private[:]); err != nil {
		return nil, fmt.Errorf("identity: persist identity DH key: %w", err)
	}

	var pk32 [32]byte
	copy(pk32[:], pub)

	id := &Identity{
		PeerID:     crypto.NewPeerID(pk32),
		PublicKey:  pub,
		DH:         dhKeyPair,
		privateKey: priv,
		store:      store,
		dataDir:    dataDir,
	}

	logger.WithField("peer_id", id.PeerID).Info("generated new identity")
	return id, nil
}

// Load reconstructs the identity previously persisted under dataDir. It
// fails with ErrNoIdentity if none exists, or a wrapped decryption error if
// passphrase is wrong.
func Load(dataDir string, passphrase []byte) (*Identity, error) {
	store, err := crypto.NewEncryptedKeyStore(filepath.Join(dataDir, "identity"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: open key store: %w", err)
	}

	priv, err := store.LoadKey(identityKeyName)
	if err != nil {
		return nil, ErrNoIdentity
	}

	dhPriv, err := store.LoadKey(identityDHKeyName)
	if err != nil {
		return nil, fmt.Errorf("identity: load identity DH key: %w", err)
	}
	var dhPrivArr [32]byte
	copy(dhPrivArr[:], dhPriv)
	dhKeyPair, err := crypto.FromSecretKey(dhPrivArr)
	if err != nil {
		return nil, fmt.Errorf("identity: derive identity DH keypair: %w", err)
	}

	privKey := ed25519.PrivateKey(priv)
	pub := privKey.Public().(ed25519.PublicKey)

	var pk32 [32]byte
	copy(pk32[:], pub)

	return &Identity{
		PeerID:     crypto.NewPeerID(pk32),
		PublicKey:  pub,
		DH:         dhKeyPair,
		privateKey: privKey,
		store:      store,
		dataDir:    dataDir,
	}, nil
}

// LoadOrGenerate loads an existing identity, or generates one if dataDir is
// empty of identity material. This is the common construction-time path
// used by the engine's top-level initializer.
func LoadOrGenerate(dataDir string, passphrase []byte) (*Identity, error) {
	id, err := Load(dataDir, passphrase)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNoIdentity) {
		return nil, err
	}
	return Generate(dataDir, passphrase)
}

// Sign signs message with the identity's long-term key.
func (id *Identity) Sign(message []byte) []byte {
	return ed25519.Sign(id.privateKey, message)
}

// Wipe deletes the persisted signing key, allowing a subsequent Generate to
// succeed. It does not touch any other data under dataDir.
func (id *Identity) Wipe() error {
	path := filepath.Join(id.dataDir, "identity")
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("identity: wipe: %w", err)
	}
	return nil
}

// Export serializes the private signing key under a host-supplied
// encryption key, producing an opaque blob suitable for out-of-band
// transfer. The blob carries no metadata beyond what's needed to Import it.
func (id *Identity) Export(encryptionKey [32]byte) ([]byte, error) {
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("identity: export nonce: %w", err)
	}
	plaintext := make([]byte, 0, len(id.privateKey)+32)
	plaintext = append(plaintext, id.privateKey...)
	plaintext = append(plaintext, id.DH.Private[:]...)

	sealed, err := crypto.EncryptSymmetric(plaintext, nonce, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("identity: export seal: %w", err)
	}
	blob := make([]byte, 0, len(nonce)+len(sealed))
	blob = append(blob, nonce[:]...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Import replaces the identity persisted under dataDir with the one encoded
// in blob (as produced by Export), atomically: on any failure the existing
// identity, if any, is left untouched.
func Import(dataDir string, passphrase []byte, encryptionKey [32]byte, blob []byte) (*Identity, error) {
	if len(blob) < 24 {
		return nil, errors.New("identity: import blob too short")
	}
	var nonce crypto.Nonce
	copy(nonce[:], blob[:24])

	plaintext, err := crypto.DecryptSymmetric(blob[24:], nonce, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("identity: import unseal: %w", err)
	}
	if len(plaintext) != ed25519.PrivateKeySize+32 {
		return nil, errors.New("identity: import: malformed private key")
	}
	priv := plaintext[:ed25519.PrivateKeySize]
	var dhPriv [32]byte
	copy(dhPriv[:], plaintext[ed25519.PrivateKeySize:])

	// Stage into a temp directory, then atomically swap, so a failure here
	// never leaves a half-written identity behind.
	tmpDir := dataDir + ".import-tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("identity: import: clear staging dir: %w", err)
	}
	store, err := crypto.NewEncryptedKeyStore(filepath.Join(tmpDir, "identity"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("identity: import: stage key store: %w", err)
	}
	if err := store.StoreKey(identityKeyName, priv); err != nil {
		return nil, fmt.Errorf("identity: import: stage signing key: %w", err)
	}
	if err := store.StoreKey(identityDHKeyName, dhPriv[:]); err != nil {
		return nil, fmt.Errorf("identity: import: stage identity DH key: %w", err)
	}

	identityDir := filepath.Join(dataDir, "identity")
	stagedDir := filepath.Join(tmpDir, "identity")
	backupDir := filepath.Join(tmpDir, "previous")
	if err := os.Rename(identityDir, backupDir); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: import: set aside existing identity: %w", err)
	}
	if err := os.Rename(stagedDir, identityDir); err != nil {
		_ = os.Rename(backupDir, identityDir)
		return nil, fmt.Errorf("identity: import: swap identity: %w", err)
	}
	_ = os.RemoveAll(tmpDir)

	return Load(dataDir, passphrase)
}
