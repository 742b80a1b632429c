package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
)

// Pool sizing, per the engine's replenishment contract: a fresh pool holds
// PoolSize one-time keys; once the unused count drops below
// ReplenishThreshold the pool tops itself back up; it never serves a fetch
// that would take the unused count below PoolFloor without replenishing
// first.
const (
	PoolSize            = 100
	ReplenishThreshold  = 20
	PoolFloor           = 10
	mediumTermKeyMaxAge = 7 * 24 * time.Hour
)

const prekeyPoolKeyName = "prekey_pool"

var ErrBundleSignatureInvalid = errors.New("identity: prekey bundle signature invalid")
var ErrPoolExhausted = errors.New("identity: prekey pool exhausted")

// oneTimeKey is a single one-time Diffie-Hellman keypair in the pool.
type oneTimeKey struct {
	ID       uint32          `json:"id"`
	KeyPair  *crypto.KeyPair `json:"keypair"`
	Reserved bool            `json:"reserved"`
}

// mediumTermKey is the signed, longer-lived agreement key included in every
// bundle alongside a one-time key. It is rotated independently of the
// one-time pool.
type mediumTermKey struct {
	KeyPair   *crypto.KeyPair `json:"keypair"`
	Signature []byte          `json:"signature"`
	CreatedAt time.Time       `json:"created_at"`
}

// poolState is the on-disk representation of the prekey pool, sealed with
// the identity's encrypted key store.
type poolState struct {
	MediumTerm *mediumTermKey `json:"medium_term"`
	OneTime    []oneTimeKey   `json:"one_time"`
	NextID     uint32         `json:"next_id"`
}

// Bundle is the signed snapshot handed to a peer initiating a handshake: one
// one-time key plus the current medium-term key, both covered by a single
// signature over the long-term identity key.
type Bundle struct {
	MediumTermPublic [32]byte
	OneTimeID        uint32
	OneTimePublic    [32]byte
	Signature        []byte
}

// signedMessage returns the byte string a bundle's signature covers.
func (b *Bundle) signedMessage() []byte {
	msg := make([]byte, 0, 64+4)
	msg = append(msg, b.MediumTermPublic[:]...)
	msg = append(msg, b.OneTimePublic[:]...)
	idBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idBytes, b.OneTimeID)
	return append(msg, idBytes...)
}

// Verify checks that issuerPublicKey signed this bundle.
func (b *Bundle) Verify(issuerPublicKey ed25519.PublicKey) bool {
	return ed25519.Verify(issuerPublicKey, b.signedMessage(), b.Signature)
}

// PreKeyStore manages an identity's prekey pool: the medium-term agreement
// key and the pool of one-time keys consumed on first contact from new
// peers.
type PreKeyStore struct {
	mu    sync.Mutex
	store *crypto.EncryptedKeyStore
	id    *Identity

	state poolState
}

// OpenPreKeyStore loads or initializes the prekey pool for id, sealed with
// the same encrypted key store backing the identity's signing key.
func OpenPreKeyStore(id *Identity) (*PreKeyStore, error) {
	pks := &PreKeyStore{store: id.store, id: id}

	raw, err := pks.store.LoadKey(prekeyPoolKeyName)
	if err != nil {
		return pks.initialize()
	}

	var state poolState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("identity: decode prekey pool: %w", err)
	}
	pks.state = state

	if pks.state.MediumTerm == nil || time.Since(pks.state.MediumTerm.CreatedAt) > mediumTermKeyMaxAge {
		if err := pks.rotateMediumTerm(); err != nil {
			return nil, err
		}
	}
	if pks.unusedCountLocked() < ReplenishThreshold {
		if err := pks.replenishLocked(); err != nil {
			return nil, err
		}
	}
	return pks, nil
}

func (pks *PreKeyStore) initialize() (*PreKeyStore, error) {
	pks.state = poolState{OneTime: make([]oneTimeKey, 0, PoolSize)}
	if err := pks.rotateMediumTerm(); err != nil {
		return nil, err
	}
	if err := pks.replenishLocked(); err != nil {
		return nil, err
	}
	return pks, nil
}

func (pks *PreKeyStore) rotateMediumTerm() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("identity: generate medium-term key: %w", err)
	}
	sig := pks.id.Sign(kp.Public[:])
	pks.state.MediumTerm = &mediumTermKey{KeyPair: kp, Signature: sig, CreatedAt: time.Now()}
	return pks.persistLocked()
}

// unusedCountLocked must be called with mu held.
func (pks *PreKeyStore) unusedCountLocked() int {
	n := 0
	for _, k := range pks.state.OneTime {
		if !k.Reserved {
			n++
		}
	}
	return n
}

// UnusedCount returns the number of one-time keys still available.
func (pks *PreKeyStore) UnusedCount() int {
	pks.mu.Lock()
	defer pks.mu.Unlock()
	return pks.unusedCountLocked()
}

// replenishLocked tops the pool back up to PoolSize unused keys. The
// engine replenishes inline rather than on a background timer: a fetch
// that would otherwise cross ReplenishThreshold triggers generation before
// returning, so callers never observe a window with fewer than PoolFloor
// unused keys.
func (pks *PreKeyStore) replenishLocked() error {
	logger := logrus.WithFields(logrus.Fields{"component": "identity", "operation": "replenish"})

	need := PoolSize - pks.unusedCountLocked()
	if need <= 0 {
		return nil
	}

	// Drop already-reserved keys; only unused keys are retained across a
	// replenishment so the pool doesn't grow unbounded.
	kept := pks.state.OneTime[:0]
	for _, k := range pks.state.OneTime {
		if !k.Reserved {
			kept = append(kept, k)
		}
	}
	pks.state.OneTime = kept

	for i := 0; i < need; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("identity: generate one-time key: %w", err)
		}
		pks.state.NextID++
		pks.state.OneTime = append(pks.state.OneTime, oneTimeKey{ID: pks.state.NextID, KeyPair: kp})
	}

	logger.WithField("generated", need).Info("replenished prekey pool")
	return pks.persistLocked()
}

// FetchBundle reserves an unused one-time key and returns a signed bundle
// combining it with the current medium-term key. If reserving the key
// would take the unused count below ReplenishThreshold, the pool is
// replenished before the bundle is returned.
func (pks *PreKeyStore) FetchBundle() (*Bundle, error) {
	pks.mu.Lock()
	defer pks.mu.Unlock()

	idx := -1
	for i, k := range pks.state.OneTime {
		if !k.Reserved {
			idx = i
			break
		}
	}
	if idx == -1 {
		if err := pks.replenishLocked(); err != nil {
			return nil, err
		}
		for i, k := range pks.state.OneTime {
			if !k.Reserved {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil, ErrPoolExhausted
		}
	}

	pks.state.OneTime[idx].Reserved = true
	key := pks.state.OneTime[idx]

	bundle := &Bundle{
		MediumTermPublic: pks.state.MediumTerm.KeyPair.Public,
		OneTimeID:        key.ID,
		OneTimePublic:    key.KeyPair.Public,
	}
	bundle.Signature = pks.id.Sign(bundle.signedMessage())

	if pks.unusedCountLocked() < ReplenishThreshold {
		if err := pks.replenishLocked(); err != nil {
			return nil, err
		}
	} else if err := pks.persistLocked(); err != nil {
		return nil, err
	}

	return bundle, nil
}

// OneTimePrivateKey returns the private half of a one-time key this store
// issued, identified by ID, consuming it so it cannot be returned again.
// Callers use this after a peer completes a handshake against a bundle
// this store produced.
func (pks *PreKeyStore) OneTimePrivateKey(id uint32) (*crypto.KeyPair, error) {
	pks.mu.Lock()
	defer pks.mu.Unlock()

	for i, k := range pks.state.OneTime {
		if k.ID == id {
			kp := k.KeyPair
			pks.state.OneTime = append(pks.state.OneTime[:i], pks.state.OneTime[i+1:]...)
			if err := pks.persistLocked(); err != nil {
				return nil, err
			}
			return kp, nil
		}
	}
	return nil, fmt.Errorf("identity: one-time key %d not found or already consumed", id)
}

// MediumTermPrivateKey returns the private half of the current medium-term
// key, used to complete the extended triple-Diffie-Hellman agreement.
func (pks *PreKeyStore) MediumTermPrivateKey() *crypto.KeyPair {
	pks.mu.Lock()
	defer pks.mu.Unlock()
	return pks.state.MediumTerm.KeyPair
}

func (pks *PreKeyStore) persistLocked() error {
	raw, err := json.Marshal(pks.state)
	if err != nil {
		return fmt.Errorf("identity: encode prekey pool: %w", err)
	}
	if err := pks.store.StoreKey(prekeyPoolKeyName, raw); err != nil {
		return fmt.Errorf("identity: persist prekey pool: %w", err)
	}
	return nil
}
