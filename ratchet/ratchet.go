package ratchet

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/edsonmartins/mepassa/crypto"
)

// MaxSkippedKeys bounds how many out-of-order message keys a State caches
// (the oldest cached key is evicted once the cache is full) and how far
// ahead a single message may skip before it is refused, protecting against
// an attacker forcing unbounded memory growth with a forged high sequence
// number.
const MaxSkippedKeys = 1000

var (
	ErrTooManySkipped  = errors.New("ratchet: too many skipped messages")
	ErrDuplicateHeader = errors.New("ratchet: message key already consumed")
)

// Header travels alongside a ciphertext so the receiver knows which
// ratchet step and chain position produced it.
type Header struct {
	DHPublic [32]byte
	PN       uint32
	N        uint32
}

type skippedKey struct {
	dhPublic [32]byte
	n        uint32
}

// State is one side of a Double Ratchet session. It holds at most one root
// secret and the current sending/receiving chain keys; it never needs the
// full conversation history.
type State struct {
	dhSelf     *crypto.KeyPair
	dhPeer     *[32]byte
	rootKey    [32]byte
	chainSend  *[32]byte
	chainRecv  *[32]byte
	sendCount  uint32
	recvCount  uint32
	prevSendN  uint32
	skipped    map[skippedKey][32]byte
	skippedSeq []skippedKey // insertion order, for bounded eviction
}

// NewSender starts a session for the party that initiates contact. peerDH
// is the responder's ratchet public key from the handshake (its
// medium-term or one-time prekey); sharedSecret is the root key both sides
// agreed on via the session engine's key agreement.
func NewSender(sharedSecret [32]byte, peerDH [32]byte) (*State, error) {
	self, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generate initial ratchet key: %w", err)
	}
	dh, err := crypto.DeriveSharedSecret(peerDH, self.Private)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial dh: %w", err)
	}
	rootKey, chainSend := stepRootChain(sharedSecret, dh)
	peer := peerDH
	return &State{
		dhSelf:    self,
		dhPeer:    &peer,
		rootKey:   rootKey,
		chainSend: &chainSend,
		skipped:   make(map[skippedKey][32]byte),
	}, nil
}

// NewReceiver starts a session for the party that was contacted. selfDH is
// the long-lived ratchet key pair the responder advertised (the prekey the
// sender used); the first DH ratchet step happens lazily on first Decrypt,
// once the sender's ratchet public key is known from the incoming header.
func NewReceiver(sharedSecret [32]byte, selfDH *crypto.KeyPair) *State {
	return &State{
		dhSelf:  selfDH,
		rootKey: sharedSecret,
		skipped: make(map[skippedKey][32]byte),
	}
}

// Encrypt advances the sending chain by one step and seals plaintext under
// the resulting message key. additionalData is not mixed into the seal:
// only the ciphertext itself is authenticated.
func (s *State) Encrypt(plaintext, additionalData []byte) (Header, []byte, error) {
	nextChain, messageKey := stepMessageChain(*s.chainSend)
	h := Header{DHPublic: s.dhSelf.Public, PN: s.prevSendN, N: s.sendCount}

	ciphertext, err := sealMessage(messageKey, plaintext, additionalData)
	if err != nil {
		return Header{}, nil, err
	}

	*s.chainSend = nextChain
	s.sendCount++
	return h, ciphertext, nil
}

// Decrypt authenticates and opens ciphertext produced by the peer's
// Encrypt, performing a DH ratchet step first if the header carries a
// ratchet public key this session hasn't seen yet, and consulting the
// skipped-key cache for out-of-order deliveries.
func (s *State) Decrypt(h Header, ciphertext, additionalData []byte) ([]byte, error) {
	if mk, ok := s.takeSkipped(h.DHPublic, h.N); ok {
		return openMessage(mk, ciphertext, additionalData)
	}

	if s.dhPeer == nil || h.DHPublic != *s.dhPeer {
		if err := s.skipCurrentChain(h.PN); err != nil {
			return nil, err
		}
		if err := s.dhRatchet(h.DHPublic); err != nil {
			return nil, err
		}
	}

	if err := s.skipCurrentChain(h.N); err != nil {
		return nil, err
	}

	nextChain, messageKey := stepMessageChain(*s.chainRecv)
	*s.chainRecv = nextChain
	s.recvCount++

	return openMessage(messageKey, ciphertext, additionalData)
}

// skipCurrentChain derives and caches message keys for every sequence
// number up to (but not including) until, for the current receiving
// chain. Called before a DH ratchet step (to save keys from the chain
// about to be replaced) and before consuming a message (for any gap).
func (s *State) skipCurrentChain(until uint32) error {
	if s.chainRecv == nil {
		return nil
	}
	if until < s.recvCount {
		return nil
	}
	if until-s.recvCount > MaxSkippedKeys {
		return ErrTooManySkipped
	}
	for s.recvCount < until {
		nextChain, messageKey := stepMessageChain(*s.chainRecv)
		*s.chainRecv = nextChain
		s.storeSkipped(*s.dhPeer, s.recvCount, messageKey)
		s.recvCount++
	}
	return nil
}

func (s *State) dhRatchet(newPeerDH [32]byte) error {
	s.prevSendN = s.sendCount
	s.sendCount = 0
	s.recvCount = 0
	s.dhPeer = &newPeerDH

	dh, err := crypto.DeriveSharedSecret(newPeerDH, s.dhSelf.Private)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet (recv side): %w", err)
	}
	rootKey, chainRecv := stepRootChain(s.rootKey, dh)
	s.rootKey = rootKey
	s.chainRecv = &chainRecv

	next, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("ratchet: generate next ratchet key: %w", err)
	}
	s.dhSelf = next

	dh, err = crypto.DeriveSharedSecret(newPeerDH, s.dhSelf.Private)
	if err != nil {
		return fmt.Errorf("ratchet: dh ratchet (send side): %w", err)
	}
	rootKey, chainSend := stepRootChain(s.rootKey, dh)
	s.rootKey = rootKey
	s.chainSend = &chainSend
	return nil
}

func (s *State) storeSkipped(dhPublic [32]byte, n uint32, key [32]byte) {
	k := skippedKey{dhPublic: dhPublic, n: n}
	if _, exists := s.skipped[k]; exists {
		return
	}
	if len(s.skippedSeq) >= MaxSkippedKeys {
		oldest := s.skippedSeq[0]
		s.skippedSeq = s.skippedSeq[1:]
		delete(s.skipped, oldest)
	}
	s.skipped[k] = key
	s.skippedSeq = append(s.skippedSeq, k)
}

func (s *State) takeSkipped(dhPublic [32]byte, n uint32) ([32]byte, bool) {
	k := skippedKey{dhPublic: dhPublic, n: n}
	key, ok := s.skipped[k]
	if !ok {
		return [32]byte{}, false
	}
	delete(s.skipped, k)
	for i, seq := range s.skippedSeq {
		if seq == k {
			s.skippedSeq = append(s.skippedSeq[:i], s.skippedSeq[i+1:]...)
			break
		}
	}
	return key, true
}

// sealMessage and openMessage derive a dedicated encryption key and nonce
// from a one-time message key via HKDF, rather than using the message key
// directly as a secretbox key, so the ratchet's KDF and the AEAD's key
// material stay cryptographically separated.
func sealMessage(messageKey [32]byte, plaintext, additionalData []byte) ([]byte, error) {
	encKey, nonce, err := messageCipherMaterial(messageKey)
	if err != nil {
		return nil, err
	}
	ciphertext, err := crypto.EncryptSymmetric(plaintext, nonce, encKey)
	if err != nil {
		return nil, fmt.Errorf("ratchet: seal: %w", err)
	}
	_ = additionalData // unused: the seal authenticates only the ciphertext
	return ciphertext, nil
}

func openMessage(messageKey [32]byte, ciphertext, additionalData []byte) ([]byte, error) {
	encKey, nonce, err := messageCipherMaterial(messageKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.DecryptSymmetric(ciphertext, nonce, encKey)
	if err != nil {
		return nil, fmt.Errorf("ratchet: open: %w", err)
	}
	_ = additionalData
	return plaintext, nil
}

var messageCipherInfo = []byte("mepassa-ratchet-message")

func messageCipherMaterial(messageKey [32]byte) (encKey [32]byte, nonce crypto.Nonce, err error) {
	r := hkdf.New(sha256.New, messageKey[:], nil, messageCipherInfo)
	var out [56]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return encKey, nonce, fmt.Errorf("ratchet: derive message cipher material: %w", err)
	}
	copy(encKey[:], out[:32])
	copy(nonce[:], out[32:])
	return encKey, nonce, nil
}
