package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/ratchet"
)

// State is a Session's position in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateEstablished
	StateRekeying
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateEstablished:
		return "established"
	case StateRekeying:
		return "rekeying"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MaxPayloadSize is the largest plaintext Encrypt accepts per call.
const MaxPayloadSize = 64 * 1024

// RekeyTimeout bounds how long Encrypt/Decrypt wait for an in-progress
// rekey to complete before giving up.
const RekeyTimeout = 30 * time.Second

var (
	ErrNotEstablished  = errors.New("session: not established")
	ErrPayloadTooLarge = errors.New("session: payload exceeds 64 KiB limit")
	ErrRekeyTimeout    = errors.New("session: rekey timed out")
	ErrOutOfHorizon    = errors.New("session: message beyond skipped-key horizon")
	ErrTerminated      = errors.New("session: terminated")
)

const idempotenceCacheSize = 256

type decryptedKey struct {
	dhPublic [32]byte
	n        uint32
}

// Options configures session establishment.
type Options struct {
	// SimplifiedAgreement skips identity-key mixing during X3DH, using
	// only the fresh ephemeral key against the peer's medium-term and
	// one-time keys. Off by default; exists for interop with peers that
	// don't carry a DH-capable identity key.
	SimplifiedAgreement bool
}

// Session is a forward-secret cryptographic session with one remote peer.
// It is safe for concurrent use.
type Session struct {
	mu    sync.Mutex
	state State
	peer  crypto.PeerID
	r     *ratchet.State

	rekeyDone chan struct{}

	decryptedCache map[decryptedKey][]byte
	decryptedSeq   []decryptedKey
}

// EstablishInitiator runs X3DH against a peer's freshly fetched prekey
// bundle and seeds a new sending ratchet. It returns the fresh ephemeral
// public key the peer needs to complete its side of the agreement.
func EstablishInitiator(self *identity.Identity, peer crypto.PeerID, peerIdentityDH [32]byte, bundle *identity.Bundle, opts Options) (*Session, [32]byte, error) {
	logger := logrus.WithFields(logrus.Fields{"component": "session", "operation": "EstablishInitiator", "peer": peer})

	agreement, ephemeralPublic, err := InitiatorAgree(self, peerIdentityDH, bundle, opts.SimplifiedAgreement)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("session: establish initiator: %w", err)
	}

	rstate, err := ratchet.NewSender(agreement.RootSecret, bundle.MediumTermPublic)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("session: seed ratchet: %w", err)
	}

	logger.Info("session established as initiator")
	return newSession(peer, rstate), ephemeralPublic, nil
}

// EstablishResponder completes X3DH using the medium-term and one-time
// keypairs the initiator's bundle drew from, and seeds a new receiving
// ratchet.
func EstablishResponder(self *identity.Identity, peer crypto.PeerID, peerIdentityDH, peerEphemeralPublic [32]byte, mediumTerm, oneTime *crypto.KeyPair, opts Options) (*Session, error) {
	logger := logrus.WithFields(logrus.Fields{"component": "session", "operation": "EstablishResponder", "peer": peer})

	agreement, err := ResponderAgree(self, peerIdentityDH, peerEphemeralPublic, mediumTerm, oneTime, opts.SimplifiedAgreement)
	if err != nil {
		return nil, fmt.Errorf("session: establish responder: %w", err)
	}

	rstate := ratchet.NewReceiver(agreement.RootSecret, mediumTerm)

	logger.Info("session established as responder")
	return newSession(peer, rstate), nil
}

func newSession(peer crypto.PeerID, r *ratchet.State) *Session {
	return &Session{
		state:          StateEstablished,
		peer:           peer,
		r:              r,
		decryptedCache: make(map[decryptedKey][]byte),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Encrypt steps the sending chain and seals plaintext. It blocks up to
// RekeyTimeout if the session is mid-rekey, and fails if the session has
// never been established or has been terminated.
func (s *Session) Encrypt(plaintext []byte) (ratchet.Header, []byte, error) {
	if len(plaintext) > MaxPayloadSize {
		return ratchet.Header{}, nil, ErrPayloadTooLarge
	}

	s.mu.Lock()
	if s.state == StateRekeying {
		done := s.rekeyDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-time.After(RekeyTimeout):
			return ratchet.Header{}, nil, ErrRekeyTimeout
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	switch s.state {
	case StateEstablished:
		return s.r.Encrypt(plaintext, nil)
	case StateTerminated:
		return ratchet.Header{}, nil, ErrTerminated
	default:
		return ratchet.Header{}, nil, ErrNotEstablished
	}
}

// Decrypt authenticates and opens a message. A duplicate delivery of a
// header/ciphertext pair already decrypted returns the same plaintext
// without mutating ratchet state beyond the idempotence cache lookup.
func (s *Session) Decrypt(h ratchet.Header, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	if s.state == StateRekeying {
		done := s.rekeyDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-time.After(RekeyTimeout):
			return nil, ErrRekeyTimeout
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()

	switch s.state {
	case StateTerminated:
		return nil, ErrTerminated
	case StateEstablished:
	default:
		return nil, ErrNotEstablished
	}

	key := decryptedKey{dhPublic: h.DHPublic, n: h.N}
	if cached, ok := s.decryptedCache[key]; ok {
		return cached, nil
	}

	plaintext, err := s.r.Decrypt(h, ciphertext, nil)
	if err != nil {
		if errors.Is(err, ratchet.ErrTooManySkipped) {
			return nil, ErrOutOfHorizon
		}
		return nil, err
	}

	s.cacheDecrypted(key, plaintext)
	return plaintext, nil
}

func (s *Session) cacheDecrypted(key decryptedKey, plaintext []byte) {
	if len(s.decryptedSeq) >= idempotenceCacheSize {
		oldest := s.decryptedSeq[0]
		s.decryptedSeq = s.decryptedSeq[1:]
		delete(s.decryptedCache, oldest)
	}
	s.decryptedCache[key] = plaintext
	s.decryptedSeq = append(s.decryptedSeq, key)
}

// BeginRekey transitions the session into Rekeying, causing concurrent
// Encrypt/Decrypt calls to block until CompleteRekey or RekeyTimeout.
func (s *Session) BeginRekey() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished {
		return
	}
	s.state = StateRekeying
	s.rekeyDone = make(chan struct{})
}

// CompleteRekey replaces the session's ratchet state (typically seeded by
// a fresh X3DH-style agreement) and returns the session to Established,
// releasing any calls blocked in Encrypt/Decrypt.
func (s *Session) CompleteRekey(r *ratchet.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRekeying {
		return
	}
	s.r = r
	s.state = StateEstablished
	close(s.rekeyDone)
}

// Terminate permanently disables the session; Encrypt/Decrypt fail from
// this point on.
func (s *Session) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTerminated
}
