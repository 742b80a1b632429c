package handshake

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/errs"
	"github.com/edsonmartins/mepassa/identity"
	"github.com/edsonmartins/mepassa/overlay/transport"
	"github.com/edsonmartins/mepassa/session"
)

const (
	requestProtocolID  = "handshake/request/1.0.0"
	bundleProtocolID   = "handshake/bundle/1.0.0"
	completeProtocolID = "handshake/complete/1.0.0"

	requestTimeout = 10 * time.Second
)

type helloRequest struct {
	PeerID           string   `json:"peer_id"`
	SigningPublicKey []byte   `json:"signing_public_key"`
	IdentityDHPublic [32]byte `json:"identity_dh_public"`
}

type bundleMessage struct {
	PeerID           string   `json:"peer_id"`
	SigningPublicKey []byte   `json:"signing_public_key"`
	IdentityDHPublic [32]byte `json:"identity_dh_public"`
	MediumTermPublic [32]byte `json:"medium_term_public"`
	OneTimeID        uint32   `json:"one_time_id"`
	OneTimePublic    [32]byte `json:"one_time_public"`
	Signature        []byte   `json:"signature"`
}

type completeMessage struct {
	PeerID           string   `json:"peer_id"`
	SigningPublicKey []byte   `json:"signing_public_key"`
	IdentityDHPublic [32]byte `json:"identity_dh_public"`
	OneTimeID        uint32   `json:"one_time_id"`
	EphemeralPublic  [32]byte `json:"ephemeral_public"`
}

type bundleResult struct {
	msg bundleMessage
	err error
}

// SessionCallback notifies the host that a session with peer is now
// established, regardless of which side initiated it.
type SessionCallback func(peer crypto.PeerID, s *session.Session)

// PeerIdentityCallback notifies the host of a peer's long-term keys as
// soon as a handshake message reveals them, so the host can persist them
// (e.g. into store.Contact) for future transport-layer authentication.
type PeerIdentityCallback func(peer crypto.PeerID, signingKey ed25519.PublicKey, dhPublic [32]byte)

// Manager drives the prekey-bundle exchange in both directions: Initiate
// runs the outbound flow, while the registered transport handlers answer
// inbound requests using self's own identity.PreKeyStore.
type Manager struct {
	transport transport.Transport
	self      *identity.Identity
	prekeys   *identity.PreKeyStore
	opts      session.Options

	mu      sync.Mutex
	pending map[string]chan bundleResult

	onSession SessionCallback
	onPeer    PeerIdentityCallback

	log *logrus.Entry
}

// NewManager attaches handshake request/bundle/complete handling to t for
// the local identity self, issuing bundles from prekeys.
func NewManager(t transport.Transport, self *identity.Identity, prekeys *identity.PreKeyStore, opts session.Options) *Manager {
	m := &Manager{
		transport: t,
		self:      self,
		prekeys:   prekeys,
		opts:      opts,
		pending:   make(map[string]chan bundleResult),
		log:       logrus.WithField("component", "handshake"),
	}
	t.RegisterHandler(requestProtocolID, m.handleRequest)
	t.RegisterHandler(bundleProtocolID, m.handleBundle)
	t.RegisterHandler(completeProtocolID, m.handleComplete)
	return m
}

// OnSessionEstablished sets the callback invoked once a session completes,
// from either role.
func (m *Manager) OnSessionEstablished(cb SessionCallback) { m.onSession = cb }

// OnPeerIdentity sets the callback invoked whenever a handshake message
// reveals a peer's long-term signing and identity-DH public keys.
func (m *Manager) OnPeerIdentity(cb PeerIdentityCallback) { m.onPeer = cb }

// Initiate fetches peer's prekey bundle from addr and runs the initiator's
// half of X3DH against it, returning the resulting session. It blocks
// until the bundle response arrives, ctx is done, or requestTimeout
// elapses.
func (m *Manager) Initiate(ctx context.Context, peer crypto.PeerID, addr net.Addr) (*session.Session, error) {
	ch := make(chan bundleResult, 1)
	m.mu.Lock()
	m.pending[peer.String()] = ch
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, peer.String())
		m.mu.Unlock()
	}()

	req := helloRequest{
		PeerID:           m.self.PeerID.String(),
		SigningPublicKey: m.self.PublicKey,
		IdentityDHPublic: m.self.DH.Public,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("handshake: encode request: %w", err)
	}
	if err := m.transport.Send(requestProtocolID, payload, addr); err != nil {
		return nil, fmt.Errorf("handshake: send request to %s: %w", peer, err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return m.completeAsInitiator(peer, addr, res.msg)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("handshake: bundle request to %s timed out", peer)
	}
}

func (m *Manager) completeAsInitiator(peer crypto.PeerID, addr net.Addr, resp bundleMessage) (*session.Session, error) {
	var signingKey [32]byte
	copy(signingKey[:], resp.SigningPublicKey)
	if !peer.Verify(signingKey) {
		return nil, fmt.Errorf("handshake: %w: bundle responder id mismatch", errs.ErrSignatureInvalid)
	}

	bundle := &identity.Bundle{
		MediumTermPublic: resp.MediumTermPublic,
		OneTimeID:        resp.OneTimeID,
		OneTimePublic:    resp.OneTimePublic,
		Signature:        resp.Signature,
	}
	if !bundle.Verify(ed25519.PublicKey(resp.SigningPublicKey)) {
		return nil, fmt.Errorf("handshake: %w: prekey bundle", errs.ErrSignatureInvalid)
	}

	if m.onPeer != nil {
		m.onPeer(peer, resp.SigningPublicKey, resp.IdentityDHPublic)
	}

	s, ephemeralPublic, err := session.EstablishInitiator(m.self, peer, resp.IdentityDHPublic, bundle, m.opts)
	if err != nil {
		return nil, fmt.Errorf("handshake: establish initiator: %w", err)
	}

	complete := completeMessage{
		PeerID:           m.self.PeerID.String(),
		SigningPublicKey: m.self.PublicKey,
		IdentityDHPublic: m.self.DH.Public,
		OneTimeID:        resp.OneTimeID,
		EphemeralPublic:  ephemeralPublic,
	}
	payload, err := json.Marshal(complete)
	if err != nil {
		return nil, fmt.Errorf("handshake: encode complete: %w", err)
	}
	if err := m.transport.Send(completeProtocolID, payload, addr); err != nil {
		return nil, fmt.Errorf("handshake: send complete to %s: %w", peer, err)
	}

	m.log.WithField("peer", peer).Info("session established as initiator")
	if m.onSession != nil {
		m.onSession(peer, s)
	}
	return s, nil
}

func (m *Manager) handleRequest(payload []byte, addr net.Addr) {
	var req helloRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		m.log.WithError(err).Debug("dropping malformed handshake request")
		return
	}
	peer, err := crypto.ParsePeerID(req.PeerID)
	if err != nil || !peer.Verify(arrayFromSlice(req.SigningPublicKey)) {
		m.log.WithField("peer", req.PeerID).Debug("dropping handshake request with unverifiable peer id")
		return
	}

	if m.onPeer != nil {
		m.onPeer(peer, req.SigningPublicKey, req.IdentityDHPublic)
	}

	bundle, err := m.prekeys.FetchBundle()
	if err != nil {
		m.log.WithError(err).Warn("failed to issue prekey bundle")
		return
	}

	resp := bundleMessage{
		PeerID:           m.self.PeerID.String(),
		SigningPublicKey: m.self.PublicKey,
		IdentityDHPublic: m.self.DH.Public,
		MediumTermPublic: bundle.MediumTermPublic,
		OneTimeID:        bundle.OneTimeID,
		OneTimePublic:    bundle.OneTimePublic,
		Signature:        bundle.Signature,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		m.log.WithError(err).Warn("failed to encode prekey bundle")
		return
	}
	if err := m.transport.Send(bundleProtocolID, out, addr); err != nil {
		m.log.WithError(err).Warn("failed to send prekey bundle")
	}
}

func (m *Manager) handleBundle(payload []byte, _ net.Addr) {
	var resp bundleMessage
	if err := json.Unmarshal(payload, &resp); err != nil {
		m.log.WithError(err).Debug("dropping malformed bundle response")
		return
	}
	peer, err := crypto.ParsePeerID(resp.PeerID)
	if err != nil {
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[peer.String()]
	m.mu.Unlock()
	if !ok {
		m.log.WithField("peer", peer).Debug("dropping unsolicited bundle response")
		return
	}
	select {
	case ch <- bundleResult{msg: resp}:
	default:
	}
}

func (m *Manager) handleComplete(payload []byte, _ net.Addr) {
	var msg completeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.WithError(err).Debug("dropping malformed handshake complete")
		return
	}
	peer, err := crypto.ParsePeerID(msg.PeerID)
	if err != nil || !peer.Verify(arrayFromSlice(msg.SigningPublicKey)) {
		m.log.WithField("peer", msg.PeerID).Debug("dropping handshake complete with unverifiable peer id")
		return
	}

	if m.onPeer != nil {
		m.onPeer(peer, msg.SigningPublicKey, msg.IdentityDHPublic)
	}

	oneTime, err := m.prekeys.OneTimePrivateKey(msg.OneTimeID)
	if err != nil {
		m.log.WithFields(logrus.Fields{"peer": peer, "error": err}).Warn("one-time key already consumed or unknown")
		return
	}
	mediumTerm := m.prekeys.MediumTermPrivateKey()

	s, err := session.EstablishResponder(m.self, peer, msg.IdentityDHPublic, msg.EphemeralPublic, mediumTerm, oneTime, m.opts)
	if err != nil {
		m.log.WithFields(logrus.Fields{"peer": peer, "error": err}).Warn("failed to establish responder session")
		return
	}

	m.log.WithField("peer", peer).Info("session established as responder")
	if m.onSession != nil {
		m.onSession(peer, s)
	}
}

func arrayFromSlice(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
