package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/store"
	"github.com/edsonmartins/mepassa/wire"
)

// Sender delivers an already-framed signaling message to a peer, the same
// seam message.Sender uses for chat frames. Implemented by whatever layer
// owns reaching the peer (connmgr, a relay, a direct transport).
type Sender interface {
	Send(peer crypto.PeerID, frame *wire.Frame) error
}

// IncomingCallCallback notifies the host of a newly ringing inbound call.
type IncomingCallCallback func(call *Call)

// StateChangedCallback notifies the host that a call transitioned state.
type StateChangedCallback func(call *Call)

// Manager drives the voice-call signaling state machine described in
// doc.go, enforcing spec §4.7's "only one active call per local identity"
// concurrency rule and recording each call in the call-history table when
// it starts and when it ends.
type Manager struct {
	self   crypto.PeerID
	sender Sender
	store  *store.Store

	ringTimeout    time.Duration
	connectTimeout time.Duration

	mu     sync.Mutex
	active *Call
	calls  map[string]*Call // history of calls seen this process, keyed by id

	onIncoming     IncomingCallCallback
	onStateChanged StateChangedCallback

	log *logrus.Entry
}

// NewManager creates a call manager for the local identity self, sending
// signaling frames through sender and persisting call history through st.
func NewManager(self crypto.PeerID, sender Sender, st *store.Store) *Manager {
	return &Manager{
		self:           self,
		sender:         sender,
		store:          st,
		ringTimeout:    DefaultRingTimeout,
		connectTimeout: DefaultConnectTimeout,
		calls:          make(map[string]*Call),
		log:            logrus.WithField("component", "voice"),
	}
}

// SetTimeouts overrides the default ring/connect timeouts, primarily for
// tests that can't wait 30s for a real timer to fire.
func (m *Manager) SetTimeouts(ring, connect time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ringTimeout = ring
	m.connectTimeout = connect
}

// OnIncomingCall registers the callback invoked when an Offer arrives for
// a call not already known to this manager.
func (m *Manager) OnIncomingCall(cb IncomingCallCallback) { m.onIncoming = cb }

// OnStateChanged registers the callback invoked on every state transition.
func (m *Manager) OnStateChanged(cb StateChangedCallback) { m.onStateChanged = cb }

// ActiveCall returns the single in-progress call, if any.
func (m *Manager) ActiveCall() (*Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil, false
	}
	return m.active, true
}

// StartCall initiates a call to peer, sending an Offer and entering
// StateRinging. Returns ErrCallAlreadyActive if a call is already in
// progress for this identity.
func (m *Manager) StartCall(ctx context.Context, peer crypto.PeerID, bitrateBps int) (*Call, error) {
	if bitrateBps == 0 {
		bitrateBps = DefaultBitrateBps
	}
	if bitrateBps < MinBitrateBps || bitrateBps > MaxBitrateBps {
		return nil, ErrInvalidBitrate
	}

	now := time.Now()
	call := &Call{
		ID:          CallID(m.self, peer, now),
		Peer:        peer,
		Direction:   DirectionOutgoing,
		state:       StateInitiating,
		BitrateBps:  bitrateBps,
		initiatedAt: now,
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrCallAlreadyActive
	}
	m.active = call
	m.calls[call.ID] = call
	m.mu.Unlock()

	if err := m.store.InsertCall(ctx, store.Call{
		ID:        call.ID,
		PeerID:    peer.String(),
		Direction: "outgoing",
		StartedAt: now.Unix(),
		Outcome:   "in_progress",
	}); err != nil {
		m.log.WithError(err).Warn("failed to persist outbound call record")
	}

	frame, err := buildSignalFrame(m.self, peer, call.ID, wire.TypeOffer, signalPayload{BitrateBps: bitrateBps})
	if err != nil {
		m.clearActive(call)
		return nil, err
	}
	if err := m.sender.Send(peer, frame); err != nil {
		m.clearActive(call)
		return nil, fmt.Errorf("voice: send offer to %s: %w", peer, err)
	}

	m.setState(call, StateRinging, EndReasonNone)
	m.armRingTimeout(ctx, call)
	return call, nil
}

// AcceptCall answers a ringing inbound call, sending Accept and entering
// StateConnecting.
func (m *Manager) AcceptCall(ctx context.Context, callID string) error {
	call, err := m.mustCall(callID)
	if err != nil {
		return err
	}
	if call.State() != StateRinging {
		return ErrInvalidTransition
	}

	frame, err := buildSignalFrame(m.self, call.Peer, callID, wire.TypeAccept, signalPayload{})
	if err != nil {
		return err
	}
	if err := m.sender.Send(call.Peer, frame); err != nil {
		return fmt.Errorf("voice: send accept to %s: %w", call.Peer, err)
	}

	call.mu.Lock()
	call.acceptedAt = time.Now()
	call.mu.Unlock()

	m.setState(call, StateConnecting, EndReasonNone)
	m.armConnectTimeout(ctx, call)
	return nil
}

// RejectCall declines a ringing inbound call.
func (m *Manager) RejectCall(ctx context.Context, callID string) error {
	call, err := m.mustCall(callID)
	if err != nil {
		return err
	}
	if call.State() != StateRinging {
		return ErrInvalidTransition
	}

	frame, err := buildSignalFrame(m.self, call.Peer, callID, wire.TypeReject, signalPayload{})
	if err == nil {
		if sendErr := m.sender.Send(call.Peer, frame); sendErr != nil {
			m.log.WithError(sendErr).Warn("failed to send call reject")
		}
	}
	m.endCall(ctx, call, EndReasonRejected)
	return nil
}

// EndCall terminates a call in any non-terminal state, notifying the peer.
func (m *Manager) EndCall(ctx context.Context, callID string) error {
	call, err := m.mustCall(callID)
	if err != nil {
		return err
	}
	if call.State() == StateEnded {
		return ErrInvalidTransition
	}

	frame, err := buildSignalFrame(m.self, call.Peer, callID, wire.TypeEnd, signalPayload{EndReason: EndReasonLocalHangup.String()})
	if err == nil {
		if sendErr := m.sender.Send(call.Peer, frame); sendErr != nil {
			m.log.WithError(sendErr).Warn("failed to send call end")
		}
	}
	m.endCall(ctx, call, EndReasonLocalHangup)
	return nil
}

// ToggleMute flips the call's outgoing-audio mute flag.
func (m *Manager) ToggleMute(callID string) (bool, error) {
	call, err := m.mustCall(callID)
	if err != nil {
		return false, err
	}
	call.mu.Lock()
	defer call.mu.Unlock()
	call.muted = !call.muted
	return call.muted, nil
}

// ConfirmMediaFlowing transitions a Connecting call to Active once the
// host observes the first inbound audio frame. The connect timer is not
// stopped; when it fires it finds the call no longer Connecting and leaves
// it alone, so spec §4.7's "no media flow within 15s" ConnectFail no
// longer applies.
func (m *Manager) ConfirmMediaFlowing(callID string) {
	m.mu.Lock()
	call, ok := m.calls[callID]
	m.mu.Unlock()
	if !ok || call.State() != StateConnecting {
		return
	}
	m.setState(call, StateActive, EndReasonNone)
}

// HandleSignal processes one inbound signaling frame from peer.
func (m *Manager) HandleSignal(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	switch frame.Type {
	case wire.TypeOffer:
		return m.handleOffer(ctx, peer, frame)
	case wire.TypeAnswer:
		return m.handleAnswer(ctx, peer, frame)
	case wire.TypeCandidate:
		return nil // candidates are opaque to the state machine; forwarded to the transport layer by the caller
	case wire.TypeAccept:
		return m.handleAccept(ctx, peer, frame)
	case wire.TypeReject:
		return m.handleReject(ctx, peer, frame)
	case wire.TypeEnd:
		return m.handleRemoteEnd(ctx, peer, frame)
	default:
		return fmt.Errorf("voice: unsupported signal frame type %s", frame.Type)
	}
}

func (m *Manager) handleOffer(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	payload, err := parseSignalPayload(frame)
	if err != nil {
		return err
	}

	bitrate := payload.BitrateBps
	if bitrate == 0 {
		bitrate = DefaultBitrateBps
	}

	call := &Call{
		ID:          frame.CallID,
		Peer:        peer,
		Direction:   DirectionIncoming,
		state:       StateInitiating,
		BitrateBps:  bitrate,
		initiatedAt: time.Now(),
	}

	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		rejectFrame, err := buildSignalFrame(m.self, peer, frame.CallID, wire.TypeReject, signalPayload{})
		if err == nil {
			_ = m.sender.Send(peer, rejectFrame)
		}
		return ErrCallAlreadyActive
	}
	m.active = call
	m.calls[call.ID] = call
	m.mu.Unlock()

	if err := m.store.InsertCall(ctx, store.Call{
		ID:        call.ID,
		PeerID:    peer.String(),
		Direction: "incoming",
		StartedAt: call.initiatedAt.Unix(),
		Outcome:   "in_progress",
	}); err != nil {
		m.log.WithError(err).Warn("failed to persist inbound call record")
	}

	m.setState(call, StateRinging, EndReasonNone)
	m.armRingTimeout(ctx, call)

	if m.onIncoming != nil {
		m.onIncoming(call)
	}
	return nil
}

func (m *Manager) handleAnswer(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	call, err := m.mustCall(frame.CallID)
	if err != nil {
		return err
	}
	if call.State() != StateRinging {
		return nil
	}
	m.setState(call, StateConnecting, EndReasonNone)
	m.armConnectTimeout(ctx, call)
	return nil
}

func (m *Manager) handleAccept(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	return m.handleAnswer(ctx, peer, frame)
}

func (m *Manager) handleReject(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	call, err := m.mustCall(frame.CallID)
	if err != nil {
		return err
	}
	m.endCall(ctx, call, EndReasonRejected)
	return nil
}

func (m *Manager) handleRemoteEnd(ctx context.Context, peer crypto.PeerID, frame *wire.Frame) error {
	call, err := m.mustCall(frame.CallID)
	if err != nil {
		return nil // already cleaned up locally
	}
	m.endCall(ctx, call, EndReasonRemoteHangup)
	return nil
}

func (m *Manager) mustCall(callID string) (*Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return call, nil
}

func (m *Manager) clearActive(call *Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == call {
		m.active = nil
	}
}

func (m *Manager) setState(call *Call, state State, reason EndReason) {
	call.mu.Lock()
	call.state = state
	if state == StateEnded {
		call.endReason = reason
		call.endedAt = time.Now()
	}
	call.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"call_id": call.ID,
		"peer":    call.Peer,
		"state":   state,
	}).Info("call state transition")

	if m.onStateChanged != nil {
		m.onStateChanged(call)
	}
}

func (m *Manager) endCall(ctx context.Context, call *Call, reason EndReason) {
	call.mu.Lock()
	if call.ringTimer != nil {
		call.ringTimer.Stop()
	}
	if call.connectTimer != nil {
		call.connectTimer.Stop()
	}
	call.mu.Unlock()

	m.setState(call, StateEnded, reason)
	m.clearActive(call)

	if err := m.store.EndCall(ctx, call.ID, time.Now().Unix(), reason.String()); err != nil {
		m.log.WithError(err).Warn("failed to persist call end")
	}
}

// armRingTimeout schedules the spec §4.7 30s "no answer" timeout.
func (m *Manager) armRingTimeout(ctx context.Context, call *Call) {
	timer := time.AfterFunc(m.ringTimeout, func() {
		if call.State() == StateRinging {
			m.endCall(ctx, call, EndReasonNoAnswer)
		}
	})
	call.mu.Lock()
	call.ringTimer = timer
	call.mu.Unlock()
}

// armConnectTimeout schedules the spec §4.7 15s "no media flow" timeout.
func (m *Manager) armConnectTimeout(ctx context.Context, call *Call) {
	timer := time.AfterFunc(m.connectTimeout, func() {
		if call.State() == StateConnecting {
			m.endCall(ctx, call, EndReasonConnectFail)
		}
	})
	call.mu.Lock()
	call.connectTimer = timer
	call.mu.Unlock()
}
