package mepassa

import (
	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/voice"
)

// EventKind discriminates the payload carried by an Event.
type EventKind uint8

const (
	EventMessageReceived EventKind = iota
	EventDeliveryUpdated
	EventPeerConnected
	EventPeerDisconnected
	EventIncomingCall
	EventCallStateChanged
)

func (k EventKind) String() string {
	switch k {
	case EventMessageReceived:
		return "MessageReceived"
	case EventDeliveryUpdated:
		return "DeliveryUpdated"
	case EventPeerConnected:
		return "PeerConnected"
	case EventPeerDisconnected:
		return "PeerDisconnected"
	case EventIncomingCall:
		return "IncomingCall"
	case EventCallStateChanged:
		return "CallStateChanged"
	default:
		return "Unknown"
	}
}

// Event is one notification surfaced on Engine.Events(), generalizing the
// teacher's per-kind callback registration (OnFriendRequest, etc.) into a
// single ordered stream a host application can select on alongside its own
// work.
type Event struct {
	Kind EventKind

	// Populated for EventMessageReceived.
	Peer           crypto.PeerID
	ConversationID string
	MessageID      string
	Body           string

	// Populated for EventDeliveryUpdated.
	Status string

	// Populated for EventIncomingCall / EventCallStateChanged.
	Call *voice.Call
}

// eventBufferSize bounds the Events() channel; emit drops the oldest event
// rather than blocking the network goroutines that produce them.
const eventBufferSize = 256

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event channel full, dropping oldest event")
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- ev:
		default:
		}
	}
}
