package pubsub

import (
	"net"
	"sync"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/overlay/transport"
)

// MessageHandler receives a payload published to a topic by some remote peer.
type MessageHandler func(topicID string, payload []byte, from net.Addr)

// Manager owns the set of topics a local peer participates in and routes
// inbound publish frames to a single caller-supplied handler, since the
// wire format carries no topic identifier of its own: the caller is
// expected to demultiplex by payload contents (e.g. an embedded group id)
// the way a message handler demultiplexes by envelope.
type Manager struct {
	transport transport.Transport
	selfID    crypto.PeerID

	mu     sync.RWMutex
	topics map[string]*Topic

	handlerMu sync.RWMutex
	handler   MessageHandler
}

// NewManager creates a manager publishing over t as selfID.
func NewManager(t transport.Transport, selfID crypto.PeerID) *Manager {
	m := &Manager{
		transport: t,
		selfID:    selfID,
		topics:    make(map[string]*Topic),
	}
	t.RegisterHandler(publishProtocolID, m.handleInbound)
	return m
}

// OnMessage sets the handler invoked for every inbound publish frame.
func (m *Manager) OnMessage(handler MessageHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = handler
}

func (m *Manager) handleInbound(payload []byte, from net.Addr) {
	m.handlerMu.RLock()
	handler := m.handler
	m.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	handler("", payload, from)
}

// Topic returns the named topic, creating it if it does not yet exist.
func (m *Manager) Topic(id string) *Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.topics[id]; ok {
		return t
	}
	t := NewTopic(id, m.transport, m.selfID)
	m.topics[id] = t
	return t
}

// Close drops every topic the manager tracks. The underlying transport is
// left open since the manager does not own it.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = make(map[string]*Topic)
}
