package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// streamProtocolPrefix namespaces the protocol ids the multiplexer
// registers with the underlying channel, keeping logical-stream framing
// out of the protocol-id namespace application code uses directly.
const streamProtocolPrefix = "mux/"

// streamWindow bounds how many unconsumed frames a logical stream buffers
// before Send blocks, giving each stream independent flow control even
// though all streams share one underlying connection.
const streamWindow = 64

// Multiplexer opens many logical Streams, each identified by a small
// integer id, over one underlying secure channel to one peer. Unlike the
// protocol-id routing in Transport/SecureChannel (which dispatches by
// named protocol), a Stream dispatches by numeric id and gives its reader
// backpressure via a bounded channel.
type Multiplexer struct {
	channel protocolSender
	addr    net.Addr

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32
}

// protocolSender is the subset of Transport/SecureChannel the multiplexer
// needs: something that can send and register handlers by protocol id.
type protocolSender interface {
	Send(protocolID string, payload []byte, addr net.Addr) error
	RegisterHandler(protocolID string, handler Handler)
}

// NewMultiplexer opens a multiplexer for a single peer over channel,
// identified on the wire by protocol id streamProtocolPrefix+label.
func NewMultiplexer(channel protocolSender, addr net.Addr, label string) *Multiplexer {
	m := &Multiplexer{
		channel: channel,
		addr:    addr,
		streams: make(map[uint32]*Stream),
	}
	channel.RegisterHandler(streamProtocolPrefix+label, m.dispatch)
	return m
}

// Open creates a new logical stream. The returned Stream's id must reach
// the peer out of band (e.g. as the first application message) since
// nothing here negotiates stream ids automatically.
func (m *Multiplexer) Open() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	s := &Stream{id: id, mux: m, inbox: make(chan []byte, streamWindow)}
	m.streams[id] = s
	return s
}

// Accept returns the Stream for id, creating it if this is the first
// frame seen for it (the responder side never calls Open).
func (m *Multiplexer) Accept(id uint32) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s
	}
	s := &Stream{id: id, mux: m, inbox: make(chan []byte, streamWindow)}
	m.streams[id] = s
	return s
}

// Close removes a stream's bookkeeping; further frames for its id are
// dropped rather than reopening it.
func (m *Multiplexer) Close(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		close(s.inbox)
		delete(m.streams, id)
	}
}

func (m *Multiplexer) dispatch(payload []byte, _ net.Addr) {
	if len(payload) < 4 {
		return
	}
	id := uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
	body := payload[4:]

	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		s = m.Accept(id)
	}

	select {
	case s.inbox <- body:
	default:
		logrus.WithFields(logrus.Fields{"component": "overlay/transport", "stream": id}).Warn("stream inbox full, dropping frame")
	}
}

func (m *Multiplexer) send(id uint32, protocolID string, data []byte) error {
	framed := make([]byte, 4+len(data))
	framed[0] = byte(id >> 24)
	framed[1] = byte(id >> 16)
	framed[2] = byte(id >> 8)
	framed[3] = byte(id)
	copy(framed[4:], data)
	return m.channel.Send(protocolID, framed, m.addr)
}

// Stream is one logical, flow-controlled channel within a Multiplexer.
type Stream struct {
	id     uint32
	mux    *Multiplexer
	inbox  chan []byte
	closed atomic.Bool
}

// ID returns the stream's numeric identifier.
func (s *Stream) ID() uint32 { return s.id }

// Send writes data to the peer's corresponding stream, identified by the
// same label the Multiplexer was constructed with.
func (s *Stream) Send(label string, data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("transport: stream %d closed", s.id)
	}
	return s.mux.send(s.id, streamProtocolPrefix+label, data)
}

// Recv blocks for the next frame addressed to this stream.
func (s *Stream) Recv() ([]byte, bool) {
	data, ok := <-s.inbox
	return data, ok
}

// Close releases the stream from its multiplexer.
func (s *Stream) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.mux.Close(s.id)
	}
}
