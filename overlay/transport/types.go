package transport

import "net"

// Handler processes one inbound frame for the protocol it was registered
// under. Handlers run concurrently, one goroutine per received frame.
type Handler func(payload []byte, addr net.Addr)

// Transport is the interface both the UDP and TCP implementations satisfy,
// letting the connection manager treat either uniformly.
type Transport interface {
	// Send transmits payload under protocolID to addr.
	Send(protocolID string, payload []byte, addr net.Addr) error

	// RegisterHandler routes every inbound frame carrying protocolID to
	// handler. Registering again for the same id replaces the handler.
	RegisterHandler(protocolID string, handler Handler)

	// LocalAddr returns the address this transport is listening on.
	LocalAddr() net.Addr

	// Close releases the transport's resources. Not safe to call twice.
	Close() error
}
