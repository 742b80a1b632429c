// Package transport implements the bottom two layers of the engine's
// overlay stack: raw byte transports (TCP and UDP) and the Noise-IK
// secure channel built on top of them.
//
// Every frame on the wire carries a protocol id — a short stable string
// such as "chat/1.0.0" or "dht/1.0.0" — so the transport can dispatch an
// incoming frame to the handler registered for its protocol without any
// party needing a shared enumeration of packet types. This is the
// "protocols identified by a stable string" layer of the overlay stack;
// the stream multiplexer in multiplexer.go layers logical streams with
// independent flow control on top of one physical connection, and
// securechannel.go layers the Noise_IK handshake on top of that to
// authenticate the stream by the peer's long-term signing key before any
// application data flows. This transport-layer encryption is independent
// of the end-to-end ratchet session in package session that rides inside
// it — a compromised relay that terminates the secure channel still
// cannot read ratchet-encrypted message bodies.
package transport
