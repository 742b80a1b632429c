// Package message implements the outbound/inbound message handler: it
// encrypts plaintext through a peer's session.Session, frames the result
// as a wire.Frame, persists delivery status through store.Store, and
// drives the pending -> sent -> delivered -> read / failed state machine
// from ACKs and read receipts the remote side sends back.
//
// A Handler tracks one session.Session per peer. Outbound sends go through
// the caller-supplied Sender interface, so the handler itself has no
// knowledge of overlay transports, connection management, or discovery.
//
// Repeated decrypt failures against one peer's session are counted in a
// sliding window; crossing the threshold resets that session rather than
// continuing to retry a session that can no longer decrypt its peer's
// traffic.
package message
