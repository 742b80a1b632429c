// Package connmgr establishes a peer connection by trying, in order, a
// direct send, a UDP hole punch, and finally a circuit relay — skipping the
// hole-punch step when the local NAT is classified as symmetric, since that
// class of NAT defeats hole punching by construction. Failed attempts are
// retried with exponential backoff up to a fixed attempt ceiling.
package connmgr
