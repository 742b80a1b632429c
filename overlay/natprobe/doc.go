// Package natprobe classifies the local NAT using the STUN protocol
// (RFC 5389), distinguishing symmetric NAT — which requires falling back
// to a relay, since every outbound destination gets its own port mapping
// — from the cone NAT variants that a direct connection or hole punch can
// usually traverse.
package natprobe
