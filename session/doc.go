// Package session establishes and maintains the forward-secret
// cryptographic sessions used for both 1:1 and group conversations. It sits
// directly on top of ratchet's KDF chains and identity's prekey bundles:
// a new 1:1 session is born from an extended triple-Diffie-Hellman key
// agreement against a peer's prekey bundle, and from then on every
// encrypt/decrypt call steps the ratchet.
//
// A Session moves through a small state machine — Uninitialized,
// Established, Rekeying, Terminated — mirrored by [State]. Only Established
// sessions accept Encrypt/Decrypt calls; during Rekeying, Encrypt and
// Decrypt block until the in-progress rekey completes or RekeyTimeout
// elapses.
//
// Group conversations use a simpler sender-keys construction in
// [GroupSession]: each member maintains its own one-way symmetric chain and
// distributes its current chain key to the others over their existing 1:1
// sessions, so there's no per-pair ratchet to maintain inside a group.
package session
