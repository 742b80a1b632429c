// Package ratchet implements the symmetric-key and Diffie-Hellman ratchets
// that give each message its own encryption key while keeping at most one
// root secret in memory at a time.
//
// Three KDF chains are maintained per session: a root chain, and a sending
// and receiving chain. Each send or receive steps the relevant chain
// forward with an HMAC-based one-way function, so a compromised message key
// never reveals the keys before or after it (forward secrecy). Whenever a
// message arrives carrying a new Diffie-Hellman public key, the root chain
// is stepped with the new shared secret and fresh sending/receiving chains
// are derived (the DH ratchet), bounding how much of the conversation a
// single compromised ratchet key pair exposes.
//
// Messages that arrive out of order are handled by caching the message keys
// for skipped sequence numbers, bounded by [MaxSkippedKeys], so a later,
// out-of-order delivery can still be decrypted without re-deriving the
// whole chain.
package ratchet
