// Package identity owns the engine's long-term signing keypair, its
// companion Diffie-Hellman keypair used for key agreement, and its pool of
// one-time prekeys. It is the only package that touches the
// host-supplied secure-storage directory for private key material; every
// other package that needs to know "who am I" is handed a [*Identity] value
// rather than opening the store itself.
//
// A fresh [Identity] is created once per data directory with [Generate];
// subsequent runs load it with [Load]. [Export] / [Import] move identity
// material between data directories under a host-supplied passphrase.
package identity
