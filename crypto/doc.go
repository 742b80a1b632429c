// Package crypto implements the cryptographic primitives used throughout the
// engine: NaCl-based authenticated encryption, Ed25519 signatures, a
// self-certifying peer identifier, encrypted-at-rest key storage, and replay
// protection. Higher layers (identity, ratchet, session) compose these into
// the actual protocols; this package itself performs no I/O beyond the
// at-rest key store and the nonce log, both of which are opt-in.
//
// # Core types
//
//   - [KeyPair]: Curve25519 Diffie-Hellman key pair
//   - [Nonce]: 24-byte nonce for NaCl box/secretbox operations
//   - [Signature]: Ed25519 signature
//   - [PeerID]: self-certifying identifier derived from a public key
//
// # Encryption
//
// The package only exposes the symmetric NaCl secretbox primitives; every
// higher layer (ratchet, session, group) agrees on a shared key first,
// through the X3DH-style handshake in the handshake package, then calls
// these directly:
//
//	nonce, _ := crypto.GenerateNonce()
//	sharedKey, _ := crypto.DeriveSharedSecret(peerPublicKey, myPrivateKey)
//	ciphertext, _ := crypto.EncryptSymmetric(plaintext, nonce, sharedKey)
//	plaintext, _ := crypto.DecryptSymmetric(ciphertext, nonce, sharedKey)
//
// # Signatures
//
//	signature, _ := crypto.Sign(message, privateKey)
//	ok, _ := crypto.Verify(message, signature, publicKey)
//
// # Key storage
//
// [EncryptedKeyStore] wraps file storage with AES-GCM at rest, keyed by a
// PBKDF2-derived key from a host-supplied passphrase:
//
//	store, _ := crypto.NewEncryptedKeyStore(dataDir, passphrase)
//	_ = store.StoreKey("identity", keyPair.Private[:])
//	key, _ := store.LoadKey("identity")
//
// # Replay protection
//
// [NonceStore] tracks previously-seen nonces so a duplicate frame can be
// rejected instead of re-processed:
//
//	ns, _ := crypto.NewNonceStore(dataDir)
//	if !ns.CheckAndStore(nonce, timestamp) {
//	    // replay detected
//	}
//
// # Secure memory
//
// Sensitive byte slices should be wiped after use with [ZeroBytes] or
// [WipeKeyPair]; both use operations the compiler cannot optimize away.
package crypto
