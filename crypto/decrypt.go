package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/secretbox"
)

// DecryptSymmetric decrypts a message using a symmetric key.
func DecryptSymmetric(ciphertext []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	// Decrypt and authenticate using NaCl's secretbox
	var out []byte
	var ok bool
	out, ok = secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&key))
	if !ok {
		return nil, errors.New("decryption failed: message authentication failed")
	}

	return out, nil
}
