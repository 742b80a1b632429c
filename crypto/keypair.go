// Package crypto implements the cryptographic primitives underlying the
// engine: Diffie-Hellman key pairs, signing keys, authenticated encryption,
// and key derivation. The key, signing and encryption functions are pure
// (no I/O); the package's only file I/O is the encrypted key store and the
// nonce store, and policy lives one layer up, in identity and ratchet/session.
// Example:
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair represents a Curve25519 Diffie-Hellman key pair used for session
// and prekey agreement.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyPair",
		"package":  "crypto",
	})

	logger.Debug("generating new Diffie-Hellman key pair")

	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error":     err.Error(),
			"operation": "box.GenerateKey",
		}).Error("failed to generate key pair")
		return nil, err
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}

	logger.WithFields(logrus.Fields{
		"public_key_preview": fmt.Sprintf("%x", keyPair.Public[:8]),
	}).Debug("key pair generated")

	return keyPair, nil
}

// FromSecretKey reconstructs a key pair from an existing private key,
// deriving the matching public key via scalar multiplication.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "FromSecretKey",
		"package":  "crypto",
	})

	if isZeroKey(secretKey) {
		logger.Error("secret key validation failed: key is all zeros")
		return nil, errors.New("invalid secret key: all zeros")
	}

	var privateKey [32]byte
	copy(privateKey[:], secretKey[:])

	// Clamp per the Curve25519 convention so the scalar lies in the
	// expected subgroup.
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	var publicKey [32]byte
	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	keyPair := &KeyPair{
		Public:  publicKey,
		Private: secretKey, // keep the caller's unclamped key, NaCl convention
	}

	ZeroBytes(privateKey[:])

	logger.WithFields(logrus.Fields{
		"public_key_preview": fmt.Sprintf("%x", keyPair.Public[:8]),
	}).Debug("key pair derived from secret key")

	return keyPair, nil
}

// isZeroKey reports whether key consists entirely of zero bytes, which is
// never a valid private key.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
