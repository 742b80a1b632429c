package ratchet

import "crypto/rand"

// SenderKeyChain is the one-way symmetric chain used by group sessions:
// unlike the 1:1 ratchet, a sender key chain never performs a DH ratchet
// step — it only ever moves forward, keyed once at creation or rotation.
type SenderKeyChain struct {
	chainKey [32]byte
	counter  uint32
}

// NewSenderKeyChain seeds a fresh chain from random bytes, for a member
// establishing or rotating its sending key.
func NewSenderKeyChain() (*SenderKeyChain, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return &SenderKeyChain{chainKey: seed}, nil
}

// ImportSenderKeyChain reconstructs a chain at a known position from a
// chain key distributed by its owner (typically over an existing 1:1
// session).
func ImportSenderKeyChain(chainKey [32]byte, counter uint32) *SenderKeyChain {
	return &SenderKeyChain{chainKey: chainKey, counter: counter}
}

// ChainKey returns the chain's current key and counter, for distribution
// to other group members.
func (c *SenderKeyChain) ChainKey() ([32]byte, uint32) {
	return c.chainKey, c.counter
}

// Seal advances the chain by one step and seals plaintext under the
// resulting message key, returning the counter value the message was
// sealed at so the receiver can step its own copy to the same position.
func (c *SenderKeyChain) Seal(plaintext []byte) (counter uint32, ciphertext []byte, err error) {
	nextChain, messageKey := stepMessageChain(c.chainKey)
	ciphertext, err = sealMessage(messageKey, plaintext, nil)
	if err != nil {
		return 0, nil, err
	}
	counter = c.counter
	c.chainKey = nextChain
	c.counter++
	return counter, ciphertext, nil
}

// OpenAt derives the message key for counter by stepping the chain forward
// from its current position, and opens ciphertext with it. It requires
// counter >= the chain's current position (group sender-key messages are
// expected to arrive in order; out-of-order delivery is the transport's
// responsibility to resequence, unlike the 1:1 ratchet's built-in skip
// cache).
func (c *SenderKeyChain) OpenAt(counter uint32, ciphertext []byte) ([]byte, error) {
	if counter < c.counter {
		return nil, ErrDuplicateHeader
	}
	if counter-c.counter > MaxSkippedKeys {
		return nil, ErrTooManySkipped
	}
	var messageKey [32]byte
	for c.counter <= counter {
		c.chainKey, messageKey = stepMessageChain(c.chainKey)
		c.counter++
	}
	return openMessage(messageKey, ciphertext, nil)
}
