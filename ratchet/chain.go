package ratchet

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

var rootInfo = []byte("mepassa-ratchet-root")

// stepRootChain mixes a new Diffie-Hellman output into the root chain,
// producing the next root key and the chain key that seeds a fresh
// sending or receiving chain.
func stepRootChain(rootKey, dhOutput [32]byte) (newRootKey, chainKey [32]byte) {
	r := hkdf.New(sha256.New, dhOutput[:], rootKey[:], rootInfo)
	var out [64]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		panic("ratchet: hkdf expand failed: " + err.Error())
	}
	copy(newRootKey[:], out[:32])
	copy(chainKey[:], out[32:])
	return newRootKey, chainKey
}

var (
	chainKeyConstant   = []byte{0x01}
	messageKeyConstant = []byte{0x02}
)

// stepMessageChain advances a sending or receiving chain by one message,
// returning the next chain key and the key for the message just produced
// or consumed.
func stepMessageChain(chainKey [32]byte) (nextChainKey, messageKey [32]byte) {
	nextChainKey = hmacSum(chainKey, chainKeyConstant)
	messageKey = hmacSum(chainKey, messageKeyConstant)
	return nextChainKey, messageKey
}

func hmacSum(key [32]byte, msg []byte) [32]byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(msg)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}
