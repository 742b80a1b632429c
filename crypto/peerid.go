package crypto

import (
	"crypto/sha256"
	"encoding/base32"
	"errors"
)

// peerIDEncoding is unpadded, uppercase base32 so a peer identifier is safe
// to use verbatim as a URL path segment or a filename.
var peerIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// PeerID is the stable, self-certifying string identifier derived from a
// peer's long-term signing public key: base32(SHA-256(publicKey)[:20]).
// Unlike the raw public key, it is fixed-width regardless of key type and
// doesn't leak key material directly.
type PeerID string

// NewPeerID derives the peer identifier for a given long-term public key.
func NewPeerID(publicKey [32]byte) PeerID {
	digest := sha256.Sum256(publicKey[:])
	return PeerID(peerIDEncoding.EncodeToString(digest[:20]))
}

// String returns the textual form of the identifier.
func (id PeerID) String() string {
	return string(id)
}

// Verify reports whether id is the identifier that NewPeerID would derive
// from publicKey, i.e. whether publicKey self-certifies id.
func (id PeerID) Verify(publicKey [32]byte) bool {
	return id == NewPeerID(publicKey)
}

// Bytes decodes id back to its underlying 20-byte hash, the basis for
// XOR-distance comparisons in Kademlia-style routing tables.
func (id PeerID) Bytes() ([20]byte, error) {
	var out [20]byte
	decoded, err := peerIDEncoding.DecodeString(string(id))
	if err != nil {
		return out, errors.New("invalid peer identifier encoding")
	}
	if len(decoded) != 20 {
		return out, errors.New("invalid peer identifier length")
	}
	copy(out[:], decoded)
	return out, nil
}

// ParsePeerID validates the textual form of a peer identifier without
// requiring the corresponding public key. It only checks shape (valid
// base32, correct decoded length); call Verify separately once the public
// key is known.
func ParsePeerID(s string) (PeerID, error) {
	decoded, err := peerIDEncoding.DecodeString(s)
	if err != nil {
		return "", errors.New("invalid peer identifier encoding")
	}
	if len(decoded) != 20 {
		return "", errors.New("invalid peer identifier length")
	}
	return PeerID(s), nil
}
