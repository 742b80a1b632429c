package message

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/edsonmartins/mepassa/ratchet"
)

// ErrNoSession indicates there is no established session.Session for the
// target peer yet; the caller must complete a handshake first.
var ErrNoSession = errors.New("message: no session established with peer")

// ErrSessionReset indicates a peer's session was torn down after too many
// consecutive decrypt failures; any message in flight on it was dropped.
var ErrSessionReset = errors.New("message: session reset after repeated decrypt failures")

// Kind distinguishes the application-level message types, independent of
// the wire.Type discriminator the envelope travels under.
type Kind uint8

const (
	KindNormal Kind = iota
	KindAction
)

// decryptFailureThreshold bounds how many consecutive decrypt failures
// against one peer within sixty seconds are tolerated before that peer's
// session is forced to reset rather than keep failing silently.
const decryptFailureThreshold = 5

// encodeEnvelope packs a ratchet.Header ahead of its ciphertext into the
// single opaque byte string a wire.Frame's Ciphertext field carries, since
// the wire format has no field of its own for the ratchet step.
//
// Layout: [32]byte DHPublic, 4-byte big-endian PN, 4-byte big-endian N,
// then the ciphertext verbatim.
func encodeEnvelope(h ratchet.Header, ciphertext []byte) []byte {
	out := make([]byte, 32+4+4+len(ciphertext))
	copy(out[0:32], h.DHPublic[:])
	binary.BigEndian.PutUint32(out[32:36], h.PN)
	binary.BigEndian.PutUint32(out[36:40], h.N)
	copy(out[40:], ciphertext)
	return out
}

// decodeEnvelope reverses encodeEnvelope.
func decodeEnvelope(data []byte) (ratchet.Header, []byte, error) {
	var h ratchet.Header
	if len(data) < 40 {
		return h, nil, fmt.Errorf("message: envelope too short: %d bytes", len(data))
	}
	copy(h.DHPublic[:], data[0:32])
	h.PN = binary.BigEndian.Uint32(data[32:36])
	h.N = binary.BigEndian.Uint32(data[36:40])
	return h, data[40:], nil
}
