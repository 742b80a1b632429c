package transport

import (
	"encoding/binary"
	"errors"
)

// maxProtocolIDLen bounds the protocol id so a corrupt length prefix can't
// cause an oversized allocation.
const maxProtocolIDLen = 255

var (
	ErrFrameTooShort     = errors.New("transport: frame too short")
	ErrProtocolIDTooLong = errors.New("transport: protocol id too long")
)

// Frame is the unit exchanged between two transports: a protocol id
// (which handler should receive it) and an opaque payload.
//
// Wire format: [protocol id length (1 byte)][protocol id][payload].
type Frame struct {
	ProtocolID string
	Payload    []byte
}

// Serialize encodes f for network transmission.
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.ProtocolID) > maxProtocolIDLen {
		return nil, ErrProtocolIDTooLong
	}
	out := make([]byte, 1+len(f.ProtocolID)+len(f.Payload))
	out[0] = byte(len(f.ProtocolID))
	copy(out[1:], f.ProtocolID)
	copy(out[1+len(f.ProtocolID):], f.Payload)
	return out, nil
}

// ParseFrame decodes a Frame from raw bytes received off the wire.
func ParseFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, ErrFrameTooShort
	}
	idLen := int(data[0])
	if len(data) < 1+idLen {
		return nil, ErrFrameTooShort
	}
	payload := make([]byte, len(data)-1-idLen)
	copy(payload, data[1+idLen:])
	return &Frame{
		ProtocolID: string(data[1 : 1+idLen]),
		Payload:    payload,
	}, nil
}

// lengthPrefix encodes n as a 4-byte big-endian length prefix, used by the
// stream-oriented TCP transport to delimit frames on a byte stream (UDP
// frames need no delimiter since each datagram is already one frame).
func lengthPrefix(n int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(n))
	return b
}
