package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's encoded size, guarding against a
// corrupt or hostile length prefix forcing an unbounded allocation.
const MaxFrameSize = 1 << 20 // 1 MiB

// WriteFrame encodes f and writes it to w as a 4-byte big-endian length
// prefix followed by the protobuf-wire-format payload, matching the
// framing overlay/transport's TCP stream uses.
func WriteFrame(w io.Writer, f *Frame) error {
	payload := f.Marshal()
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("wire: frame of %d bytes exceeds MaxFrameSize", len(payload))
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds MaxFrameSize", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read frame payload: %w", err)
	}

	f := &Frame{}
	if err := f.Unmarshal(payload); err != nil {
		return nil, err
	}
	return f, nil
}
