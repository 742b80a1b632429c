package voice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/edsonmartins/mepassa/crypto"
	"github.com/edsonmartins/mepassa/wire"
)

// SignalingProtocolID is the overlay protocol id voice signaling frames
// are exchanged under, distinct from the chat protocol the message
// handler uses even though both share wire.Frame's wire shape.
const SignalingProtocolID = "voice/signaling/1.0.0"

// signalPayload is the JSON body carried in a signaling wire.Frame's
// Ciphertext field. It is named Ciphertext only because it reuses the
// chat frame's field layout (spec §6's wire framing is shared between the
// chat and signaling subsets) — signaling payloads are not end-to-end
// encrypted through the session ratchet, since negotiating a session is
// itself part of what Offer/Answer accomplish.
type signalPayload struct {
	SDP          string `json:"sdp,omitempty"`
	Candidate    string `json:"candidate,omitempty"`
	BitrateBps   int    `json:"bitrate_bps,omitempty"`
	EndReason    string `json:"end_reason,omitempty"`
}

// buildSignalFrame constructs a signaling wire.Frame of the given type.
func buildSignalFrame(self, peer crypto.PeerID, callID string, typ wire.Type, p signalPayload) (*wire.Frame, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("voice: marshal signal payload: %w", err)
	}
	return &wire.Frame{
		Type:        typ,
		Sender:      self.String(),
		CallID:      callID,
		TimestampMs: uint64(time.Now().UnixMilli()),
		Ciphertext:  body,
	}, nil
}

// parseSignalPayload decodes a signaling frame's payload.
func parseSignalPayload(frame *wire.Frame) (signalPayload, error) {
	var p signalPayload
	if len(frame.Ciphertext) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(frame.Ciphertext, &p); err != nil {
		return p, fmt.Errorf("voice: unmarshal signal payload: %w", err)
	}
	return p, nil
}
