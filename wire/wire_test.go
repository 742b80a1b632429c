package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTripsChatFrame(t *testing.T) {
	f := &Frame{
		Type:             TypeMessage,
		MessageID:        "msg-1",
		Sender:           "alice",
		RecipientOrGroup: "bob",
		TimestampMs:      1700000000000,
		Ciphertext:       []byte("secret bytes"),
		Signature:        []byte("sig"),
	}

	encoded := f.Marshal()

	var decoded Frame
	require.NoError(t, decoded.Unmarshal(encoded))

	assert.Equal(t, CurrentVersion, decoded.Version)
	assert.Equal(t, f.Type, decoded.Type)
	assert.Equal(t, f.MessageID, decoded.MessageID)
	assert.Equal(t, f.Sender, decoded.Sender)
	assert.Equal(t, f.RecipientOrGroup, decoded.RecipientOrGroup)
	assert.Equal(t, f.TimestampMs, decoded.TimestampMs)
	assert.Equal(t, f.Ciphertext, decoded.Ciphertext)
	assert.Equal(t, f.Signature, decoded.Signature)
	assert.Empty(t, decoded.CallID)
}

func TestMarshalUnmarshalRoundTripsSignalingFrame(t *testing.T) {
	f := &Frame{
		Type:        TypeOffer,
		Sender:      "alice",
		CallID:      "call-42",
		TimestampMs: 42,
		Ciphertext:  []byte("sdp blob"),
	}
	assert.True(t, f.Type.IsSignaling())

	encoded := f.Marshal()

	var decoded Frame
	require.NoError(t, decoded.Unmarshal(encoded))
	assert.Equal(t, "call-42", decoded.CallID)
	assert.Empty(t, decoded.RecipientOrGroup)
}

func TestUnmarshalRejectsMissingVersion(t *testing.T) {
	var decoded Frame
	err := decoded.Unmarshal(nil)
	assert.Error(t, err)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	f := &Frame{Type: TypeTyping, Sender: "alice", RecipientOrGroup: "bob"}
	encoded := f.Marshal()

	// Append a well-formed but unrecognized field (number 99, varint type).
	encoded = append(encoded, 0x98, 0x06, 0x01) // tag for field 99 varint, value 1

	var decoded Frame
	require.NoError(t, decoded.Unmarshal(encoded))
	assert.Equal(t, TypeTyping, decoded.Type)
}

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	f := &Frame{
		Type:             TypeAck,
		MessageID:        "msg-2",
		Sender:           "bob",
		RecipientOrGroup: "alice",
		TimestampMs:      123,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, f))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.MessageID, decoded.MessageID)
	assert.Equal(t, f.Type, decoded.Type)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // huge declared length, no body
	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}
