package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Type is the discriminator carried by every framed message, covering both
// the chat subset (MESSAGE/ACK/READ_RECEIPT/TYPING) and the voice-signaling
// subset (OFFER/ANSWER/CANDIDATE/ACCEPT/REJECT/END) on the same wire shape.
type Type uint32

const (
	TypeUnspecified Type = iota
	TypeMessage
	TypeAck
	TypeReadReceipt
	TypeTyping
	TypeOffer
	TypeAnswer
	TypeCandidate
	TypeAccept
	TypeReject
	TypeEnd
)

func (t Type) String() string {
	switch t {
	case TypeMessage:
		return "MESSAGE"
	case TypeAck:
		return "ACK"
	case TypeReadReceipt:
		return "READ_RECEIPT"
	case TypeTyping:
		return "TYPING"
	case TypeOffer:
		return "OFFER"
	case TypeAnswer:
		return "ANSWER"
	case TypeCandidate:
		return "CANDIDATE"
	case TypeAccept:
		return "ACCEPT"
	case TypeReject:
		return "REJECT"
	case TypeEnd:
		return "END"
	default:
		return "UNSPECIFIED"
	}
}

// IsSignaling reports whether t belongs to the voice-signaling subset,
// which carries a CallID rather than a RecipientOrGroup.
func (t Type) IsSignaling() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeAccept, TypeReject, TypeEnd:
		return true
	default:
		return false
	}
}

// Field numbers for the wire layout. Shared by both the chat and
// signaling subsets so a single Frame type and codec cover both.
const (
	fieldVersion            protowire.Number = 1
	fieldType               protowire.Number = 2
	fieldMessageID          protowire.Number = 3
	fieldSender             protowire.Number = 4
	fieldRecipientOrGroup   protowire.Number = 5
	fieldTimestampMs        protowire.Number = 6
	fieldCiphertext         protowire.Number = 7
	fieldSignature          protowire.Number = 8
	fieldCallID             protowire.Number = 9
)

// CurrentVersion is the wire format version this codec writes.
const CurrentVersion uint32 = 1

// Frame is one chat or signaling message as it appears on the wire, prior
// to the 4-byte length prefix applied by WriteFrame/ReadFrame.
type Frame struct {
	Version           uint32
	Type              Type
	MessageID         string
	Sender            string
	RecipientOrGroup  string
	TimestampMs       uint64
	Ciphertext        []byte
	Signature         []byte // optional
	CallID            string // present only for signaling types
}

// Marshal encodes f as a protobuf-wire-format byte string, without any
// length prefix.
func (f *Frame) Marshal() []byte {
	var b []byte

	version := f.Version
	if version == 0 {
		version = CurrentVersion
	}
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(version))

	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))

	if f.MessageID != "" {
		b = protowire.AppendTag(b, fieldMessageID, protowire.BytesType)
		b = protowire.AppendString(b, f.MessageID)
	}

	if f.Sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, f.Sender)
	}

	if f.RecipientOrGroup != "" {
		b = protowire.AppendTag(b, fieldRecipientOrGroup, protowire.BytesType)
		b = protowire.AppendString(b, f.RecipientOrGroup)
	}

	b = protowire.AppendTag(b, fieldTimestampMs, protowire.VarintType)
	b = protowire.AppendVarint(b, f.TimestampMs)

	if len(f.Ciphertext) > 0 {
		b = protowire.AppendTag(b, fieldCiphertext, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Ciphertext)
	}

	if len(f.Signature) > 0 {
		b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Signature)
	}

	if f.CallID != "" {
		b = protowire.AppendTag(b, fieldCallID, protowire.BytesType)
		b = protowire.AppendString(b, f.CallID)
	}

	return b
}

// Unmarshal decodes b (as produced by Marshal, no length prefix) into f.
// Unknown fields are skipped rather than rejected, so a newer sender's
// optional additions don't break an older receiver.
func (f *Frame) Unmarshal(b []byte) error {
	*f = Frame{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("wire: invalid field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldVersion:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid version field: %w", protowire.ParseError(n))
			}
			f.Version = uint32(v)
			b = b[n:]
		case fieldType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid type field: %w", protowire.ParseError(n))
			}
			f.Type = Type(v)
			b = b[n:]
		case fieldMessageID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid message_id field: %w", protowire.ParseError(n))
			}
			f.MessageID = v
			b = b[n:]
		case fieldSender:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid sender field: %w", protowire.ParseError(n))
			}
			f.Sender = v
			b = b[n:]
		case fieldRecipientOrGroup:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid recipient_or_group field: %w", protowire.ParseError(n))
			}
			f.RecipientOrGroup = v
			b = b[n:]
		case fieldTimestampMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid timestamp_ms field: %w", protowire.ParseError(n))
			}
			f.TimestampMs = v
			b = b[n:]
		case fieldCiphertext:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid ciphertext field: %w", protowire.ParseError(n))
			}
			f.Ciphertext = append([]byte(nil), v...)
			b = b[n:]
		case fieldSignature:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid signature field: %w", protowire.ParseError(n))
			}
			f.Signature = append([]byte(nil), v...)
			b = b[n:]
		case fieldCallID:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("wire: invalid call_id field: %w", protowire.ParseError(n))
			}
			f.CallID = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("wire: skipping unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if f.Version == 0 {
		return errors.New("wire: frame missing version field")
	}
	return nil
}
