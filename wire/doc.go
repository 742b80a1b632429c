// Package wire encodes and decodes the framed messages that travel over a
// secure channel: a 4-byte big-endian length prefix followed by a protobuf
// payload. No .proto-generated package exists for this layout, so the wire
// bytes are produced and consumed directly with
// google.golang.org/protobuf/encoding/protowire's low-level field encoders —
// real protobuf wire format, just without a code generator in front of it.
package wire
