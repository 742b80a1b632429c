// Package rtp provides RTP (Real-time Transport Protocol) packetization for
// the voice pipeline's audio stream, carried over the overlay transport.
//
// # Architecture
//
//   - AudioPacketizer: converts encoded Opus frames into RTP packets
//   - AudioDepacketizer: reconstructs audio frames from inbound RTP packets,
//     backed by a timestamp-ordered JitterBuffer
//   - Session: one RTP session per active call, tracking send/receive
//     statistics
//   - TransportIntegration: routes inbound frames on AudioProtocolID to the
//     session whose remote address sent them
//
// # Deterministic testing
//
// Time-dependent and random operations accept injectable providers:
//
//	packetizer, _ := rtp.NewAudioPacketizerWithSSRCProvider(clockRate, tr, addr, mockSSRC)
//	buffer := rtp.NewJitterBufferWithTimeProvider(duration, mockClock)
//
// # Thread safety
//
// All exported types are safe for concurrent use; internal synchronization
// uses sync.RWMutex.
package rtp
