// Package voice implements the engine's real-time voice-calling pipeline:
// signaling over the overlay, the per-call state machine, and the
// audio capture/encode/decode/playback path.
//
// # Architecture
//
//   - Manager: orchestrates at most one active call per local identity,
//     drives the signaling state machine, and persists call history
//   - Call: one call's state, timestamps, and codec configuration
//   - voice/audio: Opus decoding, a PCM passthrough encoder (outgoing
//     audio is raw PCM, not Opus), resampling to 48kHz mono, and an
//     effect-chain hook for echo cancellation or noise suppression
//   - voice/rtp: RTP packetization of encoded audio over the overlay
//     transport
//
// # Signaling
//
// Offer/Answer/Candidate/Accept/Reject/End messages ride the same framed
// wire shape chat messages use (see the wire package), distinguished by
// wire.Type.IsSignaling and carrying a CallID instead of a
// RecipientOrGroup. See signaling.go.
//
// # Call lifecycle
//
//	Initiating --offer-->  Ringing  --accept-->  Connecting
//	                         |reject|                 |
//	                         v                        v
//	                        Ended                   Active  --end--> Ended
//
// A call in Ringing with no answer within RingTimeout ends as
// EndReasonNoAnswer; a call in Connecting with no media flow within
// ConnectTimeout ends as EndReasonConnectFail. Starting a second call
// while one is active returns ErrCallAlreadyActive — only one call per
// identity runs at a time.
//
// # Connectivity
//
// Audio transits the same direct/relay/hole-punched connectivity the
// message handler uses; TURN-style relay credentials are obtained from a
// credential endpoint (see credentials.go) exposing a time-limited,
// HMAC-derived password.
//
// # Limitation
//
// Echo cancellation and noise suppression are specified as optional hooks:
// a host supplies one by implementing voice/audio.AudioEffect and
// registering it on a voice/audio.EffectChain ahead of encoding. No
// concrete echo-canceller or noise-suppressor ships in this engine, so
// calls run without either unless the host supplies one.
package voice
