// Package audio provides comprehensive audio processing capabilities for the voice pipeline.
//
// This package implements the complete audio pipeline for voice calls,
// including Opus decoding, a PCM passthrough encoder, audio effects processing, sample rate conversion,
// and real-time audio manipulation.
//
// # Architecture Overview
//
// The audio processing pipeline follows this flow:
//
//	Capture:  PCM Input → Resampling → Effects → PCM Passthrough Encoding → RTP Packetization
//	Playback: PCM Output ← Resampling ← Effects ← Opus Decoding ← RTP Depacketization
//
// # Core Components
//
// The package provides these main components:
//
// ## OpusCodec
//
// The codec wrapper: it decodes Opus through pion/opus and encodes through the
// processor's PCM passthrough encoder, so encoded frames are raw PCM bytes,
// not Opus packets:
//
//	codec := audio.NewOpusCodec()
//	encoded, err := codec.EncodeFrame(pcmSamples, 48000)
//	decoded, sampleRate, err := codec.DecodeFrame(opusData)
//
// ## Processor
//
// The main audio processing pipeline combining encoding, decoding, resampling,
// and effects processing:
//
//	processor := audio.NewProcessor()
//	defer processor.Close()
//	
//	// Configure effects
//	gain, err := audio.NewGainEffect(1.5)
//	processor.AddEffect(gain)
//
//	// Process audio
//	output, err := processor.ProcessOutgoing(input, 48000)
//
// ## Resampler
//
// Sample rate conversion with linear interpolation:
//
//	config := audio.ResamplerConfig{
//	    InputRate:  44100,
//	    OutputRate: 48000,
//	    Channels:   1,
//	    Quality:    4,
//	}
//	resampler, err := audio.NewResampler(config)
//	resampled, err := resampler.Resample(samples)
//
// ## Effects
//
// The package provides a flexible effects framework with built-in effects:
//
//   - GainEffect: Volume adjustment with clipping protection
//   - AutoGainEffect: Automatic gain control (AGC) for consistent volume
//   - EffectChain: Sequential effect processing pipeline
//
// No noise-suppression or echo-cancellation effect is included.
//
// Example of building an effects chain:
//
//	chain := audio.NewEffectChain()
//	chain.AddEffect(audio.NewAutoGainEffect())
//	gain, err := audio.NewGainEffect(1.2)
//	chain.AddEffect(gain)
//	
//	processed, err := chain.Process(samples)
//
// # Thread Safety
//
// No component in this package takes a lock: Processor, EffectChain, the
// effects and Resampler all change internal state without synchronization,
// so none of them is safe for concurrent use. Resampler also carries
// interpolation state from one call to the next and belongs to one stream.
//
// # Dependencies
//
// The package uses minimal external dependencies:
//
//   - github.com/pion/opus: Pure Go Opus decoder (no CGO)
//   - github.com/sirupsen/logrus: Structured logging
//
// # Performance Considerations
//
//   - Linear interpolation resampling: O(n) complexity, suitable for real-time
//   - Effects make one O(n) pass, modifying the samples in place
//   - Encoding, decoding and resampling allocate a new output buffer per call
//   - Same-rate resampling optimization bypasses processing
//
// # Integration
//
// No other package in this module imports this one. Its encoded output is a
// byte slice that voice/rtp's AudioPacketizer can carry.
package audio
