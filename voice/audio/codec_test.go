package audio

import (
	"testing"

	"github.com/pion/opus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpusCodecEncodeFrameRoundTripsPassthroughPCM(t *testing.T) {
	c := NewOpusCodec()
	t.Cleanup(func() { c.Close() })

	pcm := []int16{1, -1, 1000, -1000}
	out, err := c.EncodeFrame(pcm, 48000)
	require.NoError(t, err)
	assert.Equal(t, pcmToLittleEndianBytes(pcm), out)
}

func TestOpusCodecSetBitRateUpdatesProcessor(t *testing.T) {
	c := NewOpusCodec()
	t.Cleanup(func() { c.Close() })
	assert.NoError(t, c.SetBitRate(32000))
}

func TestOpusCodecRejectsOperationsWithoutProcessor(t *testing.T) {
	c := &OpusCodec{}

	_, err := c.EncodeFrame([]int16{1}, 48000)
	assert.Error(t, err)

	_, _, err = c.DecodeFrame([]byte{1, 2})
	assert.Error(t, err)

	assert.Error(t, c.SetBitRate(16000))
	assert.NoError(t, c.Close(), "closing a codec with no processor is a no-op")
}

func TestOpusCodecValidateFrameSizeAcceptsStandardDurations(t *testing.T) {
	c := NewOpusCodec()
	t.Cleanup(func() { c.Close() })

	// 20ms at 48kHz mono = 960 samples
	assert.NoError(t, c.ValidateFrameSize(960, 48000, 1))
	// 10ms at 48kHz mono = 480 samples
	assert.NoError(t, c.ValidateFrameSize(480, 48000, 1))
}

func TestOpusCodecValidateFrameSizeRejectsNonStandardDurations(t *testing.T) {
	c := NewOpusCodec()
	t.Cleanup(func() { c.Close() })

	assert.Error(t, c.ValidateFrameSize(123, 48000, 1))
}

func TestOpusCodecGetSupportedSampleRatesAndBitRates(t *testing.T) {
	c := NewOpusCodec()
	t.Cleanup(func() { c.Close() })

	assert.Contains(t, c.GetSupportedSampleRates(), uint32(48000))
	assert.Contains(t, c.GetSupportedBitRates(), uint32(64000))
}

func TestGetBandwidthFromSampleRateMapsKnownRates(t *testing.T) {
	cases := map[uint32]opus.Bandwidth{
		8000:  opus.BandwidthNarrowband,
		12000: opus.BandwidthMediumband,
		16000: opus.BandwidthWideband,
		24000: opus.BandwidthSuperwideband,
		48000: opus.BandwidthFullband,
	}
	for rate, want := range cases {
		assert.Equal(t, want, GetBandwidthFromSampleRate(rate))
	}
}

func TestGetBandwidthFromSampleRateDefaultsToFullbandForUnknownRates(t *testing.T) {
	assert.Equal(t, opus.BandwidthFullband, GetBandwidthFromSampleRate(22050))
}
