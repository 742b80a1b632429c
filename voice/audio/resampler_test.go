package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResamplerRejectsInvalidConfig(t *testing.T) {
	_, err := NewResampler(ResamplerConfig{InputRate: 0, OutputRate: 48000, Channels: 1})
	assert.Error(t, err)

	_, err = NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 0, Channels: 1})
	assert.Error(t, err)

	_, err = NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 3})
	assert.Error(t, err)

	_, err = NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 1, Quality: 11})
	assert.Error(t, err)
}

func TestNewResamplerDefaultsQualityWhenUnset(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, r.GetQuality())
}

func TestResampleSameRateReturnsInputUnchanged(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	input := []int16{1, 2, 3, 4}
	out, err := r.Resample(input)
	require.NoError(t, err)
	assert.Equal(t, input, out)
}

func TestResampleRejectsEmptyOrMisalignedInput(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 2})
	require.NoError(t, err)

	_, err = r.Resample(nil)
	assert.Error(t, err)

	_, err = r.Resample([]int16{1, 2, 3})
	assert.Error(t, err, "3 samples is not aligned to 2 channels")
}

func TestResampleUpsamplesToApproximatelyExpectedLength(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	input := make([]int16, 80) // 10ms at 8kHz
	for i := range input {
		input[i] = int16(i)
	}

	out, err := r.Resample(input)
	require.NoError(t, err)
	assert.InDelta(t, 480, len(out), 2, "upsampling 8kHz to 48kHz should scale length by 6x")
}

func TestResampleDownsamplesToApproximatelyExpectedLength(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 8000, Channels: 1})
	require.NoError(t, err)

	input := make([]int16, 480) // 10ms at 48kHz
	for i := range input {
		input[i] = int16(i)
	}

	out, err := r.Resample(input)
	require.NoError(t, err)
	assert.InDelta(t, 80, len(out), 2, "downsampling 48kHz to 8kHz should scale length by 1/6")
}

func TestCalculateOutputSizeMatchesRatio(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, 480, r.CalculateOutputSize(80))

	same, err := NewResampler(ResamplerConfig{InputRate: 48000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)
	assert.Equal(t, 100, same.CalculateOutputSize(100))
}

func TestResetClearsInterpolationState(t *testing.T) {
	r, err := NewResampler(ResamplerConfig{InputRate: 8000, OutputRate: 48000, Channels: 1})
	require.NoError(t, err)

	_, err = r.Resample(make([]int16, 80))
	require.NoError(t, err)

	require.NoError(t, r.Reset())
	assert.Equal(t, uint32(8000), r.GetInputRate())
	assert.Equal(t, uint32(48000), r.GetOutputRate())
	assert.Equal(t, 1, r.GetChannels())
}

func TestNamedConstructorsProduceExpectedRates(t *testing.T) {
	tel, err := NewTelephoneToOpusResampler(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(8000), tel.GetInputRate())
	assert.Equal(t, uint32(48000), tel.GetOutputRate())

	cd, err := NewCDToOpusResampler(2)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), cd.GetInputRate())
	assert.Equal(t, uint32(48000), cd.GetOutputRate())

	wide, err := NewWidebandToOpusResampler(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(16000), wide.GetInputRate())

	playback, err := NewOpusToPlaybackResampler(16000, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(48000), playback.GetInputRate())
	assert.Equal(t, uint32(16000), playback.GetOutputRate())
}
