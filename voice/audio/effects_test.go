package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGainEffectRejectsOutOfRangeValues(t *testing.T) {
	_, err := NewGainEffect(-0.1)
	assert.Error(t, err)

	_, err = NewGainEffect(4.1)
	assert.Error(t, err)

	g, err := NewGainEffect(2.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, g.GetGain())
}

func TestGainEffectProcessScalesSamples(t *testing.T) {
	g, err := NewGainEffect(2.0)
	require.NoError(t, err)

	out, err := g.Process([]int16{100, -100, 0})
	require.NoError(t, err)
	assert.Equal(t, []int16{200, -200, 0}, out)
}

func TestGainEffectProcessClipsOnOverflow(t *testing.T) {
	g, err := NewGainEffect(4.0)
	require.NoError(t, err)

	out, err := g.Process([]int16{16000, -16000})
	require.NoError(t, err)
	assert.Equal(t, int16(32767), out[0], "must clip to int16 max rather than overflow")
	assert.Equal(t, int16(-32768), out[1], "must clip to int16 min rather than overflow")
}

func TestGainEffectProcessEmptyInputIsNoop(t *testing.T) {
	g, err := NewGainEffect(1.0)
	require.NoError(t, err)

	out, err := g.Process(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGainEffectSetGainRejectsInvalidValues(t *testing.T) {
	g, err := NewGainEffect(1.0)
	require.NoError(t, err)

	assert.Error(t, g.SetGain(-1.0))
	assert.Error(t, g.SetGain(5.0))
	assert.NoError(t, g.SetGain(3.0))
	assert.Equal(t, 3.0, g.GetGain())
}

func TestAutoGainEffectConvergesTowardTargetLevelWithoutExceedingLimits(t *testing.T) {
	agc := NewAutoGainEffect()

	loud := make([]int16, 960)
	for i := range loud {
		loud[i] = 30000
	}

	for i := 0; i < 2000; i++ {
		samples := make([]int16, len(loud))
		copy(samples, loud)
		_, err := agc.Process(samples)
		require.NoError(t, err)

		gain := agc.GetCurrentGain()
		assert.GreaterOrEqual(t, gain, 0.1)
		assert.LessOrEqual(t, gain, 4.0)
	}

	assert.Less(t, agc.GetCurrentGain(), 1.0, "a loud, sustained signal should be attenuated toward the target level")
}

func TestAutoGainEffectSetTargetLevelValidatesRange(t *testing.T) {
	agc := NewAutoGainEffect()
	assert.Error(t, agc.SetTargetLevel(-0.1))
	assert.Error(t, agc.SetTargetLevel(1.1))
	assert.NoError(t, agc.SetTargetLevel(0.5))
}

func TestEffectChainAppliesEffectsInOrder(t *testing.T) {
	chain := NewEffectChain()
	assert.Equal(t, 0, chain.GetEffectCount())

	doubleGain, err := NewGainEffect(2.0)
	require.NoError(t, err)
	halveGain, err := NewGainEffect(0.5)
	require.NoError(t, err)

	chain.AddEffect(doubleGain)
	chain.AddEffect(halveGain)
	assert.Equal(t, 2, chain.GetEffectCount())
	assert.Equal(t, []string{"Gain(2.00)", "Gain(0.50)"}, chain.GetEffectNames())

	out, err := chain.Process([]int16{100})
	require.NoError(t, err)
	assert.Equal(t, []int16{100}, out, "x2 then x0.5 must return the original value")
}

func TestEffectChainProcessWithNoEffectsReturnsInputUnchanged(t *testing.T) {
	chain := NewEffectChain()
	out, err := chain.Process([]int16{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, 2, 3}, out)
}

func TestEffectChainClearClosesEffectsAndEmptiesChain(t *testing.T) {
	chain := NewEffectChain()
	g, err := NewGainEffect(1.0)
	require.NoError(t, err)
	chain.AddEffect(g)

	require.NoError(t, chain.Clear())
	assert.Equal(t, 0, chain.GetEffectCount())
}
