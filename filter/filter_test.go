package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestApplyPreservesLength(t *testing.T) {
	data := constant(250, 1)
	out := Apply(data, 250, 1, 40, 50, []float64{60})
	assert.Len(t, out, len(data))
}

func TestApplyNoOpWhenAllCutoffsZero(t *testing.T) {
	data := constant(100, 3.5)
	out := Apply(data, 100, 0, 0, 0, nil)
	assert.Equal(t, data, out)
}

func TestApplyDeterministicAndOrderSensitive(t *testing.T) {
	data := make([]float32, 256)
	for i := range data {
		data[i] = float32(math.Sin(float64(i) * 0.1))
	}

	a := Apply(data, 256, 1, 60, 50, []float64{60, 100})
	b := Apply(data, 256, 1, 60, 50, []float64{60, 100})
	assert.Equal(t, a, b, "identical chains on identical input must be byte-identical")

	c := Apply(data, 256, 1, 60, 50, []float64{100, 60})
	assert.NotEqual(t, a, c, "reordering the band-reject list must change the result")
}

func TestLowPassAttenuatesHighFrequencyMoreThanDC(t *testing.T) {
	const sampleRate = 1000.0
	n := 1000
	dc := constant(n, 1)
	high := make([]float32, n)
	for i := range high {
		high[i] = float32(math.Sin(2 * math.Pi * 400 * float64(i) / sampleRate))
	}

	outDC := Apply(dc, sampleRate, 0, 10, 0, nil)
	outHigh := Apply(high, sampleRate, 0, 10, 0, nil)

	rms := func(xs []float32) float64 {
		var sum float64
		// skip the filter's settling transient
		tail := xs[len(xs)/2:]
		for _, x := range tail {
			sum += float64(x) * float64(x)
		}
		return math.Sqrt(sum / float64(len(tail)))
	}

	assert.Greater(t, rms(outDC), rms(outHigh), "a 10Hz low-pass should pass DC and attenuate 400Hz")
}
