package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S4: 3 visible channels, no grouping: channel 0 baseline=0.75, channel 1
// baseline=0.50, channel 2 baseline=0.25; top/bottom = baseline +/- 0.125.
func TestChannelOffsetsScenarioS4(t *testing.T) {
	offsets := ChannelOffsets([]int{3}, 0.125, 0)
	require.Len(t, offsets, 3)

	assert.InDelta(t, 0.75, offsets[0].Baseline, 1e-9)
	assert.InDelta(t, 0.50, offsets[1].Baseline, 1e-9)
	assert.InDelta(t, 0.25, offsets[2].Baseline, 1e-9)

	for i, off := range offsets {
		assert.InDelta(t, off.Baseline+0.125, off.Top, 1e-9, "channel %d top", i)
		assert.InDelta(t, off.Baseline-0.125, off.Bottom, 1e-9, "channel %d bottom", i)
	}
}

func TestChannelOffsetsTwoGroups(t *testing.T) {
	offsets := ChannelOffsets([]int{2, 1}, 0.05, 0.1)
	require.Len(t, offsets, 3)
	// Monotonically decreasing baselines top to bottom.
	for i := 1; i < len(offsets); i++ {
		assert.Less(t, offsets[i].Baseline, offsets[i-1].Baseline)
	}
}

func TestFilterValueResolve(t *testing.T) {
	def := Hz(30)
	assert.Equal(t, def, Resolve(nil, def))

	override := Hz(0)
	assert.Equal(t, override, Resolve(override, def))
}
