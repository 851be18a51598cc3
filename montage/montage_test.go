package montage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/signal"
)

func constantFetcher(values map[int]float32, rate float64, n int) SourceFetcher {
	return func(channelIndex int, start, end float64) (signal.Signal, error) {
		v := values[channelIndex]
		data := make([]float32, n)
		for i := range data {
			data[i] = v
		}
		return signal.Signal{Data: data, SamplingRate: rate}, nil
	}
}

func newTestRecording(channelCount int) *core.Recording {
	rec := core.NewRecording()
	for i := 0; i < channelCount; i++ {
		rec.Channels = append(rec.Channels, core.SourceChannel{SamplingRate: 250, SampleCount: 250})
	}
	return rec
}

// TestDeriveScenarioS5 mirrors the literal example: channel 0 holds a
// constant 10, channel 1 a constant 2; a montage channel referencing
// active=0, reference=1 with no filters must produce a constant 8 over
// [0, 1) at 250 samples.
func TestDeriveScenarioS5(t *testing.T) {
	rec := newTestRecording(2)
	m := &core.Montage{
		Name:   "bipolar",
		Layout: []int{1},
		Channels: []core.MontageChannel{
			{Label: "ch0-ch1", Active: core.SingleChannel(0), Reference: core.SingleChannel(1)},
		},
	}

	fetch := constantFetcher(map[int]float32{0: 10, 1: 2}, 250, 250)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	require.Len(t, part.Signals, 1)
	assert.Equal(t, 250, len(part.Signals[0].Data))
	for _, v := range part.Signals[0].Data {
		assert.InDelta(t, float32(8), v, 1e-6)
	}
	assert.Equal(t, StateCached, p.State())
}

func TestDeriveUnreferencedChannelPassesActiveThrough(t *testing.T) {
	rec := newTestRecording(1)
	m := &core.Montage{
		Layout:   []int{1},
		Channels: []core.MontageChannel{{Label: "ch0", Active: core.SingleChannel(0)}},
	}
	fetch := constantFetcher(map[int]float32{0: 5}, 100, 100)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	for _, v := range part.Signals[0].Data {
		assert.InDelta(t, float32(5), v, 1e-6)
	}
}

func TestMapChannelsMarksOutOfRangeMissing(t *testing.T) {
	rec := newTestRecording(1)
	m := &core.Montage{
		Channels: []core.MontageChannel{{Active: core.SingleChannel(0), Reference: core.SingleChannel(5)}},
	}
	p := New(m, rec, nil)
	p.MapChannels()
	assert.True(t, m.Channels[0].Missing)
	assert.Equal(t, StateMapped, p.State())
}

func TestDeriveAppliesDownsampleLimit(t *testing.T) {
	rec := newTestRecording(1)
	m := &core.Montage{
		Layout:          []int{1},
		Channels:        []core.MontageChannel{{Active: core.SingleChannel(0)}},
		DownsampleLimit: 50,
	}
	fetch := constantFetcher(map[int]float32{0: 1}, 200, 200)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, part.Signals[0].SamplingRate)
	assert.Equal(t, 50, len(part.Signals[0].Data))
	assert.Equal(t, 200.0, part.Signals[0].OriginalSamplingRate)
}

// TestDeriveDownsampleRequiresMoreThanTwice asserts the downsample trigger
// samplingRate > 2*downsampleLimit: 200Hz against a 150Hz limit must pass
// through untouched, since 200 <= 2*150.
func TestDeriveDownsampleRequiresMoreThanTwice(t *testing.T) {
	rec := newTestRecording(1)
	m := &core.Montage{
		Layout:          []int{1},
		Channels:        []core.MontageChannel{{Active: core.SingleChannel(0)}},
		DownsampleLimit: 150,
	}
	fetch := constantFetcher(map[int]float32{0: 1}, 200, 200)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 200.0, part.Signals[0].SamplingRate)
	assert.Equal(t, 0.0, part.Signals[0].OriginalSamplingRate)
}

// TestDeriveWeightedActiveAveragesNotSums asserts the multi-member formula
// Σw_k·raw[i_k] / Σw_k applies regardless of MontageChannel.Averaged: two
// equally-weighted channels holding 10 and 2 must average to 6, not sum to
// 12.
func TestDeriveWeightedActiveAveragesNotSums(t *testing.T) {
	rec := newTestRecording(2)
	m := &core.Montage{
		Layout: []int{1},
		Channels: []core.MontageChannel{
			{
				Label:  "avg",
				Active: core.ChannelSet{{Index: 0, Weight: 1}, {Index: 1, Weight: 1}},
			},
		},
	}
	fetch := constantFetcher(map[int]float32{0: 10, 1: 2}, 250, 250)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	for _, v := range part.Signals[0].Data {
		assert.InDelta(t, float32(6), v, 1e-6)
	}
}

// TestDeriveSourceAveragedReferenceIsZero asserts that when the active
// channel's source is already referenced to a mean, an explicit reference
// set is never subtracted.
func TestDeriveSourceAveragedReferenceIsZero(t *testing.T) {
	rec := newTestRecording(2)
	rec.Channels[0].Averaged = true
	m := &core.Montage{
		Layout: []int{1},
		Channels: []core.MontageChannel{
			{Label: "ch0-ch1", Active: core.SingleChannel(0), Reference: core.SingleChannel(1)},
		},
	}
	fetch := constantFetcher(map[int]float32{0: 10, 1: 2}, 250, 250)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	for _, v := range part.Signals[0].Data {
		assert.InDelta(t, float32(10), v, 1e-6)
	}
}

// TestDeriveAverageReferenceExcludesActive exercises the common-average
// reference mode (Montage.ExcludeActiveFromAvg): with three visible source
// channels at 10, 2, and 6, the channel active on 0 referencing the average
// of the others must subtract (2+6)/2 = 4.
func TestDeriveAverageReferenceExcludesActive(t *testing.T) {
	rec := newTestRecording(3)
	m := &core.Montage{
		Layout:               []int{3},
		ExcludeActiveFromAvg: true,
		Channels: []core.MontageChannel{
			{Label: "avgref", Active: core.SingleChannel(0), AverageReference: true},
			{Label: "ch1", Active: core.SingleChannel(1)},
			{Label: "ch2", Active: core.SingleChannel(2)},
		},
	}
	fetch := constantFetcher(map[int]float32{0: 10, 1: 2, 2: 6}, 250, 250)
	p := New(m, rec, fetch)

	part, err := p.Derive(context.Background(), 0, 1)
	require.NoError(t, err)
	for _, v := range part.Signals[0].Data {
		assert.InDelta(t, float32(6), v, 1e-6)
	}
}

// TestDeriveInterruptionsTranslatedToRecordingTime exercises two
// interruptions so that a later one's recording-time start necessarily
// diverges from its data-time start, catching the bug a single-interruption
// fixture can't.
func TestDeriveInterruptionsTranslatedToRecordingTime(t *testing.T) {
	rec := newTestRecording(1)
	rec.Interruptions.Insert(core.Interruption{StartData: 1, Duration: 1})
	rec.Interruptions.Insert(core.Interruption{StartData: 2, Duration: 1})
	m := &core.Montage{
		Layout:   []int{1},
		Channels: []core.MontageChannel{{Active: core.SingleChannel(0)}},
	}
	fetch := constantFetcher(map[int]float32{0: 1}, 10, 100)
	p := New(m, rec, fetch)

	// Recording time [0, 5) crosses both interruptions: first at data time
	// 1 (recording time 1), second at data time 2 (recording time 3, since
	// the first interruption's 1s duration has already elapsed by then).
	part, err := p.Derive(context.Background(), 0, 5)
	require.NoError(t, err)
	require.Len(t, part.Interruptions, 2)
	assert.InDelta(t, 1, part.Interruptions[0].Start, 1e-9)
	assert.InDelta(t, 3, part.Interruptions[1].Start, 1e-9)
}
