package core

import "github.com/google/uuid"

// FilterValue is a per-filter override: a nil pointer means "inherit", a
// value of 0 means "disabled", and any positive value is a cutoff in Hz.
type FilterValue = *float64

// Hz wraps a float64 as a FilterValue override.
func Hz(v float64) FilterValue { return &v }

// FilterSet is the recording-wide or per-channel set of IIR filter cutoffs
// applied in the fixed order: high-pass, low-pass, notch, then each
// band-reject in the order given.
type FilterSet struct {
	HighPass    FilterValue
	LowPass     FilterValue
	Notch       FilterValue
	BandReject  []float64
}

// Resolve returns the effective value for a filter: the channel override if
// set, otherwise the recording default. Both nil means "no default either".
func Resolve(channelOverride, recordingDefault FilterValue) FilterValue {
	if channelOverride != nil {
		return channelOverride
	}
	return recordingDefault
}

// WeightedChannel is one term of a weighted active or reference mix.
type WeightedChannel struct {
	Index  int
	Weight float64
}

// ChannelSet normalizes "a single index" and "a weighted list" into one
// shape; weights default to 1.0.
type ChannelSet []WeightedChannel

// SingleChannel builds a ChannelSet from one source channel index with
// implicit weight 1.0.
func SingleChannel(idx int) ChannelSet {
	return ChannelSet{{Index: idx, Weight: 1.0}}
}

// Empty reports whether this set carries no channels (an empty reference
// means "unreferenced").
func (cs ChannelSet) Empty() bool { return len(cs) == 0 }

// MontageChannel is one derived channel's recipe: active minus reference,
// optionally weighted and averaged, with its own filter overrides.
type MontageChannel struct {
	Label     string
	Active    ChannelSet
	Reference ChannelSet

	// Averaged is display-only metadata (the weighted-average formula
	// applies to any multi-member ChannelSet unconditionally); it does not
	// change how the processor derives this channel's samples.
	Averaged bool
	Polarity float64 // +1 or -1, default +1
	ScaleExp int
	Filters  FilterSet

	// AverageReference marks this channel's reference as the montage-wide
	// common average rather than an explicit Reference set;
	// ExcludeActiveFromAvg then decides whether the channel's own active
	// indices are excluded from that average.
	AverageReference bool

	// resolved at map_channels time; Missing renders as blank.
	Missing bool
}

// Montage is a recipe for deriving displayed channels from a recording's
// source channels.
type Montage struct {
	Name        string
	Label       string
	RecordingID uuid.UUID

	Layout  []int // group sizes, summing to the visible channel count
	Filters FilterSet

	Channels []MontageChannel

	FilterPaddingSeconds float64
	DownsampleLimit      float64 // Hz; 0 disables downsampling
	ExcludeActiveFromAvg bool
}

// VisibleChannelCount sums the layout's group sizes.
func (m *Montage) VisibleChannelCount() int {
	n := 0
	for _, g := range m.Layout {
		n += g
	}
	return n
}

// ChannelOffset is a channel's vertical baseline and plotted extent,
// expressed as fractions of the viewport height in [0, 1].
type ChannelOffset struct {
	Baseline float64
	Top      float64
	Bottom   float64
}

// ChannelOffsets computes per-channel vertical offsets for a layout of
// channel groups, given the per-channel half-height and the spacing
// inserted between groups.
//
// The single-group case matches the fixture in S4 exactly: 3 visible channels,
// no grouping (one group of 3), yPadding=0.125 ⇒ baselines 0.75, 0.50,
// 0.25. The N-group generalization is linear interpolation of each group's
// band across the viewport, with groupSpacing subtracted evenly between
// adjacent groups' bands (open question, resolved in DESIGN.md).
func ChannelOffsets(layout []int, yPadding, groupSpacing float64) []ChannelOffset {
	total := 0
	for _, g := range layout {
		total += g
	}
	if total == 0 {
		return nil
	}

	usableHeight := 1.0 - groupSpacing*float64(len(layout)-1)
	offsets := make([]ChannelOffset, 0, total)

	var y float64
	for _, groupSize := range layout {
		groupHeight := usableHeight * float64(groupSize) / float64(total)
		step := groupHeight / float64(groupSize+1)

		for i := 0; i < groupSize; i++ {
			baseline := 1.0 - (y + step*float64(i+1))
			offsets = append(offsets, ChannelOffset{
				Baseline: baseline,
				Top:      baseline + yPadding,
				Bottom:   baseline - yPadding,
			})
		}

		y += groupHeight + groupSpacing
	}

	return offsets
}
