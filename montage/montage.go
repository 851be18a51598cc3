// Package montage implements the montage processor: the component that
// turns a recipe (core.Montage) plus a source signal fetcher into derived,
// filtered output channels, and is itself the one caller of package filter.
//
// The split-derive-concatenate shape is grounded on hztools-go-sdr's
// stream package, which also breaks a long operation into independently
// processable windows and stitches the results back into one contiguous
// buffer (there: fixed-size blocks through a pipe; here: the data-time
// segments an interruption map carves a requested range into). Running
// each segment concurrently uses golang.org/x/sync/errgroup exactly as
// ColonelBlimp-cwdecoder's worker fan-out does for independent per-file
// decode jobs.
package montage

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/filter"
	"epicurrents.dev/core/signal"
)

// SourceFetcher returns one source channel's samples over [start, end)
// data-time seconds. Implementations typically read from a
// buffer.CoupledCache populated by the raw reader.
type SourceFetcher func(channelIndex int, start, end float64) (signal.Signal, error)

// State is the montage processor's lifecycle, per the processor's state
// machine: a montage starts unmapped, becomes mapped once channel recipes
// resolve against a recording's source channels, is cached once a range has
// been derived, and goes stale when an upstream write invalidates it.
type State int

const (
	StateUnmapped State = iota
	StateMapped
	StateCached
	StateStale
)

func (s State) String() string {
	switch s {
	case StateUnmapped:
		return "unmapped"
	case StateMapped:
		return "mapped"
	case StateCached:
		return "cached"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Processor derives a montage's output channels against one recording.
type Processor struct {
	montage *core.Montage
	rec     *core.Recording
	fetch   SourceFetcher

	state State
	// cachedStart/cachedEnd record the recording-time range requested by
	// the last Derive call; State() does not read them. The processor does
	// not itself retain derived samples (that's the coupled cache's job).
	cachedStart, cachedEnd float64

	// lastCrossed holds the raw, data-time interruptions crossed by the
	// most recent Derive call, for GetInterruptions to translate on demand.
	lastCrossed []core.Interruption
}

// New builds a processor bound to a montage recipe, a recording, and a way
// to fetch source channel samples. MapChannels must be called (or Derive,
// which calls it implicitly) before the processor leaves StateUnmapped.
func New(m *core.Montage, rec *core.Recording, fetch SourceFetcher) *Processor {
	return &Processor{montage: m, rec: rec, fetch: fetch, state: StateUnmapped}
}

// State reports the processor's current lifecycle state.
func (p *Processor) State() State { return p.state }

// RecordingID returns the recording this processor's recipe is bound to.
func (p *Processor) RecordingID() uuid.UUID { return p.montage.RecordingID }

// Recording returns the recording this processor derives against.
func (p *Processor) Recording() *core.Recording { return p.rec }

// Fetcher returns the source fetcher this processor was built with, for
// handing to a replacement processor built against a new recipe.
func (p *Processor) Fetcher() SourceFetcher { return p.fetch }

// Recipe returns the montage recipe this processor derives, so a caller can
// adjust filter overrides in place. Callers must call Invalidate afterward.
func (p *Processor) Recipe() *core.Montage { return p.montage }

// Invalidate marks a previously cached derivation stale, e.g. after the
// montage's recipe or filter settings change.
func (p *Processor) Invalidate() {
	if p.state == StateCached {
		p.state = StateStale
	}
}

// MapChannels resolves every montage channel's active/reference indices
// against the recording's source channels, marking channels Missing when a
// referenced index doesn't exist, and transitions unmapped -> mapped.
func (p *Processor) MapChannels() {
	for i := range p.montage.Channels {
		ch := &p.montage.Channels[i]
		ch.Missing = false
		for _, w := range ch.Active {
			if w.Index < 0 || w.Index >= len(p.rec.Channels) {
				ch.Missing = true
			}
		}
		for _, w := range ch.Reference {
			if w.Index < 0 || w.Index >= len(p.rec.Channels) {
				ch.Missing = true
			}
		}
	}
	if p.state == StateUnmapped {
		p.state = StateMapped
	}
}

// Derive computes every visible channel's output samples over the
// recording-time range [recStart, recEnd), running the derivation pipeline:
// padding, active mix, reference mix, derive, ordered filter
// chain, optional downsample — independently per interruption-free
// data-time segment, concatenated back together.
func (p *Processor) Derive(ctx context.Context, recStart, recEnd float64) (signal.Part, error) {
	if p.state == StateUnmapped {
		p.MapChannels()
	}

	segments, crossed := p.rec.Interruptions.SplitByInterruptions(recStart, recEnd)
	if len(segments) == 0 {
		return signal.Part{}, nil
	}

	parts := make([]signal.Part, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			part, err := p.deriveSegment(gctx, seg.Start, seg.End)
			if err != nil {
				return fmt.Errorf("montage: segment [%v,%v): %w", seg.Start, seg.End, err)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return signal.Part{}, err
	}

	out := parts[0]
	for _, next := range parts[1:] {
		combined, ok := signal.Combine(out, next)
		if !ok {
			return signal.Part{}, fmt.Errorf("montage: segments did not concatenate cleanly")
		}
		out = combined
	}

	p.lastCrossed = crossed
	out.Interruptions = p.GetInterruptions(false)

	p.cachedStart, p.cachedEnd = recStart, recEnd
	p.state = StateCached
	return out, nil
}

// GetInterruptions returns the interruptions crossed by the most recently
// derived range. useCacheTime=false, the default external callers want,
// translates each interruption's start to recording time via the
// recording's interruption map; useCacheTime=true leaves starts in data
// time, matching the montage cache's internal indexing.
func (p *Processor) GetInterruptions(useCacheTime bool) []signal.Interruption {
	out := make([]signal.Interruption, len(p.lastCrossed))
	for i, c := range p.lastCrossed {
		start := c.StartData
		if !useCacheTime {
			start = p.rec.Interruptions.DataToRecordingTime(c.StartData)
		}
		out[i] = signal.Interruption{Start: start, Duration: c.Duration}
	}
	return out
}

// deriveSegment runs the pipeline over one interruption-free data-time
// window, including the filter padding on either side.
func (p *Processor) deriveSegment(ctx context.Context, start, end float64) (signal.Part, error) {
	pad := p.montage.FilterPaddingSeconds
	paddedStart := math.Max(0, start-pad)
	paddedEnd := end + pad

	part := signal.Part{Start: start, End: end, Signals: make([]signal.Signal, p.montage.VisibleChannelCount())}

	idx := 0
	for _, ch := range p.montage.Channels {
		if ch.Missing {
			idx++
			continue
		}
		if err := ctx.Err(); err != nil {
			return signal.Part{}, err
		}

		derived, rate, err := p.deriveChannel(ch, paddedStart, paddedEnd)
		if err != nil {
			return signal.Part{}, err
		}

		trimmed := trimPadding(derived, paddedStart, rate, start, end)

		var originalRate float64
		if p.montage.DownsampleLimit > 0 && rate > 2*p.montage.DownsampleLimit {
			originalRate = rate
			trimmed, rate = downsample(trimmed, rate, p.montage.DownsampleLimit)
		}

		part.Signals[idx] = signal.Signal{
			Data:                 trimmed,
			SamplingRate:         rate,
			OriginalSamplingRate: originalRate,
		}
		idx++
	}
	return part, nil
}

// deriveChannel computes one montage channel's filtered samples over
// [start, end), returning the channel's native sampling rate.
func (p *Processor) deriveChannel(ch core.MontageChannel, start, end float64) ([]float32, float64, error) {
	active, rate, err := p.mix(ch.Active, start, end)
	if err != nil {
		return nil, 0, err
	}

	var reference []float32
	switch {
	case p.sourceAveraged(ch.Active):
		// Already referenced to a mean at the source; nothing to subtract.
	case ch.AverageReference:
		refSet := p.averageReferenceSet(ch)
		if !refSet.Empty() {
			reference, _, err = p.mix(refSet, start, end)
			if err != nil {
				return nil, 0, err
			}
		}
	case !ch.Reference.Empty():
		reference, _, err = p.mix(ch.Reference, start, end)
		if err != nil {
			return nil, 0, err
		}
	}

	derived := make([]float32, len(active))
	for i := range derived {
		v := active[i]
		if reference != nil {
			v -= reference[i]
		}
		polarity := ch.Polarity
		if polarity == 0 {
			polarity = 1
		}
		v *= float32(polarity)
		if ch.ScaleExp != 0 {
			v *= float32(math.Pow10(ch.ScaleExp))
		}
		derived[i] = v
	}

	hp := core.Resolve(ch.Filters.HighPass, p.montage.Filters.HighPass)
	lp := core.Resolve(ch.Filters.LowPass, p.montage.Filters.LowPass)
	notch := core.Resolve(ch.Filters.Notch, p.montage.Filters.Notch)
	bandReject := ch.Filters.BandReject
	if bandReject == nil {
		bandReject = p.montage.Filters.BandReject
	}

	derived = filter.Apply(derived, rate, deref(hp), deref(lp), deref(notch), bandReject)
	return derived, rate, nil
}

// mix fetches and weighted-averages a channel set over [start, end): every
// member must share the same sampling rate (checked here on each fetch, and
// a mismatch fails the call; MapChannels does not check rates). The result is always
// Σw_k·raw[i_k] / Σw_k, whether the set has one member or many — a single
// member with its default weight of 1.0 divides out to itself unchanged.
func (p *Processor) mix(set core.ChannelSet, start, end float64) ([]float32, float64, error) {
	if set.Empty() {
		return nil, 0, nil
	}

	var out []float32
	var rate float64
	for _, w := range set {
		sig, err := p.fetch(w.Index, start, end)
		if err != nil {
			return nil, 0, err
		}
		if out == nil {
			out = make([]float32, len(sig.Data))
			rate = sig.SamplingRate
		}
		if sig.SamplingRate != rate {
			return nil, 0, fmt.Errorf("montage: mixed channel set spans differing sampling rates")
		}
		for i, v := range sig.Data {
			if i < len(out) {
				out[i] += v * float32(w.Weight)
			}
		}
	}
	scaleInPlace(out, 1/sumWeights(set))
	return out, rate, nil
}

// sourceAveraged reports whether any member of set is already referenced to
// a mean at the source (core.SourceChannel.Averaged), in which case no
// further reference should be subtracted from it.
func (p *Processor) sourceAveraged(set core.ChannelSet) bool {
	for _, w := range set {
		if w.Index >= 0 && w.Index < len(p.rec.Channels) && p.rec.Channels[w.Index].Averaged {
			return true
		}
	}
	return false
}

// visibleSourceIndices collects every distinct source channel index used as
// an active member of any non-missing montage channel, sorted ascending.
func (p *Processor) visibleSourceIndices() []int {
	seen := make(map[int]bool)
	var out []int
	for _, ch := range p.montage.Channels {
		if ch.Missing {
			continue
		}
		for _, w := range ch.Active {
			if !seen[w.Index] {
				seen[w.Index] = true
				out = append(out, w.Index)
			}
		}
	}
	sort.Ints(out)
	return out
}

// averageReferenceSet builds the common-average reference: every visible
// source channel, equally weighted, excluding ch's own active indices when
// the montage's ExcludeActiveFromAvg policy is set.
func (p *Processor) averageReferenceSet(ch core.MontageChannel) core.ChannelSet {
	exclude := make(map[int]bool)
	if p.montage.ExcludeActiveFromAvg {
		for _, w := range ch.Active {
			exclude[w.Index] = true
		}
	}
	var set core.ChannelSet
	for _, idx := range p.visibleSourceIndices() {
		if exclude[idx] {
			continue
		}
		set = append(set, core.WeightedChannel{Index: idx, Weight: 1})
	}
	return set
}

func sumWeights(set core.ChannelSet) float64 {
	var sum float64
	for _, w := range set {
		sum += w.Weight
	}
	if sum == 0 {
		return 1
	}
	return sum
}

func scaleInPlace(data []float32, factor float64) {
	for i := range data {
		data[i] *= float32(factor)
	}
}

func deref(v core.FilterValue) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// trimPadding clips samples produced over [paddedStart, paddedStart+len/rate)
// down to exactly [start, end) at the given sampling rate.
func trimPadding(data []float32, paddedStart, rate, start, end float64) []float32 {
	if rate <= 0 {
		return data
	}
	from := int(math.Round((start - paddedStart) * rate))
	n := signal.ExpectedLength(start, end, rate)
	if from < 0 {
		from = 0
	}
	to := from + n
	if to > len(data) {
		to = len(data)
	}
	if from > to {
		from = to
	}
	out := make([]float32, n)
	copy(out, data[from:to])
	return out
}

// downsample applies an anti-alias low-pass at half the target rate, then
// decimates by an integer factor. The limit is a ceiling,
// not an exact target: the achieved rate is originalRate / factor for the
// smallest integer factor that brings the rate at or below limit.
func downsample(data []float32, rate, limit float64) ([]float32, float64) {
	factor := int(math.Ceil(rate / limit))
	if factor <= 1 {
		return data, rate
	}
	filtered := filter.Apply(data, rate, 0, rate/float64(factor)/2, 0, nil)

	out := make([]float32, 0, len(filtered)/factor+1)
	for i := 0; i < len(filtered); i += factor {
		out = append(out, filtered[i])
	}
	return out, rate / float64(factor)
}
