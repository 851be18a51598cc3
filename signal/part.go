// Package signal holds the wire-level cached-range type shared by the raw
// reader and montage processor: SignalCachePart, and the combine operation
// used both to merge freshly decoded chunks and to splice cross-worker
// commission payloads back together.
package signal

import "math"

// Signal is one channel's sample window inside a SignalCachePart.
type Signal struct {
	Data         []float32
	SamplingRate float64

	// OriginalSamplingRate is set only when this signal was downsampled by
	// the montage processor; zero otherwise.
	OriginalSamplingRate float64

	SampleStart int64
	SampleEnd   int64
}

// ExpectedLength is round((end-start) * samplingRate), the invariant every
// Signal.Data must satisfy for its enclosing Part.
func ExpectedLength(start, end, samplingRate float64) int {
	return int(math.Round((end - start) * samplingRate))
}

// Part is a contiguous cached range: a time window shared by every signal
// it carries.
type Part struct {
	Start, End float64
	Signals    []Signal

	// Interruptions crossed by this part, in recording time, for a caller
	// to render a gap (populated only by reads spanning an interruption).
	Interruptions []Interruption
}

// Interruption mirrors core.Interruption without importing the root
// package, avoiding an import cycle between signal and core.
type Interruption struct {
	Start    float64
	Duration float64
}

// Valid reports whether every signal's data length matches its declared
// window, per invariant 1.
func (p Part) Valid() bool {
	for _, s := range p.Signals {
		if len(s.Data) != ExpectedLength(p.Start, p.End, s.SamplingRate) {
			return false
		}
	}
	return true
}

// Combine merges two parts of the same signal set and sampling rates that
// are either consecutive or overlapping, per invariant 2: the result spans
// [min(A.Start,B.Start), max(A.End,B.End)] and later writes win in overlap
// regions. Combine returns (a, false) and leaves a unchanged when the
// sampling rates differ (S3) or the parts don't touch.
//
// b is treated as the later write: where a and b overlap, b's samples are
// used.
func Combine(a, b Part) (Part, bool) {
	if len(a.Signals) != len(b.Signals) {
		return a, false
	}
	for i := range a.Signals {
		if a.Signals[i].SamplingRate != b.Signals[i].SamplingRate {
			return a, false
		}
	}
	if b.Start > a.End || a.Start > b.End {
		return a, false // gap between the two parts; nothing to combine
	}

	out := Part{
		Start:   math.Min(a.Start, b.Start),
		End:     math.Max(a.End, b.End),
		Signals: make([]Signal, len(a.Signals)),
	}

	for i := range a.Signals {
		rate := a.Signals[i].SamplingRate
		n := ExpectedLength(out.Start, out.End, rate)
		data := make([]float32, n)

		writeAt := func(src Signal, partStart float64) {
			offset := int(math.Round((partStart - out.Start) * rate))
			copy(data[offset:offset+len(src.Data)], src.Data)
		}

		writeAt(a.Signals[i], a.Start)
		writeAt(b.Signals[i], b.Start) // later write wins

		out.Signals[i] = Signal{Data: data, SamplingRate: rate}
	}

	return out, true
}
