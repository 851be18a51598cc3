package core

import "sort"

// Interruption is a span of recording time during which no signal was
// acquired, keyed on data time (i.e. excluding every interruption that
// precedes it).
type Interruption struct {
	StartData float64 // seconds, data time
	Duration  float64 // seconds
}

// End returns the data-time instant this interruption ends at.
func (i Interruption) End() float64 { return i.StartData + i.Duration }

// InterruptionMap is an ordered, non-overlapping sequence of Interruptions,
// sorted ascending by StartData. The zero value is an empty map.
type InterruptionMap struct {
	entries []Interruption
}

// NewInterruptionMap builds a map from an unordered, possibly overlapping
// slice of interruptions, merging as Insert would.
func NewInterruptionMap(entries ...Interruption) *InterruptionMap {
	m := &InterruptionMap{}
	for _, e := range entries {
		m.Insert(e)
	}
	return m
}

// Entries returns the merged, sorted interruptions. The returned slice must
// not be mutated by the caller.
func (m *InterruptionMap) Entries() []Interruption {
	if m == nil {
		return nil
	}
	return m.entries
}

// TotalDuration returns the sum of every interruption's duration.
func (m *InterruptionMap) TotalDuration() float64 {
	var total float64
	for _, e := range m.Entries() {
		total += e.Duration
	}
	return total
}

// Insert merges a new interruption into the map. Consecutive or
// overlapping entries collapse into one, satisfying invariant 3: merge is
// idempotent and order-independent — merge(merge(M, X), Y) == merge(merge(M, Y), X).
func (m *InterruptionMap) Insert(next Interruption) {
	if next.Duration <= 0 {
		return
	}

	merged := append(append([]Interruption{}, m.entries...), next)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].StartData < merged[j].StartData
	})

	out := merged[:0]
	for _, e := range merged {
		if len(out) > 0 && e.StartData <= out[len(out)-1].End() {
			last := &out[len(out)-1]
			if end := e.End(); end > last.End() {
				last.Duration = end - last.StartData
			}
			continue
		}
		out = append(out, e)
	}
	m.entries = out
}

// Merge folds another map's entries into this one in place, returning the
// receiver for chaining.
func (m *InterruptionMap) Merge(other *InterruptionMap) *InterruptionMap {
	for _, e := range other.Entries() {
		m.Insert(e)
	}
	return m
}

// Equal reports whether two maps hold the same merged entries, used by
// tests to assert order-independence of Merge.
func (m *InterruptionMap) Equal(other *InterruptionMap) bool {
	a, b := m.Entries(), other.Entries()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// DataToRecordingTime converts a data-time instant to recording time by
// adding the duration of every interruption that starts before it in data
// time.
func (m *InterruptionMap) DataToRecordingTime(dataTime float64) float64 {
	t := dataTime
	for _, e := range m.Entries() {
		if e.StartData < dataTime {
			t += e.Duration
		}
	}
	return t
}

// Segment is a continuous data-time span, free of interruptions.
type Segment struct {
	Start, End float64
}

// SplitByInterruptions takes a recording-time range and returns the
// continuous data-time segments it covers, in order, along with the stored
// interruptions (data-time keyed, as held in the map) whose recording-time
// span overlaps the range.
// Used by the montage processor to compute each continuous run
// independently and concatenate results.
func (m *InterruptionMap) SplitByInterruptions(recStart, recEnd float64) ([]Segment, []Interruption) {
	var (
		segments []Segment
		crossed  []Interruption
		cursor   = recStart // recording time converted progressively to data time
		dataTime = recStart
	)

	for _, e := range m.Entries() {
		recInterruptionStart := m.DataToRecordingTime(e.StartData)
		recInterruptionEnd := recInterruptionStart + e.Duration

		if recInterruptionEnd <= cursor {
			// wholly before the range: its duration still separates the
			// range's recording time from its data time.
			dataTime -= e.Duration
			continue
		}
		if recInterruptionStart >= recEnd {
			continue
		}

		segStart := dataTime
		segEnd := dataTime + (recInterruptionStart - cursor)
		if segEnd > segStart {
			segments = append(segments, Segment{Start: segStart, End: segEnd})
		}

		crossed = append(crossed, e)
		dataTime = segEnd
		cursor = recInterruptionEnd
	}

	if cursor < recEnd {
		segments = append(segments, Segment{Start: dataTime, End: dataTime + (recEnd - cursor)})
	}

	return segments, crossed
}
