package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterruptionMapMergeOrderIndependent(t *testing.T) {
	x := Interruption{StartData: 10, Duration: 2}
	y := Interruption{StartData: 20, Duration: 1}

	a := NewInterruptionMap(Interruption{StartData: 0, Duration: 0.5})
	b := NewInterruptionMap(Interruption{StartData: 0, Duration: 0.5})

	a.Insert(x)
	a.Insert(y)

	b.Insert(y)
	b.Insert(x)

	assert.True(t, a.Equal(b))
}

func TestInterruptionMapMergeIdempotent(t *testing.T) {
	m := NewInterruptionMap(Interruption{StartData: 5, Duration: 1})
	before := append([]Interruption{}, m.Entries()...)

	m.Insert(Interruption{StartData: 5, Duration: 1})

	assert.Equal(t, before, m.Entries())
}

func TestInterruptionMapCollapsesOverlap(t *testing.T) {
	m := NewInterruptionMap(
		Interruption{StartData: 0, Duration: 3},
		Interruption{StartData: 2, Duration: 3},
	)
	require.Len(t, m.Entries(), 1)
	assert.Equal(t, Interruption{StartData: 0, Duration: 5}, m.Entries()[0])
}

// S6: T_data=10, interruption {start_data:4, duration:2} => T_total=12.
// Requesting recording-time range [3,8] returns segments [3,4] and [4,6]
// in data time, plus the crossed interruption for the caller to render a
// gap.
func TestInterruptionMapSplitScenarioS6(t *testing.T) {
	m := NewInterruptionMap(Interruption{StartData: 4, Duration: 2})

	segments, crossed := m.SplitByInterruptions(3, 8)

	require.Len(t, segments, 2)
	assert.Equal(t, Segment{Start: 3, End: 4}, segments[0])
	assert.Equal(t, Segment{Start: 4, End: 6}, segments[1])

	require.Len(t, crossed, 1)
	assert.Equal(t, Interruption{StartData: 4, Duration: 2}, crossed[0])
}
