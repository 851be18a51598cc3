package parquet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/signal"
)

func samplePart() signal.Part {
	return signal.Part{
		Start: 0,
		End:   1,
		Signals: []signal.Signal{
			{Data: []float32{1, 2, 3, 4}, SamplingRate: 4},
			{Data: []float32{10, 20, 30, 40}, SamplingRate: 4},
		},
	}
}

func TestEncodeProducesNonEmptyParquetBytes(t *testing.T) {
	e := New(samplePart())
	out, err := e.Encode(false)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	// Parquet files begin and end with the 4-byte magic "PAR1".
	assert.Equal(t, "PAR1", string(out[:4]))
	assert.Equal(t, "PAR1", string(out[len(out)-4:]))
}

func TestEncodeRestrictsToSelectedChannels(t *testing.T) {
	e := New(samplePart())
	e.SetSignalsToInclude([]int{1})
	out, err := e.Encode(false)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	// Column names are stored verbatim in the file's schema footer.
	assert.Contains(t, string(out), "channel_001")
	assert.NotContains(t, string(out), "channel_000")
}

func TestEncodeRejectsOutOfRangeChannel(t *testing.T) {
	e := New(samplePart())
	e.SetSignalsToInclude([]int{5})
	_, err := e.Encode(false)
	assert.Error(t, err)
}

func TestEncodeAnonymizeWithAnnotationsSucceeds(t *testing.T) {
	e := New(samplePart())
	e.SetAnnotations([]core.Annotation{{Author: "dr-smith", Label: "spike"}})
	out, err := e.Encode(true)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
