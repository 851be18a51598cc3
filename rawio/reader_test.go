package rawio

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/buffer"
	"epicurrents.dev/core/signal"
)

// fakeDecoder decodes one data unit per chunk of the input file for a
// single channel and ignores the chunk's bytes. Every sample is set to
// opts.StartRecord rather than derived from input content, so a test can
// assert the reader threads each chunk's unit index through to the decoder.
type fakeDecoder struct {
	samplingRate float64
	unitSeconds  float64
	failUnits    map[int64]bool
	seenUnits    []int64
}

func (d *fakeDecoder) DecodeHeader(buf []byte) (*Header, error) {
	return &Header{
		Channels:            []core.SourceChannel{{SamplingRate: d.samplingRate}},
		DataDurationSeconds: 10,
		UnitSeconds:         d.unitSeconds,
		SamplesPerUnit:      []int64{int64(d.samplingRate * d.unitSeconds)},
	}, nil
}

func (d *fakeDecoder) DecodeData(h *Header, buf []byte, opts DecodeOptions) (*DecodedChunk, error) {
	d.seenUnits = append(d.seenUnits, opts.StartRecord)
	if d.failUnits[opts.StartRecord] {
		return nil, fmt.Errorf("fakeDecoder: forced failure on unit %d", opts.StartRecord)
	}
	n := int(d.samplingRate * d.unitSeconds)
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(opts.StartRecord)
	}
	return &DecodedChunk{Signals: []signal.Signal{{Data: data, SamplingRate: d.samplingRate}}}, nil
}

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "rawio-*.bin")
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(make([]byte, size))
	require.NoError(t, err)
	return f.Name()
}

func TestSetupWorkerAndCache(t *testing.T) {
	dec := &fakeDecoder{samplingRate: 100, unitSeconds: 1}
	r := New(Config{ChunkBytes: 400, Direction: DirectionForward}, dec, zerolog.Nop(), nil)

	dur, err := r.SetupWorker(nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, dur)

	cache, err := r.SetupCache(10)
	require.NoError(t, err)
	assert.NotNil(t, cache)
	assert.Equal(t, core.StateLoaded, r.State())
}

func TestCacheFileInsertsSignalsForwardOrder(t *testing.T) {
	dec := &fakeDecoder{samplingRate: 100, unitSeconds: 1}
	r := New(Config{ChunkBytes: 400, Direction: DirectionForward}, dec, zerolog.Nop(), nil)

	_, err := r.SetupWorker(nil)
	require.NoError(t, err)
	_, err = r.SetupCache(10)
	require.NoError(t, err)

	path := writeTempFile(t, 4000) // 10 units of 400 bytes
	require.NoError(t, r.CacheFile(context.Background(), path, 0))

	part, err := r.GetSignals(buffer.ReadRange{Start: 0, End: 10})
	require.NoError(t, err)
	require.Len(t, part.Signals, 1)
	assert.Equal(t, 1000, len(part.Signals[0].Data))
	assert.Equal(t, core.StateReady, r.State())
}

func TestPlanUnitsDirectionPolicies(t *testing.T) {
	r := New(Config{Direction: DirectionForward}, nil, zerolog.Nop(), nil)
	assert.Equal(t, []int64{2, 3, 4, 0, 1}, r.planUnits(5, 2))

	r.cfg.Direction = DirectionBackward
	assert.Equal(t, []int64{4, 3, 2, 1, 0}, r.planUnits(5, 2))

	r.cfg.Direction = DirectionAlternate
	assert.Equal(t, []int64{2, 1, 3, 0, 4}, r.planUnits(5, 2))
}

func TestCodecRoundTripNone(t *testing.T) {
	out, err := Decompress(CodecNone, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

// TestCacheFileThreadsUnitIndexToDecoder asserts decodeChunk passes the
// current unit as DecodeOptions.StartRecord, not a zero-valued struct, so a
// position-dependent decoder (like mock.Decoder's sine generator) decodes
// each unit correctly instead of every unit as unit 0.
func TestCacheFileThreadsUnitIndexToDecoder(t *testing.T) {
	dec := &fakeDecoder{samplingRate: 100, unitSeconds: 1}
	r := New(Config{ChunkBytes: 400, Direction: DirectionForward}, dec, zerolog.Nop(), nil)

	_, err := r.SetupWorker(nil)
	require.NoError(t, err)
	_, err = r.SetupCache(10)
	require.NoError(t, err)

	path := writeTempFile(t, 4000) // 10 units of 400 bytes
	require.NoError(t, r.CacheFile(context.Background(), path, 0))

	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, dec.seenUnits)

	part, err := r.GetSignals(buffer.ReadRange{Start: 3, End: 4})
	require.NoError(t, err)
	require.Len(t, part.Signals, 1)
	for _, v := range part.Signals[0].Data {
		assert.Equal(t, float32(3), v)
	}
}

// TestCacheFileRecordsInterruptionOnDecodeFailure asserts a decode error on
// one chunk both skips it and records an interruption covering its
// data-time span, in addition to the warning annotation.
func TestCacheFileRecordsInterruptionOnDecodeFailure(t *testing.T) {
	dec := &fakeDecoder{samplingRate: 100, unitSeconds: 1, failUnits: map[int64]bool{3: true}}
	r := New(Config{ChunkBytes: 400, Direction: DirectionForward}, dec, zerolog.Nop(), nil)

	var warnings []core.Annotation
	r.OnWarning(func(a core.Annotation) { warnings = append(warnings, a) })

	_, err := r.SetupWorker(nil)
	require.NoError(t, err)
	_, err = r.SetupCache(10)
	require.NoError(t, err)

	path := writeTempFile(t, 4000)
	require.NoError(t, r.CacheFile(context.Background(), path, 0))

	require.Len(t, warnings, 1)
	assert.Equal(t, 3.0, warnings[0].Start)

	entries := r.Interruptions().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, 3.0, entries[0].StartData)
	assert.Equal(t, 1.0, entries[0].Duration)
}
