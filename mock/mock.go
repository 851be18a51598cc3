// Package mock provides a test double for the raw-reader decoder contract,
// for callers that need a deterministic signal source without a real
// recording file.
//
// Grounded on hztools-go-sdr's mock package: a Config struct of injectable
// functions (there: StartRx/StartTx closures returning canned I/O; here: a
// closure generating one data unit's samples) wrapping a small stateful
// struct, rather than a generated/recorded fixture.
package mock

import (
	"math"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/rawio"
	"epicurrents.dev/core/signal"
)

// Config configures a Decoder's canned responses.
type Config struct {
	Channels            []core.SourceChannel
	DataDurationSeconds float64
	UnitSeconds         float64

	// Waveform generates one channel's samples for a data unit starting at
	// unitStart seconds, given the channel's sampling rate. If nil, Decoder
	// generates a unit sine wave at 10 Hz.
	Waveform func(channel int, unitStart float64, samplingRate float64, n int) []float32

	// FailHeader, if set, is returned as DecodeHeader's error instead of a
	// decoded header.
	FailHeader error
}

// Decoder is a rawio.Decoder test double driven entirely by Config.
type Decoder struct {
	cfg Config
}

// New builds a Decoder from cfg.
func New(cfg Config) *Decoder {
	return &Decoder{cfg: cfg}
}

var _ rawio.Decoder = (*Decoder)(nil)

func (d *Decoder) DecodeHeader(_ []byte) (*rawio.Header, error) {
	if d.cfg.FailHeader != nil {
		return nil, d.cfg.FailHeader
	}
	samplesPerUnit := make([]int64, len(d.cfg.Channels))
	for i, ch := range d.cfg.Channels {
		samplesPerUnit[i] = int64(ch.SamplingRate * d.cfg.UnitSeconds)
	}
	return &rawio.Header{
		Channels:            d.cfg.Channels,
		DataDurationSeconds: d.cfg.DataDurationSeconds,
		UnitSeconds:         d.cfg.UnitSeconds,
		SamplesPerUnit:      samplesPerUnit,
		CompressionCodec:    rawio.CodecNone,
	}, nil
}

func (d *Decoder) DecodeData(h *rawio.Header, buf []byte, opts rawio.DecodeOptions) (*rawio.DecodedChunk, error) {
	unitStart := float64(opts.StartRecord) * h.UnitSeconds
	signals := make([]signal.Signal, len(h.Channels))
	for i, ch := range h.Channels {
		n := int(ch.SamplingRate * h.UnitSeconds)
		signals[i] = signal.Signal{Data: d.waveform(i, unitStart, ch.SamplingRate, n), SamplingRate: ch.SamplingRate}
	}
	return &rawio.DecodedChunk{Signals: signals}, nil
}

func (d *Decoder) waveform(channel int, unitStart, rate float64, n int) []float32 {
	if d.cfg.Waveform != nil {
		return d.cfg.Waveform(channel, unitStart, rate, n)
	}
	out := make([]float32, n)
	for i := range out {
		t := unitStart + float64(i)/rate
		out[i] = float32(math.Sin(2 * math.Pi * 10 * t))
	}
	return out
}

// ConstantWaveform builds a Waveform func that always returns value.
func ConstantWaveform(value float32) func(int, float64, float64, int) []float32 {
	return func(_ int, _ float64, _ float64, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = value
		}
		return out
	}
}
