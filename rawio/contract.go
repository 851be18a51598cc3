// Package rawio implements the raw signal reader: the component
// that turns source bytes into decoded signal arrays, advances a coupled
// cache's validity window, and publishes annotations and interruption
// deltas, plus the file-format decoder/encoder contracts it depends on
//
package rawio

import (
	core "epicurrents.dev/core"
	"epicurrents.dev/core/signal"
)

// Header is the decoded metadata of a source recording: channel layout,
// the physical duration one data unit covers, and how many samples per
// channel a data unit holds.
type Header struct {
	Channels            []core.SourceChannel
	DataDurationSeconds float64
	UnitSeconds         float64 // duration of one data unit
	SamplesPerUnit      []int64 // per channel, samples in one data unit
	CompressionCodec    Codec
}

// DecodeRange selects which data units a DecodeData call should produce.
type DecodeRange struct {
	StartUnit int64
	UnitCount int64
}

// DecodeOptions mirrors the external decoder contract's optional
// parameters: a byte offset into the source, a starting record index,
// a requested unit range, the previous call's end offset (for
// self-describing variable-length formats), and whether to skip physical
// unit conversion.
type DecodeOptions struct {
	DataOffset  int64
	StartRecord int64
	Range       DecodeRange
	PriorOffset int64
	ReturnRaw   bool
}

// DecodedChunk is one decode_data call's result.
type DecodedChunk struct {
	Signals       []signal.Signal
	Events        []core.Annotation
	Interruptions []core.Interruption
	// NextOffset is the byte offset immediately after the bytes this chunk
	// consumed, echoed back as the next call's PriorOffset.
	NextOffset int64
}

// Decoder is the file-format decoder contract, implemented by
// external format-specific modules (EDF, WAV, DICOM, ...); the core only
// consumes this interface.
type Decoder interface {
	DecodeHeader(buf []byte) (*Header, error)
	DecodeData(h *Header, buf []byte, opts DecodeOptions) (*DecodedChunk, error)
}

// Encoder is the file-format encoder contract, used for export.
// encoder/parquet is the core's one concrete, tested implementation; any
// conforming implementation may be substituted.
type Encoder interface {
	CreateHeader(partial Header) Header
	SetAnnotations(list []core.Annotation)
	SetInterruptions(m *core.InterruptionMap)
	SetSignalsToInclude(indices []int)
	Encode(anonymize bool) ([]byte, error)
}
