// Package parquet is a concrete rawio.Encoder implementation: it writes a
// signal.Part snapshot (a montage's derived output, or a raw cache's
// current window) as columnar Parquet, one "time_seconds" column plus one
// column per channel.
//
// Grounded on OcupointInc-QC_Software/parquet_writer.go, which writes a
// fixed 16-column IQ sample schema via segmentio/parquet-go's generic
// writer. A montage's channel count is only known at runtime, so this
// package builds the schema dynamically from a parquet.Group and writes
// parquet.Row values through the low-level Writer instead of the generic
// one, looking up each leaf column's index by name rather than assuming a
// fixed field order.
package parquet

import (
	"bytes"
	"fmt"

	"github.com/segmentio/parquet-go"

	core "epicurrents.dev/core"
	"epicurrents.dev/core/rawio"
	"epicurrents.dev/core/signal"
)

const timeColumn = "time_seconds"

// Encoder implements rawio.Encoder, accumulating header metadata and a
// signal.Part to encode on Encode.
type Encoder struct {
	header        rawio.Header
	annotations   []core.Annotation
	interruptions *core.InterruptionMap
	include       []int

	part signal.Part
}

// New builds an Encoder for part, a caller-supplied snapshot to export.
func New(part signal.Part) *Encoder {
	return &Encoder{part: part}
}

// CreateHeader replaces the encoder's working header with partial and
// returns it.
func (e *Encoder) CreateHeader(partial rawio.Header) rawio.Header {
	e.header = partial
	return e.header
}

// SetAnnotations records the annotation list; Encode writes only its
// length, as the "annotation_count" key-value metadata entry.
func (e *Encoder) SetAnnotations(list []core.Annotation) { e.annotations = list }

// SetInterruptions records the interruption map; Encode does not write it
// to the file.
func (e *Encoder) SetInterruptions(m *core.InterruptionMap) { e.interruptions = m }

// SetSignalsToInclude restricts Encode to the given channel indices; nil or
// empty means every channel in the snapshot part.
func (e *Encoder) SetSignalsToInclude(indices []int) { e.include = indices }

// Encode writes the selected channels as Parquet, returning the encoded
// bytes. anonymize clears the Author field on a copy of the annotations;
// only the annotation count reaches the file either way.
func (e *Encoder) Encode(anonymize bool) ([]byte, error) {
	indices := e.include
	if len(indices) == 0 {
		indices = make([]int, len(e.part.Signals))
		for i := range indices {
			indices[i] = i
		}
	}

	group := parquet.Group{timeColumn: parquet.Leaf(parquet.DoubleType)}
	names := make([]string, len(indices))
	for i, idx := range indices {
		name := fmt.Sprintf("channel_%03d", idx)
		names[i] = name
		group[name] = parquet.Leaf(parquet.DoubleType)
	}
	schema := parquet.NewSchema("signal_part", group)

	timeCol, ok := schema.Lookup(timeColumn)
	if !ok {
		return nil, fmt.Errorf("parquet: schema missing %s column", timeColumn)
	}
	cols := make([]parquet.LeafColumn, len(names))
	for i, name := range names {
		lc, ok := schema.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("parquet: schema missing %s column", name)
		}
		cols[i] = lc
	}

	rowCount := 0
	for _, idx := range indices {
		if idx < 0 || idx >= len(e.part.Signals) {
			return nil, fmt.Errorf("parquet: channel index %d out of range", idx)
		}
		if n := len(e.part.Signals[idx].Data); n > rowCount {
			rowCount = n
		}
	}

	rows := make([]parquet.Row, rowCount)
	for r := 0; r < rowCount; r++ {
		row := make(parquet.Row, 1+len(indices))
		t := e.part.Start + float64(r)/signalRate(e.part, indices)
		row[timeCol.ColumnIndex] = parquet.ValueOf(t).Level(0, 0, timeCol.ColumnIndex)
		for i, idx := range indices {
			sig := e.part.Signals[idx]
			var v float64
			if r < len(sig.Data) {
				v = float64(sig.Data[r])
			}
			row[cols[i].ColumnIndex] = parquet.ValueOf(v).Level(0, 0, cols[i].ColumnIndex)
		}
		rows[r] = row
	}

	metaAnnotations := e.annotations
	if anonymize {
		metaAnnotations = make([]core.Annotation, len(e.annotations))
		for i, a := range e.annotations {
			a.Author = ""
			metaAnnotations[i] = a
		}
	}

	var buf bytes.Buffer
	w := parquet.NewWriter(&buf, schema, parquet.KeyValueMetadata("annotation_count", fmt.Sprint(len(metaAnnotations))))
	if _, err := w.WriteRows(rows); err != nil {
		return nil, fmt.Errorf("parquet: write rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("parquet: close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// signalRate returns the first included channel's sampling rate, the
// common rate every signal in a Part shares by invariant.
func signalRate(part signal.Part, indices []int) float64 {
	for _, idx := range indices {
		if idx >= 0 && idx < len(part.Signals) && part.Signals[idx].SamplingRate > 0 {
			return part.Signals[idx].SamplingRate
		}
	}
	return 1
}
