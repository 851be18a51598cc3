// Codec support for the raw reader's chunked source-read path: a decoder
// header may declare that a data unit is compressed, in which case bytes
// are transparently decompressed before being handed to Decoder.DecodeData.
//
// Grounded on OcupointInc-QC_Software's dependency on klauspost/compress
// for its replay-file handling; brotli and lz4 are added as the other two
// concrete compressors the retrieval pack carries, so every codec named in
// the header contract has a real decoder behind it.
package rawio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Codec names the compression applied to a source data unit, declared by
// the decoder header.
type Codec string

const (
	CodecNone   Codec = "none"
	CodecGzip   Codec = "gzip-equivalent"
	CodecBrotli Codec = "brotli"
	CodecLZ4    Codec = "lz4"
)

// Decompress returns buf's plaintext bytes according to codec.
func Decompress(codec Codec, buf []byte) ([]byte, error) {
	switch codec {
	case "", CodecNone:
		return buf, nil
	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, fmt.Errorf("rawio: gzip-equivalent header: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CodecBrotli:
		return io.ReadAll(brotli.NewReader(bytes.NewReader(buf)))
	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(buf)))
	default:
		return nil, fmt.Errorf("rawio: unknown compression codec %q", codec)
	}
}
