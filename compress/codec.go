// Package compress implements the block compression backends of the CRAM
// format and the adaptive deflate-strategy selection.
//
// Three methods exist on the wire: raw, a deflate stream (gzip framed when
// written, gzip or zlib framed when read) and bzip2. Deflate additionally
// runs a periodic A/B trial between two encoder configurations, since
// quality-score payloads often compress as well under the much cheaper
// Huffman-only mode; see Metrics.
package compress

import (
	"fmt"

	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
)

// Compressor compresses a payload. The returned slice is newly allocated
// and owned by the caller; the input is not modified.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor decompresses a payload previously produced by the matching
// Compressor. The returned slice is newly allocated and owned by the
// caller.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// Codec combines both directions for one compression method.
type Codec interface {
	Compressor
	Decompressor
}

// CreateCodec returns a Codec for the given wire method at the given
// compression level. Level is ignored for Raw.
func CreateCodec(method format.Method, level int) (Codec, error) {
	switch method {
	case format.Raw:
		return NewRawCodec(), nil
	case format.Gzip:
		return NewGzipCodec(level, false), nil
	case format.Bzip2:
		return NewBzip2Codec(level), nil
	default:
		return nil, fmt.Errorf("compression method %d: %w", method, errs.ErrInvalidMethod)
	}
}
