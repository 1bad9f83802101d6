package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// GzipCodec implements the deflate wire method. Writing always produces a
// gzip-framed stream; reading accepts gzip or zlib framing, matching the
// historical tolerance of readers built on inflateInit2(15+32).
//
// HuffmanOnly selects the entropy-coding-only encoder configuration, the
// cheap candidate in the adaptive strategy trial.
type GzipCodec struct {
	level       int
	huffmanOnly bool
	writers     sync.Pool
}

var _ Codec = (*GzipCodec)(nil)

// NewGzipCodec creates a deflate codec at the given level. Levels outside
// the valid range fall back to the default level.
func NewGzipCodec(level int, huffmanOnly bool) *GzipCodec {
	if huffmanOnly {
		level = gzip.HuffmanOnly
	} else if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &GzipCodec{level: level, huffmanOnly: huffmanOnly}
}

// Compress deflates data into a newly allocated gzip stream.
func (c *GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)

	zw, _ := c.writers.Get().(*gzip.Writer)
	if zw == nil {
		var err error
		zw, err = gzip.NewWriterLevel(&buf, c.level)
		if err != nil {
			return nil, fmt.Errorf("creating gzip writer: %w", err)
		}
	} else {
		zw.Reset(&buf)
	}

	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip compression failed: %w", err)
	}
	c.writers.Put(zw)

	return buf.Bytes(), nil
}

// Decompress inflates a gzip- or zlib-framed deflate stream, growing the
// output as needed until the stream signals completion.
func (c *GzipCodec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var zr io.ReadCloser
	var err error
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err = gzip.NewReader(bytes.NewReader(data))
	} else {
		zr, err = zlib.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	buf.Grow(len(data) * 4)
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("gzip decompression failed: %w", err)
	}

	return buf.Bytes(), nil
}
