package compress

import (
	"bytes"
	"fmt"

	"github.com/dsnet/compress/bzip2"
)

// Bzip2Codec implements the bzip2 wire method. The standard library only
// decompresses bzip2, so both directions go through dsnet/compress.
type Bzip2Codec struct {
	level int
}

var _ Codec = Bzip2Codec{}

// NewBzip2Codec creates a bzip2 codec at the given level (1-9). Levels
// outside that range fall back to the default.
func NewBzip2Codec(level int) Bzip2Codec {
	if level < bzip2.BestSpeed || level > bzip2.BestCompression {
		level = bzip2.DefaultCompression
	}
	return Bzip2Codec{level: level}
}

// Compress compresses data into a newly allocated bzip2 stream.
func (c Bzip2Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: c.level})
	if err != nil {
		return nil, fmt.Errorf("creating bzip2 writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("bzip2 compression failed: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("bzip2 compression failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses a bzip2 stream.
func (c Bzip2Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	zr, err := bzip2.NewReader(bytes.NewReader(data), nil)
	if err != nil {
		return nil, fmt.Errorf("bzip2 decompression failed: %w", err)
	}
	defer zr.Close()

	var buf bytes.Buffer
	buf.Grow(len(data) * 4)
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("bzip2 decompression failed: %w", err)
	}
	return buf.Bytes(), nil
}
