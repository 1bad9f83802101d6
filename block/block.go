// Package block implements the atomic unit of the CRAM container format:
// a length-delimited, typed, optionally compressed chunk of bytes.
//
// On the wire a block is a method byte, a content-type byte, then the
// content id, compressed size and uncompressed size as ITF8 varints,
// followed by the payload (compressed size bytes unless the method is raw).
package block

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/strandbio/cram/compress"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/internal/pool"
	"github.com/strandbio/cram/varint"
)

// Reader is the stream a block is read from. A bufio.Reader satisfies it.
type Reader interface {
	io.Reader
	io.ByteReader
}

// Block is one typed payload within a container.
//
// Method and Data always change together: after Compress or Decompress the
// method, payload and sizes are consistent as a unit, never a mismatched
// triple. If Method is Raw then CompSize == UncompSize.
type Block struct {
	Method      format.Method
	OrigMethod  format.Method // method when first read, kept for diagnostics
	ContentType format.ContentType
	ContentID   int32
	CompSize    int32
	UncompSize  int32
	Data        []byte

	// Cursor state for bit-level consumers of Core blocks.
	Byte int
	Bit  uint8
}

// New creates an empty raw block with the given content type and id.
func New(contentType format.ContentType, contentID int32) *Block {
	return &Block{
		Method:      format.Raw,
		OrigMethod:  format.Raw,
		ContentType: contentType,
		ContentID:   contentID,
		Bit:         7, // MSB first
	}
}

// Read reads one block from r.
//
// Any short read, in the header fields or the payload, fails with
// errs.ErrTruncated; the block is never returned partially populated.
func Read(r Reader) (*Block, error) {
	b := &Block{Bit: 7}

	m, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading block method: %w", truncated(err))
	}
	b.Method = format.Method(m)
	if !b.Method.Valid() {
		return nil, fmt.Errorf("block method %d: %w", m, errs.ErrInvalidMethod)
	}

	ct, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading block content type: %w", truncated(err))
	}
	b.ContentType = format.ContentType(ct)

	if b.ContentID, _, err = varint.ReadITF8(r); err != nil {
		return nil, fmt.Errorf("reading block content id: %w", err)
	}
	if b.CompSize, _, err = varint.ReadITF8(r); err != nil {
		return nil, fmt.Errorf("reading block compressed size: %w", err)
	}
	if b.UncompSize, _, err = varint.ReadITF8(r); err != nil {
		return nil, fmt.Errorf("reading block uncompressed size: %w", err)
	}

	size := b.CompSize
	if b.Method == format.Raw {
		size = b.UncompSize
	}
	if size < 0 {
		return nil, fmt.Errorf("block size %d: %w", size, errs.ErrTruncated)
	}
	b.Data = make([]byte, size)
	if _, err := io.ReadFull(r, b.Data); err != nil {
		return nil, fmt.Errorf("reading block payload: %w", truncated(err))
	}

	b.OrigMethod = b.Method
	return b, nil
}

// WriteTo writes the block to w in wire format. Header and payload are
// assembled in a pooled buffer and written as one chunk.
func (b *Block) WriteTo(w io.Writer) error {
	if b.Method == format.Raw && b.CompSize != b.UncompSize {
		return fmt.Errorf("raw block with comp size %d != uncomp size %d: %w",
			b.CompSize, b.UncompSize, errs.ErrSizeMismatch)
	}

	size := b.CompSize
	if b.Method == format.Raw {
		size = b.UncompSize
	}

	bb := pool.GetBlockBuffer()
	defer pool.PutBlockBuffer(bb)
	bb.B = append(bb.B, byte(b.Method), byte(b.ContentType))
	bb.B = varint.AppendITF8(bb.B, b.ContentID)
	bb.B = varint.AppendITF8(bb.B, b.CompSize)
	bb.B = varint.AppendITF8(bb.B, b.UncompSize)
	bb.B = append(bb.B, b.Data[:size]...)
	if _, err := bb.WriteTo(w); err != nil {
		return fmt.Errorf("writing block: %w", err)
	}
	return nil
}

// WireSize returns the encoded size of the block in bytes.
func (b *Block) WireSize() int32 {
	n := int32(2)
	n += int32(len(varint.AppendITF8(nil, b.ContentID)))
	n += int32(len(varint.AppendITF8(nil, b.CompSize)))
	n += int32(len(varint.AppendITF8(nil, b.UncompSize)))
	if b.Method == format.Raw {
		return n + b.UncompSize
	}
	return n + b.CompSize
}

// Decompress converts the block to the raw method in place.
//
// The payload and method swap together; on error the block is unchanged.
// A decompressed deflate payload whose size differs from the recorded
// uncompressed size fails with errs.ErrSizeMismatch rather than silently
// truncating. A bzip2 payload takes the size the stream actually decoded,
// updating UncompSize if the recorded value differed.
func (b *Block) Decompress() error {
	if b.UncompSize == 0 {
		// Blank block.
		b.Method = format.Raw
		b.CompSize = 0
		return nil
	}

	switch b.Method {
	case format.Raw:
		b.UncompSize = b.CompSize
		return nil

	case format.Gzip:
		codec := compress.NewGzipCodec(0, false)
		data, err := codec.Decompress(b.Data)
		if err != nil {
			return err
		}
		if int32(len(data)) != b.UncompSize {
			return fmt.Errorf("gzip block decoded %d bytes, recorded %d: %w",
				len(data), b.UncompSize, errs.ErrSizeMismatch)
		}
		b.Data = data
		b.Method = format.Raw
		b.CompSize = b.UncompSize
		return nil

	case format.Bzip2:
		codec := compress.NewBzip2Codec(0)
		data, err := codec.Decompress(b.Data)
		if err != nil {
			return err
		}
		b.Data = data
		b.Method = format.Raw
		b.UncompSize = int32(len(data))
		b.CompSize = b.UncompSize
		return nil

	default:
		return fmt.Errorf("block method %d: %w", b.Method, errs.ErrInvalidMethod)
	}
}

// Compress compresses a raw block in place at the given level.
//
// Level 0 forces the raw method with copy semantics. A block that is
// already compressed is left alone: compressing twice is a caller mistake,
// not a failure. When useBzip2 is set the payload goes through bzip2;
// otherwise deflate runs under the adaptive strategy driven by m, trialing
// the configured level against the Huffman-only encoder.
func (b *Block) Compress(level int, m *compress.Metrics, useBzip2 bool) error {
	if level == 0 {
		b.Method = format.Raw
		b.CompSize = b.UncompSize
		return nil
	}
	if b.Method != format.Raw {
		return nil
	}

	if useBzip2 {
		comp, err := compress.NewBzip2Codec(level).Compress(b.Data[:b.UncompSize])
		if err != nil {
			return err
		}
		b.Data = comp
		b.Method = format.Bzip2
		b.CompSize = int32(len(comp))
		return nil
	}

	c1 := compress.NewGzipCodec(level, false)
	c2 := compress.NewGzipCodec(level, true)
	comp, err := m.Compress(b.Data[:b.UncompSize], c1, c2)
	if err != nil {
		return err
	}
	b.Data = comp
	b.Method = format.Gzip
	b.CompSize = int32(len(comp))
	return nil
}

// Append appends data to a raw block's payload and advances the recorded
// sizes, keeping the raw-method invariant intact.
func (b *Block) Append(data []byte) {
	b.Data = append(b.Data, data...)
	b.UncompSize = int32(len(b.Data))
	b.CompSize = b.UncompSize
}

// AppendITF8 appends the ITF8 encoding of v to the payload.
func (b *Block) AppendITF8(v int32) {
	b.Data = varint.AppendITF8(b.Data, v)
	b.UncompSize = int32(len(b.Data))
	b.CompSize = b.UncompSize
}

// AppendInt32 appends v to the payload as a 4-byte little-endian value.
func (b *Block) AppendInt32(v int32) {
	b.Data = binary.LittleEndian.AppendUint32(b.Data, uint32(v))
	b.UncompSize = int32(len(b.Data))
	b.CompSize = b.UncompSize
}

// Int32 reads a 4-byte little-endian value at the byte cursor and advances
// it. Fails with errs.ErrTruncated if fewer than 4 bytes remain.
func (b *Block) Int32() (int32, error) {
	if len(b.Data)-b.Byte < 4 {
		return 0, errs.ErrTruncated
	}
	v := int32(binary.LittleEndian.Uint32(b.Data[b.Byte:]))
	b.Byte += 4
	return v, nil
}

// ITF8 reads an ITF8 value at the byte cursor and advances it.
func (b *Block) ITF8() (int32, error) {
	v, n := varint.ITF8(b.Data[b.Byte:])
	if n == 0 {
		return 0, errs.ErrTruncated
	}
	b.Byte += n
	return v, nil
}

// Remaining returns the payload bytes after the byte cursor.
func (b *Block) Remaining() []byte {
	return b.Data[b.Byte:]
}

func truncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errs.ErrTruncated
	}
	return err
}
