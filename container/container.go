// Package container implements the structural layers of the CRAM format
// that sit between blocks and the file: slices, which group the blocks of
// one record batch, and containers, which group a run of slices behind a
// header carrying reference span, record counts and landmark byte offsets
// for random access.
package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/internal/pool"
	"github.com/strandbio/cram/varint"
)

// Container aggregates a compression-header block and a run of slices.
//
// Landmarks index the byte offset of each slice's header block relative to
// the start of the container body (the first byte of the compression
// header block), so a reader can seek to slice i without decoding the
// slices before it.
type Container struct {
	Length        int32 // byte size of the container body
	RefSeqID      int32
	RefSeqStart   int32
	RefSeqSpan    int32
	NumRecords    int32
	RecordCounter int32
	NumBases      int64
	NumBlocks     int32
	Landmarks     []int32

	// MultiSeq marks a container whose records reference multiple
	// sequences; on the wire it forces the (-2, 0, 0) sentinel triple.
	MultiSeq bool

	// HeaderSize is the encoded size of the container header as read,
	// for callers computing absolute slice offsets.
	HeaderSize int32

	Slices   []*Slice
	MaxRec   int
	MaxSlice int

	CompHdr      *CompressionHeader
	CompHdrBlock *block.Block

	stats map[string]*Stats
}

// New creates a container for writing, bounded by a maximum record count
// and slice count, with one statistics accumulator per tracked field.
func New(maxRec, maxSlice int) *Container {
	c := &Container{
		RefSeqID: format.RefMultiSeq,
		MaxRec:   maxRec,
		MaxSlice: maxSlice,
		Slices:   make([]*Slice, 0, maxSlice),
		CompHdr:  NewCompressionHeader(),
		stats:    make(map[string]*Stats, len(statFields)),
	}
	for _, name := range statFields {
		c.stats[name] = NewStats()
	}
	return c
}

// Stats returns the accumulator for the named record field, or nil if the
// field is not tracked.
func (c *Container) Stats(name string) *Stats {
	return c.stats[name]
}

// Read decodes a container header from r.
//
// A failure on the very first field reports io.EOF: the previous container
// was the last one. A short read anywhere later is a hard format error
// and the container is not partially populated.
func Read(r block.Reader, version format.Version) (*Container, error) {
	c := &Container{}
	rd := int32(0)

	if version.Legacy() {
		v, n, err := varint.ReadITF8(r)
		if err != nil {
			return nil, io.EOF
		}
		c.Length = v
		rd += int32(n)
	} else {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, io.EOF
		}
		c.Length = int32(binary.LittleEndian.Uint32(lenBuf[:]))
		rd += 4
	}

	read32 := func(dst *int32, field string) error {
		v, n, err := varint.ReadITF8(r)
		if err != nil {
			return fmt.Errorf("reading container %s: %w", field, err)
		}
		*dst = v
		rd += int32(n)
		return nil
	}

	if err := read32(&c.RefSeqID, "ref seq id"); err != nil {
		return nil, err
	}
	if err := read32(&c.RefSeqStart, "ref seq start"); err != nil {
		return nil, err
	}
	if err := read32(&c.RefSeqSpan, "ref seq span"); err != nil {
		return nil, err
	}
	if err := read32(&c.NumRecords, "record count"); err != nil {
		return nil, err
	}
	if !version.Legacy() {
		if err := read32(&c.RecordCounter, "record counter"); err != nil {
			return nil, err
		}
		v, n, err := varint.ReadLTF8(r)
		if err != nil {
			return nil, fmt.Errorf("reading container base count: %w", err)
		}
		c.NumBases = v
		rd += int32(n)
	}
	if err := read32(&c.NumBlocks, "block count"); err != nil {
		return nil, err
	}

	var numLandmarks int32
	if err := read32(&numLandmarks, "landmark count"); err != nil {
		return nil, err
	}
	if numLandmarks < 0 {
		return nil, fmt.Errorf("container landmark count %d: %w",
			numLandmarks, errs.ErrTruncated)
	}
	c.Landmarks = make([]int32, numLandmarks)
	for i := range c.Landmarks {
		if err := read32(&c.Landmarks[i], "landmark"); err != nil {
			return nil, err
		}
	}

	c.HeaderSize = rd
	c.MaxSlice = int(numLandmarks)
	if c.RefSeqID == format.RefMultiSeq {
		c.MultiSeq = true
	}
	return c, nil
}

// Write encodes the container header to w for the given version.
//
// The legacy wire version varint-encodes the body length; later versions
// fix it to 4 little-endian bytes. A multi-sequence container writes the
// (-2, 0, 0) sentinel triple regardless of the stored span fields.
func (c *Container) Write(w io.Writer, version format.Version) error {
	buf := pool.GetContainerBuffer()
	defer pool.PutContainerBuffer(buf)

	if version.Legacy() {
		buf.B = varint.AppendITF8(buf.B, c.Length)
	} else {
		buf.B = binary.LittleEndian.AppendUint32(buf.B, uint32(c.Length))
	}
	if c.MultiSeq {
		buf.B = varint.AppendITF8(buf.B, format.RefMultiSeq)
		buf.B = varint.AppendITF8(buf.B, 0)
		buf.B = varint.AppendITF8(buf.B, 0)
	} else {
		buf.B = varint.AppendITF8(buf.B, c.RefSeqID)
		buf.B = varint.AppendITF8(buf.B, c.RefSeqStart)
		buf.B = varint.AppendITF8(buf.B, c.RefSeqSpan)
	}
	buf.B = varint.AppendITF8(buf.B, c.NumRecords)
	if !version.Legacy() {
		buf.B = varint.AppendITF8(buf.B, c.RecordCounter)
		buf.B = varint.AppendLTF8(buf.B, c.NumBases)
	}
	buf.B = varint.AppendITF8(buf.B, c.NumBlocks)
	buf.B = varint.AppendITF8(buf.B, int32(len(c.Landmarks)))
	for _, lm := range c.Landmarks {
		buf.B = varint.AppendITF8(buf.B, lm)
	}

	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("writing container header: %w", err)
	}
	return nil
}

// Encoder turns a container's accumulated records into serialized blocks:
// the compression-header block and each slice's header block. The record
// semantics live outside this package; the structural Encoder below is
// the default.
type Encoder interface {
	Encode(c *Container, version format.Version) error
}

// StructuralEncoder serializes the compression header and slice headers
// without any record-level encoding, for writers that attach fully formed
// data blocks themselves.
type StructuralEncoder struct{}

// Encode builds the compression-header block and every slice's header
// block from their in-memory state.
func (StructuralEncoder) Encode(c *Container, version format.Version) error {
	c.CompHdrBlock = c.CompHdr.buildBlock()
	for _, s := range c.Slices {
		s.buildHeaderBlock(version)
	}
	return nil
}

// Flush encodes and writes the whole container: the encoder populates the
// compression-header and slice-header blocks, the landmark index and body
// length are recomputed from the encoded block sizes, then the header,
// compression-header block and each slice's blocks are written in order.
//
// Any failure aborts the flush; the stream may hold a truncated prefix,
// which the caller learns from the returned error.
func (c *Container) Flush(w io.Writer, version format.Version, enc Encoder) error {
	if err := enc.Encode(c, version); err != nil {
		return fmt.Errorf("encoding container: %w", err)
	}

	// Landmark i is the running byte offset of slice i's header block,
	// measured from the start of the compression-header block.
	offset := c.CompHdrBlock.WireSize()
	c.Landmarks = c.Landmarks[:0]
	c.NumBlocks = 1
	for _, s := range c.Slices {
		c.Landmarks = append(c.Landmarks, offset)
		offset += s.wireSize()
		c.NumBlocks += 1 + int32(len(s.Blocks))
	}
	c.Length = offset

	if err := c.Write(w, version); err != nil {
		return err
	}
	if err := c.CompHdrBlock.WriteTo(w); err != nil {
		return fmt.Errorf("writing compression header block: %w", err)
	}
	for i, s := range c.Slices {
		if err := s.HdrBlock.WriteTo(w); err != nil {
			return fmt.Errorf("writing slice %d header block: %w", i, err)
		}
		for j, b := range s.Blocks {
			if err := b.WriteTo(w); err != nil {
				return fmt.Errorf("writing slice %d block %d: %w", i, j, err)
			}
		}
	}
	return nil
}

// ReadBody reads the container body that follows a decoded header: the
// compression-header block, then one slice per landmark.
func (c *Container) ReadBody(r block.Reader, version format.Version) error {
	b, err := block.Read(r)
	if err != nil {
		return fmt.Errorf("reading compression header block: %w", err)
	}
	c.CompHdrBlock = b
	if c.CompHdr, err = readCompressionHeader(b); err != nil {
		return err
	}
	for i := range c.Landmarks {
		s, err := ReadSlice(r, version)
		if err != nil {
			return fmt.Errorf("reading slice %d: %w", i, err)
		}
		s.ID = i
		c.Slices = append(c.Slices, s)
	}
	return nil
}

// AddSlice attaches a slice to the container on the write path.
func (c *Container) AddSlice(s *Slice) {
	s.ID = len(c.Slices)
	c.Slices = append(c.Slices, s)
}

// Full reports whether the container has reached its slice bound.
func (c *Container) Full() bool {
	return c.MaxSlice > 0 && len(c.Slices) >= c.MaxSlice
}
