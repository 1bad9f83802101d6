package container

import (
	"fmt"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/internal/hash"
	"github.com/strandbio/cram/varint"
)

// maxIndexedContentID bounds the sparse block-by-id index. Slices whose
// largest external content id reaches this fall back to a linear scan,
// trading lookup speed for memory.
const maxIndexedContentID = 1024

// SliceHeader is the decoded content of a slice's header block.
type SliceHeader struct {
	ContentType   format.ContentType // MappedSlice or UnmappedSlice
	RefSeqID      int32
	RefSeqStart   int32
	RefSeqSpan    int32
	NumRecords    int32
	RecordCounter int32 // non-legacy versions only
	NumBlocks     int32
	ContentIDs    []int32
	RefBaseID     int32 // embedded reference block id, mapped slices only
}

// Append serializes the header fields for the given format version,
// returning the extended slice.
func (h *SliceHeader) Append(dst []byte, version format.Version) []byte {
	dst = varint.AppendITF8(dst, h.RefSeqID)
	dst = varint.AppendITF8(dst, h.RefSeqStart)
	dst = varint.AppendITF8(dst, h.RefSeqSpan)
	dst = varint.AppendITF8(dst, h.NumRecords)
	if !version.Legacy() {
		dst = varint.AppendITF8(dst, h.RecordCounter)
	}
	dst = varint.AppendITF8(dst, h.NumBlocks)
	dst = varint.AppendITF8(dst, int32(len(h.ContentIDs)))
	for _, id := range h.ContentIDs {
		dst = varint.AppendITF8(dst, id)
	}
	if h.ContentType == format.MappedSlice {
		dst = varint.AppendITF8(dst, h.RefBaseID)
	}
	return dst
}

// decodeSliceHeader parses a slice header from its (already decompressed)
// header block.
func decodeSliceHeader(b *block.Block, version format.Version) (*SliceHeader, error) {
	h := &SliceHeader{ContentType: b.ContentType}

	fields := []*int32{&h.RefSeqID, &h.RefSeqStart, &h.RefSeqSpan, &h.NumRecords}
	for _, f := range fields {
		v, err := b.ITF8()
		if err != nil {
			return nil, fmt.Errorf("decoding slice header: %w", err)
		}
		*f = v
	}
	if !version.Legacy() {
		v, err := b.ITF8()
		if err != nil {
			return nil, fmt.Errorf("decoding slice header: %w", err)
		}
		h.RecordCounter = v
	}
	v, err := b.ITF8()
	if err != nil {
		return nil, fmt.Errorf("decoding slice header: %w", err)
	}
	h.NumBlocks = v

	n, err := b.ITF8()
	if err != nil {
		return nil, fmt.Errorf("decoding slice header: %w", err)
	}
	h.ContentIDs = make([]int32, 0, n)
	for i := int32(0); i < n; i++ {
		id, err := b.ITF8()
		if err != nil {
			return nil, fmt.Errorf("decoding slice header: %w", err)
		}
		h.ContentIDs = append(h.ContentIDs, id)
	}
	if h.ContentType == format.MappedSlice {
		if h.RefBaseID, err = b.ITF8(); err != nil {
			return nil, fmt.Errorf("decoding slice header: %w", err)
		}
	}
	return h, nil
}

// Slice groups the blocks for one batch of alignment records: a header
// block plus NumBlocks data blocks, indexed both by position and (for
// small external content ids) by id.
type Slice struct {
	Hdr      *SliceHeader
	HdrBlock *block.Block
	Blocks   []*block.Block

	// Sparse external-content-id index; nil when the largest id seen
	// was maxIndexedContentID or more.
	blockByID []*block.Block

	// Dedicated external streams populated by the record layer on the
	// write path.
	SeqsBlk *block.Block
	QualBlk *block.Block
	NameBlk *block.Block
	AuxBlk  *block.Block
	BaseBlk *block.Block
	SoftBlk *block.Block
	TNBlk   *block.Block

	// Working state the record layer fills in; owned by the slice so it
	// is released with it.
	Cigar    []uint32
	TagNames []int32

	// Mate-pairing index: read-name key to record index, for resolving
	// pairs within the slice.
	pairs map[uint64]int32

	LastAPos int32
	ID       int
}

// NewSlice creates an empty slice for writing, sized for nrecs records.
func NewSlice(contentType format.ContentType, nrecs int) *Slice {
	s := &Slice{
		Hdr:     &SliceHeader{ContentType: contentType},
		SeqsBlk: block.New(format.External, format.ExtSeq),
		QualBlk: block.New(format.External, format.ExtQual),
		NameBlk: block.New(format.External, format.ExtName),
		AuxBlk:  block.New(format.External, format.ExtTag),
		BaseBlk: block.New(format.External, format.ExtIn),
		SoftBlk: block.New(format.External, format.ExtSC),
		TNBlk:   block.New(format.External, format.ExtTN),
		pairs:   make(map[uint64]int32, nrecs),
	}
	return s
}

// ReadSlice reads a slice header block and its data blocks from r.
//
// The header block must be a mapped or unmapped slice; any other content
// type is a hard format error.
func ReadSlice(r block.Reader, version format.Version) (*Slice, error) {
	hb, err := block.Read(r)
	if err != nil {
		return nil, fmt.Errorf("reading slice header block: %w", err)
	}

	switch hb.ContentType {
	case format.MappedSlice, format.UnmappedSlice:
	default:
		return nil, fmt.Errorf("slice header block of type %s: %w",
			hb.ContentType, errs.ErrUnexpectedContentType)
	}

	if err := hb.Decompress(); err != nil {
		return nil, fmt.Errorf("decompressing slice header block: %w", err)
	}
	hdr, err := decodeSliceHeader(hb, version)
	if err != nil {
		return nil, err
	}

	s := &Slice{
		Hdr:      hdr,
		HdrBlock: hb,
		Blocks:   make([]*block.Block, 0, hdr.NumBlocks),
		pairs:    make(map[uint64]int32),
	}

	maxID := int32(0)
	for i := int32(0); i < hdr.NumBlocks; i++ {
		b, err := block.Read(r)
		if err != nil {
			return nil, fmt.Errorf("reading slice block %d: %w", i, err)
		}
		s.Blocks = append(s.Blocks, b)
		if b.ContentType == format.External && b.ContentID > maxID {
			maxID = b.ContentID
		}
	}

	if maxID < maxIndexedContentID {
		s.blockByID = make([]*block.Block, maxID+1)
		for _, b := range s.Blocks {
			if b.ContentType == format.External {
				s.blockByID[b.ContentID] = b
			}
		}
	}

	s.LastAPos = hdr.RefSeqStart
	return s, nil
}

// BlockByID returns the external block with the given content id, or nil.
// Lookups use the sparse index when present and fall back to a linear
// scan otherwise. Every external content id is unique within a slice.
func (s *Slice) BlockByID(contentID int32) *block.Block {
	if s.blockByID != nil {
		if contentID >= 0 && int(contentID) < len(s.blockByID) {
			return s.blockByID[contentID]
		}
		return nil
	}
	for _, b := range s.Blocks {
		if b.ContentType == format.External && b.ContentID == contentID {
			return b
		}
	}
	return nil
}

// AttachBlock appends a data block to the slice on the write path. Blocks
// are written in attachment order.
func (s *Slice) AttachBlock(b *block.Block) {
	s.Blocks = append(s.Blocks, b)
}

// PairRecord records a pending mate under the read name, returning the
// record index of a previously seen mate and whether one was found.
func (s *Slice) PairRecord(name []byte, rec int32) (int32, bool) {
	key := hash.NameKey(name)
	if prev, ok := s.pairs[key]; ok {
		delete(s.pairs, key)
		return prev, true
	}
	s.pairs[key] = rec
	return 0, false
}

// buildHeaderBlock serializes the slice header into a fresh header block,
// refreshing NumBlocks and ContentIDs from the attached blocks.
func (s *Slice) buildHeaderBlock(version format.Version) {
	s.Hdr.NumBlocks = int32(len(s.Blocks))
	s.Hdr.ContentIDs = s.Hdr.ContentIDs[:0]
	for _, b := range s.Blocks {
		if b.ContentType == format.External {
			s.Hdr.ContentIDs = append(s.Hdr.ContentIDs, b.ContentID)
		}
	}

	hb := block.New(s.Hdr.ContentType, 0)
	hb.Data = s.Hdr.Append(nil, version)
	hb.UncompSize = int32(len(hb.Data))
	hb.CompSize = hb.UncompSize
	s.HdrBlock = hb
}

// wireSize returns the encoded size of the slice: header block plus data
// blocks.
func (s *Slice) wireSize() int32 {
	n := s.HdrBlock.WireSize()
	for _, b := range s.Blocks {
		n += b.WireSize()
	}
	return n
}
