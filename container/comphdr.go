package container

import (
	"fmt"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
)

// CompressionHeader is the first block of every container. It carries the
// encoding parameters shared by all slices, plus the tag dictionary: the
// distinct auxiliary-tag signatures seen in the container, each mapped to
// a small integer that records reference by index.
type CompressionHeader struct {
	// Content preserves the serialized parameter maps verbatim. Readers
	// that only restructure containers pass it through untouched.
	Content []byte

	// TD is the concatenated tag dictionary, entries separated by NUL.
	TD []byte

	td map[string]int32
}

// NewCompressionHeader creates an empty compression header for the write
// path.
func NewCompressionHeader() *CompressionHeader {
	return &CompressionHeader{
		td: make(map[string]int32),
	}
}

// TagDictID interns a tag signature and returns its dictionary index.
// Repeated signatures return the index assigned on first sight.
func (h *CompressionHeader) TagDictID(sig []byte) int32 {
	if id, ok := h.td[string(sig)]; ok {
		return id
	}
	id := int32(len(h.td))
	h.td[string(sig)] = id
	h.TD = append(h.TD, sig...)
	h.TD = append(h.TD, 0)
	return id
}

// buildBlock serializes the header into a fresh compression-header block:
// the length-prefixed parameter content followed by the length-prefixed
// tag dictionary.
func (h *CompressionHeader) buildBlock() *block.Block {
	b := block.New(format.CompressionHeader, 0)
	b.AppendITF8(int32(len(h.Content)))
	b.Append(h.Content)
	b.AppendITF8(int32(len(h.TD)))
	b.Append(h.TD)
	return b
}

// readCompressionHeader decompresses and decodes a compression-header
// block produced by buildBlock.
func readCompressionHeader(b *block.Block) (*CompressionHeader, error) {
	if b.ContentType != format.CompressionHeader {
		return nil, fmt.Errorf("block content type %s: %w",
			b.ContentType, errs.ErrUnexpectedContentType)
	}
	if err := b.Decompress(); err != nil {
		return nil, fmt.Errorf("decompressing compression header: %w", err)
	}

	h := NewCompressionHeader()
	clen, err := b.ITF8()
	if err != nil {
		return nil, fmt.Errorf("compression header content length: %w", err)
	}
	if clen < 0 || int(clen) > len(b.Remaining()) {
		return nil, fmt.Errorf("compression header content length %d: %w",
			clen, errs.ErrTruncated)
	}
	h.Content = append([]byte(nil), b.Data[b.Byte:b.Byte+int(clen)]...)
	b.Byte += int(clen)

	tdlen, err := b.ITF8()
	if err != nil {
		return nil, fmt.Errorf("compression header tag dictionary length: %w", err)
	}
	if tdlen < 0 || int(tdlen) > len(b.Remaining()) {
		return nil, fmt.Errorf("compression header tag dictionary length %d: %w",
			tdlen, errs.ErrTruncated)
	}
	h.TD = append([]byte(nil), b.Data[b.Byte:b.Byte+int(tdlen)]...)
	b.Byte += int(tdlen)
	h.loadTagDict()
	return h, nil
}

func (h *CompressionHeader) loadTagDict() {
	start := 0
	for i, c := range h.TD {
		if c == 0 {
			h.td[string(h.TD[start:i])] = int32(len(h.td))
			start = i + 1
		}
	}
}
