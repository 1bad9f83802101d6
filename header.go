package cram

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/container"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/refseq"
)

// readHeader decodes the SAM header that follows the file definition.
// Legacy files store it bare as a length-prefixed blob; later versions
// wrap it in a container holding one file-header block.
func (s *Session) readHeader() error {
	if s.version.Legacy() {
		var lenBuf [4]byte
		if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
			return fmt.Errorf("reading header length: %w", errs.ErrTruncated)
		}
		hlen := int32(binary.LittleEndian.Uint32(lenBuf[:]))
		if hlen < 0 {
			return fmt.Errorf("header length %d: %w", hlen, errs.ErrTruncated)
		}
		s.header = make([]byte, hlen)
		if _, err := io.ReadFull(s.r, s.header); err != nil {
			return fmt.Errorf("reading header text: %w", errs.ErrTruncated)
		}
		return nil
	}

	c, err := container.Read(s.r, s.version)
	if err != nil {
		return fmt.Errorf("reading header container: %w", errs.ErrTruncated)
	}
	b, err := block.Read(s.r)
	if err != nil {
		return fmt.Errorf("reading header block: %w", err)
	}
	if b.ContentType != format.FileHeader {
		return fmt.Errorf("header block content type %s: %w",
			b.ContentType, errs.ErrUnexpectedContentType)
	}
	if err := b.Decompress(); err != nil {
		return fmt.Errorf("decompressing header block: %w", err)
	}
	hlen, err := b.Int32()
	if err != nil {
		return fmt.Errorf("header text length: %w", err)
	}
	if hlen < 0 || int(hlen) > len(b.Remaining()) {
		return fmt.Errorf("header text length %d: %w", hlen, errs.ErrTruncated)
	}
	s.header = append([]byte(nil), b.Remaining()[:hlen]...)

	// Padding blocks after the header block are legal; skip them.
	for i := int32(1); i < c.NumBlocks; i++ {
		if _, err := block.Read(s.r); err != nil {
			return fmt.Errorf("skipping header padding block: %w", err)
		}
	}
	return nil
}

// writeHeader writes the SAM header in the version's framing: bare for
// legacy streams, wrapped in a single-block container otherwise. The
// container framing is always raw so tools can inspect the header
// without a decompressor.
func (s *Session) writeHeader() error {
	if s.version.Legacy() {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s.header)))
		if _, err := s.w.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("writing header length: %w", err)
		}
		if _, err := s.w.Write(s.header); err != nil {
			return fmt.Errorf("writing header text: %w", err)
		}
		return nil
	}

	b := block.New(format.FileHeader, 0)
	b.AppendInt32(int32(len(s.header)))
	b.Append(s.header)

	c := &container.Container{
		Length:    b.WireSize(),
		RefSeqID:  format.RefUnmapped,
		NumBlocks: 1,
		Landmarks: []int32{0},
	}
	if err := c.Write(s.w, s.version); err != nil {
		return err
	}
	return b.WriteTo(s.w)
}

// fillM5 adds an M5 digest to every @SQ line that lacks one, when the
// reference cache can produce the sequence. A sequence the cache cannot
// resolve keeps its line unchanged; the digest is an aid, not a gate.
func fillM5(header []byte, refs *refseq.Cache, log refseq.Logger) []byte {
	if !bytes.Contains(header, []byte("@SQ")) {
		return header
	}
	lines := bytes.Split(header, []byte{'\n'})
	for i, line := range lines {
		if !bytes.HasPrefix(line, []byte("@SQ")) ||
			bytes.Contains(line, []byte("\tM5:")) {
			continue
		}
		name := samField(line, "SN")
		if name == "" {
			continue
		}
		id := refs.ID(name)
		if id < 0 {
			continue
		}
		digest, err := refs.MD5(id)
		if err != nil {
			log.Infof("cram: no M5 digest for %q: %v", name, err)
			continue
		}
		// line aliases header's backing array; never append in place.
		grown := make([]byte, 0, len(line)+4+len(digest))
		grown = append(grown, line...)
		grown = append(grown, "\tM5:"...)
		grown = append(grown, digest...)
		lines[i] = grown
	}
	return bytes.Join(lines, []byte{'\n'})
}

// samField extracts a two-letter tagged field from a SAM header line.
func samField(line []byte, tag string) string {
	for _, field := range bytes.Split(line, []byte{'\t'})[1:] {
		if len(field) > 3 && string(field[:2]) == tag && field[2] == ':' {
			return string(field[3:])
		}
	}
	return ""
}
