// Package varint implements the two variable-length integer wire formats
// used throughout the CRAM container format: ITF8 for 32-bit values and
// LTF8 for 64-bit values.
//
// Both formats store the byte count in the leading bits of the first byte:
// the number of leading one-bits selects 1-5 (ITF8) or 1-9 (LTF8) total
// bytes, with the remaining bits of the first byte and all following bytes
// holding the value big-endian. Encoding is canonical: the smallest byte
// count whose payload bits can represent the value is always chosen.
//
// Each format has four operations: append-to-buffer, decode-from-buffer,
// write-to-stream and read-from-stream. Stream reads that hit end of input
// mid-value fail with errs.ErrTruncated.
package varint

import (
	"fmt"
	"io"

	"github.com/strandbio/cram/errs"
)

// MaxLen32 is the maximum encoded length of an ITF8 value.
const MaxLen32 = 5

// AppendITF8 appends the ITF8 encoding of v to dst and returns the
// extended slice.
func AppendITF8(dst []byte, v int32) []byte {
	u := uint32(v)
	switch {
	case u&^0x7f == 0:
		return append(dst, byte(u))
	case u&^0x3fff == 0:
		return append(dst, byte(u>>8)|0x80, byte(u))
	case u&^0x1fffff == 0:
		return append(dst, byte(u>>16)|0xc0, byte(u>>8), byte(u))
	case u&^0x0fffffff == 0:
		return append(dst, byte(u>>24)|0xe0, byte(u>>16), byte(u>>8), byte(u))
	default:
		return append(dst, 0xf0|byte(u>>28), byte(u>>20), byte(u>>12), byte(u>>4), byte(u&0x0f))
	}
}

// ITF8 decodes an ITF8 value from the start of buf.
//
// It returns the value and the number of bytes consumed. A buffer too
// short for the length its first byte announces yields n == 0.
func ITF8(buf []byte) (v int32, n int) {
	if len(buf) == 0 {
		return 0, 0
	}
	b0 := buf[0]
	switch {
	case b0 < 0x80:
		return int32(b0), 1
	case b0 < 0xc0:
		if len(buf) < 2 {
			return 0, 0
		}
		return int32(uint32(b0)<<8|uint32(buf[1])) & 0x3fff, 2
	case b0 < 0xe0:
		if len(buf) < 3 {
			return 0, 0
		}
		return int32(uint32(b0)<<16|uint32(buf[1])<<8|uint32(buf[2])) & 0x1fffff, 3
	case b0 < 0xf0:
		if len(buf) < 4 {
			return 0, 0
		}
		u := uint32(b0)<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		return int32(u & 0x0fffffff), 4
	default:
		if len(buf) < 5 {
			return 0, 0
		}
		u := uint32(b0&0x0f)<<28 | uint32(buf[1])<<20 | uint32(buf[2])<<12 |
			uint32(buf[3])<<4 | uint32(buf[4]&0x0f)
		return int32(u), 5
	}
}

// WriteITF8 writes the ITF8 encoding of v to w and returns the number of
// bytes written.
func WriteITF8(w io.Writer, v int32) (int, error) {
	var scratch [MaxLen32]byte
	buf := AppendITF8(scratch[:0], v)
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("writing itf8: %w", err)
	}
	return n, nil
}

// ReadITF8 reads an ITF8 value from r and returns it along with the number
// of bytes consumed. End of input before the value completes yields
// errs.ErrTruncated.
func ReadITF8(r io.ByteReader) (v int32, n int, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, 0, eofTruncated(err)
	}
	extra := extraBytes32(b0)
	u := uint32(b0) & mask32(b0)
	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, i + 1, eofTruncated(err)
		}
		if extra == 4 && i == 3 {
			// The fifth byte contributes only its low nibble.
			u = u<<4 | uint32(b&0x0f)
		} else {
			u = u<<8 | uint32(b)
		}
	}
	return int32(u), extra + 1, nil
}

// extraBytes32 returns the number of bytes following the first one,
// derived from the leading one-bits of the first byte's top nibble.
func extraBytes32(b0 byte) int {
	switch {
	case b0 < 0x80:
		return 0
	case b0 < 0xc0:
		return 1
	case b0 < 0xe0:
		return 2
	case b0 < 0xf0:
		return 3
	default:
		return 4
	}
}

func mask32(b0 byte) uint32 {
	switch {
	case b0 < 0x80:
		return 0x7f
	case b0 < 0xc0:
		return 0x3f
	case b0 < 0xe0:
		return 0x1f
	default:
		return 0x0f
	}
}

func eofTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errs.ErrTruncated
	}
	return err
}
