package varint

import (
	"fmt"
	"io"
	"math/bits"
)

// MaxLen64 is the maximum encoded length of an LTF8 value.
const MaxLen64 = 9

// AppendLTF8 appends the LTF8 encoding of v to dst and returns the
// extended slice.
func AppendLTF8(dst []byte, v int64) []byte {
	u := uint64(v)
	switch {
	case u&^((1<<7)-1) == 0:
		return append(dst, byte(u))
	case u&^((1<<14)-1) == 0:
		return append(dst, byte(u>>8)|0x80, byte(u))
	case u&^((1<<21)-1) == 0:
		return append(dst, byte(u>>16)|0xc0, byte(u>>8), byte(u))
	case u&^((1<<28)-1) == 0:
		return append(dst, byte(u>>24)|0xe0, byte(u>>16), byte(u>>8), byte(u))
	case u&^((1<<35)-1) == 0:
		return append(dst, byte(u>>32)|0xf0, byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	case u&^((1<<42)-1) == 0:
		return append(dst, byte(u>>40)|0xf8, byte(u>>32), byte(u>>24), byte(u>>16),
			byte(u>>8), byte(u))
	case u&^((1<<49)-1) == 0:
		return append(dst, byte(u>>48)|0xfc, byte(u>>40), byte(u>>32), byte(u>>24),
			byte(u>>16), byte(u>>8), byte(u))
	case u&^((1<<56)-1) == 0:
		return append(dst, byte(u>>56)|0xfe, byte(u>>48), byte(u>>40), byte(u>>32),
			byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	default:
		return append(dst, 0xff, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
			byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
	}
}

// LTF8 decodes an LTF8 value from the start of buf.
//
// It returns the value and the number of bytes consumed. A buffer too
// short for the length its first byte announces yields n == 0.
func LTF8(buf []byte) (v int64, n int) {
	if len(buf) == 0 {
		return 0, 0
	}
	b0 := buf[0]
	extra := extraBytes64(b0)
	if len(buf) < extra+1 {
		return 0, 0
	}
	u := uint64(b0) & mask64(b0)
	for i := 1; i <= extra; i++ {
		u = u<<8 | uint64(buf[i])
	}
	return int64(u), extra + 1
}

// WriteLTF8 writes the LTF8 encoding of v to w and returns the number of
// bytes written.
func WriteLTF8(w io.Writer, v int64) (int, error) {
	var scratch [MaxLen64]byte
	buf := AppendLTF8(scratch[:0], v)
	n, err := w.Write(buf)
	if err != nil {
		return n, fmt.Errorf("writing ltf8: %w", err)
	}
	return n, nil
}

// ReadLTF8 reads an LTF8 value from r and returns it along with the number
// of bytes consumed. End of input before the value completes yields
// errs.ErrTruncated.
func ReadLTF8(r io.ByteReader) (v int64, n int, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, 0, eofTruncated(err)
	}
	extra := extraBytes64(b0)
	u := uint64(b0) & mask64(b0)
	for i := 0; i < extra; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, i + 1, eofTruncated(err)
		}
		u = u<<8 | uint64(b)
	}
	return int64(u), extra + 1, nil
}

// extraBytes64 counts the leading one-bits of the first byte, which is the
// number of bytes that follow it. An all-ones first byte selects the
// 9-byte form carrying a full 64-bit payload.
func extraBytes64(b0 byte) int {
	return bits.LeadingZeros8(^b0)
}

func mask64(b0 byte) uint64 {
	n := bits.LeadingZeros8(^b0)
	if n >= 8 {
		return 0
	}
	return (1 << (7 - n)) - 1
}
