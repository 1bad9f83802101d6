// Package format defines the wire-level enum types and constants of the
// CRAM container format.
package format

type (
	// Method is a block's compression method byte.
	Method uint8

	// ContentType is a block's content type byte.
	ContentType uint8
)

const (
	Raw   Method = 0 // Raw stores the payload uncompressed.
	Gzip  Method = 1 // Gzip stores a deflate stream (gzip or zlib framed).
	Bzip2 Method = 2 // Bzip2 stores a bzip2 stream.
)

const (
	FileHeader        ContentType = 0 // FileHeader frames the SAM header text.
	CompressionHeader ContentType = 1 // CompressionHeader describes the container's encodings.
	MappedSlice       ContentType = 2 // MappedSlice is a slice header for mapped records.
	UnmappedSlice     ContentType = 3 // UnmappedSlice is a slice header for unmapped records.
	External          ContentType = 4 // External is a named byte stream, keyed by content id.
	Core              ContentType = 5 // Core is the bit-packed record stream.
)

func (m Method) String() string {
	switch m {
	case Raw:
		return "RAW"
	case Gzip:
		return "GZIP"
	case Bzip2:
		return "BZIP2"
	default:
		return "Unknown"
	}
}

// Valid reports whether m is one of the known on-disk method bytes.
func (m Method) Valid() bool {
	return m <= Bzip2
}

func (t ContentType) String() string {
	switch t {
	case FileHeader:
		return "FILE_HEADER"
	case CompressionHeader:
		return "COMPRESSION_HEADER"
	case MappedSlice:
		return "MAPPED_SLICE"
	case UnmappedSlice:
		return "UNMAPPED_SLICE"
	case External:
		return "EXTERNAL"
	case Core:
		return "CORE"
	default:
		return "Unknown"
	}
}

// External stream content ids used for the dedicated per-slice blocks.
const (
	ExtSeq  int32 = 0 // sequence bases
	ExtQual int32 = 1 // quality values
	ExtName int32 = 2 // read names
	ExtTag  int32 = 4 // auxiliary tag data
	ExtSC   int32 = 5 // soft-clip bases
	ExtIn   int32 = 6 // inserted bases
	ExtTN   int32 = 7 // tag name dictionary
)

// Version identifies a CRAM file format revision as major*100 + minor.
type Version int

const (
	V1_0 Version = 100
	V1_1 Version = 101
	V2_0 Version = 200
)

// MakeVersion builds a Version from a major/minor pair.
func MakeVersion(major, minor int) Version {
	return Version(major*100 + minor)
}

// Major returns the major revision number.
func (v Version) Major() int { return int(v) / 100 }

// Minor returns the minor revision number.
func (v Version) Minor() int { return int(v) % 100 }

// Legacy reports whether v uses the 1.x wire conventions: varint container
// length and no record counter or base count in the container header.
func (v Version) Legacy() bool { return v.Major() == 1 }

// Supported reports whether v is one of the accepted version pairs.
func (v Version) Supported() bool {
	return v == V1_0 || v == V1_1 || v == V2_0
}

func (v Version) String() string {
	switch v {
	case V1_0:
		return "1.0"
	case V1_1:
		return "1.1"
	case V2_0:
		return "2.0"
	default:
		return "Unknown"
	}
}

// RefMultiSeq is the ref_seq_id sentinel marking a container whose records
// reference multiple sequences.
const RefMultiSeq int32 = -2

// RefUnmapped is the ref_seq_id value for unmapped records.
const RefUnmapped int32 = -1
