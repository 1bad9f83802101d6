// Package errs defines the sentinel errors shared across the cram packages.
//
// Call sites wrap these with fmt.Errorf("...: %w", err) so callers can
// classify failures with errors.Is while still seeing where they came from.
package errs

import "errors"

// Format errors. The stream position after one of these is undefined;
// callers must not attempt to resynchronize.
var (
	// ErrBadMagic indicates the 26-byte file definition did not start with "CRAM".
	ErrBadMagic = errors.New("cram: bad magic number")

	// ErrUnsupportedVersion indicates a version pair other than 1.0, 1.1 or 2.0.
	ErrUnsupportedVersion = errors.New("cram: unsupported version")

	// ErrTruncated indicates a short read in the middle of a varint, block
	// header, container header or block payload.
	ErrTruncated = errors.New("cram: truncated input")

	// ErrSizeMismatch indicates a decompressed payload whose size does not
	// match the block's recorded uncompressed size.
	ErrSizeMismatch = errors.New("cram: decompressed size mismatch")

	// ErrInvalidMethod indicates a block method byte outside the known set.
	ErrInvalidMethod = errors.New("cram: invalid compression method")

	// ErrUnexpectedContentType indicates a block of the wrong content type
	// where a specific one is required, e.g. a slice header block that is
	// neither a mapped nor an unmapped slice.
	ErrUnexpectedContentType = errors.New("cram: unexpected block content type")
)

// Reference resolution errors. These fail a single lookup without
// poisoning the cache entry for other ids.
var (
	// ErrNoReference indicates a reference id could not be resolved from the
	// disk cache, the search path or the FASTA index.
	ErrNoReference = errors.New("cram: no reference found")

	// ErrMalformedReference indicates a reference whose whitespace-stripped
	// bases did not match the span computed from its index entry.
	ErrMalformedReference = errors.New("cram: malformed reference file")
)
