package cram

import (
	"fmt"

	"github.com/strandbio/cram/container"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/internal/options"
	"github.com/strandbio/cram/refseq"
)

// Option configures a Session at Open or Create time.
type Option = options.Option[*Session]

// WithVersion selects the format version written by Create. Readers
// always follow the version in the file definition.
func WithVersion(v format.Version) Option {
	return options.New(func(s *Session) error {
		if !v.Supported() {
			return fmt.Errorf("format version %s: %w", v, errs.ErrUnsupportedVersion)
		}
		s.version = v
		return nil
	})
}

// WithLevel sets the deflate/bzip2 compression level. Level 0 stores all
// blocks raw.
func WithLevel(level int) Option {
	return options.New(func(s *Session) error {
		if level < 0 || level > 9 {
			return fmt.Errorf("compression level %d out of range [0,9]", level)
		}
		s.level = level
		return nil
	})
}

// WithBzip2 compresses data blocks with bzip2 instead of deflate.
func WithBzip2(use bool) Option {
	return options.NoError(func(s *Session) {
		s.useBzip2 = use
	})
}

// WithSeqsPerSlice bounds the records collected into one slice.
func WithSeqsPerSlice(n int) Option {
	return options.New(func(s *Session) error {
		if n < 1 {
			return fmt.Errorf("seqs per slice %d must be positive", n)
		}
		s.seqsPerSlice = n
		return nil
	})
}

// WithSlicesPerContainer bounds the slices collected into one container.
func WithSlicesPerContainer(n int) Option {
	return options.New(func(s *Session) error {
		if n < 1 {
			return fmt.Errorf("slices per container %d must be positive", n)
		}
		s.slicesPerContainer = n
		return nil
	})
}

// WithRefCache attaches a caller-owned reference cache, typically shared
// between sessions decoding against one dictionary. Without it the
// session builds its own cache from the header's @SQ lines.
func WithRefCache(refs *refseq.Cache) Option {
	return options.NoError(func(s *Session) {
		s.refs = refs
	})
}

// WithRefOptions forwards options to the reference cache the session
// builds itself. Ignored when WithRefCache supplies one.
func WithRefOptions(opts ...refseq.Option) Option {
	return options.NoError(func(s *Session) {
		s.refOpts = append(s.refOpts, opts...)
	})
}

// WithSharedRefs keeps whole reference sequences resident with holder
// counting in the session-built cache, for workloads touching the same
// sequences repeatedly.
func WithSharedRefs(shared bool) Option {
	return options.NoError(func(s *Session) {
		s.sharedRef = shared
	})
}

// WithUnsorted declares that records are not position-sorted, which
// keeps whole reference sequences resident once loaded.
func WithUnsorted(unsorted bool) Option {
	return options.NoError(func(s *Session) {
		s.unsorted = unsorted
	})
}

// WithLogger replaces the standard-library logger used by the session
// and its reference cache.
func WithLogger(log refseq.Logger) Option {
	return options.NoError(func(s *Session) {
		s.log = log
	})
}

// WithVerbose logs container boundaries as they are read and written.
func WithVerbose(verbose bool) Option {
	return options.NoError(func(s *Session) {
		s.verbose = verbose
	})
}

// WithEncoder replaces the container encoder invoked during flush.
func WithEncoder(enc container.Encoder) Option {
	return options.NoError(func(s *Session) {
		s.enc = enc
	})
}
