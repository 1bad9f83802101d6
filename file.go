package cram

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/compress"
	"github.com/strandbio/cram/container"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/internal/options"
	"github.com/strandbio/cram/refseq"
)

const (
	defaultLevel              = 6
	defaultSeqsPerSlice       = 10000
	defaultSlicesPerContainer = 1
)

// Session is one end of a CRAM file: a reader produced by Open or
// NewReader, or a writer produced by Create or NewWriter. Sessions are
// not safe for concurrent use.
type Session struct {
	f *os.File
	r *bufio.Reader
	w *bufio.Writer

	def     *Definition
	version format.Version
	header  []byte

	level              int
	useBzip2           bool
	seqsPerSlice       int
	slicesPerContainer int

	refs      *refseq.Cache
	ownsRefs  bool
	refOpts   []refseq.Option
	sharedRef bool
	unsorted  bool
	multiSeq  bool

	// One adaptive metrics state per external data series, so the
	// deflate strategy converges independently for sequence, quality,
	// name, tag and positional payloads.
	metrics map[int32]*compress.Metrics

	enc     container.Encoder
	log     refseq.Logger
	verbose bool

	recordCounter int32
	eof           bool
	closeErr      error
	closed        bool
}

func newSession(opts []Option) (*Session, error) {
	s := &Session{
		version:            format.V2_0,
		level:              defaultLevel,
		seqsPerSlice:       defaultSeqsPerSlice,
		slicesPerContainer: defaultSlicesPerContainer,
		metrics:            make(map[int32]*compress.Metrics),
		enc:                container.StructuralEncoder{},
		log:                refseq.DefaultLogger{},
	}
	for _, id := range []int32{
		format.ExtSeq, format.ExtQual, format.ExtName,
		format.ExtTag, format.ExtSC, format.ExtIn, format.ExtTN,
	} {
		s.metrics[id] = compress.NewMetrics()
	}
	if err := options.Apply(s, opts...); err != nil {
		return nil, err
	}
	return s, nil
}

// NewReader reads a CRAM stream from r: file definition, then SAM
// header, leaving the stream positioned at the first data container.
func NewReader(r io.Reader, opts ...Option) (*Session, error) {
	s, err := newSession(opts)
	if err != nil {
		return nil, err
	}
	s.r = bufio.NewReaderSize(r, 64*1024)

	if s.def, err = readDefinition(s.r); err != nil {
		return nil, err
	}
	s.version = s.def.Version()
	if err := s.readHeader(); err != nil {
		return nil, err
	}
	if s.refs == nil {
		s.refs, err = s.buildRefs(refseq.FromSAMHeader(s.header))
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Open opens the CRAM file at path for reading.
func Open(path string, opts ...Option) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	s, err := NewReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.f = f
	return s, nil
}

// NewWriter writes a CRAM stream to w. The SAM header text must carry
// the @SQ dictionary for any reference-based compression; sequences
// lacking an M5 digest get one computed from the reference cache before
// the header is written.
func NewWriter(w io.Writer, header []byte, opts ...Option) (*Session, error) {
	s, err := newSession(opts)
	if err != nil {
		return nil, err
	}
	s.w = bufio.NewWriterSize(w, 64*1024)
	s.header = append([]byte(nil), header...)

	if s.refs == nil {
		s.refs, err = s.buildRefs(refseq.FromSAMHeader(s.header))
		if err != nil {
			return nil, err
		}
	}
	s.header = fillM5(s.header, s.refs, s.log)

	s.def = &Definition{Major: byte(s.version.Major()), Minor: byte(s.version.Minor())}
	if _, err := rand.Read(s.def.FileID[:]); err != nil {
		return nil, fmt.Errorf("generating file id: %w", err)
	}
	if err := s.def.writeTo(s.w); err != nil {
		return nil, err
	}
	if err := s.writeHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Create creates the CRAM file at path for writing.
func Create(path string, header []byte, opts ...Option) (*Session, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	s, err := NewWriter(f, header, opts...)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *Session) buildRefs(refs []refseq.Reference) (*refseq.Cache, error) {
	opts := []refseq.Option{
		refseq.WithShared(s.sharedRef),
		refseq.WithUnsorted(s.unsorted),
		refseq.WithLogger(s.log),
	}
	s.ownsRefs = true
	return refseq.NewCache(refs, append(opts, s.refOpts...)...)
}

// Header returns the SAM header text.
func (s *Session) Header() []byte { return s.header }

// Version returns the negotiated format version.
func (s *Session) Version() format.Version { return s.version }

// Refs returns the session's reference cache.
func (s *Session) Refs() *refseq.Cache { return s.refs }

// EOF reports whether a read session has consumed its last container.
func (s *Session) EOF() bool { return s.eof }

// MultiSeq reports whether any container seen so far carried records
// against multiple reference sequences.
func (s *Session) MultiSeq() bool { return s.multiSeq }

// RecordCounter returns the running record count across all containers
// read or written.
func (s *Session) RecordCounter() int32 { return s.recordCounter }

// NewContainer creates a write-side container bounded by the session's
// slice and record limits.
func (s *Session) NewContainer() *container.Container {
	c := container.New(s.seqsPerSlice, s.slicesPerContainer)
	c.RecordCounter = s.recordCounter
	return c
}

// ReadContainer reads the next container, header and body. io.EOF marks
// a clean end of stream; any other error means the file is damaged.
func (s *Session) ReadContainer() (*container.Container, error) {
	if s.eof {
		return nil, io.EOF
	}
	c, err := container.Read(s.r, s.version)
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.eof = true
			return nil, io.EOF
		}
		return nil, err
	}
	if err := c.ReadBody(s.r, s.version); err != nil {
		return nil, err
	}
	if c.MultiSeq {
		s.multiSeq = true
	}
	s.recordCounter += c.NumRecords
	if s.verbose {
		s.log.Infof("cram: read container ref %d:%d+%d, %d records, %d blocks",
			c.RefSeqID, c.RefSeqStart, c.RefSeqSpan, c.NumRecords, c.NumBlocks)
	}
	return c, nil
}

// CompressBlock compresses a data block under the session's level and
// method settings, routing external blocks through the per-series
// adaptive metrics.
func (s *Session) CompressBlock(b *block.Block) error {
	var m *compress.Metrics
	if b.ContentType == format.External {
		m = s.metrics[b.ContentID]
	}
	return b.Compress(s.level, m, s.useBzip2)
}

// WriteContainer compresses every data block of the container and
// flushes it to the stream.
func (s *Session) WriteContainer(c *container.Container) error {
	for _, sl := range c.Slices {
		for _, b := range sl.Blocks {
			if err := s.CompressBlock(b); err != nil {
				return err
			}
		}
	}
	if err := c.Flush(s.w, s.version, s.enc); err != nil {
		return err
	}
	s.recordCounter += c.NumRecords
	if s.verbose {
		s.log.Infof("cram: wrote container ref %d:%d+%d, %d records, %d blocks",
			c.RefSeqID, c.RefSeqStart, c.RefSeqSpan, c.NumRecords, c.NumBlocks)
	}
	return nil
}

// Flush forces buffered output to the underlying writer.
func (s *Session) Flush() error {
	if s.w == nil {
		return nil
	}
	return s.w.Flush()
}

// Close flushes a write session, syncs file-backed output to stable
// storage, and closes the file. Closing twice returns the first result.
func (s *Session) Close() error {
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.closeOnce()
	return s.closeErr
}

func (s *Session) closeOnce() error {
	var firstErr error
	if s.w != nil {
		if err := s.w.Flush(); err != nil {
			firstErr = fmt.Errorf("flushing output: %w", err)
		}
		if s.f != nil && firstErr == nil {
			if err := s.f.Sync(); err != nil {
				firstErr = fmt.Errorf("syncing output: %w", err)
			}
		}
	}
	if s.refs != nil && s.ownsRefs {
		if err := s.refs.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing reference cache: %w", err)
		}
	}
	if s.f != nil {
		if err := s.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing file: %w", err)
		}
	}
	return firstErr
}
