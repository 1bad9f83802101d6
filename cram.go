// Package cram reads and writes CRAM files: block-compressed containers
// of sequence alignment records, optionally delta-encoded against an
// external reference.
//
// A Session wraps one file end. Open and Create negotiate the file
// definition and SAM header, after which containers move through
// ReadContainer and WriteContainer. Reference sequences resolve through
// a refseq.Cache, built from the header's @SQ dictionary unless the
// caller supplies one.
package cram

import (
	"fmt"
	"io"

	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
)

// DefinitionLen is the size of the file definition at the start of every
// CRAM file.
const DefinitionLen = 26

var magic = [4]byte{'C', 'R', 'A', 'M'}

// Definition is the fixed-size structure opening a CRAM file: magic,
// format version, and an uninterpreted 20-byte file id.
type Definition struct {
	Major  byte
	Minor  byte
	FileID [20]byte
}

// Version folds the definition's major and minor numbers into a single
// comparable value.
func (d *Definition) Version() format.Version {
	return format.MakeVersion(int(d.Major), int(d.Minor))
}

func readDefinition(r io.Reader) (*Definition, error) {
	var raw [DefinitionLen]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return nil, fmt.Errorf("reading file definition: %w", errs.ErrTruncated)
	}
	if [4]byte(raw[:4]) != magic {
		return nil, fmt.Errorf("file definition %q: %w", raw[:4], errs.ErrBadMagic)
	}
	d := &Definition{Major: raw[4], Minor: raw[5]}
	copy(d.FileID[:], raw[6:])
	if !d.Version().Supported() {
		return nil, fmt.Errorf("format version %d.%d: %w",
			d.Major, d.Minor, errs.ErrUnsupportedVersion)
	}
	return d, nil
}

func (d *Definition) writeTo(w io.Writer) error {
	var raw [DefinitionLen]byte
	copy(raw[:4], magic[:])
	raw[4], raw[5] = d.Major, d.Minor
	copy(raw[6:], d.FileID[:])
	if _, err := w.Write(raw[:]); err != nil {
		return fmt.Errorf("writing file definition: %w", err)
	}
	return nil
}
