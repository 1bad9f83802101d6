package refseq

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/strandbio/cram/errs"
)

// FaiRecord is one line of a FASTA index: where a named sequence lives
// inside its FASTA file and how its lines are wrapped.
type FaiRecord struct {
	Name         string
	Length       int64
	Offset       int64
	BasesPerLine int64
	LineLength   int64
}

// LoadFai parses the FASTA index at path into records keyed by sequence
// name. Index lines are tab-separated: name, length, offset, bases per
// line, bytes per line.
func LoadFai(path string) (map[string]FaiRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening fasta index: %w", err)
	}
	defer f.Close()

	records := make(map[string]FaiRecord)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 5 {
			return nil, fmt.Errorf("%s:%d: %d fields: %w",
				path, line, len(fields), errs.ErrMalformedReference)
		}
		rec := FaiRecord{Name: fields[0]}
		for i, dst := range []*int64{&rec.Length, &rec.Offset, &rec.BasesPerLine, &rec.LineLength} {
			v, err := strconv.ParseInt(fields[i+1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: field %d: %w",
					path, line, i+1, errs.ErrMalformedReference)
			}
			*dst = v
		}
		records[rec.Name] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fasta index: %w", err)
	}
	return records, nil
}

// FromSAMHeader extracts the reference dictionary from SAM header text:
// one Reference per @SQ line, carrying the SN, LN, M5 and UR fields.
func FromSAMHeader(text []byte) []Reference {
	var refs []Reference
	for _, line := range bytes.Split(text, []byte{'\n'}) {
		if !bytes.HasPrefix(line, []byte("@SQ")) {
			continue
		}
		var ref Reference
		for _, field := range bytes.Split(line, []byte{'\t'})[1:] {
			if len(field) < 3 || field[2] != ':' {
				continue
			}
			val := string(field[3:])
			switch string(field[:2]) {
			case "SN":
				ref.Name = val
			case "LN":
				if n, err := strconv.ParseInt(val, 10, 64); err == nil {
					ref.Length = n
				}
			case "M5":
				ref.M5 = val
			case "UR":
				ref.UR = val
			}
		}
		if ref.Name != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}
