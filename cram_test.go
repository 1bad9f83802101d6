package cram

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/container"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
	"github.com/strandbio/cram/refseq"
)

var testHeader = []byte("@HD\tVN:1.4\tSO:coordinate\n" +
	"@SQ\tSN:chr1\tLN:100\tM5:d41d8cd98f00b204e9800998ecf8427e\n")

func buildContainer(s *Session, nrec int32, payload []byte) *container.Container {
	c := s.NewContainer()
	c.RefSeqID = 0
	c.RefSeqStart = 1
	c.RefSeqSpan = 100
	c.NumRecords = nrec
	c.NumBases = int64(len(payload))

	sl := container.NewSlice(format.MappedSlice, int(nrec))
	sl.Hdr.RefSeqID = 0
	sl.Hdr.RefSeqStart = 1
	sl.Hdr.RefSeqSpan = 100
	sl.Hdr.NumRecords = nrec

	seq := block.New(format.External, format.ExtSeq)
	seq.Append(payload)
	sl.AttachBlock(seq)

	qual := block.New(format.External, format.ExtQual)
	qual.Append(bytes.Repeat([]byte("I"), len(payload)))
	sl.AttachBlock(qual)

	c.AddSlice(sl)
	return c
}

func TestSession_RoundTrip(t *testing.T) {
	for _, version := range []format.Version{format.V1_0, format.V2_0} {
		t.Run(version.String(), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, testHeader, WithVersion(version))
			require.NoError(t, err)

			payload := bytes.Repeat([]byte("ACGTACGT"), 128)
			require.NoError(t, w.WriteContainer(buildContainer(w, 8, payload)))
			require.NoError(t, w.WriteContainer(buildContainer(w, 4, payload[:512])))
			require.NoError(t, w.Close())

			r, err := NewReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, version, r.Version())
			assert.Equal(t, testHeader, r.Header())

			c1, err := r.ReadContainer()
			require.NoError(t, err)
			assert.Equal(t, int32(8), c1.NumRecords)
			require.Len(t, c1.Slices, 1)

			got := c1.Slices[0].BlockByID(format.ExtSeq)
			require.NotNil(t, got)
			require.NoError(t, got.Decompress())
			assert.Equal(t, payload, got.Data)

			c2, err := r.ReadContainer()
			require.NoError(t, err)
			assert.Equal(t, int32(4), c2.NumRecords)
			if !version.Legacy() {
				assert.Equal(t, int32(8), c2.RecordCounter,
					"the second container starts counting after the first")
			}

			_, err = r.ReadContainer()
			require.ErrorIs(t, err, io.EOF)
			assert.True(t, r.EOF())
			require.NoError(t, r.Close())
		})
	}
}

func TestSession_FileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cram")

	w, err := Create(path, testHeader, WithLevel(0))
	require.NoError(t, err)
	payload := []byte("ACGTACGTACGT")
	require.NoError(t, w.WriteContainer(buildContainer(w, 1, payload)))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "closing twice is safe")

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	c, err := r.ReadContainer()
	require.NoError(t, err)
	got := c.Slices[0].BlockByID(format.ExtSeq)
	require.NotNil(t, got)
	assert.Equal(t, format.Raw, got.OrigMethod, "level 0 stores blocks raw")
	assert.Equal(t, payload, got.Data)
}

func TestSession_CompressedBlocksShrink(t *testing.T) {
	var raw, packed bytes.Buffer
	payload := bytes.Repeat([]byte("ACGT"), 4096)

	w, err := NewWriter(&raw, testHeader, WithLevel(0))
	require.NoError(t, err)
	require.NoError(t, w.WriteContainer(buildContainer(w, 1, payload)))
	require.NoError(t, w.Close())

	w, err = NewWriter(&packed, testHeader, WithLevel(6))
	require.NoError(t, err)
	require.NoError(t, w.WriteContainer(buildContainer(w, 1, payload)))
	require.NoError(t, w.Close())

	assert.Less(t, packed.Len(), raw.Len()/2)
}

func TestSession_Bzip2Blocks(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader, WithBzip2(true))
	require.NoError(t, err)
	payload := bytes.Repeat([]byte("ACGTNNGT"), 512)
	require.NoError(t, w.WriteContainer(buildContainer(w, 1, payload)))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	c, err := r.ReadContainer()
	require.NoError(t, err)

	got := c.Slices[0].BlockByID(format.ExtSeq)
	require.NotNil(t, got)
	assert.Equal(t, format.Bzip2, got.OrigMethod)
	require.NoError(t, got.Decompress())
	assert.Equal(t, payload, got.Data)
}

func TestSession_MultiSeqContainer(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader)
	require.NoError(t, err)

	c := buildContainer(w, 2, []byte("ACGT"))
	c.MultiSeq = true
	require.NoError(t, w.WriteContainer(c))
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	got, err := r.ReadContainer()
	require.NoError(t, err)
	assert.True(t, got.MultiSeq)
	assert.True(t, r.MultiSeq())
}

func TestNewReader_BadMagic(t *testing.T) {
	data := append([]byte("BAM\x01"), make([]byte, 64)...)
	_, err := NewReader(bytes.NewReader(data))
	require.ErrorIs(t, err, errs.ErrBadMagic)
}

func TestNewReader_UnsupportedVersion(t *testing.T) {
	data := append([]byte("CRAM\x03\x00"), make([]byte, 20)...)
	_, err := NewReader(bytes.NewReader(data))
	require.ErrorIs(t, err, errs.ErrUnsupportedVersion)
}

func TestNewReader_TruncatedDefinition(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("CRAM\x02")))
	require.ErrorIs(t, err, errs.ErrTruncated)
}

func TestSession_TruncatedContainer(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader)
	require.NoError(t, err)
	require.NoError(t, w.WriteContainer(buildContainer(w, 1, bytes.Repeat([]byte("ACGT"), 256))))
	require.NoError(t, w.Close())

	// Drop the final byte: the header still parses but the body cannot.
	data := buf.Bytes()[:buf.Len()-1]
	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	_, err = r.ReadContainer()
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrTruncated)
}

func TestNewWriter_FillsM5(t *testing.T) {
	dir := t.TempDir()
	seq := bytes.Repeat([]byte("ACGT"), 25)
	fasta := writeTestFasta(t, dir, "chr1", seq)

	header := []byte("@HD\tVN:1.4\n@SQ\tSN:chr1\tLN:100\tUR:file://" + fasta + "\n")
	var buf bytes.Buffer
	w, err := NewWriter(&buf, header,
		WithRefOptions(refseq.WithCachePath(filepath.Join(dir, "cache", "%s"))))
	require.NoError(t, err)
	defer w.Close()

	assert.Contains(t, string(w.Header()), "\tM5:")
}

func TestWithVersion_RejectsUnknown(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, testHeader, WithVersion(format.MakeVersion(9, 9)))
	require.ErrorIs(t, err, errs.ErrUnsupportedVersion)
}

func writeTestFasta(t *testing.T, dir, name string, seq []byte) string {
	t.Helper()
	path := filepath.Join(dir, name+".fa")
	body := append([]byte(">"+name+"\n"), seq...)
	body = append(body, '\n')
	require.NoError(t, os.WriteFile(path, body, 0o644))

	fai := []byte(name + "\t100\t" + "6" + "\t100\t101\n")
	require.NoError(t, os.WriteFile(path+".fai", fai, 0o644))
	return path
}
