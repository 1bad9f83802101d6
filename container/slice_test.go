package container

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandbio/cram/block"
	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/format"
)

func readerFor(data []byte) block.Reader {
	return bufio.NewReader(bytes.NewReader(data))
}

func extBlock(id int32, payload string) *block.Block {
	b := block.New(format.External, id)
	b.Append([]byte(payload))
	return b
}

func TestSliceHeader_RoundTrip(t *testing.T) {
	hdr := &SliceHeader{
		ContentType:   format.MappedSlice,
		RefSeqID:      2,
		RefSeqStart:   1000,
		RefSeqSpan:    500,
		NumRecords:    100,
		RecordCounter: 4096,
		NumBlocks:     3,
		ContentIDs:    []int32{0, 1, 4},
		RefBaseID:     -1,
	}

	for _, version := range []format.Version{format.V1_0, format.V2_0} {
		t.Run(version.String(), func(t *testing.T) {
			hb := block.New(format.MappedSlice, 0)
			hb.Append(hdr.Append(nil, version))

			got, err := decodeSliceHeader(hb, version)
			require.NoError(t, err)
			assert.Equal(t, hdr.RefSeqID, got.RefSeqID)
			assert.Equal(t, hdr.RefSeqStart, got.RefSeqStart)
			assert.Equal(t, hdr.RefSeqSpan, got.RefSeqSpan)
			assert.Equal(t, hdr.NumRecords, got.NumRecords)
			assert.Equal(t, hdr.ContentIDs, got.ContentIDs)
			assert.Equal(t, hdr.RefBaseID, got.RefBaseID)
			if version.Legacy() {
				assert.Zero(t, got.RecordCounter, "legacy headers carry no record counter")
			} else {
				assert.Equal(t, hdr.RecordCounter, got.RecordCounter)
			}
		})
	}
}

func TestSlice_RoundTrip(t *testing.T) {
	s := NewSlice(format.MappedSlice, 16)
	s.Hdr.RefSeqID = 1
	s.Hdr.RefSeqStart = 100
	s.Hdr.RefSeqSpan = 50
	s.Hdr.NumRecords = 16
	s.AttachBlock(extBlock(format.ExtSeq, "ACGTACGT"))
	s.AttachBlock(extBlock(format.ExtQual, "IIIIIIII"))
	s.buildHeaderBlock(format.V2_0)

	var buf bytes.Buffer
	require.NoError(t, s.HdrBlock.WriteTo(&buf))
	for _, b := range s.Blocks {
		require.NoError(t, b.WriteTo(&buf))
	}
	assert.Equal(t, s.wireSize(), int32(buf.Len()))

	got, err := ReadSlice(readerFor(buf.Bytes()), format.V2_0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Hdr.NumBlocks)
	assert.Equal(t, []int32{format.ExtSeq, format.ExtQual}, got.Hdr.ContentIDs)
	assert.Equal(t, s.Hdr.RefSeqStart, got.LastAPos)

	seq := got.BlockByID(format.ExtSeq)
	require.NotNil(t, seq)
	assert.Equal(t, []byte("ACGTACGT"), seq.Data)
	assert.Nil(t, got.BlockByID(99))
}

func TestReadSlice_RejectsWrongHeaderType(t *testing.T) {
	b := block.New(format.External, 0)
	b.Append([]byte("not a slice header"))

	var buf bytes.Buffer
	require.NoError(t, b.WriteTo(&buf))

	_, err := ReadSlice(readerFor(buf.Bytes()), format.V2_0)
	require.ErrorIs(t, err, errs.ErrUnexpectedContentType)
}

func TestSlice_BlockByID_LargeIDsFallBackToScan(t *testing.T) {
	s := NewSlice(format.MappedSlice, 4)
	s.Hdr.NumRecords = 4
	s.AttachBlock(extBlock(100000, "payload"))
	s.buildHeaderBlock(format.V2_0)

	var buf bytes.Buffer
	require.NoError(t, s.HdrBlock.WriteTo(&buf))
	for _, b := range s.Blocks {
		require.NoError(t, b.WriteTo(&buf))
	}

	got, err := ReadSlice(readerFor(buf.Bytes()), format.V2_0)
	require.NoError(t, err)
	assert.Nil(t, got.blockByID, "large content ids disable the sparse index")
	require.NotNil(t, got.BlockByID(100000))
	assert.Nil(t, got.BlockByID(1))
}

func TestSlice_PairRecord(t *testing.T) {
	s := NewSlice(format.MappedSlice, 8)

	_, found := s.PairRecord([]byte("read/1"), 0)
	assert.False(t, found, "first sighting of a name stores it")

	mate, found := s.PairRecord([]byte("read/1"), 5)
	require.True(t, found)
	assert.Equal(t, int32(0), mate)

	// The pairing entry is consumed; a third record starts over.
	_, found = s.PairRecord([]byte("read/1"), 9)
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	st := NewStats()
	for _, v := range []int32{5, -3, 5, 12, 5} {
		st.Add(v)
	}

	assert.Equal(t, int64(5), st.NumVals)
	assert.Equal(t, int32(-3), st.Min)
	assert.Equal(t, int32(12), st.Max)
	assert.Equal(t, 3, st.Distinct())
	assert.Equal(t, int64(3), st.Freq[5])
}
