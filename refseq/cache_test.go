package refseq

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandbio/cram/errs"
)

// writeFasta writes a single-sequence FASTA file plus its .fai index and
// returns the FASTA path.
func writeFasta(t *testing.T, dir, name string, seq []byte, bpl int) string {
	t.Helper()
	path := filepath.Join(dir, name+".fa")

	var buf bytes.Buffer
	buf.WriteString(">" + name + "\n")
	offset := int64(buf.Len())
	for i := 0; i < len(seq); i += bpl {
		end := i + bpl
		if end > len(seq) {
			end = len(seq)
		}
		buf.Write(seq[i:end])
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	fai := []byte(name + "\t" +
		itoa(int64(len(seq))) + "\t" + itoa(offset) + "\t" +
		itoa(int64(bpl)) + "\t" + itoa(int64(bpl+1)) + "\n")
	require.NoError(t, os.WriteFile(path+".fai", fai, 0o644))
	return path
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}

func testSeq(n int) []byte {
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = "ACGT"[i%4]
	}
	return seq
}

func digestOf(seq []byte) string {
	sum := md5.Sum(seq)
	return hex.EncodeToString(sum[:])
}

func faCache(t *testing.T, seq []byte, opts ...Option) *Cache {
	t.Helper()
	dir := t.TempDir()
	path := writeFasta(t, dir, "chr1", seq, 10)
	refs := []Reference{{Name: "chr1", UR: "file://" + path}}
	opts = append([]Option{WithCachePath(filepath.Join(dir, "cache", "%s"))}, opts...)
	c, err := NewCache(refs, opts...)
	require.NoError(t, err)
	return c
}

func TestLoadFai(t *testing.T) {
	dir := t.TempDir()
	writeFasta(t, dir, "chr1", testSeq(100), 10)

	records, err := LoadFai(filepath.Join(dir, "chr1.fa.fai"))
	require.NoError(t, err)
	rec, ok := records["chr1"]
	require.True(t, ok)
	assert.Equal(t, int64(100), rec.Length)
	assert.Equal(t, int64(6), rec.Offset)
	assert.Equal(t, int64(10), rec.BasesPerLine)
	assert.Equal(t, int64(11), rec.LineLength)
}

func TestLoadFai_Malformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.fai")
	require.NoError(t, os.WriteFile(path, []byte("chr1\t100\t6\n"), 0o644))

	_, err := LoadFai(path)
	require.ErrorIs(t, err, errs.ErrMalformedReference)
}

func TestFromSAMHeader(t *testing.T) {
	header := []byte("@HD\tVN:1.4\tSO:coordinate\n" +
		"@SQ\tSN:chr1\tLN:248956422\tM5:aabbcc\tUR:file:///ref/chr1.fa\n" +
		"@SQ\tSN:chr2\tLN:242193529\n" +
		"@RG\tID:rg1\n")

	refs := FromSAMHeader(header)
	require.Len(t, refs, 2)
	assert.Equal(t, "chr1", refs[0].Name)
	assert.Equal(t, int64(248956422), refs[0].Length)
	assert.Equal(t, "aabbcc", refs[0].M5)
	assert.Equal(t, "file:///ref/chr1.fa", refs[0].UR)
	assert.Equal(t, "chr2", refs[1].Name)
	assert.Empty(t, refs[1].M5)
}

func TestExpandCachePath(t *testing.T) {
	digest := "0123456789abcdef"

	assert.Equal(t, "/cache/0123456789abcdef", expandCachePath("/cache/%s", digest))
	assert.Equal(t, "/cache/01/23/456789abcdef", expandCachePath("/cache/%2s/%2s/%s", digest))
	assert.Equal(t, "/cache/0123456789abcdef", expandCachePath("/cache", digest))
	assert.Equal(t, "/cache/100%/0123456789abcdef", expandCachePath("/cache/100%%/%s", digest))
}

func TestCache_GetRefWindow(t *testing.T) {
	seq := testSeq(100)
	c := faCache(t, seq)
	defer c.Close()

	// Under half the sequence: only the window is read from disk.
	got, err := c.GetRef(0, 11, 20)
	require.NoError(t, err)
	assert.Equal(t, seq[10:20], got)
	assert.Nil(t, c.Entry(0).Seq, "small windows are not retained")

	// A sub-window of the resident window is served without I/O.
	got, err = c.GetRef(0, 12, 15)
	require.NoError(t, err)
	assert.Equal(t, seq[11:15], got)
}

func TestCache_GetRefWholeSequence(t *testing.T) {
	seq := testSeq(100)
	c := faCache(t, seq)
	defer c.Close()

	got, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq, got)

	// Range wider than half loads the whole sequence too.
	got, err = c.GetRef(0, 1, 60)
	require.NoError(t, err)
	assert.Equal(t, seq[:60], got)
}

func TestCache_GetRefClamps(t *testing.T) {
	seq := testSeq(100)
	c := faCache(t, seq)
	defer c.Close()

	got, err := c.GetRef(0, 91, 400)
	require.NoError(t, err)
	assert.Equal(t, seq[90:], got)
}

func TestCache_GetRefLowercaseFasta(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "chr1", []byte("acgtacgtacgtacgtacgt"), 8)
	c, err := NewCache([]Reference{{Name: "chr1", UR: path}},
		WithCachePath(filepath.Join(dir, "cache", "%s")))
	require.NoError(t, err)
	defer c.Close()

	// A window within one line is served verbatim, soft-masking intact.
	got, err := c.GetRef(0, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("acgtacgt"), got)

	// Crossing a line break forces the strip pass, which upper-cases.
	got, err = c.GetRef(0, 1, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("ACGTACGTACGT"), got)
}

func TestCache_DiskCacheKeepsSoftMasking(t *testing.T) {
	dir := t.TempDir()
	seq := []byte("acgtacgtacgtacgtacgt")
	digest := digestOf(seq)
	cacheTmpl := filepath.Join(dir, "cache", "%s")
	cached := expandCachePath(cacheTmpl, digest)
	require.NoError(t, os.MkdirAll(filepath.Dir(cached), 0o755))
	require.NoError(t, os.WriteFile(cached, seq, 0o644))

	c, err := NewCache([]Reference{{Name: "chr1", M5: digest}},
		WithCachePath(cacheTmpl))
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetRef(0, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("acgt"), got, "raw cache files carry bases as stored")
}

func TestCache_ReleaseAndNegativeID(t *testing.T) {
	c := faCache(t, testSeq(100), WithUnsorted(true))
	defer c.Close()

	_, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	assert.NotNil(t, c.Entry(0).Seq, "unsorted mode pins whole sequences")

	got, err := c.GetRef(-1, 0, 0)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotNil(t, c.Entry(0).Seq, "unsorted pins survive release")
}

func TestCache_UnknownID(t *testing.T) {
	c := faCache(t, testSeq(100))
	defer c.Close()

	_, err := c.GetRef(7, 1, 10)
	require.ErrorIs(t, err, errs.ErrNoReference)
}

func TestCache_MalformedIndexLength(t *testing.T) {
	dir := t.TempDir()
	path := writeFasta(t, dir, "chr1", testSeq(100), 10)
	// Rewrite the index claiming 120 bases the file does not have.
	fai := []byte("chr1\t120\t6\t10\t11\n")
	require.NoError(t, os.WriteFile(path+".fai", fai, 0o644))

	c, err := NewCache([]Reference{{Name: "chr1", UR: path}},
		WithCachePath(filepath.Join(dir, "cache", "%s")))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetRef(0, 1, 0)
	require.ErrorIs(t, err, errs.ErrMalformedReference)
}

func TestCache_SharedRefCounting(t *testing.T) {
	dir := t.TempDir()
	seq1, seq2 := testSeq(100), testSeq(60)
	p1 := writeFasta(t, dir, "chr1", seq1, 10)
	writeFasta(t, dir, "chr2", seq2, 10)

	refs := []Reference{
		{Name: "chr1", UR: p1},
		{Name: "chr2", UR: filepath.Join(dir, "chr2.fa")},
	}
	c, err := NewCache(refs, WithShared(true),
		WithCachePath(filepath.Join(dir, "cache", "%s")))
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq1, got)
	assert.Equal(t, 1, c.Entry(0).Count)

	// Switching sequences releases the previous holder.
	got, err = c.GetRef(1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq2, got)
	assert.Zero(t, c.Entry(0).Count)
	assert.Nil(t, c.Entry(0).Seq, "unheld shared sequences are dropped")
	assert.Equal(t, 1, c.Entry(1).Count)
}

func TestCache_SharedWholeSequenceRepeats(t *testing.T) {
	seq := testSeq(100)
	c := faCache(t, seq, WithShared(true))
	defer c.Close()

	for i := 0; i < 3; i++ {
		got, err := c.GetRef(0, 1, 0)
		require.NoError(t, err)
		require.Equal(t, seq, got)
	}
	assert.Equal(t, 1, c.Entry(0).Count, "repeat whole-sequence requests add no holders")

	c.Release()
	assert.Zero(t, c.Entry(0).Count)
	assert.Nil(t, c.Entry(0).Seq, "releasing the last holder frees the bases")
}

func TestCache_RefIncrDecr(t *testing.T) {
	c := faCache(t, testSeq(100), WithShared(true))
	defer c.Close()

	_, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, 1, c.Entry(0).Count)

	// A second holder keeps the sequence alive past the first release.
	c.RefIncr(0)
	assert.Equal(t, 2, c.Entry(0).Count)

	c.RefDecr(0)
	assert.NotNil(t, c.Entry(0).Seq, "one holder remains")

	c.RefDecr(0)
	assert.Nil(t, c.Entry(0).Seq, "last release drops the bases")
	assert.Zero(t, c.Entry(0).Count)
}

func TestCache_DiskCachePopulation(t *testing.T) {
	dir := t.TempDir()
	seq := testSeq(200)
	path := writeFasta(t, dir, "chr1", seq, 25)
	cacheTmpl := filepath.Join(dir, "cache", "%2s", "%s")

	refs := []Reference{{Name: "chr1", M5: digestOf(seq), UR: path}}
	c, err := NewCache(refs, WithCachePath(cacheTmpl))
	require.NoError(t, err)

	got, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, seq, got)
	require.NoError(t, c.Close())

	cached := expandCachePath(cacheTmpl, digestOf(seq))
	data, err := os.ReadFile(cached)
	require.NoError(t, err, "whole-sequence loads populate the disk cache")
	assert.Equal(t, seq, data)

	st, err := os.Stat(cached)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), st.Mode().Perm(), "cache files are read-only")

	// A fresh cache with no UR resolves straight from the disk cache.
	c2, err := NewCache([]Reference{{Name: "chr1", M5: digestOf(seq)}},
		WithCachePath(cacheTmpl))
	require.NoError(t, err)
	defer c2.Close()

	got, err = c2.GetRef(0, 41, 60)
	require.NoError(t, err)
	assert.Equal(t, seq[40:60], got)
	assert.True(t, c2.Entry(0).fromCache)
}

func TestCache_SearchPath(t *testing.T) {
	dir := t.TempDir()
	seq := testSeq(150)
	digest := digestOf(seq)

	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, digest), seq, 0o644))

	c, err := NewCache([]Reference{{Name: "chr1", M5: digest}},
		WithSearchPath(filepath.Join(dir, "missing", "%s")+":"+filepath.Join(repo, "%s")),
		WithCachePath(filepath.Join(dir, "cache", "%s")))
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetRef(0, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, seq, got)

	// The verified sequence is written through to the disk cache.
	_, err = os.Stat(expandCachePath(filepath.Join(dir, "cache", "%s"), digest))
	assert.NoError(t, err)
}

func TestCache_SearchPathRejectsDigestMismatch(t *testing.T) {
	dir := t.TempDir()
	seq := testSeq(150)
	digest := digestOf(seq)

	repo := filepath.Join(dir, "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, digest), []byte("WRONG"), 0o644))

	c, err := NewCache([]Reference{{Name: "chr1", M5: digest}},
		WithSearchPath(filepath.Join(repo, "%s")),
		WithCachePath(filepath.Join(dir, "cache", "%s")))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetRef(0, 1, 0)
	require.ErrorIs(t, err, errs.ErrNoReference)
}

func TestCache_MD5(t *testing.T) {
	seq := testSeq(100)
	c := faCache(t, seq)
	defer c.Close()

	digest, err := c.MD5(0)
	require.NoError(t, err)
	assert.Equal(t, digestOf(seq), digest)
	assert.Equal(t, digest, c.Entry(0).M5, "computed digests are recorded")
}

func TestCache_ID(t *testing.T) {
	c := faCache(t, testSeq(100))
	defer c.Close()

	assert.Equal(t, int32(0), c.ID("chr1"))
	assert.Equal(t, int32(-1), c.ID("chrMT"))
	assert.Equal(t, 1, c.NumRefs())
}
