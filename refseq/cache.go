// Package refseq resolves and caches reference sequences for CRAM
// reference-based compression.
//
// Sequences are looked up by dictionary id and served as windows of
// bases. A sequence that is not yet locatable is resolved through a
// chain of strategies: a content-addressed local disk cache keyed by MD5
// digest, then a colon-separated search path of digest-expanded
// templates, then the indexed FASTA file named by the reference's UR
// field.
package refseq

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/strandbio/cram/errs"
	"github.com/strandbio/cram/internal/options"
)

// Reference describes one entry of a reference dictionary as declared in
// a file header: its name, length in bases, MD5 digest of the bases, and
// an optional URI locating the FASTA file that holds it.
type Reference struct {
	Name   string
	Length int64
	M5     string
	UR     string
}

// Entry is the cache's view of one reference sequence. Offset,
// BasesPerLine and LineLength index into the FASTA file Fn; a
// BasesPerLine of zero marks a raw file holding nothing but bases. Seq
// is non-nil while the whole sequence is resident, with Count tracking
// shared holders.
type Entry struct {
	Name         string
	M5           string
	UR           string
	Length       int64
	Offset       int64
	BasesPerLine int64
	LineLength   int64
	Fn           string
	Seq          []byte
	Count        int

	fromCache bool
}

// Cache resolves reference windows on demand and keeps the most recent
// one resident. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries []*Entry
	byName  map[string]int32

	fn string
	f  *os.File

	cachePath  string
	searchPath string
	shared     bool
	unsorted   bool
	log        Logger

	winID    int32
	winStart int64
	winEnd   int64
	winSeq   []byte
}

// Option configures a Cache.
type Option = options.Option[*Cache]

// WithCachePath sets the disk-cache path template. %s expands to the
// sequence's MD5 digest and %Ns to its next N hex digits, so a template
// like dir/%2s/%2s/%s fans sequences out over two directory levels.
func WithCachePath(template string) Option {
	return options.NoError(func(c *Cache) {
		c.cachePath = template
	})
}

// WithSearchPath sets a colon-separated list of path templates searched
// before falling back to each reference's UR field. Templates expand
// like the disk-cache template.
func WithSearchPath(path string) Option {
	return options.NoError(func(c *Cache) {
		c.searchPath = path
	})
}

// WithShared keeps whole sequences resident with reference counting, for
// callers decoding several files against one dictionary.
func WithShared(shared bool) Option {
	return options.NoError(func(c *Cache) {
		c.shared = shared
	})
}

// WithUnsorted marks the access pattern as position-unsorted, which
// pins whole sequences once loaded instead of releasing them on switch.
func WithUnsorted(unsorted bool) Option {
	return options.NoError(func(c *Cache) {
		c.unsorted = unsorted
	})
}

// WithLogger replaces the standard-library logger.
func WithLogger(log Logger) Option {
	return options.NoError(func(c *Cache) {
		c.log = log
	})
}

// NewCache builds a cache over the given reference dictionary. When
// neither option nor environment supplies a cache or search path, the
// REF_CACHE and REF_PATH environment variables are consulted, and
// failing those a per-user hts-ref cache directory is used.
func NewCache(refs []Reference, opts ...Option) (*Cache, error) {
	c := &Cache{
		byName:     make(map[string]int32, len(refs)),
		cachePath:  os.Getenv("REF_CACHE"),
		searchPath: os.Getenv("REF_PATH"),
		log:        DefaultLogger{},
		winID:      -2,
	}
	if err := options.Apply(c, opts...); err != nil {
		return nil, err
	}
	if c.cachePath == "" && c.searchPath == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.cachePath = dir + "/hts-ref/%2s/%2s/%s"
		}
	}
	if c.searchPath == "" {
		c.searchPath = "."
	}
	for i, ref := range refs {
		c.entries = append(c.entries, &Entry{
			Name: ref.Name,
			M5:   ref.M5,
			UR:   ref.UR,
		})
		c.byName[ref.Name] = int32(i)
	}
	return c, nil
}

// NumRefs returns the dictionary size.
func (c *Cache) NumRefs() int { return len(c.entries) }

// ID maps a reference name to its dictionary id, or -1 if unknown.
func (c *Cache) ID(name string) int32 {
	if id, ok := c.byName[name]; ok {
		return id
	}
	return -1
}

// Entry returns the cache entry for id, or nil when out of range.
func (c *Cache) Entry(id int32) *Entry {
	if id < 0 || int(id) >= len(c.entries) {
		return nil
	}
	return c.entries[id]
}

// GetRef returns the reference bases covering the 1-based inclusive
// range [start, end] of sequence id. An end of zero, or one past the
// sequence length, clamps to the length. A negative id releases the
// current window and returns nil.
//
// Requests spanning at least half the sequence, and all requests in
// shared mode, load and retain the whole sequence; smaller requests read
// just the window from the backing FASTA file.
func (c *Cache) GetRef(id int32, start, end int64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id < 0 {
		c.releaseLocked()
		return nil, nil
	}

	if id == c.winID && c.winSeq != nil && start >= c.winStart {
		we := end
		if e := c.Entry(id); e != nil && (we < 1 || we > e.Length) && c.winEnd == e.Length {
			// A zero (or past-the-end) end means through the last base,
			// which the window satisfies when it holds the whole sequence.
			we = e.Length
		}
		if we >= start && we <= c.winEnd {
			return c.winSeq[start-c.winStart : we-c.winStart+1], nil
		}
	}

	e := c.Entry(id)
	if e == nil {
		return nil, fmt.Errorf("reference id %d: %w", id, errs.ErrNoReference)
	}
	if id != c.winID {
		c.releaseLocked()
	}

	if e.Length == 0 {
		if err := c.resolve(e); err != nil {
			return nil, err
		}
		if e.Length == 0 {
			return nil, fmt.Errorf("reference %q: %w", e.Name, errs.ErrNoReference)
		}
	}

	if start < 1 {
		start = 1
	}
	if start > e.Length {
		start = e.Length
	}
	if end < 1 || end > e.Length {
		end = e.Length
	}

	ws, we := start, end
	whole := c.shared || we-ws+1 >= e.Length/2
	if whole {
		ws, we = 1, e.Length
	}

	var seq []byte
	if e.Seq != nil {
		// The window holds one count per entry; take another only when
		// re-establishing over a different sequence.
		if c.shared && c.winID != id {
			e.Count++
		}
		seq = e.Seq
		ws, we = 1, e.Length
	} else {
		var err error
		seq, err = c.readRange(e, ws, we)
		if err != nil {
			return nil, err
		}
		if whole && (c.unsorted || c.shared) {
			e.Seq = seq
			e.Count = 1
		}
		if whole && !e.fromCache && c.cachePath != "" && e.M5 != "" {
			c.saveToDiskCache(e, seq)
		}
	}

	c.winID, c.winStart, c.winEnd, c.winSeq = id, ws, we, seq
	return seq[start-ws : end-ws+1], nil
}

// MD5 returns the lowercase hex MD5 digest of the whole sequence,
// computing and recording it if the dictionary did not declare one.
func (c *Cache) MD5(id int32) (string, error) {
	e := c.Entry(id)
	if e == nil {
		return "", fmt.Errorf("reference id %d: %w", id, errs.ErrNoReference)
	}
	if e.M5 != "" {
		return e.M5, nil
	}
	seq, err := c.GetRef(id, 1, 0)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(seq)
	e.M5 = hex.EncodeToString(sum[:])
	return e.M5, nil
}

// RefIncr adds a holder to the resident sequence for id. Sessions
// sharing one cache take a holder each; the sequence stays resident
// until every holder releases it.
func (c *Cache) RefIncr(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.Entry(id); e != nil && e.Seq != nil {
		e.Count++
	}
}

// RefDecr drops one holder of the resident sequence for id, releasing
// the bases when the last holder leaves (unless unsorted mode pins them).
func (c *Cache) RefDecr(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.Entry(id)
	if e == nil || e.Count == 0 {
		return
	}
	e.Count--
	if e.Count == 0 && !c.unsorted {
		e.Seq = nil
		if c.winID == id {
			c.winID, c.winStart, c.winEnd, c.winSeq = -2, 0, 0, nil
		}
	}
}

// Release drops the current window, decrementing the shared holder count
// of its sequence.
func (c *Cache) Release() {
	c.mu.Lock()
	c.releaseLocked()
	c.mu.Unlock()
}

// Close releases the window and the open FASTA handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releaseLocked()
	if c.f != nil {
		err := c.f.Close()
		c.f, c.fn = nil, ""
		return err
	}
	return nil
}

func (c *Cache) releaseLocked() {
	if c.winID >= 0 && c.shared {
		if e := c.Entry(c.winID); e != nil && e.Count > 0 {
			e.Count--
			if e.Count == 0 && !c.unsorted {
				e.Seq = nil
			}
		}
	}
	c.winID, c.winStart, c.winEnd, c.winSeq = -2, 0, 0, nil
}

// lookupResult tags the outcome of one resolution strategy: the entry was
// located, or this strategy has nothing for it and the next should run.
// Hard failures travel as errors alongside.
type lookupResult int

const (
	lookupFound lookupResult = iota
	lookupMissing
)

func (c *Cache) resolve(e *Entry) error {
	strategies := []func(*Entry) (lookupResult, error){
		c.fromDiskCache,
		c.fromSearchPath,
		c.fromIndexedFasta,
	}
	for _, s := range strategies {
		res, err := s(e)
		if err != nil {
			return err
		}
		if res == lookupFound {
			return nil
		}
	}
	return fmt.Errorf("reference %q: %w", e.Name, errs.ErrNoReference)
}

// fromDiskCache checks the content-addressed disk cache. Cache files are
// raw bases, so the length is the file size and no line geometry applies.
func (c *Cache) fromDiskCache(e *Entry) (lookupResult, error) {
	if c.cachePath == "" || e.M5 == "" {
		return lookupMissing, nil
	}
	path := expandCachePath(c.cachePath, e.M5)
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return lookupMissing, nil
	}
	e.Fn = path
	e.Offset = 0
	e.Length = st.Size()
	e.BasesPerLine = 0
	e.LineLength = 0
	e.fromCache = true
	return lookupFound, nil
}

// fromSearchPath tries each search-path template in turn, loading the
// whole raw sequence and verifying it against the declared digest. A
// verified sequence is written through to the disk cache.
func (c *Cache) fromSearchPath(e *Entry) (lookupResult, error) {
	if c.searchPath == "" || e.M5 == "" {
		return lookupMissing, nil
	}
	for _, tmpl := range strings.Split(c.searchPath, ":") {
		if tmpl == "" {
			continue
		}
		path := expandCachePath(tmpl, e.M5)
		seq, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		sum := md5.Sum(seq)
		if hex.EncodeToString(sum[:]) != e.M5 {
			c.log.Errorf("refseq: %s does not match digest %s for %q, skipping",
				path, e.M5, e.Name)
			continue
		}
		e.Fn = path
		e.Offset = 0
		e.Length = int64(len(seq))
		e.BasesPerLine = 0
		e.LineLength = 0
		e.Seq = seq
		e.Count = 1
		if c.cachePath != "" {
			c.saveToDiskCache(e, seq)
		}
		return lookupFound, nil
	}
	return lookupMissing, nil
}

// fromIndexedFasta loads the FASTA index next to the file named by the
// entry's UR field and merges its records into every entry they name, so
// one index read resolves the whole dictionary.
func (c *Cache) fromIndexedFasta(e *Entry) (lookupResult, error) {
	if e.UR == "" {
		return lookupMissing, nil
	}
	fn := strings.TrimPrefix(e.UR, "file://")
	records, err := LoadFai(fn + ".fai")
	if err != nil {
		return lookupMissing, fmt.Errorf("reference %q: %w", e.Name, err)
	}
	for _, other := range c.entries {
		rec, ok := records[other.Name]
		if !ok || other.Length != 0 {
			continue
		}
		other.Length = rec.Length
		other.Offset = rec.Offset
		other.BasesPerLine = rec.BasesPerLine
		other.LineLength = rec.LineLength
		other.Fn = fn
	}
	if e.Length == 0 {
		return lookupMissing, nil
	}
	return lookupFound, nil
}

// readRange reads bases [start, end] from the entry's backing file. A
// span crossing line boundaries is stripped of line breaks and
// upper-cased; a span already holding exactly the requested bases is
// served verbatim, keeping any soft-masking. The open-file slot is
// reused across calls hitting the same file.
func (c *Cache) readRange(e *Entry, start, end int64) ([]byte, error) {
	if e.Fn == "" {
		return nil, fmt.Errorf("reference %q: %w", e.Name, errs.ErrNoReference)
	}
	if c.f == nil || c.fn != e.Fn {
		if c.f != nil {
			c.f.Close()
		}
		f, err := os.Open(e.Fn)
		if err != nil {
			return nil, fmt.Errorf("opening reference %q: %w", e.Name, err)
		}
		c.f, c.fn = f, e.Fn
	}

	var first, last int64
	if e.BasesPerLine > 0 {
		first = e.Offset + (start-1)/e.BasesPerLine*e.LineLength + (start-1)%e.BasesPerLine
		last = e.Offset + (end-1)/e.BasesPerLine*e.LineLength + (end-1)%e.BasesPerLine
	} else {
		first = e.Offset + start - 1
		last = e.Offset + end - 1
	}

	raw := make([]byte, last-first+1)
	n, err := c.f.ReadAt(raw, first)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading reference %q: %w", e.Name, err)
	}
	raw = raw[:n]

	if int64(len(raw)) == end-start+1 {
		return raw, nil
	}
	seq := raw[:0]
	for _, ch := range raw {
		if ch >= '!' && ch <= '~' {
			seq = append(seq, ch&^0x20)
		}
	}
	if int64(len(seq)) != end-start+1 {
		return nil, fmt.Errorf("reference %q: %d bases in range [%d,%d], expected %d: %w",
			e.Name, len(seq), start, end, end-start+1, errs.ErrMalformedReference)
	}
	return seq, nil
}
