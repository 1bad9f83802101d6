package refseq

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// expandCachePath substitutes the digest into a path template. %Ns
// consumes the next N digest characters, %s the remainder, and %%
// a literal percent. Digest characters left after the last verb are
// appended, and a template with no verb at all gets the digest as a
// final path component.
func expandCachePath(template, digest string) string {
	sawVerb := false
	out := make([]byte, 0, len(template)+len(digest)+1)
	for i := 0; i < len(template); i++ {
		if template[i] != '%' || i+1 == len(template) {
			out = append(out, template[i])
			continue
		}
		i++
		n := 0
		for i < len(template) && template[i] >= '0' && template[i] <= '9' {
			n = n*10 + int(template[i]-'0')
			i++
		}
		switch {
		case i < len(template) && template[i] == 's':
			if n == 0 || n > len(digest) {
				n = len(digest)
			}
			out = append(out, digest[:n]...)
			digest = digest[n:]
			sawVerb = true
		case i < len(template) && template[i] == '%':
			out = append(out, '%')
		default:
			out = append(out, '%')
			if i < len(template) {
				out = append(out, template[i])
			}
		}
	}
	if !sawVerb && len(digest) > 0 && len(out) > 0 && out[len(out)-1] != filepath.Separator {
		out = append(out, filepath.Separator)
	}
	return string(append(out, digest...))
}

// mkdirPrefix creates every directory leading up to path. Cache
// directories are world-writable with the sticky bit so multiple users
// can share one cache tree.
func mkdirPrefix(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0o777|os.ModeSticky)
}

// saveToDiskCache writes a verified whole sequence into the disk cache.
// The sequence lands under a temporary name, is synced and made
// read-only, then renamed into place so concurrent readers only ever see
// complete files. Failure is logged and swallowed: the sequence in hand
// is still good.
func (c *Cache) saveToDiskCache(e *Entry, seq []byte) {
	path := expandCachePath(c.cachePath, e.M5)
	if err := mkdirPrefix(path); err != nil {
		c.log.Errorf("refseq: creating cache directory for %s: %v", path, err)
		return
	}

	var f *os.File
	var tmp string
	for i := 0; ; i++ {
		tmp = fmt.Sprintf("%s.tmp_%d", path, i)
		var err error
		f, err = os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			c.log.Errorf("refseq: creating cache file %s: %v", tmp, err)
			return
		}
	}

	if err := writeCacheFile(f, seq); err != nil {
		c.log.Errorf("refseq: writing cache file %s: %v", tmp, err)
		os.Remove(tmp)
		return
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		c.log.Errorf("refseq: setting cache file mode %s: %v", tmp, err)
		os.Remove(tmp)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		c.log.Errorf("refseq: installing cache file %s: %v", path, err)
		os.Remove(tmp)
		return
	}
	c.log.Infof("refseq: cached %q as %s", e.Name, path)
}

// writeCacheFile writes seq and syncs before close, so a rename never
// publishes data the kernel has not accepted.
func writeCacheFile(f *os.File, seq []byte) error {
	if _, err := f.Write(seq); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
