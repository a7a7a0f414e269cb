// Package mmapfile wraps golang.org/x/exp/mmap for the package cache's
// read path and provides the growable writer the cache generator builds
// into. Consumers open the finished cache memory-mapped read-only; the
// generator appends into an in-memory arena that doubles on overflow and is
// written out and atomically renamed into place on Close, standing in for
// the original grow-by-remap discipline without a writable-mmap dependency.
package mmapfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/exp/mmap"
)

// Reader is a memory-mapped read-only view of a file.
type Reader struct {
	r    *mmap.ReaderAt
	path string
}

// Open maps path read-only.
func Open(path string) (*Reader, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: mapping %s: %w", path, err)
	}
	return &Reader{r: r, path: path}, nil
}

// Len returns the mapped size in bytes.
func (r *Reader) Len() int { return r.r.Len() }

// Path returns the mapped file's path.
func (r *Reader) Path() string { return r.path }

// ReadAt implements io.ReaderAt over the mapping.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	return r.r.ReadAt(p, off)
}

// Bytes copies n bytes starting at off out of the mapping. Records in the
// cache are small and fixed-size, so the copy is cheap; it also keeps
// decoded values valid after Close.
func (r *Reader) Bytes(off uint32, n int) ([]byte, error) {
	if int64(off)+int64(n) > int64(r.r.Len()) {
		return nil, fmt.Errorf("mmapfile: read [%d,%d) beyond mapped size %d", off, int64(off)+int64(n), r.r.Len())
	}
	buf := make([]byte, n)
	if _, err := r.r.ReadAt(buf, int64(off)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close unmaps the file.
func (r *Reader) Close() error { return r.r.Close() }

// Writer is the generator-side growable arena. Offsets handed out by
// Allocate are stable for the life of the Writer (the backing slice may
// move, offsets do not).
type Writer struct {
	buf  []byte
	path string
}

// NewWriter returns an arena that will be persisted to path on Close.
// initial is the starting capacity; the arena doubles whenever an
// allocation would overflow it.
func NewWriter(path string, initial int) *Writer {
	if initial < 4096 {
		initial = 4096
	}
	return &Writer{buf: make([]byte, 0, initial), path: path}
}

// Size returns the number of allocated bytes.
func (w *Writer) Size() uint32 { return uint32(len(w.buf)) }

// Allocate reserves n zeroed bytes and returns their offset.
func (w *Writer) Allocate(n int) uint32 {
	off := len(w.buf)
	for cap(w.buf)-len(w.buf) < n {
		grown := make([]byte, len(w.buf), cap(w.buf)*2)
		copy(grown, w.buf)
		w.buf = grown
	}
	w.buf = w.buf[:off+n]
	return uint32(off)
}

// Bytes returns the live slice for [off, off+n). The slice aliases the
// arena and is invalidated by the next Allocate.
func (w *Writer) Bytes(off uint32, n int) []byte {
	return w.buf[off : int(off)+n]
}

// WriteAt copies p into the arena at off, which must already be allocated.
func (w *Writer) WriteAt(p []byte, off uint32) {
	copy(w.buf[off:], p)
}

// Close writes the arena to a temporary file beside the target and renames
// it into place, so readers never observe a half-written cache.
func (w *Writer) Close() error {
	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(w.path)+".new-*")
	if err != nil {
		return fmt.Errorf("mmapfile: creating temp for %s: %w", w.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(w.buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mmapfile: writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("mmapfile: syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("mmapfile: renaming into place: %w", err)
	}
	return nil
}

// Discard abandons the arena without writing anything.
func (w *Writer) Discard() { w.buf = nil }
