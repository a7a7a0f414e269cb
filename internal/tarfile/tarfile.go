// Package tarfile wraps the standard library's archive/tar (already aware
// of GNU long names and base-256 size encoding) with a Sink abstraction so
// a data.tar member can be drained either onto disk (package installation)
// or into memory (the control.tar member, which callers need as structured
// fields rather than files).
package tarfile

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sink receives extracted tar entries one at a time. BeginItem is called
// once a header is read; ProcessBytes delivers the entry's payload (for
// regular files only); FinishItem closes out the entry; Fail is called
// instead of FinishItem if extraction must abort partway through an entry.
type Sink interface {
	BeginItem(hdr *tar.Header) error
	ProcessBytes(hdr *tar.Header, r io.Reader) (written int64, err error)
	FinishItem(hdr *tar.Header) error
	Fail(hdr *tar.Header, cause error)
}

// Extract walks every entry in r and drives sink, dispatching through the
// Sink interface instead of a single hardcoded os.* implementation.
func Extract(r io.Reader, sink Sink) (files, dirs, symlinks int, err error) {
	tr := tar.NewReader(r)
	for {
		hdr, terr := tr.Next()
		if terr == io.EOF {
			break
		}
		if terr != nil {
			return files, dirs, symlinks, fmt.Errorf("tarfile: reading entry: %w", terr)
		}

		cleanName := strings.TrimPrefix(hdr.Name, "./")
		if cleanName == "" || cleanName == "." {
			continue
		}
		hdr.Name = cleanName

		if err := sink.BeginItem(hdr); err != nil {
			sink.Fail(hdr, err)
			return files, dirs, symlinks, fmt.Errorf("tarfile: beginning %s: %w", hdr.Name, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			dirs++
		case tar.TypeSymlink, tar.TypeLink:
			symlinks++
		case tar.TypeReg:
			written, werr := sink.ProcessBytes(hdr, tr)
			if werr != nil {
				sink.Fail(hdr, werr)
				return files, dirs, symlinks, fmt.Errorf("tarfile: writing %s: %w", hdr.Name, werr)
			}
			if written != hdr.Size {
				err := fmt.Errorf("tarfile: size mismatch for %s: wrote %d, header says %d", hdr.Name, written, hdr.Size)
				sink.Fail(hdr, err)
				return files, dirs, symlinks, err
			}
			files++
		default:
			// Device nodes, FIFOs and the like: record the entry but do not
			// count it under files/dirs/symlinks.
		}

		if err := sink.FinishItem(hdr); err != nil {
			return files, dirs, symlinks, fmt.Errorf("tarfile: finishing %s: %w", hdr.Name, err)
		}
	}
	return files, dirs, symlinks, nil
}

// DiskSink extracts entries onto the filesystem rooted at Root.
type DiskSink struct {
	Root string

	current *os.File
}

// NewDiskSink returns a Sink that writes files under root.
func NewDiskSink(root string) *DiskSink {
	return &DiskSink{Root: root}
}

func (d *DiskSink) targetPath(hdr *tar.Header) string {
	return filepath.Join(d.Root, hdr.Name)
}

func (d *DiskSink) BeginItem(hdr *tar.Header) error {
	target := d.targetPath(hdr)
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, os.FileMode(hdr.Mode)|0755)
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(hdr.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		d.current = f
		return nil
	default:
		return nil
	}
}

func (d *DiskSink) ProcessBytes(hdr *tar.Header, r io.Reader) (int64, error) {
	if d.current == nil {
		return 0, fmt.Errorf("tarfile: no open file for %s", hdr.Name)
	}
	return io.Copy(d.current, r)
}

func (d *DiskSink) FinishItem(hdr *tar.Header) error {
	if d.current == nil {
		return nil
	}
	err := d.current.Close()
	d.current = nil
	if err == nil && !hdr.ModTime.IsZero() {
		err = os.Chtimes(d.targetPath(hdr), hdr.ModTime, hdr.ModTime)
	}
	return err
}

func (d *DiskSink) Fail(hdr *tar.Header, cause error) {
	if d.current != nil {
		d.current.Close()
		os.Remove(d.targetPath(hdr))
		d.current = nil
	}
}

// MemoryEntry is one file captured by a MemorySink.
type MemoryEntry struct {
	Header *tar.Header
	Data   []byte
}

// MemorySink collects every regular-file entry into memory, used to read a
// control.tar member (control, md5sums, maintainer scripts) without
// touching disk.
type MemorySink struct {
	Entries []MemoryEntry

	buf strings.Builder
	cur *tar.Header
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) BeginItem(hdr *tar.Header) error {
	m.cur = hdr
	m.buf.Reset()
	return nil
}

func (m *MemorySink) ProcessBytes(hdr *tar.Header, r io.Reader) (int64, error) {
	return io.Copy(&m.buf, r)
}

func (m *MemorySink) FinishItem(hdr *tar.Header) error {
	if hdr.Typeflag == tar.TypeReg {
		data := make([]byte, m.buf.Len())
		copy(data, m.buf.String())
		m.Entries = append(m.Entries, MemoryEntry{Header: hdr, Data: data})
	}
	m.cur = nil
	return nil
}

func (m *MemorySink) Fail(hdr *tar.Header, cause error) {
	m.cur = nil
}

// Find returns the data for the entry whose name equals name.
func (m *MemorySink) Find(name string) ([]byte, bool) {
	for _, e := range m.Entries {
		if e.Header.Name == name || e.Header.Name == "./"+name {
			return e.Data, true
		}
	}
	return nil, false
}
