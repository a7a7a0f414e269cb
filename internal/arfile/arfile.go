// Package arfile implements the Debian "!<arch>" ar container codec used to
// read and write .deb packages: three members (debian-binary, a control
// tar, a data tar), read with github.com/blakesmith/ar and extended here
// with member lookup by name, the common-format 2-byte alignment padding,
// and BSD-style "#1/<len>" long-name decoding that blakesmith/ar leaves to
// the caller.
package arfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"
)

// Member describes one entry of an ar archive after long-name resolution.
type Member struct {
	Name string
	Size int64
	Mode int64
}

// Reader walks the members of a ".deb"-style ar archive, resolving
// BSD #1/<len> long names transparently.
type Reader struct {
	ar  *ar.Reader
	cur *ar.Header
}

// NewReader wraps r for member-at-a-time reading.
func NewReader(r io.Reader) *Reader {
	return &Reader{ar: ar.NewReader(r)}
}

// Next advances to the next member and returns its resolved header.
func (r *Reader) Next() (*Member, error) {
	h, err := r.ar.Next()
	if err != nil {
		return nil, err
	}
	r.cur = h

	name := strings.TrimRight(h.Name, " ")
	if strings.HasPrefix(name, "#1/") {
		// BSD long name: the name itself is stored as the first N bytes of
		// the member payload, and Size includes that prefix.
		n, convErr := strconv.Atoi(strings.TrimPrefix(name, "#1/"))
		if convErr != nil {
			return nil, fmt.Errorf("arfile: malformed BSD long-name length %q: %w", name, convErr)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r.ar, buf); err != nil {
			return nil, fmt.Errorf("arfile: reading long name payload: %w", err)
		}
		name = strings.TrimRight(string(buf), "\x00 ")
		return &Member{Name: name, Size: h.Size - int64(n), Mode: h.Mode}, nil
	}

	return &Member{Name: name, Size: h.Size, Mode: h.Mode}, nil
}

// Read reads from the current member's payload, same contract as ar.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.ar.Read(p)
}

// Find scans the remainder of the archive (from the reader's current
// position forward) for a member whose name has the given prefix, and
// returns a reader limited to that member's bytes. Debian's three
// top-level members (debian-binary, control.tar.*, data.tar.*) are found
// this way since callers typically know the well-known prefix but not the
// exact compression suffix.
func (r *Reader) Find(namePrefix string) (*Member, io.Reader, error) {
	for {
		m, err := r.Next()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("arfile: no member with prefix %q", namePrefix)
		}
		if err != nil {
			return nil, nil, err
		}
		if strings.HasPrefix(m.Name, namePrefix) {
			return m, io.LimitReader(r, m.Size), nil
		}
	}
}

// Writer builds a Debian-style ar archive: the global "!<arch>\n" magic
// followed by 60-byte member headers, each payload padded to an even
// length with a trailing '\n' per the common ar format.
type Writer struct {
	ar *ar.Writer
	w  *bufio.Writer
}

// NewWriter wraps w and immediately emits the ar global header.
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	aw := ar.NewWriter(bw)
	if err := aw.WriteGlobalHeader(); err != nil {
		return nil, fmt.Errorf("arfile: writing global header: %w", err)
	}
	return &Writer{ar: aw, w: bw}, nil
}

// WriteMember writes one member's header followed by its payload.
// Names longer than the 16-byte common-format field are not supported: the
// three fixed Debian member names (debian-binary, control.tar.*,
// data.tar.*) always fit.
func (w *Writer) WriteMember(name string, mode int64, payload []byte) error {
	if len(name) > 16 {
		return fmt.Errorf("arfile: member name %q exceeds 16 bytes; BSD long names are not supported on write", name)
	}
	hdr := &ar.Header{
		Name: name,
		Mode: mode,
		Size: int64(len(payload)),
	}
	if err := w.ar.WriteHeader(hdr); err != nil {
		return fmt.Errorf("arfile: writing member header for %q: %w", name, err)
	}
	if _, err := w.ar.Write(payload); err != nil {
		return fmt.Errorf("arfile: writing member payload for %q: %w", name, err)
	}
	return nil
}

// Flush flushes any buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
