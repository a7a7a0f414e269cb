// Package debfile reads Debian binary packages (.deb files): an ar
// container holding a "debian-binary" format marker, one control.tar.* and
// one data.tar.* member. The control members can be captured into memory
// for field access; the data member streams onto disk through a
// path-sanitizing sink.
package debfile

import (
	"archive/tar"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/arc-language/goapt/internal/arfile"
	"github.com/arc-language/goapt/internal/compress"
	"github.com/arc-language/goapt/internal/tarfile"
)

// ControlTooLarge is returned when a package's control.tar member exceeds
// MaxControlSize, guarding against a maliciously large control archive
// being read fully into memory.
type ControlTooLarge struct {
	Size int64
}

func (e *ControlTooLarge) Error() string {
	return fmt.Sprintf("debfile: control archive is %d bytes, exceeds the %d byte cap", e.Size, MaxControlSize)
}

// MaxControlSize bounds how large a control.tar member may be before
// ExtractControlIntoMemory refuses to read it.
const MaxControlSize = 64 << 20

// Package represents one opened .deb archive.
type Package struct {
	r io.ReaderAt

	debianBinary string
	controlName  string
	controlSize  int64
	dataName     string
	dataSize     int64
}

// Open validates the top-level ar structure of r (exactly one
// debian-binary member, one control tar, one data tar) and returns a
// Package ready for extraction calls.
func Open(r io.ReaderAt, size int64) (*Package, error) {
	ar := arfile.NewReader(io.NewSectionReader(r, 0, size))

	p := &Package{r: r}
	for {
		m, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("debfile: reading ar member: %w", err)
		}
		switch {
		case m.Name == "debian-binary":
			buf := make([]byte, m.Size)
			if _, err := io.ReadFull(ar, buf); err != nil {
				return nil, fmt.Errorf("debfile: reading debian-binary: %w", err)
			}
			p.debianBinary = strings.TrimSpace(string(buf))
		case strings.HasPrefix(m.Name, "control.tar"):
			if p.controlName != "" {
				return nil, fmt.Errorf("debfile: multiple control.tar members found")
			}
			p.controlName = m.Name
		case strings.HasPrefix(m.Name, "data.tar"):
			if p.dataName != "" {
				return nil, fmt.Errorf("debfile: multiple data.tar members found")
			}
			p.dataName = m.Name
		}
	}

	if p.debianBinary == "" {
		return nil, fmt.Errorf("debfile: missing debian-binary member")
	}
	if !strings.HasPrefix(p.debianBinary, "2.") {
		return nil, fmt.Errorf("debfile: unsupported debian-binary format %q", p.debianBinary)
	}
	if p.controlName == "" {
		return nil, fmt.Errorf("debfile: missing control.tar member")
	}
	if p.dataName == "" {
		return nil, fmt.Errorf("debfile: missing data.tar member")
	}

	// Re-scan to capture sizes, since arfile.Reader is a forward-only
	// stream and the first pass above consumed the payloads already.
	ar2 := arfile.NewReader(io.NewSectionReader(r, 0, size))
	for {
		m, err := ar2.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if m.Name == p.controlName {
			p.controlSize = m.Size
		}
		if m.Name == p.dataName {
			p.dataSize = m.Size
		}
	}

	return p, nil
}

func (p *Package) reopenMember(name string) (io.Reader, error) {
	// Package.r is an io.ReaderAt over the whole file; since arfile.Reader
	// only supports forward streaming, a member lookup rewinds by building
	// a fresh section reader from offset 0 and walking to the member again.
	// .deb archives hold exactly three members so this costs at most two
	// wasted header reads.
	size, err := sizeOf(p.r)
	if err != nil {
		return nil, err
	}
	ar := arfile.NewReader(io.NewSectionReader(p.r.(io.ReaderAt), 0, size))
	for {
		m, err := ar.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("debfile: member %q disappeared on reopen", name)
		}
		if err != nil {
			return nil, err
		}
		if m.Name == name {
			return io.LimitReader(ar, m.Size), nil
		}
	}
}

func sizeOf(r io.ReaderAt) (int64, error) {
	if sz, ok := r.(interface{ Size() int64 }); ok {
		return sz.Size(), nil
	}
	return 0, fmt.Errorf("debfile: underlying reader does not expose Size()")
}

// ExtractControlIntoMemory decompresses and unpacks the control.tar member,
// returning every file it contains (control, md5sums, conffiles, maintainer
// scripts) as in-memory entries.
func (p *Package) ExtractControlIntoMemory() (*tarfile.MemorySink, error) {
	if p.controlSize > MaxControlSize {
		return nil, &ControlTooLarge{Size: p.controlSize}
	}
	raw, err := p.reopenMember(p.controlName)
	if err != nil {
		return nil, err
	}
	dr, err := compress.NewReader(compress.FormatFromName(p.controlName), raw)
	if err != nil {
		return nil, fmt.Errorf("debfile: decompressing %s: %w", p.controlName, err)
	}
	sink := tarfile.NewMemorySink()
	if _, _, _, err := tarfile.Extract(dr, sink); err != nil {
		return nil, fmt.Errorf("debfile: unpacking %s: %w", p.controlName, err)
	}
	return sink, nil
}

// ExtractData decompresses and unpacks the data.tar member onto disk rooted
// at destDir. Entry paths are sanitized to prevent escaping destDir via
// "../" components or absolute paths.
func (p *Package) ExtractData(destDir string) (files, dirs, symlinks int, err error) {
	raw, err := p.reopenMember(p.dataName)
	if err != nil {
		return 0, 0, 0, err
	}
	dr, err := compress.NewReader(compress.FormatFromName(p.dataName), raw)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("debfile: decompressing %s: %w", p.dataName, err)
	}
	sink := &sanitizingDiskSink{DiskSink: tarfile.NewDiskSink(destDir), root: destDir}
	return tarfile.Extract(dr, sink)
}

// sanitizingDiskSink wraps tarfile.DiskSink to reject entries that would
// escape the destination directory via ".." components or an absolute path.
type sanitizingDiskSink struct {
	*tarfile.DiskSink
	root string
}

func (s *sanitizingDiskSink) BeginItem(hdr *tar.Header) error {
	clean := filepath.Clean(hdr.Name)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("debfile: entry %q escapes the extraction root", hdr.Name)
	}
	target := filepath.Join(s.root, clean)
	if !strings.HasPrefix(target, filepath.Clean(s.root)+string(filepath.Separator)) && target != filepath.Clean(s.root) {
		return fmt.Errorf("debfile: entry %q resolves outside the extraction root", hdr.Name)
	}
	return s.DiskSink.BeginItem(hdr)
}
