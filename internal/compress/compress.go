// Package compress provides the decompressor table the acquire and archive
// codec paths use to read .gz/.xz/.zst/.bz2/.lzma members. Decoding runs
// in-process by default; an exec.Cmd escape hatch covers formats without a
// linked decoder and deployments that want subprocess isolation for their
// codecs.
package compress

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Format identifies a compression codec by its conventional file extension.
type Format string

const (
	FormatNone Format = ""
	FormatGzip Format = "gz"
	FormatXZ   Format = "xz"
	FormatZstd Format = "zst"
	FormatBzip2 Format = "bz2"
	FormatLZMA Format = "lzma"
)

// FormatFromName infers a Format from a file name's trailing extension.
func FormatFromName(name string) Format {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return FormatGzip
	case strings.HasSuffix(name, ".xz"):
		return FormatXZ
	case strings.HasSuffix(name, ".zst"):
		return FormatZstd
	case strings.HasSuffix(name, ".bz2"):
		return FormatBzip2
	case strings.HasSuffix(name, ".lzma"):
		return FormatLZMA
	default:
		return FormatNone
	}
}

// NewReader returns a decompressing reader over r for the given format.
// FormatNone returns r unchanged (an uncompressed index or member).
func NewReader(format Format, r io.Reader) (io.Reader, error) {
	switch format {
	case FormatNone:
		return r, nil
	case FormatGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compress: gzip: %w", err)
		}
		return gr, nil
	case FormatXZ:
		xr, err := xz.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, fmt.Errorf("compress: xz: %w", err)
		}
		return xr, nil
	case FormatLZMA:
		lr, err := lzma.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, fmt.Errorf("compress: lzma: %w", err)
		}
		return lr, nil
	case FormatZstd:
		return zstd.NewReader(r), nil
	case FormatBzip2:
		return bzip2.NewReader(r), nil
	default:
		return nil, fmt.Errorf("compress: unsupported format %q", format)
	}
}

// HelperCommand describes an external decompression helper invoked as a
// subprocess, configured through the Dir::Bin::{gzip,xz,...} knobs for
// deployments that need one (a format with no in-process decoder, or a
// sandbox that forbids linking arbitrary codec libraries).
type HelperCommand struct {
	Path string
	Args []string
}

// RunHelper pipes r through the helper process and returns its stdout.
// A non-zero exit status is always treated as failure, independent of how
// much the child already wrote to stdout, since a truncated stream and a
// clean one are otherwise indistinguishable from a short read alone.
func RunHelper(ctx context.Context, h HelperCommand, r io.Reader) (io.Reader, error) {
	cmd := exec.CommandContext(ctx, h.Path, h.Args...)
	cmd.Stdin = r

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compress: helper %s failed: %w (stderr: %s)", h.Path, err, stderr.String())
	}
	return bytes.NewReader(stdout.Bytes()), nil
}
