package methods

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

func uriPath(uri string) string {
	for _, prefix := range []string{"file://", "file:", "copy://", "copy:", "gzip://", "gzip:"} {
		if strings.HasPrefix(uri, prefix) {
			return strings.TrimPrefix(uri, prefix)
		}
	}
	return uri
}

// FileMethod serves file: URIs without copying: it reports the source path
// itself as the result, with an IMS hit when the destination mtime already
// matches.
type FileMethod struct{}

func (m *FileMethod) Name() string { return "file" }

func (m *FileMethod) Fetch(req *Request, srv *Server) (*Result, error) {
	path := uriPath(req.URI)
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file: %s: %w", path, err)
	}

	if req.LastModified != "" {
		if want, err := time.Parse(time.RFC1123, req.LastModified); err == nil &&
			st.ModTime().Unix() == want.Unix() {
			return &Result{Filename: path, Size: st.Size(), IMSHit: true}, nil
		}
	}

	list, size, err := hashFile(path)
	if err != nil {
		return nil, err
	}
	return &Result{
		Filename:     path,
		Size:         size,
		LastModified: st.ModTime().UTC().Format(time.RFC1123),
		Hashes:       list,
	}, nil
}

// CopyMethod copies a local file into the requested destination,
// preserving the source mtime so later IMS checks keep working.
type CopyMethod struct{}

func (m *CopyMethod) Name() string { return "copy" }

func (m *CopyMethod) Fetch(req *Request, srv *Server) (*Result, error) {
	src := uriPath(req.URI)
	st, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("copy: %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(req.Filename), 0755); err != nil {
		return nil, err
	}
	in, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()
	out, err := os.OpenFile(req.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(req.Filename)
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	os.Chtimes(req.Filename, st.ModTime(), st.ModTime())

	list, size, err := hashFile(req.Filename)
	if err != nil {
		return nil, err
	}
	return &Result{
		Filename:     req.Filename,
		Size:         size,
		LastModified: st.ModTime().UTC().Format(time.RFC1123),
		Hashes:       list,
	}, nil
}

// GzipMethod decompresses a local gzip file into the destination, used to
// turn a fetched Packages.gz into the uncompressed index the cache
// generator reads.
type GzipMethod struct{}

func (m *GzipMethod) Name() string { return "gzip" }

func (m *GzipMethod) Fetch(req *Request, srv *Server) (*Result, error) {
	src := uriPath(req.URI)
	in, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("gzip: %s: %w", src, err)
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("gzip: %s: %w", src, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(filepath.Dir(req.Filename), 0755); err != nil {
		return nil, err
	}
	out, err := os.OpenFile(req.Filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, gz); err != nil {
		out.Close()
		os.Remove(req.Filename)
		return nil, fmt.Errorf("gzip: decompressing %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	if st, err := os.Stat(src); err == nil {
		os.Chtimes(req.Filename, st.ModTime(), st.ModTime())
	}

	list, size, err := hashFile(req.Filename)
	if err != nil {
		return nil, err
	}
	return &Result{Filename: req.Filename, Size: size, Hashes: list}, nil
}
