// Package methods implements the fetch-method side of the acquire wire
// protocol plus the built-in methods: http/https, file, copy and gzip.
// A method binary reads 600 URI Acquire messages on stdin and answers with
// 200/201/400 on stdout; the scheduler execs one process per queue slot.
package methods

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/hashes"
)

// Request is one 600 URI Acquire, decoded for a Fetcher.
type Request struct {
	URI          string
	Filename     string
	LastModified string
	ExpectedSize int64
	Expected     *hashes.HashStringList
}

// Result is what a Fetcher produced; the framework renders it as a 201.
type Result struct {
	Filename     string
	Size         int64
	LastModified string
	IMSHit       bool
	Hashes       *hashes.HashStringList
}

// Fetcher is one concrete fetch method.
type Fetcher interface {
	// Name is the scheme this method serves.
	Name() string
	// Fetch performs one transfer. Progress and logging go through srv.
	Fetch(req *Request, srv *Server) (*Result, error)
}

// Server runs a Fetcher over the stdin/stdout protocol streams.
type Server struct {
	in  io.Reader
	out io.Writer
	f   Fetcher
	cfg map[string]string
}

// NewServer wires a fetcher to its protocol streams.
func NewServer(f Fetcher, in io.Reader, out io.Writer) *Server {
	return &Server{in: in, out: out, f: f, cfg: make(map[string]string)}
}

// ConfigValue returns a forwarded Config-Item value, e.g. "Acquire::Retries".
func (s *Server) ConfigValue(key, def string) string {
	if v, ok := s.cfg[key]; ok {
		return v
	}
	return def
}

// Log emits a 101 log line for the parent's progress output.
func (s *Server) Log(format string, args ...any) {
	m := acquire.NewMessage(acquire.CodeLog, "Log")
	m.Set("Message", fmt.Sprintf(format, args...))
	m.WriteTo(s.out)
}

// Run announces capabilities and serves requests until stdin closes.
func (s *Server) Run() error {
	caps := acquire.NewMessage(acquire.CodeCapabilities, "Capabilities")
	caps.Set("Version", "1.0")
	caps.Set("Single-Instance", "true")
	caps.Set("Send-Config", "true")
	if err := caps.WriteTo(s.out); err != nil {
		return err
	}

	mr := acquire.NewMessageReader(s.in)
	for {
		msg, err := mr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch msg.Code {
		case acquire.CodeConfiguration:
			for k, v := range msg.Headers {
				if !strings.HasPrefix(k, "Config-Item") {
					continue
				}
				key, val, found := strings.Cut(v, "=")
				if found {
					s.cfg[key] = val
				}
			}
		case acquire.CodeURIAcquire:
			s.serveOne(msg)
		default:
			// Unknown parent message: ignore, per protocol.
		}
	}
}

func (s *Server) serveOne(msg *acquire.Message) {
	req := &Request{
		URI:          msg.Get("URI"),
		Filename:     msg.Get("Filename"),
		LastModified: msg.Get("Last-Modified"),
		ExpectedSize: msg.GetInt("Expected-Size", 0),
		Expected:     hashes.NewHashStringList(),
	}
	for _, k := range hashes.AllKinds {
		if v := msg.Get("Expected-" + k.String()); v != "" {
			req.Expected.Set(k, v)
		}
	}

	start := acquire.NewMessage(acquire.CodeURIStart, "URI Start")
	start.Set("URI", req.URI)
	if req.ExpectedSize > 0 {
		start.Set("Size", fmt.Sprint(req.ExpectedSize))
	}
	start.WriteTo(s.out)

	res, err := s.f.Fetch(req, s)
	if err != nil {
		fail := acquire.NewMessage(acquire.CodeURIFailure, "URI Failure")
		fail.Set("URI", req.URI)
		fail.Set("Message", err.Error())
		fail.WriteTo(s.out)
		return
	}

	done := acquire.NewMessage(acquire.CodeURIDone, "URI Done")
	done.Set("URI", req.URI)
	done.Set("Filename", res.Filename)
	done.Set("Size", fmt.Sprint(res.Size))
	if res.LastModified != "" {
		done.Set("Last-Modified", res.LastModified)
	}
	if res.IMSHit {
		done.Set("IMS-Hit", "true")
	}
	if res.Hashes != nil {
		for _, k := range hashes.AllKinds {
			if hex, ok := res.Hashes.Find(k); ok {
				done.Set(k.String()+"-Hash", hex)
			}
		}
	}
	done.WriteTo(s.out)
}

// Run dispatches a method by name over stdin/stdout, the entry point the
// method binaries call from main.
func Run(name string) error {
	var f Fetcher
	switch name {
	case "http", "https":
		f = &HTTPMethod{scheme: name}
	case "file":
		f = &FileMethod{}
	case "copy":
		f = &CopyMethod{}
	case "gzip":
		f = &GzipMethod{}
	default:
		return fmt.Errorf("methods: unknown method %q", name)
	}
	return NewServer(f, os.Stdin, os.Stdout).Run()
}

// hashFile computes the standard hash set over a finished file, so every
// method reports strong hashes and the parent rarely has to recompute.
func hashFile(path string) (*hashes.HashStringList, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	list := hashes.NewHashStringList()
	var size int64
	for _, k := range hashes.AllKinds {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, 0, err
		}
		sum, err := hashes.Sum(k, f)
		if err != nil {
			return nil, 0, err
		}
		list.Set(k, sum)
	}
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return list, size, nil
}
