package methods

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// HTTPMethod fetches over http or https with If-Modified-Since support
// and resume of partial downloads via Range requests.
type HTTPMethod struct {
	scheme string
	client *http.Client
}

func (m *HTTPMethod) Name() string { return m.scheme }

func (m *HTTPMethod) httpClient(srv *Server) *http.Client {
	if m.client == nil {
		timeout := 120 * time.Second
		if v := srv.ConfigValue("Acquire::"+m.scheme+"::Timeout", ""); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				timeout = time.Duration(n) * time.Second
			}
		}
		m.client = &http.Client{Timeout: timeout}
	}
	return m.client
}

func (m *HTTPMethod) Fetch(req *Request, srv *Server) (*Result, error) {
	hreq, err := http.NewRequest(http.MethodGet, req.URI, nil)
	if err != nil {
		return nil, err
	}
	if req.LastModified != "" {
		hreq.Header.Set("If-Modified-Since", req.LastModified)
	}

	// Resume a partial from a previous interrupted run.
	var resumeFrom int64
	if st, err := os.Stat(req.Filename); err == nil && st.Size() > 0 {
		resumeFrom = st.Size()
		hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	resp, err := m.httpClient(srv).Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return &Result{Filename: req.Filename, IMSHit: true}, nil
	case http.StatusOK:
		resumeFrom = 0 // server ignored the range; start over
	case http.StatusPartialContent:
		// resume honored
	default:
		return nil, fmt.Errorf("%s: %s", req.URI, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(req.Filename), 0755); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if resumeFrom > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(req.Filename, flags, 0644)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := time.Parse(time.RFC1123, lm); err == nil {
			os.Chtimes(req.Filename, t, t)
		}
	}

	list, size, err := hashFile(req.Filename)
	if err != nil {
		return nil, err
	}
	return &Result{
		Filename:     req.Filename,
		Size:         size,
		LastModified: resp.Header.Get("Last-Modified"),
		Hashes:       list,
	}, nil
}
