package methods

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/hashes"
)

func TestFileMethodReportsSourcePath(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Packages")
	os.WriteFile(src, []byte("index data\n"), 0644)

	res, err := (&FileMethod{}).Fetch(&Request{URI: "file:" + src}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != src {
		t.Errorf("filename = %q, want the source path itself", res.Filename)
	}
	if sum, ok := res.Hashes.Find(hashes.KindSHA256); !ok || sum == "" {
		t.Error("file method reported no SHA256")
	}
}

func TestFileMethodIMSHit(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Packages")
	os.WriteFile(src, []byte("index data\n"), 0644)
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	os.Chtimes(src, mtime, mtime)

	res, err := (&FileMethod{}).Fetch(&Request{
		URI:          "file:" + src,
		LastModified: mtime.UTC().Format(time.RFC1123),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IMSHit {
		t.Error("matching mtime did not produce an IMS hit")
	}
}

func TestCopyMethodPreservesMtime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	os.WriteFile(src, []byte("payload"), 0644)
	mtime := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	os.Chtimes(src, mtime, mtime)

	res, err := (&CopyMethod{}).Fetch(&Request{URI: "copy:" + src, Filename: dst}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Filename != dst {
		t.Errorf("filename = %q, want %q", res.Filename, dst)
	}
	st, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if st.ModTime().Unix() != mtime.Unix() {
		t.Error("copy did not preserve the source mtime")
	}
}

func TestGzipMethodDecompresses(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "Packages.gz")
	dst := filepath.Join(dir, "Packages")

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Write([]byte("Package: foo\nVersion: 1.0\n"))
	gw.Close()
	os.WriteFile(src, buf.Bytes(), 0644)

	res, err := (&GzipMethod{}).Fetch(&Request{URI: "gzip:" + src, Filename: dst}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(res.Filename)
	if err != nil || string(got) != "Package: foo\nVersion: 1.0\n" {
		t.Errorf("decompressed content = %q, %v", got, err)
	}
}

func TestServerSpeaksProtocol(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "data")
	os.WriteFile(src, []byte("abc"), 0644)

	req := acquire.NewMessage(acquire.CodeURIAcquire, "URI Acquire")
	req.Set("URI", "file:"+src)
	var in bytes.Buffer
	req.WriteTo(&in)

	var out bytes.Buffer
	if err := NewServer(&FileMethod{}, &in, &out).Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mr := acquire.NewMessageReader(bytes.NewReader(out.Bytes()))
	caps, err := mr.Next()
	if err != nil || caps.Code != acquire.CodeCapabilities {
		t.Fatalf("first message = %v, %v; want 100 Capabilities", caps, err)
	}
	start, err := mr.Next()
	if err != nil || start.Code != acquire.CodeURIStart {
		t.Fatalf("second message = %v, %v; want 200 URI Start", start, err)
	}
	done, err := mr.Next()
	if err != nil || done.Code != acquire.CodeURIDone {
		t.Fatalf("third message = %v, %v; want 201 URI Done", done, err)
	}
	if done.Get("Filename") != src {
		t.Errorf("done filename = %q", done.Get("Filename"))
	}
}
