package acquire

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/arc-language/goapt/internal/config"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/hashes"
)

// scriptedHandler answers one 600 request with the messages a method
// would emit.
type scriptedHandler func(req *Message, out io.Writer)

// installFakeSpawn replaces subprocess workers with in-process goroutines
// speaking the same wire protocol over pipes.
func installFakeSpawn(a *Acquire, handler scriptedHandler) {
	a.spawn = func(method string) (*Worker, error) {
		toWorkerR, toWorkerW := io.Pipe()
		fromWorkerR, fromWorkerW := io.Pipe()
		go func() {
			defer fromWorkerW.Close()
			caps := NewMessage(CodeCapabilities, "Capabilities")
			caps.Set("Version", "1.0")
			caps.WriteTo(fromWorkerW)
			mr := NewMessageReader(toWorkerR)
			for {
				msg, err := mr.Next()
				if err != nil {
					return
				}
				if msg.Code != CodeURIAcquire {
					continue
				}
				handler(msg, fromWorkerW)
			}
		}()
		return newPipeWorker(method, toWorkerW, fromWorkerR, a.events), nil
	}
}

func newTestAcquire(t *testing.T) (*Acquire, *errstack.Stack) {
	t.Helper()
	cfg := config.New()
	cfg.SetDefaults()
	cfg.Set("Acquire::Retries", "0")
	es := &errstack.Stack{}
	return New(cfg, es, nil), es
}

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// emitDone writes the file and answers 200 + 201 with a real hash.
func emitDone(content string) scriptedHandler {
	return func(req *Message, out io.Writer) {
		start := NewMessage(CodeURIStart, "URI Start")
		start.Set("URI", req.Get("URI"))
		start.WriteTo(out)

		fn := req.Get("Filename")
		os.MkdirAll(filepath.Dir(fn), 0755)
		os.WriteFile(fn, []byte(content), 0644)

		done := NewMessage(CodeURIDone, "URI Done")
		done.Set("URI", req.Get("URI"))
		done.Set("Filename", fn)
		done.Set("Size", "0")
		done.Set("SHA256-Hash", sha256Hex(content))
		done.WriteTo(out)
	}
}

func TestFallbackToSecondURI(t *testing.T) {
	a, _ := newTestAcquire(t)
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "partial"), 0755)

	const payload = "bytes from the second mirror\n"
	installFakeSpawn(a, func(req *Message, out io.Writer) {
		if strings.Contains(req.Get("URI"), "bad.example") {
			fail := NewMessage(CodeURIFailure, "URI Failure")
			fail.Set("URI", req.Get("URI"))
			fail.Set("Message", "connection refused")
			fail.WriteTo(out)
			return
		}
		emitDone(payload)(req, out)
	})

	expected := hashes.NewHashStringList(hashes.HashString{Kind: hashes.KindSHA256, Hex: sha256Hex(payload)})
	it, err := a.Add(&Item{
		Desc:        "test-index",
		URIs:        []string{"http://bad.example/Packages", "http://good.example/Packages"},
		DestFile:    filepath.Join(dir, "Packages"),
		PartialFile: filepath.Join(dir, "partial", "Packages"),
		Expected:    expected,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it.State != StateDone {
		t.Fatalf("state = %v, want done", it.State)
	}
	if it.Retries != 1 {
		t.Errorf("retries = %d, want 1", it.Retries)
	}
	got, err := os.ReadFile(it.DestFile)
	if err != nil || string(got) != payload {
		t.Errorf("destination content = %q, %v", got, err)
	}
}

func TestHashMismatchFailsURI(t *testing.T) {
	a, es := newTestAcquire(t)
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "partial"), 0755)

	installFakeSpawn(a, emitDone("corrupted payload"))

	expected := hashes.NewHashStringList(hashes.HashString{Kind: hashes.KindSHA256, Hex: sha256Hex("the real payload")})
	it, err := a.Add(&Item{
		Desc:        "bad-index",
		URIs:        []string{"http://mirror.example/Packages"},
		DestFile:    filepath.Join(dir, "Packages"),
		PartialFile: filepath.Join(dir, "partial", "Packages"),
		Expected:    expected,
	})
	if err != nil {
		t.Fatal(err)
	}

	err = a.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded despite the hash mismatch")
	}
	if _, ok := err.(*FetchFailed); !ok {
		t.Fatalf("error type %T, want *FetchFailed", err)
	}
	if it.State != StateError {
		t.Errorf("state = %v, want error", it.State)
	}
	if !es.Pending() {
		t.Error("integrity mismatch did not reach the error stack")
	}
	if _, err := os.Stat(it.DestFile); !os.IsNotExist(err) {
		t.Error("corrupt download left at the final destination")
	}
}

func TestIMSHitLeavesFileAlone(t *testing.T) {
	a, _ := newTestAcquire(t)
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "partial"), 0755)

	dest := filepath.Join(dir, "Packages")
	os.WriteFile(dest, []byte("existing contents"), 0644)
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	os.Chtimes(dest, mtime, mtime)

	var sawLastModified string
	installFakeSpawn(a, func(req *Message, out io.Writer) {
		sawLastModified = req.Get("Last-Modified")
		done := NewMessage(CodeURIDone, "URI Done")
		done.Set("URI", req.Get("URI"))
		done.Set("Filename", req.Get("Filename"))
		done.Set("IMS-Hit", "true")
		done.WriteTo(out)
	})

	it, err := a.Add(&Item{
		Desc:        "ims-index",
		URIs:        []string{"http://mirror.example/Packages"},
		DestFile:    dest,
		PartialFile: filepath.Join(dir, "partial", "Packages"),
		IMSTime:     mtime,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if it.State != StateDone {
		t.Fatalf("state = %v, want done", it.State)
	}
	if sawLastModified == "" {
		t.Error("600 carried no Last-Modified despite an existing file")
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "existing contents" {
		t.Error("IMS hit rewrote the destination")
	}
}

func TestDuplicateDestinationRejected(t *testing.T) {
	a, _ := newTestAcquire(t)
	_, err := a.Add(&Item{Desc: "a", URIs: []string{"http://x/1"}, DestFile: "/tmp/same"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Add(&Item{Desc: "b", URIs: []string{"http://y/2"}, DestFile: "/tmp/same"}); err == nil {
		t.Fatal("duplicate destination accepted")
	}
}

func TestQueueNaming(t *testing.T) {
	if got := queueName("http://mirror.example/debian/Packages", true); got != "http:mirror.example" {
		t.Errorf("host-mode queue = %q", got)
	}
	if got := queueName("http://mirror.example/debian/Packages", false); got != "http" {
		t.Errorf("access-mode queue = %q", got)
	}
	if got := queueName("copy:/var/tmp/x", true); got != "copy" {
		t.Errorf("hostless queue = %q", got)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := NewMessage(CodeURIFailure, "URI Failure")
	m.Set("URI", "http://mirror.example/x")
	m.Set("Message", "first line\nsecond line")

	var buf strings.Builder
	if err := m.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	parsed, err := NewMessageReader(strings.NewReader(buf.String())).Next()
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Code != CodeURIFailure {
		t.Errorf("code = %d", parsed.Code)
	}
	if parsed.Get("URI") != "http://mirror.example/x" {
		t.Errorf("URI = %q", parsed.Get("URI"))
	}
	if parsed.Get("Message") != "first line\nsecond line" {
		t.Errorf("Message = %q", parsed.Get("Message"))
	}
}
