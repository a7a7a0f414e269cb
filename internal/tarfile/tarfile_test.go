package tarfile

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func buildTar(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dirHdr := &tar.Header{Name: "./usr/bin/", Typeflag: tar.TypeDir, Mode: 0755}
	if err := tw.WriteHeader(dirHdr); err != nil {
		t.Fatal(err)
	}

	content := []byte("#!/bin/sh\necho hi\n")
	fileHdr := &tar.Header{Name: "./usr/bin/hello", Typeflag: tar.TypeReg, Mode: 0755, Size: int64(len(content))}
	if err := tw.WriteHeader(fileHdr); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractToDisk(t *testing.T) {
	root := t.TempDir()
	sink := NewDiskSink(root)

	files, dirs, symlinks, err := Extract(bytes.NewReader(buildTar(t)), sink)
	if err != nil {
		t.Fatal(err)
	}
	if files != 1 || dirs != 1 || symlinks != 0 {
		t.Fatalf("files=%d dirs=%d symlinks=%d, want 1,1,0", files, dirs, symlinks)
	}

	data, err := os.ReadFile(filepath.Join(root, "usr/bin/hello"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#!/bin/sh\necho hi\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestGNULongName(t *testing.T) {
	longName := "./" + strings.Repeat("d/", 140) + strings.Repeat("x", 20)
	if len(longName) < 300 {
		t.Fatalf("test name only %d bytes", len(longName))
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	content := []byte("payload")
	hdr := &tar.Header{
		Name: longName, Typeflag: tar.TypeReg, Mode: 0644,
		Size: int64(len(content)), Format: tar.FormatGNU,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatal(err)
	}
	tw.Write(content)
	tw.Close()

	sink := NewMemorySink()
	files, _, _, err := Extract(bytes.NewReader(buf.Bytes()), sink)
	if err != nil {
		t.Fatal(err)
	}
	if files != 1 {
		t.Fatalf("files = %d, want 1", files)
	}
	want := strings.TrimPrefix(longName, "./")
	if sink.Entries[0].Header.Name != want {
		t.Fatalf("long name truncated: got %d bytes, want %d", len(sink.Entries[0].Header.Name), len(want))
	}
}

func TestEmptyStreamYieldsNoItems(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.Close()

	sink := NewMemorySink()
	files, dirs, symlinks, err := Extract(bytes.NewReader(buf.Bytes()), sink)
	if err != nil || files+dirs+symlinks != 0 {
		t.Fatalf("empty archive: %d/%d/%d items, err %v", files, dirs, symlinks, err)
	}
}

func TestExtractToMemory(t *testing.T) {
	sink := NewMemorySink()
	_, _, _, err := Extract(bytes.NewReader(buildTar(t)), sink)
	if err != nil {
		t.Fatal(err)
	}
	data, ok := sink.Find("usr/bin/hello")
	if !ok {
		t.Fatal("expected to find usr/bin/hello in memory sink")
	}
	if string(data) != "#!/bin/sh\necho hi\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}
