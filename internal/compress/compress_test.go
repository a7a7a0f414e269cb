package compress

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"
)

func TestFormatFromName(t *testing.T) {
	cases := map[string]Format{
		"Packages.gz":   FormatGzip,
		"Packages.xz":   FormatXZ,
		"Packages.zst":  FormatZstd,
		"Packages.bz2":  FormatBzip2,
		"Packages.lzma": FormatLZMA,
		"Packages":      FormatNone,
	}
	for name, want := range cases {
		if got := FormatFromName(name); got != want {
			t.Errorf("FormatFromName(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestNewReaderGzipRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	want := "Package: foo\nVersion: 1.0\n\n"
	if _, err := gw.Write([]byte(want)); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(FormatGzip, &buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNewReaderNoneIsPassthrough(t *testing.T) {
	src := bytes.NewReader([]byte("plain text"))
	r, err := NewReader(FormatNone, src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "plain text" {
		t.Fatalf("got %q", got)
	}
}
