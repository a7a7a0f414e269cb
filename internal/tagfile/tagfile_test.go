package tagfile

import (
	"io"
	"strings"
	"testing"
)

const samplePackages = `Package: bash
Version: 5.2-1
Architecture: amd64
Depends: base-files, libc6 (>= 2.34)
Description: The GNU Bourne Again SHell
 bash is an sh-compatible command language interpreter.
 .
 Second paragraph of the long description.

Package: coreutils
Version: 9.1-1
Architecture: amd64
Essential: yes
Description: GNU core utilities
`

func TestScannerReadsAllStanzas(t *testing.T) {
	sc := NewScanner(strings.NewReader(samplePackages))

	first, err := sc.Next()
	if err != nil {
		t.Fatalf("first stanza: %v", err)
	}
	if name, ok := first.Find("Package"); !ok || name != "bash" {
		t.Fatalf("Package = %q, %v, want bash, true", name, ok)
	}
	if dep, ok := first.Find("depends"); !ok || !strings.Contains(dep, "libc6") {
		t.Fatalf("Depends = %q, %v", dep, ok)
	}
	desc, ok := first.Find("Description")
	if !ok || !strings.Contains(desc, "Second paragraph") {
		t.Fatalf("Description = %q, %v", desc, ok)
	}

	second, err := sc.Next()
	if err != nil {
		t.Fatalf("second stanza: %v", err)
	}
	if name, _ := second.Find("Package"); name != "coreutils" {
		t.Fatalf("Package = %q, want coreutils", name)
	}
	if !second.FindFlag("Essential", false) {
		t.Fatal("Essential should be true")
	}

	if _, err := sc.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last stanza, got %v", err)
	}
}

func TestFindMissing(t *testing.T) {
	sc := NewScanner(strings.NewReader("Package: x\nVersion: 1\n\n"))
	sec, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sec.Find("Nonexistent"); ok {
		t.Fatal("expected Find to report false for a missing tag")
	}
}

func TestMalformedStanzaNoColon(t *testing.T) {
	sc := NewScanner(strings.NewReader("NotAField\n\n"))
	if _, err := sc.Next(); err == nil {
		t.Fatal("expected malformed stanza error")
	}
}

func TestRewriteRoundTrip(t *testing.T) {
	sc := NewScanner(strings.NewReader(samplePackages))
	sec, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	rendered := sec.Rewrite(RewritePackageOrder)
	tags, err := ParseTags(rendered)
	if err != nil {
		t.Fatalf("re-parsing rendered stanza: %v", err)
	}
	for _, name := range sec.Tags() {
		want, _ := sec.Find(name)
		if got, ok := tags[name]; !ok || got != want {
			t.Errorf("field %s: got %q ok=%v, want %q", name, got, ok, want)
		}
	}
	if len(tags) != len(sec.Tags()) {
		t.Errorf("field count changed: %d -> %d", len(sec.Tags()), len(tags))
	}
}

func TestRewriteWithEdits(t *testing.T) {
	sc := NewScanner(strings.NewReader("Package: z\nVersion: 1\nSection: misc\n\n"))
	sec, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	out := sec.RewriteWith(RewritePackageOrder,
		[]string{"Section"},
		[]Tag{{Name: "Version", Value: "2"}, {Name: "Filename", Value: "pool/z.deb"}})
	tags, err := ParseTags(out)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tags["Section"]; ok {
		t.Error("removed field survived the rewrite")
	}
	if tags["Version"] != "2" {
		t.Errorf("replacement not applied: Version = %q", tags["Version"])
	}
	if tags["Filename"] != "pool/z.deb" {
		t.Errorf("insertion missing: Filename = %q", tags["Filename"])
	}
}

func TestFindInt(t *testing.T) {
	sc := NewScanner(strings.NewReader("Package: x\nSize: 1234\nInstalled-Size: oops\n\n"))
	sec, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	if got := sec.FindInt("Size", 0); got != 1234 {
		t.Errorf("Size = %d", got)
	}
	if got := sec.FindInt("Installed-Size", -1); got != -1 {
		t.Errorf("malformed int: %d, want the default", got)
	}
	if got := sec.FindInt("Missing", 7); got != 7 {
		t.Errorf("missing field: %d, want the default", got)
	}
}

func TestRewriteOrder(t *testing.T) {
	sc := NewScanner(strings.NewReader("Description: d\nPackage: z\nVersion: 1\n\n"))
	sec, err := sc.Next()
	if err != nil {
		t.Fatal(err)
	}
	out := sec.Rewrite(RewritePackageOrder)
	pkgIdx := strings.Index(out, "Package:")
	verIdx := strings.Index(out, "Version:")
	descIdx := strings.Index(out, "Description:")
	if !(pkgIdx < verIdx && verIdx < descIdx) {
		t.Fatalf("rewrite order wrong: %s", out)
	}
}
