package sourcelist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/platform"
)

func parse(t *testing.T, content string) (*List, *errstack.Stack) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.list")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	es := &errstack.Stack{}
	l, err := ParseFile(path, platform.Amd64, es)
	if err != nil {
		t.Fatal(err)
	}
	return l, es
}

func TestParseBasicEntries(t *testing.T) {
	l, es := parse(t, `
# primary archive
deb http://archive.example.org/debian stable main contrib
deb-src http://archive.example.org/debian stable main
`)
	if !es.Empty() {
		t.Fatalf("unexpected warnings: %v", es.Items())
	}
	if len(l.Entries) != 2 {
		t.Fatalf("parsed %d entries, want 2", len(l.Entries))
	}
	e := l.Entries[0]
	if e.Type != TypeDeb || e.URI != "http://archive.example.org/debian" || e.Dist != "stable" {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Components) != 2 || e.Components[0] != "main" || e.Components[1] != "contrib" {
		t.Errorf("components = %v", e.Components)
	}
	if l.Entries[1].Type != TypeDebSrc {
		t.Errorf("second entry type = %q", l.Entries[1].Type)
	}
}

func TestAbsoluteDistTakesNoComponents(t *testing.T) {
	l, es := parse(t, "deb file:/var/local/repo ./\n")
	if !es.Empty() {
		t.Fatalf("unexpected warnings: %v", es.Items())
	}
	e := l.Entries[0]
	if !e.Absolute() || len(e.Components) != 0 {
		t.Errorf("entry = %+v, want absolute with no components", e)
	}

	_, es2 := parse(t, "deb file:/var/local/repo ./ main\n")
	if es2.Empty() {
		t.Error("absolute entry with components parsed without a warning")
	}
}

func TestArchSubstitution(t *testing.T) {
	l, _ := parse(t, "deb http://ports.example.org/$(ARCH)/debian stable main\n")
	if got := l.Entries[0].URI; got != "http://ports.example.org/amd64/debian" {
		t.Errorf("URI = %q", got)
	}
}

func TestMalformedLinesWarnAndContinue(t *testing.T) {
	l, es := parse(t, `
rpm http://wrong.example.org/fedora 40
deb http://archive.example.org/debian stable main
deb http://archive.example.org/debian
`)
	if len(l.Entries) != 1 {
		t.Fatalf("parsed %d entries, want 1", len(l.Entries))
	}
	if es.Empty() || es.Pending() {
		t.Error("malformed lines should warn without setting the pending bit")
	}
}
