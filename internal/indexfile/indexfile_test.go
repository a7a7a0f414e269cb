package indexfile

import (
	"strings"
	"testing"
	"time"

	"github.com/arc-language/goapt/internal/hashes"
	"github.com/arc-language/goapt/internal/platform"
	"github.com/arc-language/goapt/internal/sourcelist"
	"github.com/arc-language/goapt/internal/tagfile"
)

func entry(t *testing.T, typ sourcelist.EntryType, uri, dist string, comps ...string) *sourcelist.Entry {
	t.Helper()
	return &sourcelist.Entry{Type: typ, URI: uri, Dist: dist, Components: comps}
}

func TestTargetsExpansion(t *testing.T) {
	list := &sourcelist.List{Entries: []*sourcelist.Entry{
		entry(t, sourcelist.TypeDeb, "http://archive.example.org/debian", "stable", "main", "contrib"),
		entry(t, sourcelist.TypeDebSrc, "http://archive.example.org/debian", "stable", "main"),
	}}
	targets := Targets(list, platform.Amd64, []string{"en"})

	// deb: (main, contrib) × (Packages + Translation-en) = 4; deb-src: 1.
	if len(targets) != 5 {
		t.Fatalf("expanded %d targets, want 5", len(targets))
	}
	if got := targets[0].URI(); got != "http://archive.example.org/debian/dists/stable/main/binary-amd64/Packages" {
		t.Errorf("packages URI = %q", got)
	}
	if got := targets[1].URI(); got != "http://archive.example.org/debian/dists/stable/main/i18n/Translation-en" {
		t.Errorf("translation URI = %q", got)
	}
	last := targets[len(targets)-1]
	if last.Kind != KindSources {
		t.Errorf("last target kind = %q, want Sources", last.Kind)
	}
	if got := last.URI(); got != "http://archive.example.org/debian/dists/stable/main/source/Sources" {
		t.Errorf("sources URI = %q", got)
	}
}

func TestAbsoluteEntryTarget(t *testing.T) {
	list := &sourcelist.List{Entries: []*sourcelist.Entry{
		entry(t, sourcelist.TypeDeb, "file:/var/local/repo", "./"),
	}}
	targets := Targets(list, platform.Amd64, nil)
	if len(targets) != 1 {
		t.Fatalf("expanded %d targets, want 1", len(targets))
	}
	if got := targets[0].URI(); got != "file:/var/local/repo/./Packages" && got != "file:/var/local/repo/Packages" {
		t.Errorf("absolute URI = %q", got)
	}
}

const releaseText = `Origin: Example
Label: Example
Suite: stable
Codename: trixie
Date: Sat, 01 Aug 2026 10:00:00 UTC
Valid-Until: Sat, 08 Aug 2026 10:00:00 UTC
Architectures: amd64 arm64
Components: main contrib
MD5Sum:
 9e107d9d372bb6826bd81d3542a419d6 1234 main/binary-amd64/Packages
SHA256:
 2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae 1234 main/binary-amd64/Packages
 50e721e49c013f00c62cf59f2163542a9d8df02464efeb615d31051b0fddc326 980 main/binary-amd64/Packages.gz
`

func TestParseRelease(t *testing.T) {
	rel, err := ParseRelease(strings.NewReader(releaseText))
	if err != nil {
		t.Fatal(err)
	}
	if rel.Origin != "Example" || rel.Suite != "stable" || rel.Codename != "trixie" {
		t.Errorf("identity fields: %+v", rel)
	}
	if len(rel.Architectures) != 2 || rel.Architectures[1] != "arm64" {
		t.Errorf("architectures = %v", rel.Architectures)
	}

	fd, ok := rel.Files["main/binary-amd64/Packages"]
	if !ok {
		t.Fatal("Packages digest missing")
	}
	if fd.Size != 1234 {
		t.Errorf("size = %d", fd.Size)
	}
	if sum, ok := fd.Hashes.Find(hashes.KindSHA256); !ok || !strings.HasPrefix(sum, "2c26b46b") {
		t.Errorf("sha256 = %q ok=%v", sum, ok)
	}
	if sum, ok := fd.Hashes.Find(hashes.KindMD5); !ok || !strings.HasPrefix(sum, "9e107d9d") {
		t.Errorf("md5 = %q ok=%v", sum, ok)
	}
}

func TestValidUntil(t *testing.T) {
	rel, err := ParseRelease(strings.NewReader(releaseText))
	if err != nil {
		t.Fatal(err)
	}
	before := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
	if err := rel.CheckValid(before, 0); err != nil {
		t.Errorf("valid release rejected: %v", err)
	}
	after := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)
	if err := rel.CheckValid(after, 0); err == nil {
		t.Error("expired release accepted")
	}
	// A configured grace keeps it alive.
	if err := rel.CheckValid(after, 72*time.Hour); err != nil {
		t.Errorf("grace period not honored: %v", err)
	}
}

func TestDigestForPrefersCompressed(t *testing.T) {
	rel, _ := ParseRelease(strings.NewReader(releaseText))
	tgt := Target{
		Entry:     entry(t, sourcelist.TypeDeb, "http://archive.example.org/debian", "stable", "main"),
		Component: "main", Arch: platform.Amd64, Kind: KindPackages,
	}
	fd, path := rel.DigestFor(tgt)
	if fd == nil || path != "main/binary-amd64/Packages.gz" {
		t.Errorf("digest path = %q", path)
	}
}

const recordText = `Package: hello
Version: 2.10-3
Architecture: amd64
Maintainer: Jane Developer <jane@example.org>
Source: hello-src (2.10)
Filename: pool/main/h/hello/hello_2.10-3_amd64.deb
Size: 56132
MD5sum: 9e107d9d372bb6826bd81d3542a419d6
SHA256: 2c26b46b68ffc68ff99b453c1d30413413422d706483bfa0f98a5e886266e7ae
Description: example greeting program
 A longer paragraph describing the
 classic hello program.
`

func TestRecordParser(t *testing.T) {
	sec, err := tagfile.NewScanner(strings.NewReader(recordText)).Next()
	if err != nil {
		t.Fatal(err)
	}
	rp := NewRecordParser(sec)
	if rp.FileName() != "pool/main/h/hello/hello_2.10-3_amd64.deb" {
		t.Errorf("filename = %q", rp.FileName())
	}
	if rp.Size() != 56132 {
		t.Errorf("size = %d", rp.Size())
	}
	if rp.SourcePkg() != "hello-src" {
		t.Errorf("source = %q", rp.SourcePkg())
	}
	if rp.Maintainer() != "Jane Developer <jane@example.org>" {
		t.Errorf("maintainer = %q", rp.Maintainer())
	}
	if rp.ShortDesc() != "example greeting program" {
		t.Errorf("short desc = %q", rp.ShortDesc())
	}
	if !strings.Contains(rp.LongDesc(), "classic hello program") {
		t.Errorf("long desc = %q", rp.LongDesc())
	}
	if _, ok := rp.Hashes().Find(hashes.KindSHA256); !ok {
		t.Error("sha256 missing from record hashes")
	}
}
