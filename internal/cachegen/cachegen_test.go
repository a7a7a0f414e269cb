package cachegen

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/platform"
)

const indexOne = `Package: foo
Version: 1.0-1
Architecture: amd64
Priority: optional
Section: utils
Installed-Size: 42
Size: 1000
Depends: bar (>= 1.0) | baz, libc6
Description: the foo tool
 Long description of foo.

Package: bar
Version: 1.4-2
Architecture: amd64
Priority: standard
Section: libs
Size: 2000
Provides: virtual-bar (= 2.0)
Description: the bar library
`

const indexTwo = `Package: quux
Version: 3.0
Architecture: amd64
Priority: extra
Section: misc
Size: 500
Description: quux
`

const statusFile = `Package: bar
Status: install ok installed
Version: 1.4-2
Architecture: amd64
Priority: standard
Section: libs
Description: the bar library
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func setup(t *testing.T) (layout.Paths, []IndexSource) {
	t.Helper()
	dir := t.TempDir()
	paths := layout.Paths{
		PkgCache:    filepath.Join(dir, "pkgcache.bin"),
		SrcPkgCache: filepath.Join(dir, "srcpkgcache.bin"),
		StatusFile:  filepath.Join(dir, "status"),
	}
	i1 := filepath.Join(dir, "Packages.one")
	i2 := filepath.Join(dir, "Packages.two")
	writeFile(t, i1, indexOne)
	writeFile(t, i2, indexTwo)
	writeFile(t, paths.StatusFile, statusFile)

	sources := []IndexSource{
		{Path: i1, Info: acache.PackageFileInfo{Archive: "stable", Component: "main", Arch: "amd64"}},
		{Path: i2, Info: acache.PackageFileInfo{Archive: "stable", Component: "contrib", Arch: "amd64"}},
	}
	return paths, sources
}

func TestGenerateAndQuery(t *testing.T) {
	paths, sources := setup(t)
	es := &errstack.Stack{}

	c, err := OpenOrRebuild(paths, sources, platform.Amd64, es, false)
	if err != nil {
		t.Fatalf("OpenOrRebuild: %v", err)
	}
	defer c.Close()
	if es.Pending() {
		t.Fatalf("generation left errors pending: %v", es.Items())
	}

	foo := c.FindPkg("foo", "amd64")
	if foo.IsEnd() {
		t.Fatal("foo missing")
	}
	v := foo.VersionList()
	if v.VerStr() != "1.0-1" || v.Section() != "utils" || v.Size() != 1000 || v.InstalledSize() != 42 {
		t.Errorf("foo 1.0-1 fields wrong: %q %q %d %d", v.VerStr(), v.Section(), v.Size(), v.InstalledSize())
	}

	// Depends: bar (>= 1.0) | baz, libc6 -- two groups, or flag on the
	// first record only.
	d := v.DependsList()
	if d.TargetPkg().Name() != "bar" || !d.IsOr() {
		t.Errorf("first dep = %s or=%v, want bar or=true", d.TargetPkg().Name(), d.IsOr())
	}
	d.Inc()
	if d.TargetPkg().Name() != "baz" || d.IsOr() {
		t.Errorf("second dep = %s or=%v, want baz or=false", d.TargetPkg().Name(), d.IsOr())
	}
	d.Inc()
	if d.TargetPkg().Name() != "libc6" || d.IsOr() {
		t.Errorf("third dep = %s or=%v, want libc6 or=false", d.TargetPkg().Name(), d.IsOr())
	}

	// Status overlay: bar is installed at 1.4-2 and shares the version
	// record the index contributed.
	bar := c.FindPkg("bar", "amd64")
	cur := bar.CurrentVer()
	if cur.IsEnd() || cur.VerStr() != "1.4-2" {
		t.Fatal("bar's current version not set from the status overlay")
	}
	count := 0
	for v := bar.VersionList(); !v.IsEnd(); v.Inc() {
		count++
	}
	if count != 1 {
		t.Errorf("bar has %d version records, want 1 (status must share the index record)", count)
	}

	// The shared record is listed by both its index and the status file.
	files := 0
	statusListed := false
	for vf := cur.FileList(); !vf.IsEnd(); vf.Inc() {
		files++
		if vf.File().IsStatusFile() {
			statusListed = true
		}
	}
	if files != 2 || !statusListed {
		t.Errorf("bar 1.4-2 listed by %d files (status: %v), want 2 with status", files, statusListed)
	}

	if virt := c.FindPkg("virtual-bar", "amd64"); virt.IsEnd() || virt.ProvidesList().IsEnd() {
		t.Error("virtual-bar provides record missing")
	}
}

func TestRebuildOnIndexChange(t *testing.T) {
	paths, sources := setup(t)
	es := &errstack.Stack{}

	c, err := OpenOrRebuild(paths, sources, platform.Amd64, es, false)
	if err != nil {
		t.Fatal(err)
	}
	if c.FindPkg("quux", "amd64").IsEnd() {
		t.Fatal("quux missing before rewrite")
	}
	c.Close()

	if !CacheValid(paths.PkgCache, sources, paths.StatusFile) {
		t.Fatal("cache should be valid immediately after generation")
	}

	// Rewrite the second index without quux and bump its mtime past the
	// snapshot's one-second granularity.
	writeFile(t, sources[1].Path, "Package: newpkg\nVersion: 1.0\nArchitecture: amd64\nSize: 1\nDescription: n\n")
	later := time.Now().Add(3 * time.Second)
	if err := os.Chtimes(sources[1].Path, later, later); err != nil {
		t.Fatal(err)
	}

	if CacheValid(paths.PkgCache, sources, paths.StatusFile) {
		t.Fatal("cache still claims validity after the index changed")
	}

	c2, err := OpenOrRebuild(paths, sources, platform.Amd64, es, false)
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()
	if !c2.FindPkg("quux", "amd64").IsEnd() {
		t.Error("quux still findable after it disappeared from its index")
	}
	if c2.FindPkg("newpkg", "amd64").IsEnd() {
		t.Error("newpkg not merged by the rebuild")
	}
}

func TestReadOnlyRefusesRebuild(t *testing.T) {
	paths, sources := setup(t)
	es := &errstack.Stack{}
	if _, err := OpenOrRebuild(paths, sources, platform.Amd64, es, true); err == nil {
		t.Fatal("read-only open of a missing cache should fail, not generate")
	}
}

func TestVersionHashIgnoresWhitespace(t *testing.T) {
	secA := parseOne(t, "Package: a\nVersion: 1.0\nArchitecture: amd64\nDepends: b,  c\n")
	secB := parseOne(t, "Package: a\nVersion: 1.0\nArchitecture: amd64\nDepends: b, c\n")
	if VersionHash(secA) != VersionHash(secB) {
		t.Error("hash changed on whitespace-only dependency difference")
	}
	secC := parseOne(t, "Package: a\nVersion: 1.0\nArchitecture: amd64\nDepends: b, d\n")
	if VersionHash(secA) == VersionHash(secC) {
		t.Error("hash failed to change when the dependency set changed")
	}
}
