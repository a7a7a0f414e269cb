package policy

import (
	"testing"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/debver"
)

// buildCache: foo has 2.0-1 (stable), 1.5-1 (installed, status) and 1.0-1
// (oldstable).
func buildCache(t *testing.T) *acache.Cache {
	t.Helper()
	b := acache.NewBuilder("")

	stable := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "lists/stable_Packages", Archive: "stable", Codename: "trixie",
		Component: "main", Arch: "amd64", Origin: "Example", Label: "Example",
		Site: "archive.example.org",
	})
	oldstable := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "lists/oldstable_Packages", Archive: "oldstable", Codename: "bookworm",
		Component: "main", Arch: "amd64", Origin: "Example", Label: "Example",
		Site: "archive.example.org",
	})
	status := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "/var/lib/goapt/status", Archive: "now",
		Flags: acache.PkgFileFlagNotSource | acache.PkgFileFlagLocalStatus,
	})

	foo := b.NewPackage("foo", "amd64")
	cmp := func(n string) func(string) int {
		return func(e string) int { return debver.Compare(n, e) }
	}
	v20, _ := b.NewVersion(foo, "2.0-1", 1, cmp("2.0-1"))
	b.SetVersionInfo(v20, "utils", "amd64", 100, 200, acache.PriOptional)
	b.AddVerFile(v20, stable, 0, 1)
	v15, _ := b.NewVersion(foo, "1.5-1", 2, cmp("1.5-1"))
	b.SetVersionInfo(v15, "utils", "amd64", 90, 180, acache.PriOptional)
	b.AddVerFile(v15, status, 0, 1)
	v10, _ := b.NewVersion(foo, "1.0-1", 3, cmp("1.0-1"))
	b.SetVersionInfo(v10, "utils", "amd64", 80, 160, acache.PriOptional)
	b.AddVerFile(v10, oldstable, 0, 1)

	b.SetCurrentVer(foo, v15)
	b.SetPkgStates(foo, acache.SelInstall, acache.StateInstalled)
	return b.Seal()
}

func TestDefaultCandidateIsHighestAvailable(t *testing.T) {
	c := buildCache(t)
	pol := New(c)
	cand := pol.GetCandidateVer(c.FindPkg("foo", "amd64"))
	if cand.IsEnd() || cand.VerStr() != "2.0-1" {
		t.Fatalf("candidate = %q, want 2.0-1", cand.VerStr())
	}
}

func TestNegativePinExcludesVersion(t *testing.T) {
	c := buildCache(t)
	pol := New(c)
	pol.AddPin(Pin{Kind: MatchExact, Package: "foo", Version: "2.0-1", Priority: -1})
	cand := pol.GetCandidateVer(c.FindPkg("foo", "amd64"))
	// 2.0-1 excluded; 1.0-1 is a downgrade; the installed 1.5-1 wins.
	if cand.VerStr() != "1.5-1" {
		t.Fatalf("candidate = %q, want 1.5-1", cand.VerStr())
	}
}

func TestDowngradeNeedsExactOverridePin(t *testing.T) {
	c := buildCache(t)

	pol := New(c)
	pol.AddPin(Pin{Kind: MatchExact, Package: "foo", Version: "1.0-1", Priority: 990})
	if got := pol.GetCandidateVer(c.FindPkg("foo", "amd64")).VerStr(); got != "2.0-1" {
		t.Fatalf("pin 990 moved the candidate to %q; downgrade protection failed", got)
	}

	pol2 := New(c)
	pol2.AddPin(Pin{Kind: MatchExact, Package: "foo", Version: "1.0-1", Priority: DowngradeOverridePin})
	if got := pol2.GetCandidateVer(c.FindPkg("foo", "amd64")).VerStr(); got != "1.0-1" {
		t.Fatalf("pin 1000 did not override downgrade protection, candidate = %q", got)
	}
}

func TestReleasePinMatchesAllAttributes(t *testing.T) {
	c := buildCache(t)
	pol := New(c)
	pol.AddPin(Pin{Kind: MatchExact, Package: "*",
		Release: map[string]string{"a": "oldstable", "o": "Example"}, Priority: 600})
	// 1.0-1 now scores 600, but it is a downgrade from the installed
	// 1.5-1 and 600 is not the override pin, so 2.0-1 stays candidate.
	if got := pol.GetCandidateVer(c.FindPkg("foo", "amd64")).VerStr(); got != "2.0-1" {
		t.Fatalf("candidate = %q, want 2.0-1", got)
	}

	// Attribute sets must match completely: a wrong origin kills the pin.
	pol2 := New(c)
	pol2.AddPin(Pin{Kind: MatchExact, Package: "*",
		Release: map[string]string{"a": "oldstable", "o": "SomeoneElse"}, Priority: 1000})
	if got := pol2.GetCandidateVer(c.FindPkg("foo", "amd64")).VerStr(); got != "2.0-1" {
		t.Fatalf("mismatched release pin applied anyway, candidate = %q", got)
	}
}

func TestVersionScoreUsesStatusPriority(t *testing.T) {
	c := buildCache(t)
	pol := New(c)
	pkg := c.FindPkg("foo", "amd64")
	for v := pkg.VersionList(); !v.IsEnd(); v.Inc() {
		score := pol.VersionScore(v)
		switch v.VerStr() {
		case "1.5-1":
			if score != StatusFilePriority {
				t.Errorf("status-only version score = %d, want %d", score, StatusFilePriority)
			}
		default:
			if score != DefaultPriority {
				t.Errorf("%s score = %d, want %d", v.VerStr(), score, DefaultPriority)
			}
		}
	}
}
