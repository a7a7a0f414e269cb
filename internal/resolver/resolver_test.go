package resolver

import (
	"testing"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/depcache"
	"github.com/arc-language/goapt/internal/policy"
)

func cmp(n string) func(string) int {
	return func(e string) int { return debver.Compare(n, e) }
}

// buildBroken: a depends "b | c"; b does not exist as a real package, c is
// available but not installed; d conflicts with the installed e.
func buildBroken(t *testing.T) (*acache.Cache, *depcache.DepCache) {
	t.Helper()
	b := acache.NewBuilder("")
	file := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "lists/test_Packages", Archive: "stable", Component: "main", Arch: "amd64",
	})
	status := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "status", Archive: "now",
		Flags: acache.PkgFileFlagNotSource | acache.PkgFileFlagLocalStatus,
	})

	a := b.NewPackage("a", "amd64")
	av, _ := b.NewVersion(a, "1.0", 1, cmp("1.0"))
	b.SetVersionInfo(av, "misc", "amd64", 10, 100, acache.PriOptional)
	b.AddVerFile(av, file, 0, 1)
	b.NewDependency(av, "b", "amd64", "", byte(debver.OpNone), acache.DepDepends, true)
	b.NewDependency(av, "c", "amd64", "", byte(debver.OpNone), acache.DepDepends, false)

	c := b.NewPackage("c", "amd64")
	cv, _ := b.NewVersion(c, "1.0", 2, cmp("1.0"))
	b.SetVersionInfo(cv, "misc", "amd64", 20, 200, acache.PriOptional)
	b.AddVerFile(cv, file, 0, 1)

	d := b.NewPackage("d", "amd64")
	dv, _ := b.NewVersion(d, "2.0", 3, cmp("2.0"))
	b.SetVersionInfo(dv, "misc", "amd64", 30, 300, acache.PriOptional)
	b.AddVerFile(dv, file, 0, 1)
	b.NewDependency(dv, "e", "amd64", "", byte(debver.OpNone), acache.DepConflicts, false)

	e := b.NewPackage("e", "amd64")
	ev, _ := b.NewVersion(e, "1.0", 4, cmp("1.0"))
	b.SetVersionInfo(ev, "misc", "amd64", 40, 400, acache.PriOptional)
	b.AddVerFile(ev, file, 0, 1)
	b.AddVerFile(ev, status, 0, 1)
	b.SetCurrentVer(e, ev)
	b.SetPkgStates(e, acache.SelInstall, acache.StateInstalled)

	cache := b.Seal()
	return cache, depcache.New(cache, policy.New(cache))
}

func TestResolveInstallsAvailableAlternative(t *testing.T) {
	cache, dc := buildBroken(t)
	a := cache.FindPkg("a", "amd64")
	dc.MarkInstall(a, false)
	if dc.Counters().Broken != 1 {
		t.Fatalf("broken = %d before resolving, want 1", dc.Counters().Broken)
	}

	r := New(dc)
	if err := r.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dc.Counters().Broken != 0 {
		t.Fatalf("broken = %d after resolving", dc.Counters().Broken)
	}
	// b is unavailable, so the resolver must have picked c.
	if dc.GetMode(cache.FindPkg("c", "amd64")) != depcache.ModeInstall {
		t.Error("c not marked for install")
	}
	if dc.GetMode(a) != depcache.ModeInstall {
		t.Error("a lost its install mark during repair")
	}
}

func TestResolveRemovesConflictor(t *testing.T) {
	cache, dc := buildBroken(t)
	d := cache.FindPkg("d", "amd64")
	dc.MarkInstall(d, false)
	dc.SetProtected(d) // the user asked for d; repair must not cancel it

	r := New(dc)
	if err := r.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if dc.GetMode(cache.FindPkg("e", "amd64")) != depcache.ModeDelete {
		t.Error("conflicting e not planned for removal")
	}
	if dc.GetMode(d) != depcache.ModeInstall {
		t.Error("d lost its install mark")
	}
}

func TestUnresolvableReported(t *testing.T) {
	b := acache.NewBuilder("")
	file := b.NewPackageFile(acache.PackageFileInfo{FileName: "lists/p", Archive: "stable"})
	a := b.NewPackage("a", "amd64")
	av, _ := b.NewVersion(a, "1.0", 1, cmp("1.0"))
	b.SetVersionInfo(av, "misc", "amd64", 1, 1, acache.PriOptional)
	b.AddVerFile(av, file, 0, 1)
	b.NewDependency(av, "missing", "amd64", "", byte(debver.OpNone), acache.DepDepends, false)
	cache := b.Seal()

	dc := depcache.New(cache, policy.New(cache))
	pa := cache.FindPkg("a", "amd64")
	dc.MarkInstall(pa, false)
	dc.SetProtected(pa)

	r := New(dc)
	err := r.Resolve()
	if err == nil {
		t.Fatal("Resolve succeeded on an unsatisfiable dependency")
	}
	if _, ok := err.(*Unresolved); !ok {
		t.Fatalf("error type %T, want *Unresolved", err)
	}
}

func TestEssentialNeverRemovedByConflictRepair(t *testing.T) {
	b := acache.NewBuilder("")
	file := b.NewPackageFile(acache.PackageFileInfo{FileName: "lists/p", Archive: "stable"})
	status := b.NewPackageFile(acache.PackageFileInfo{
		FileName: "status", Archive: "now",
		Flags: acache.PkgFileFlagNotSource | acache.PkgFileFlagLocalStatus,
	})

	d := b.NewPackage("d", "amd64")
	dv, _ := b.NewVersion(d, "2.0", 1, cmp("2.0"))
	b.SetVersionInfo(dv, "misc", "amd64", 1, 1, acache.PriOptional)
	b.AddVerFile(dv, file, 0, 1)
	b.NewDependency(dv, "base", "amd64", "", byte(debver.OpNone), acache.DepConflicts, false)

	base := b.NewPackage("base", "amd64")
	b.SetPkgFlags(base, acache.PkgFlagEssential)
	bv, _ := b.NewVersion(base, "1.0", 2, cmp("1.0"))
	b.SetVersionInfo(bv, "admin", "amd64", 1, 1, acache.PriRequired)
	b.AddVerFile(bv, status, 0, 1)
	b.SetCurrentVer(base, bv)
	cache := b.Seal()

	dc := depcache.New(cache, policy.New(cache))
	pd := cache.FindPkg("d", "amd64")
	dc.MarkInstall(pd, false)

	r := New(dc)
	r.Resolve() // outcome may be cancellation of d, never removal of base

	if dc.GetMode(cache.FindPkg("base", "amd64")) == depcache.ModeDelete {
		t.Fatal("essential package planned for removal")
	}
	if dc.Counters().Broken != 0 {
		// The only legal repair is cancelling d's install.
		t.Fatalf("broken = %d; resolver should have cancelled d", dc.Counters().Broken)
	}
}
