package depfield

import (
	"testing"

	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/platform"
)

func TestParseConjunctionsAndAlternatives(t *testing.T) {
	groups, err := Parse("bar (>= 1.0) | baz, libc6 (>= 2.36), editor")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 3 {
		t.Fatalf("parsed %d groups, want 3", len(groups))
	}
	if len(groups[0]) != 2 {
		t.Fatalf("first group has %d alternatives, want 2", len(groups[0]))
	}
	d := groups[0][0]
	if d.Name != "bar" || d.Op != debver.OpGreaterEq || d.Version != "1.0" {
		t.Errorf("first dep = %+v", d)
	}
	if groups[0][1].Name != "baz" || groups[0][1].Op != debver.OpNone {
		t.Errorf("second alternative = %+v", groups[0][1])
	}
	if groups[1][0].Name != "libc6" || groups[1][0].Version != "2.36" {
		t.Errorf("libc6 dep = %+v", groups[1][0])
	}
}

func TestParseArchQualifierAndRestrictions(t *testing.T) {
	groups, err := Parse("libfoo:amd64 (= 1.2) [linux-any !i386] <cross>")
	if err != nil {
		t.Fatal(err)
	}
	d := groups[0][0]
	if d.Arch != "amd64" {
		t.Errorf("arch qualifier = %q", d.Arch)
	}
	if d.Op != debver.OpEquals || d.Version != "1.2" {
		t.Errorf("restriction = %v %q", d.Op, d.Version)
	}
	if len(d.ArchList) != 2 || d.ArchList[0] != "linux-any" || d.ArchList[1] != "!i386" {
		t.Errorf("archlist = %v", d.ArchList)
	}
	if len(d.Profiles) != 1 || d.Profiles[0] != "cross" {
		t.Errorf("profiles = %v", d.Profiles)
	}
	// Profile-restricted deps never apply to binary installs.
	if d.AppliesTo(platform.Amd64) {
		t.Error("profile-restricted dep applied")
	}
}

func TestArchListFiltering(t *testing.T) {
	groups, err := Parse("tool [amd64], other [!amd64]")
	if err != nil {
		t.Fatal(err)
	}
	if !groups[0][0].AppliesTo(platform.Amd64) {
		t.Error("[amd64] dep should apply on amd64")
	}
	if groups[1][0].AppliesTo(platform.Amd64) {
		t.Error("[!amd64] dep should be absent on amd64")
	}
	if !groups[1][0].AppliesTo(platform.Arm64) {
		t.Error("[!amd64] dep should apply on arm64")
	}
}

func TestLegacySingleAngleOperator(t *testing.T) {
	groups, err := Parse("old (< 2.0)")
	if err != nil {
		t.Fatal(err)
	}
	if groups[0][0].Op != debver.OpLessEq {
		t.Errorf("historic '<' parsed as %v, want <=", groups[0][0].Op)
	}
}

func TestBareVersionMeansEquals(t *testing.T) {
	groups, err := Parse("pinned (1.5)")
	if err != nil {
		t.Fatal(err)
	}
	if groups[0][0].Op != debver.OpEquals || groups[0][0].Version != "1.5" {
		t.Errorf("dep = %+v", groups[0][0])
	}
}

func TestMalformedFields(t *testing.T) {
	for _, bad := range []string{"(>= 1.0)", "foo (>= )", "foo (>= 1.0", "foo [amd64", "foo | , bar"} {
		if _, err := Parse(bad); err == nil {
			t.Errorf("Parse(%q) succeeded", bad)
		}
	}
}
