package config

import (
	"strings"
	"testing"
)

func TestSetAndFind(t *testing.T) {
	c := New()
	c.Set("APT::Get::Assume-Yes", "true")
	c.Set("Acquire::Retries", "3")

	if got := c.Find("APT::Get::Assume-Yes", ""); got != "true" {
		t.Errorf("Find = %q", got)
	}
	if !c.FindB("APT::Get::Assume-Yes", false) {
		t.Error("FindB = false")
	}
	if got := c.FindI("Acquire::Retries", 0); got != 3 {
		t.Errorf("FindI = %d", got)
	}
	if got := c.Find("Missing::Key", "fallback"); got != "fallback" {
		t.Errorf("default = %q", got)
	}
	// Key lookup is case-insensitive, like the original tree.
	if got := c.Find("acquire::retries", ""); got != "3" {
		t.Errorf("case-insensitive lookup = %q", got)
	}
}

func TestFindDirComposition(t *testing.T) {
	c := New()
	c.Set("Dir::State", "/var/lib/goapt")
	c.Set("Dir::State::Lists", "lists/")
	if got := c.FindDir("Dir::State::Lists", "Dir::State", ""); got != "/var/lib/goapt/lists" {
		t.Errorf("FindDir = %q", got)
	}
	c.Set("Dir::State::Lists", "/elsewhere/lists")
	if got := c.FindDir("Dir::State::Lists", "Dir::State", ""); got != "/elsewhere/lists" {
		t.Errorf("absolute FindDir = %q", got)
	}
}

func TestLoadConfFileSyntax(t *testing.T) {
	src := `
// primary knobs
APT::Get::Assume-Yes "true";
Acquire {
  Queue-Mode "access";
  Retries "2";
  Languages { "en"; "de"; };
};
Dir::Etc::SourceParts "sources.list.d"; # trailing comment
/* block
   comment */
APT::Architecture "arm64";
`
	c := New()
	if err := c.Load(strings.NewReader(src), "test.conf"); err != nil {
		t.Fatal(err)
	}
	if got := c.Find("Acquire::Queue-Mode", ""); got != "access" {
		t.Errorf("Queue-Mode = %q", got)
	}
	if got := c.FindI("Acquire::Retries", 0); got != 2 {
		t.Errorf("Retries = %d", got)
	}
	if got := c.Find("APT::Architecture", ""); got != "arm64" {
		t.Errorf("Architecture = %q", got)
	}
	langs := c.FindVector("Acquire::Languages")
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "de" {
		t.Errorf("Languages = %v", langs)
	}
}

func TestOrderedVectorAppend(t *testing.T) {
	c := New()
	c.Append("Dir::Etc::PinParts", "10-first")
	c.Append("Dir::Etc::PinParts", "20-second")
	c.Append("Dir::Etc::PinParts", "05-third-but-later")
	got := c.FindVector("Dir::Etc::PinParts")
	want := []string{"10-first", "20-second", "05-third-but-later"}
	if len(got) != len(want) {
		t.Fatalf("vector = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("vector[%d] = %q, want %q (insertion order must survive)", i, got[i], want[i])
		}
	}
}

func TestCommandLineOption(t *testing.T) {
	c := New()
	if err := c.ParseCommandLineOption("APT::Get::Simulate=1"); err != nil {
		t.Fatal(err)
	}
	if !c.FindB("APT::Get::Simulate", false) {
		t.Error("option not applied")
	}
	if err := c.ParseCommandLineOption("no-equals"); err == nil {
		t.Error("malformed -o accepted")
	}
}

func TestDumpRendersEveryScalar(t *testing.T) {
	c := New()
	c.Set("A::B", "1")
	c.Set("A::C", "2")
	dump := c.Dump()
	if !strings.Contains(dump, `A::B "1";`) || !strings.Contains(dump, `A::C "2";`) {
		t.Errorf("dump = %q", dump)
	}
}
