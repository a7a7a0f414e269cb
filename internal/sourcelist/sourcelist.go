// Package sourcelist parses sources.list files:
//
//	deb http://archive.example.org/debian stable main contrib
//	deb-src http://archive.example.org/debian stable main
//	deb file:/var/local/repo ./
//
// A DIST ending in "/" is an absolute entry: the URI+DIST is used as-is
// and carries no components. "$(ARCH)" in the URI or DIST is substituted
// with the configured architecture.
package sourcelist

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/platform"
)

// EntryType distinguishes binary from source entries.
type EntryType string

const (
	TypeDeb    EntryType = "deb"
	TypeDebSrc EntryType = "deb-src"
)

// Entry is one parsed source line.
type Entry struct {
	Type       EntryType
	URI        string
	Dist       string
	Components []string

	// File and Line locate the entry for error messages.
	File string
	Line int
}

// Absolute reports whether the entry is a no-components absolute path
// (DIST ended in "/").
func (e *Entry) Absolute() bool { return strings.HasSuffix(e.Dist, "/") }

// List is an ordered set of entries, in configuration order.
type List struct {
	Entries []*Entry
}

// ParseFile reads one sources.list file. Unparsable lines are recorded as
// warnings and skipped so one typo does not take every archive offline.
func ParseFile(path string, arch platform.Arch, es *errstack.Stack) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	l := &List{}
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		entry, err := parseLine(sc.Text(), arch)
		if err != nil {
			es.Warnf("sourcelist", "%s:%d: %v", path, lineNo, err)
			continue
		}
		if entry == nil {
			continue // blank or comment
		}
		entry.File, entry.Line = path, lineNo
		l.Entries = append(l.Entries, entry)
	}
	return l, sc.Err()
}

// ParseDir reads the main sources.list plus every *.list fragment under
// partsDir, in name order. Missing files load as empty.
func ParseDir(mainFile, partsDir string, arch platform.Arch, es *errstack.Stack) (*List, error) {
	out := &List{}
	if mainFile != "" {
		l, err := ParseFile(mainFile, arch, es)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if l != nil {
			out.Entries = append(out.Entries, l.Entries...)
		}
	}
	entries, err := os.ReadDir(partsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".list") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		l, err := ParseFile(filepath.Join(partsDir, name), arch, es)
		if err != nil {
			return nil, err
		}
		out.Entries = append(out.Entries, l.Entries...)
	}
	return out, nil
}

func parseLine(line string, arch platform.Arch) (*Entry, error) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	typ := EntryType(fields[0])
	if typ != TypeDeb && typ != TypeDebSrc {
		return nil, fmt.Errorf("unknown entry type %q", fields[0])
	}
	if len(fields) < 3 {
		return nil, fmt.Errorf("entry needs at least a URI and a distribution")
	}

	sub := func(s string) string {
		return strings.ReplaceAll(s, "$(ARCH)", string(arch))
	}
	e := &Entry{
		Type: typ,
		URI:  strings.TrimSuffix(sub(fields[1]), "/"),
		Dist: sub(fields[2]),
	}
	if e.Absolute() {
		if len(fields) > 3 {
			return nil, fmt.Errorf("absolute distribution %q takes no components", e.Dist)
		}
		return e, nil
	}
	if len(fields) < 4 {
		return nil, fmt.Errorf("distribution %q needs at least one component", e.Dist)
	}
	e.Components = fields[3:]
	return e, nil
}
