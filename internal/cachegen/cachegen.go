// Package cachegen builds the package cache by merging downloaded index
// files and the local installed-status file. Indexes are iterated in
// configured order; when two indexes carry the same version the later one
// adds to the earlier one's file list without overwriting it, and the
// status overlay is always applied last.
package cachegen

import (
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/compress"
	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/depfield"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/platform"
	"github.com/arc-language/goapt/internal/tagfile"
)

// IndexSource is one index file to merge, with the origin attributes that
// become its PackageFile record. ArchiveRoot is the archive base URI the
// index came from, carried along so the download path can turn a stanza's
// pool Filename back into a full URI; the generator itself ignores it.
type IndexSource struct {
	Path        string
	Format      compress.Format
	ArchiveRoot string
	Info        acache.PackageFileInfo
}

// Generator accumulates merge state around one Builder.
type Generator struct {
	b     *acache.Builder
	arch  platform.Arch
	es    *errstack.Stack
}

// New wraps a fresh builder for the native architecture arch.
func New(b *acache.Builder, arch platform.Arch, es *errstack.Stack) *Generator {
	return &Generator{b: b, arch: arch, es: es}
}

// depTypeFields maps stanza field names to dependency type codes, in the
// order the generator walks them.
var depTypeFields = []struct {
	field string
	dtype byte
}{
	{"Pre-Depends", acache.DepPreDepends},
	{"Depends", acache.DepDepends},
	{"Recommends", acache.DepRecommends},
	{"Suggests", acache.DepSuggests},
	{"Conflicts", acache.DepConflicts},
	{"Breaks", acache.DepBreaks},
	{"Replaces", acache.DepReplaces},
	{"Enhances", acache.DepEnhances},
}

// MergeIndex parses one Packages index and folds every stanza into the
// cache under a fresh PackageFile record.
func (g *Generator) MergeIndex(src IndexSource) error {
	f, err := os.Open(src.Path)
	if err != nil {
		return fmt.Errorf("cachegen: opening %s: %w", src.Path, err)
	}
	defer f.Close()

	r, err := compress.NewReader(src.Format, f)
	if err != nil {
		return fmt.Errorf("cachegen: %s: %w", src.Path, err)
	}

	info := src.Info
	if st, err := os.Stat(src.Path); err == nil {
		info.Mtime = st.ModTime().Unix()
		info.Size = st.Size()
	}
	if info.FileName == "" {
		info.FileName = src.Path
	}
	fileH := g.b.NewPackageFile(info)

	return g.mergeStanzas(r, fileH, false)
}

// MergeStatus folds the installed-status file into the cache. Must be
// called after every index merge so the overlay lands last.
func (g *Generator) MergeStatus(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// A fresh system has no status file yet; the cache is simply
			// all-available, nothing installed.
			return nil
		}
		return fmt.Errorf("cachegen: opening status %s: %w", path, err)
	}
	defer f.Close()

	info := acache.PackageFileInfo{
		FileName:  path,
		Archive:   "now",
		Component: "now",
		IndexType: "Debian dpkg status file",
		Flags:     acache.PkgFileFlagNotSource | acache.PkgFileFlagLocalStatus,
	}
	if st, err := os.Stat(path); err == nil {
		info.Mtime = st.ModTime().Unix()
		info.Size = st.Size()
	}
	fileH := g.b.NewPackageFile(info)

	return g.mergeStanzas(f, fileH, true)
}

func (g *Generator) mergeStanzas(r io.Reader, fileH acache.Handle, isStatus bool) error {
	sc := tagfile.NewScanner(r)
	for {
		start := sc.Offset()
		sec, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// A malformed stanza skips the record, not the stream.
			g.es.Warnf("cachegen", "skipping malformed stanza: %v", err)
			if _, ok := err.(*tagfile.ErrMalformedStanza); ok {
				continue
			}
			return err
		}
		if err := g.mergeStanza(sec, fileH, start, isStatus); err != nil {
			g.es.Warnf("cachegen", "skipping stanza: %v", err)
		}
	}
}

func (g *Generator) mergeStanza(sec *tagfile.Section, fileH acache.Handle, offset int64, isStatus bool) error {
	name, ok := sec.Find("Package")
	if !ok || name == "" {
		return fmt.Errorf("stanza without Package field")
	}
	version, ok := sec.Find("Version")
	if !ok || version == "" {
		return fmt.Errorf("package %s has no Version", name)
	}
	arch, _ := sec.Find("Architecture")
	if arch == "" {
		arch = string(g.arch)
	}

	pkg := g.b.NewPackage(name, arch)
	if sec.FindFlag("Essential", false) {
		g.b.SetPkgFlags(pkg, acache.PkgFlagEssential)
	}
	if sec.FindFlag("Important", false) {
		g.b.SetPkgFlags(pkg, acache.PkgFlagImportant)
	}

	hash := VersionHash(sec)
	v, created := g.b.NewVersion(pkg, version, hash, func(existing string) int {
		return debver.Compare(version, existing)
	})

	if created {
		section, _ := sec.Find("Section")
		size := findUint(sec, "Size")
		instSize := findUint(sec, "Installed-Size")
		prio, _ := sec.Find("Priority")
		g.b.SetVersionInfo(v, section, arch, size, instSize, ParsePriority(prio))

		for _, tf := range depTypeFields {
			field, ok := sec.Find(tf.field)
			if !ok {
				continue
			}
			if err := g.mergeDepends(v, field, tf.dtype); err != nil {
				return fmt.Errorf("package %s %s: %w", name, tf.field, err)
			}
		}
		if provides, ok := sec.Find("Provides"); ok {
			if err := g.mergeProvides(v, provides, arch); err != nil {
				return fmt.Errorf("package %s Provides: %w", name, err)
			}
		}
		if md5, ok := sec.Find("Description-md5"); ok {
			g.b.NewDescription(v, "", md5)
		} else if _, ok := sec.Find("Description"); ok {
			g.b.NewDescription(v, "", "")
		}
	}

	g.b.AddVerFile(v, fileH, uint64(offset), uint64(len(sec.Raw())))

	if isStatus {
		g.mergeStatusState(sec, pkg, v)
	}
	return nil
}

// mergeStatusState interprets the three-word Status field ("install ok
// installed") and wires the current-version pointer.
func (g *Generator) mergeStatusState(sec *tagfile.Section, pkg, v acache.Handle) {
	status, ok := sec.Find("Status")
	if !ok {
		return
	}
	words := strings.Fields(status)
	if len(words) != 3 {
		g.es.Warnf("cachegen", "unparsable Status %q", status)
		return
	}
	selected := parseWantState(words[0])
	current := parseCurrentState(words[2])
	g.b.SetPkgStates(pkg, selected, current)
	if current != acache.StateNotInstalled && current != acache.StateConfigFiles {
		g.b.SetCurrentVer(pkg, v)
	}
}

func parseWantState(s string) byte {
	switch s {
	case "install":
		return acache.SelInstall
	case "hold":
		return acache.SelHold
	case "deinstall":
		return acache.SelDeInstall
	case "purge":
		return acache.SelPurge
	default:
		return acache.SelUnknown
	}
}

func parseCurrentState(s string) byte {
	switch s {
	case "installed":
		return acache.StateInstalled
	case "config-files":
		return acache.StateConfigFiles
	case "half-installed":
		return acache.StateHalfInstalled
	case "unpacked":
		return acache.StateUnPacked
	case "half-configured":
		return acache.StateHalfConfigured
	default:
		return acache.StateNotInstalled
	}
}

func (g *Generator) mergeDepends(v acache.Handle, field string, dtype byte) error {
	groups, err := depfield.Parse(field)
	if err != nil {
		return err
	}
	for _, grp := range groups {
		// Drop alternatives excluded for this architecture, then flag all
		// but the final survivor as OR-continuations.
		var active []depfield.Dep
		for _, d := range grp {
			if d.AppliesTo(g.arch) {
				active = append(active, d)
			}
		}
		for i, d := range active {
			targetArch := d.Arch
			if targetArch == "" {
				targetArch = string(g.arch)
			}
			g.b.NewDependency(v, d.Name, targetArch, d.Version, byte(d.Op), dtype, i < len(active)-1)
		}
	}
	return nil
}

func (g *Generator) mergeProvides(v acache.Handle, field, arch string) error {
	groups, err := depfield.Parse(field)
	if err != nil {
		return err
	}
	for _, grp := range groups {
		for _, d := range grp {
			if !d.AppliesTo(g.arch) {
				continue
			}
			g.b.NewProvides(v, d.Name, arch, d.Version)
		}
	}
	return nil
}

// ParsePriority maps a Priority field value to its cache code.
func ParsePriority(s string) byte {
	switch s {
	case "required":
		return acache.PriRequired
	case "important":
		return acache.PriImportant
	case "standard":
		return acache.PriStandard
	case "optional":
		return acache.PriOptional
	case "extra":
		return acache.PriExtra
	default:
		return acache.PriOptional
	}
}

func findUint(sec *tagfile.Section, field string) uint64 {
	v, ok := sec.Find(field)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// VersionHash folds a stanza's essential fields (name, version,
// architecture, the dependency set, essential-ness and priority) into 16
// bits. The status-file merge uses it to recognize that a status stanza
// describes the same version a downloaded index already contributed.
func VersionHash(sec *tagfile.Section) uint16 {
	h := fnv.New32a()
	write := func(field string) {
		if v, ok := sec.Find(field); ok {
			// Whitespace differences between an index and the status file
			// must not change the hash.
			io.WriteString(h, strings.Join(strings.Fields(v), " "))
		}
		h.Write([]byte{0})
	}
	write("Package")
	write("Version")
	write("Architecture")
	write("Pre-Depends")
	write("Depends")
	write("Conflicts")
	write("Breaks")
	write("Essential")
	write("Priority")
	sum := h.Sum32()
	return uint16(sum ^ (sum >> 16))
}
