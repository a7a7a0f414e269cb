// Package indexfile turns sources.list entries into concrete index
// targets: the canonical URI of each Packages/Sources/Translation file,
// its on-disk lists/ filename, its cache-merge attributes, and a record
// parser over its stanzas.
package indexfile

import (
	"fmt"
	"strings"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/compress"
	"github.com/arc-language/goapt/internal/hashes"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/platform"
	"github.com/arc-language/goapt/internal/sourcelist"
	"github.com/arc-language/goapt/internal/tagfile"
)

// Kind is what a target holds.
type Kind string

const (
	KindPackages    Kind = "Packages"
	KindSources     Kind = "Sources"
	KindTranslation Kind = "Translation"
)

// Target is one downloadable index: entry × component × architecture ×
// kind.
type Target struct {
	Entry     *sourcelist.Entry
	Component string
	Arch      platform.Arch
	Kind      Kind
	Language  string // Translation targets only
}

// Targets expands a source list for one architecture. Absolute entries
// produce a single target rooted at the entry's URI+DIST.
func Targets(list *sourcelist.List, arch platform.Arch, languages []string) []Target {
	var out []Target
	for _, e := range list.Entries {
		kind := KindPackages
		if e.Type == sourcelist.TypeDebSrc {
			kind = KindSources
		}
		if e.Absolute() {
			out = append(out, Target{Entry: e, Arch: arch, Kind: kind})
			continue
		}
		for _, comp := range e.Components {
			out = append(out, Target{Entry: e, Component: comp, Arch: arch, Kind: kind})
			if kind == KindPackages {
				for _, lang := range languages {
					out = append(out, Target{
						Entry: e, Component: comp, Arch: arch,
						Kind: KindTranslation, Language: lang,
					})
				}
			}
		}
	}
	return out
}

// distRoot is the dists/<DIST> directory of the entry's archive, or the
// bare URI+DIST for absolute entries.
func (t Target) distRoot() string {
	if t.Entry.Absolute() {
		return strings.TrimSuffix(t.Entry.URI+"/"+strings.TrimSuffix(t.Entry.Dist, "/"), "/")
	}
	return t.Entry.URI + "/dists/" + t.Entry.Dist
}

// URI returns the canonical uncompressed index URI.
func (t Target) URI() string {
	if t.Entry.Absolute() {
		return t.distRoot() + "/" + string(t.Kind)
	}
	switch t.Kind {
	case KindSources:
		return fmt.Sprintf("%s/%s/source/Sources", t.distRoot(), t.Component)
	case KindTranslation:
		return fmt.Sprintf("%s/%s/i18n/Translation-%s", t.distRoot(), t.Component, t.Language)
	default:
		return fmt.Sprintf("%s/%s/binary-%s/Packages", t.distRoot(), t.Component, t.Arch)
	}
}

// CompressedURIs lists the URIs to try, preferred first: compressed
// variants the archive conventionally serves, then the plain file.
func (t Target) CompressedURIs() []string {
	base := t.URI()
	return []string{base + ".gz", base + ".xz", base}
}

// FileName returns the flat lists/ filename for the uncompressed index.
func (t Target) FileName() string { return layout.URIToFileName(t.URI()) }

// ReleaseURI returns the entry's Release file URI.
func (t Target) ReleaseURI() string { return t.distRoot() + "/Release" }

// ReleaseSigURI returns the detached signature URI.
func (t Target) ReleaseSigURI() string { return t.distRoot() + "/Release.gpg" }

// ReleaseFileName returns the lists/ filename of the Release file.
func (t Target) ReleaseFileName() string { return layout.URIToFileName(t.ReleaseURI()) }

// Description is the human label progress lines show.
func (t Target) Description() string {
	if t.Entry.Absolute() {
		return fmt.Sprintf("%s %s %s", t.Entry.URI, t.Entry.Dist, t.Kind)
	}
	label := string(t.Kind)
	if t.Kind == KindTranslation {
		label = "Translation-" + t.Language
	}
	return fmt.Sprintf("%s %s/%s %s %s", t.Entry.URI, t.Entry.Dist, t.Component, t.Arch, label)
}

// PackageFileInfo builds the cache attributes for this index, enriched
// with the Release file's identity fields when available.
func (t Target) PackageFileInfo(listsDir string, rel *Release) acache.PackageFileInfo {
	info := acache.PackageFileInfo{
		FileName:  t.FileName(),
		Archive:   t.Entry.Dist,
		Component: t.Component,
		Arch:      string(t.Arch),
		Site:      siteOf(t.Entry.URI),
		IndexType: "Debian Package Index",
	}
	if t.Kind == KindSources {
		info.IndexType = "Debian Source Index"
	}
	if rel != nil {
		info.Origin = rel.Origin
		info.Label = rel.Label
		info.Codename = rel.Codename
		if rel.Suite != "" {
			info.Archive = rel.Suite
		}
		if rel.NotAutomatic {
			info.Flags |= acache.PkgFileFlagNotAutomatic
		}
	}
	return info
}

func siteOf(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	} else if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[i+1:]
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// FormatOf maps a fetched index filename to its decompression format.
func FormatOf(name string) compress.Format { return compress.FormatFromName(name) }

// RecordParser answers field queries over one index stanza, the interface
// the CLI record display and the archive-download path share.
type RecordParser struct {
	sec *tagfile.Section
}

// NewRecordParser wraps an already-scanned stanza.
func NewRecordParser(sec *tagfile.Section) *RecordParser { return &RecordParser{sec: sec} }

// FileName returns the pool path of the package payload.
func (r *RecordParser) FileName() string {
	v, _ := r.sec.Find("Filename")
	return v
}

// Size returns the payload size, 0 when unstated.
func (r *RecordParser) Size() int64 {
	v, ok := r.sec.Find("Size")
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(v, "%d", &n)
	return n
}

// Hashes collects every digest field of the stanza.
func (r *RecordParser) Hashes() *hashes.HashStringList {
	l := hashes.NewHashStringList()
	if v, ok := r.sec.Find("MD5sum"); ok {
		l.Set(hashes.KindMD5, v)
	}
	if v, ok := r.sec.Find("SHA1"); ok {
		l.Set(hashes.KindSHA1, v)
	}
	if v, ok := r.sec.Find("SHA256"); ok {
		l.Set(hashes.KindSHA256, v)
	}
	if v, ok := r.sec.Find("SHA512"); ok {
		l.Set(hashes.KindSHA512, v)
	}
	return l
}

// Maintainer returns the package maintainer.
func (r *RecordParser) Maintainer() string {
	v, _ := r.sec.Find("Maintainer")
	return v
}

// SourcePkg returns the source package name, stripped of any version
// annotation, falling back to the binary name.
func (r *RecordParser) SourcePkg() string {
	v, ok := r.sec.Find("Source")
	if !ok {
		v, _ = r.sec.Find("Package")
		return v
	}
	if i := strings.IndexByte(v, ' '); i >= 0 {
		return v[:i]
	}
	return v
}

// ShortDesc returns the first line of the description.
func (r *RecordParser) ShortDesc() string {
	v, _ := r.sec.Find("Description")
	if i := strings.IndexByte(v, '\n'); i >= 0 {
		return v[:i]
	}
	return v
}

// LongDesc returns the full description body.
func (r *RecordParser) LongDesc() string {
	v, _ := r.sec.Find("Description")
	return v
}

// Description returns the whole description too; callers wanting the
// split use ShortDesc/LongDesc.
func (r *RecordParser) Description() string { return r.LongDesc() }
