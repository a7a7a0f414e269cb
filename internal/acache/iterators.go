package acache

import "github.com/arc-language/goapt/internal/debver"

// GrpIterator walks groups: either one hash chain (from FindGrp) or every
// bucket of the table (from GrpBegin).
type GrpIterator struct {
	c       *Cache
	h       Handle
	walking bool
	bucket  int
}

func (g GrpIterator) IsEnd() bool   { return g.h == 0 }
func (g GrpIterator) Handle() Handle { return g.h }
func (g GrpIterator) Name() string  { return g.c.str(g.c.u32(g.h, grpName)) }

// PackageList returns the first package of the group.
func (g GrpIterator) PackageList() PkgIterator {
	return PkgIterator{c: g.c, h: g.c.u32(g.h, grpFirstPkg)}
}

// FindPkg returns the group member with the given architecture.
func (g GrpIterator) FindPkg(arch string) PkgIterator {
	p := g.PackageList()
	for !p.IsEnd() {
		if p.Arch() == arch {
			return p
		}
		p.Inc()
	}
	return PkgIterator{c: g.c}
}

func (g *GrpIterator) nextBucket() {
	table := g.c.u32(0, hdrPkgHashTable)
	for g.bucket++; g.bucket < HashTableSize; g.bucket++ {
		h := le.Uint32(g.c.arena.bytes(table+4*Handle(g.bucket), 4))
		if h != 0 {
			g.h = h
			return
		}
	}
	g.h = 0
}

// Inc advances to the next group. A FindGrp iterator stops at its chain's
// end; a GrpBegin iterator moves on to the next occupied bucket.
func (g *GrpIterator) Inc() {
	if g.h == 0 {
		return
	}
	next := g.c.u32(g.h, grpNextGroup)
	if next != 0 || !g.walking {
		g.h = next
		return
	}
	g.nextBucket()
}

// PkgIterator is a cursor over package records.
type PkgIterator struct {
	c   *Cache
	h   Handle
	grp GrpIterator // set only for cache-wide walks
}

func (p PkgIterator) IsEnd() bool          { return p.h == 0 }
func (p PkgIterator) Handle() Handle       { return p.h }
func (p PkgIterator) Same(o PkgIterator) bool { return p.h == o.h }

func (p PkgIterator) Name() string { return p.c.str(p.c.u32(p.h, pkgName)) }
func (p PkgIterator) Arch() string { return p.c.str(p.c.u32(p.h, pkgArch)) }
func (p PkgIterator) ID() uint32   { return p.c.u32(p.h, pkgID) }
func (p PkgIterator) Flags() uint16 { return p.c.u16(p.h, pkgFlags) }

// FullName renders "name:arch", the unambiguous package spelling.
func (p PkgIterator) FullName() string { return p.Name() + ":" + p.Arch() }

func (p PkgIterator) SelectedState() byte { return p.c.u8(p.h, pkgSelected) }
func (p PkgIterator) CurrentState() byte  { return p.c.u8(p.h, pkgCurState) }

// VersionList returns the highest-first chain of known versions.
func (p PkgIterator) VersionList() VerIterator {
	return VerIterator{c: p.c, h: p.c.u32(p.h, pkgVersionList)}
}

// CurrentVer returns the installed version, end-iterator if none.
func (p PkgIterator) CurrentVer() VerIterator {
	return VerIterator{c: p.c, h: p.c.u32(p.h, pkgCurrentVer)}
}

// RevDependsList returns dependencies of other versions targeting this
// package.
func (p PkgIterator) RevDependsList() DepIterator {
	return DepIterator{c: p.c, h: p.c.u32(p.h, pkgRevDepends), rev: true}
}

// ProvidesList returns the provides records naming this package.
func (p PkgIterator) ProvidesList() PrvIterator {
	return PrvIterator{c: p.c, h: p.c.u32(p.h, pkgProvides), byPkg: true}
}

// Group returns the iterator for this package's name group.
func (p PkgIterator) Group() GrpIterator {
	return GrpIterator{c: p.c, h: p.c.u32(p.h, pkgGroup)}
}

// HasVersions reports whether any version record exists; a package with
// none exists only as a dependency target.
func (p PkgIterator) HasVersions() bool { return p.c.u32(p.h, pkgVersionList) != 0 }

// HasProvides reports whether any version provides this name.
func (p PkgIterator) HasProvides() bool { return p.c.u32(p.h, pkgProvides) != 0 }

// Inc advances: within the group for chain iterators, across groups for
// cache-wide walks started at PkgBegin.
func (p *PkgIterator) Inc() {
	if p.h == 0 {
		return
	}
	next := p.c.u32(p.h, pkgNextPkg)
	if next != 0 {
		p.h = next
		return
	}
	if p.grp.h == 0 {
		p.h = 0
		return
	}
	for {
		p.grp.Inc()
		if p.grp.IsEnd() {
			p.h = 0
			return
		}
		if first := p.grp.PackageList(); !first.IsEnd() {
			p.h = first.h
			return
		}
	}
}

// VerIterator is a cursor over version records.
type VerIterator struct {
	c *Cache
	h Handle
}

func (v VerIterator) IsEnd() bool          { return v.h == 0 }
func (v VerIterator) Handle() Handle       { return v.h }
func (v VerIterator) Same(o VerIterator) bool { return v.h == o.h }

func (v VerIterator) VerStr() string  { return v.c.str(v.c.u32(v.h, verStr)) }
func (v VerIterator) Section() string { return v.c.str(v.c.u32(v.h, verSection)) }
func (v VerIterator) Arch() string    { return v.c.str(v.c.u32(v.h, verArch)) }
func (v VerIterator) Size() uint64    { return v.c.u64(v.h, verSize) }
func (v VerIterator) InstalledSize() uint64 { return v.c.u64(v.h, verInstSize) }
func (v VerIterator) Priority() byte  { return v.c.u8(v.h, verPriority) }
func (v VerIterator) Hash() uint16    { return v.c.u16(v.h, verHash) }

// ParentPkg returns the package this version belongs to.
func (v VerIterator) ParentPkg() PkgIterator {
	return PkgIterator{c: v.c, h: v.c.u32(v.h, verParentPkg)}
}

// DependsList returns the version's dependency chain in field order.
func (v VerIterator) DependsList() DepIterator {
	return DepIterator{c: v.c, h: v.c.u32(v.h, verDepends)}
}

// ProvidesList returns the provides records this version asserts.
func (v VerIterator) ProvidesList() PrvIterator {
	return PrvIterator{c: v.c, h: v.c.u32(v.h, verProvides)}
}

// FileList returns the index files listing this version.
func (v VerIterator) FileList() VerFileIterator {
	return VerFileIterator{c: v.c, h: v.c.u32(v.h, verFileList)}
}

// DescriptionList returns the version's description chain, earliest first.
func (v VerIterator) DescriptionList() DescIterator {
	return DescIterator{c: v.c, h: v.c.u32(v.h, verDescList)}
}

// Downloadable reports whether at least one non-status index lists this
// version, i.e. whether the acquire layer has somewhere to fetch it from.
func (v VerIterator) Downloadable() bool {
	for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
		if vf.File().Flags()&PkgFileFlagNotSource == 0 {
			return true
		}
	}
	return false
}

func (v *VerIterator) Inc() {
	if v.h != 0 {
		v.h = v.c.u32(v.h, verNextVer)
	}
}

// DepIterator is a cursor over dependency records, following either the
// parent version's forward chain or a target package's reverse chain.
type DepIterator struct {
	c   *Cache
	h   Handle
	rev bool
}

func (d DepIterator) IsEnd() bool    { return d.h == 0 }
func (d DepIterator) Handle() Handle { return d.h }

func (d DepIterator) DepType() byte     { return d.c.u8(d.h, depType) }
func (d DepIterator) CompareOp() debver.Op { return debver.Op(d.c.u8(d.h, depCompareOp)) }
func (d DepIterator) TargetVer() string { return d.c.str(d.c.u32(d.h, depVersion)) }

// IsOr reports whether the OR-group continues past this record.
func (d DepIterator) IsOr() bool { return d.c.u8(d.h, depFlags)&DepFlagOr != 0 }

// IsNegative reports whether this is a conflicts-class dependency.
func (d DepIterator) IsNegative() bool { return IsNegativeDep(d.DepType()) }

// TargetPkg returns the package this dependency names.
func (d DepIterator) TargetPkg() PkgIterator {
	return PkgIterator{c: d.c, h: d.c.u32(d.h, depPackage)}
}

// ParentVer returns the version carrying this dependency.
func (d DepIterator) ParentVer() VerIterator {
	return VerIterator{c: d.c, h: d.c.u32(d.h, depParentVer)}
}

// ParentPkg returns the package carrying this dependency.
func (d DepIterator) ParentPkg() PkgIterator { return d.ParentVer().ParentPkg() }

// Satisfies reports whether a concrete version string meets this
// dependency's operator and target version.
func (d DepIterator) Satisfies(version string) bool {
	return debver.CheckDep(version, d.CompareOp(), d.TargetVer())
}

func (d *DepIterator) Inc() {
	if d.h == 0 {
		return
	}
	if d.rev {
		d.h = d.c.u32(d.h, depNextRev)
	} else {
		d.h = d.c.u32(d.h, depNextDep)
	}
}

// OrGroupEnd advances d to the final member of its OR-group.
func (d *DepIterator) OrGroupEnd() {
	for d.h != 0 && d.IsOr() {
		d.Inc()
	}
}

// PrvIterator is a cursor over provides records, following either the
// virtual package's chain or the providing version's chain.
type PrvIterator struct {
	c     *Cache
	h     Handle
	byPkg bool
}

func (p PrvIterator) IsEnd() bool    { return p.h == 0 }
func (p PrvIterator) Handle() Handle { return p.h }

// Name returns the virtual package name provided.
func (p PrvIterator) Name() string { return p.ParentPkg().Name() }

// ProvideVersion returns the version the provide asserts, empty if plain.
func (p PrvIterator) ProvideVersion() string { return p.c.str(p.c.u32(p.h, prvVersion)) }

// OwnerVer returns the concrete version doing the providing.
func (p PrvIterator) OwnerVer() VerIterator {
	return VerIterator{c: p.c, h: p.c.u32(p.h, prvParentVer)}
}

// OwnerPkg returns the concrete package doing the providing.
func (p PrvIterator) OwnerPkg() PkgIterator { return p.OwnerVer().ParentPkg() }

// ParentPkg returns the virtual package being provided.
func (p PrvIterator) ParentPkg() PkgIterator {
	return PkgIterator{c: p.c, h: p.c.u32(p.h, prvPackage)}
}

func (p *PrvIterator) Inc() {
	if p.h == 0 {
		return
	}
	if p.byPkg {
		p.h = p.c.u32(p.h, prvNextPkgPrv)
	} else {
		p.h = p.c.u32(p.h, prvNextVerPrv)
	}
}

// PkgFileIterator is a cursor over merged index-file records.
type PkgFileIterator struct {
	c *Cache
	h Handle
}

func (f PkgFileIterator) IsEnd() bool    { return f.h == 0 }
func (f PkgFileIterator) Handle() Handle { return f.h }

func (f PkgFileIterator) FileName() string  { return f.c.str(f.c.u32(f.h, pfFileName)) }
func (f PkgFileIterator) Archive() string   { return f.c.str(f.c.u32(f.h, pfArchive)) }
func (f PkgFileIterator) Codename() string  { return f.c.str(f.c.u32(f.h, pfCodename)) }
func (f PkgFileIterator) Component() string { return f.c.str(f.c.u32(f.h, pfComponent)) }
func (f PkgFileIterator) Architecture() string { return f.c.str(f.c.u32(f.h, pfArch)) }
func (f PkgFileIterator) Origin() string    { return f.c.str(f.c.u32(f.h, pfOrigin)) }
func (f PkgFileIterator) Label() string     { return f.c.str(f.c.u32(f.h, pfLabel)) }
func (f PkgFileIterator) Site() string      { return f.c.str(f.c.u32(f.h, pfSite)) }
func (f PkgFileIterator) IndexType() string { return f.c.str(f.c.u32(f.h, pfIndexType)) }
func (f PkgFileIterator) Flags() uint16     { return f.c.u16(f.h, pfFlags) }
func (f PkgFileIterator) Mtime() int64      { return int64(f.c.u64(f.h, pfMtime)) }
func (f PkgFileIterator) Size() int64       { return int64(f.c.u64(f.h, pfSize)) }
func (f PkgFileIterator) ID() uint32        { return f.c.u32(f.h, pfID) }

// IsStatusFile reports whether this record is the local installed-status
// overlay rather than a downloaded index.
func (f PkgFileIterator) IsStatusFile() bool {
	return f.Flags()&PkgFileFlagLocalStatus != 0
}

func (f *PkgFileIterator) Inc() {
	if f.h != 0 {
		f.h = f.c.u32(f.h, pfNextFile)
	}
}

// VerFileIterator is a cursor over (version, index file) listings.
type VerFileIterator struct {
	c *Cache
	h Handle
}

func (v VerFileIterator) IsEnd() bool    { return v.h == 0 }
func (v VerFileIterator) Handle() Handle { return v.h }

// File returns the index file this listing points into.
func (v VerFileIterator) File() PkgFileIterator {
	return PkgFileIterator{c: v.c, h: v.c.u32(v.h, vfFile)}
}

// Offset and Size locate the version's stanza within the index file.
func (v VerFileIterator) Offset() uint64 { return v.c.u64(v.h, vfOffset) }
func (v VerFileIterator) StanzaSize() uint64 { return v.c.u64(v.h, vfSize) }

func (v *VerFileIterator) Inc() {
	if v.h != 0 {
		v.h = v.c.u32(v.h, vfNextFile)
	}
}

// DescIterator is a cursor over description records.
type DescIterator struct {
	c *Cache
	h Handle
}

func (d DescIterator) IsEnd() bool    { return d.h == 0 }
func (d DescIterator) Handle() Handle { return d.h }

func (d DescIterator) LanguageCode() string { return d.c.str(d.c.u32(d.h, descLanguage)) }
func (d DescIterator) Md5() string          { return d.c.str(d.c.u32(d.h, descMd5)) }

func (d *DescIterator) Inc() {
	if d.h != 0 {
		d.h = d.c.u32(d.h, descNextDesc)
	}
}
