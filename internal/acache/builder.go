package acache

import (
	"fmt"

	"github.com/arc-language/goapt/internal/mmapfile"
)

// Builder appends records into a fresh arena. It is the sole mutator for
// the arena's lifetime; iterators over a cache obtained from Seal must not
// coexist with further Builder writes.
type Builder struct {
	w *mmapfile.Writer

	pools   [poolDescCount]pool
	strings map[string]Handle

	groupCount    uint32
	packageCount  uint32
	versionCount  uint32
	descCount     uint32
	dependsCount  uint32
	providesCount uint32
	pkgFileCount  uint32
	verFileCount  uint32

	lastFile Handle
	sealed   bool
}

// pool is one fixed-size allocation pool. Chunks double so heavy record
// types amortize to O(1) appends without per-record arena growth.
type pool struct {
	itemSize  int
	next      Handle
	remaining int
	chunk     int
	count     uint32
	start     Handle
}

// NewBuilder starts an empty cache arena that Save will write to path.
// An empty path makes Seal-only (in-memory) use explicit.
func NewBuilder(path string) *Builder {
	b := &Builder{
		w:       mmapfile.NewWriter(path, 1 << 20),
		strings: make(map[string]Handle, 4096),
	}

	// Reserve the fixed front of the arena: header, both hash tables and
	// the pool descriptor array. Offsets below headerSize are never valid
	// record handles, so 0 stays free to mean "none".
	b.w.Allocate(headerSize)
	pkgTable := b.w.Allocate(HashTableSize * 4)
	strTable := b.w.Allocate(HashTableSize * 4)
	poolsOff := b.w.Allocate(poolDescCount * poolDescSize)

	hdr := b.w.Bytes(0, headerSize)
	le.PutUint32(hdr[hdrMagic:], Magic)
	hdr[hdrMajor] = MajorVersion
	hdr[hdrMinor] = MinorVersion
	hdr[hdrDirty] = 1
	for i, sz := range recordSizes {
		le.PutUint16(hdr[hdrSizes+2*i:], sz)
	}
	le.PutUint32(hdr[hdrPkgHashTable:], pkgTable)
	le.PutUint32(hdr[hdrStrHashTable:], strTable)
	le.PutUint32(hdr[hdrPoolsOffset:], poolsOff)
	return b
}

// poolFor returns the pool serving a record size, creating it on first use.
func (b *Builder) poolFor(itemSize int) *pool {
	for i := range b.pools {
		if b.pools[i].itemSize == itemSize {
			return &b.pools[i]
		}
		if b.pools[i].itemSize == 0 {
			b.pools[i].itemSize = itemSize
			return &b.pools[i]
		}
	}
	panic(fmt.Sprintf("acache: more than %d distinct record sizes", poolDescCount))
}

// alloc hands out one zeroed record of the given size from its pool.
func (b *Builder) alloc(itemSize int) Handle {
	p := b.poolFor(itemSize)
	if p.remaining == 0 {
		if p.chunk == 0 {
			p.chunk = 16
		} else {
			p.chunk *= 2
		}
		p.next = b.w.Allocate(p.chunk * itemSize)
		p.remaining = p.chunk
		if p.start == 0 {
			p.start = p.next
		}
	}
	h := p.next
	p.next += Handle(itemSize)
	p.remaining--
	p.count++
	return h
}

func (b *Builder) rec(h Handle, size int) []byte { return b.w.Bytes(h, size) }

func (b *Builder) putU32(h Handle, field int, v uint32) {
	le.PutUint32(b.w.Bytes(h+Handle(field), 4), v)
}

func (b *Builder) getU32(h Handle, field int) uint32 {
	return le.Uint32(b.w.Bytes(h+Handle(field), 4))
}

// InternString stores s once and returns its handle; repeated strings
// (sections, architectures, version strings) share storage through the
// 9-bit hash bucket chain.
func (b *Builder) InternString(s string) Handle {
	if s == "" {
		return 0
	}
	if h, ok := b.strings[s]; ok {
		return h
	}

	// Raw string bytes, nul-terminated.
	strOff := b.w.Allocate(len(s) + 1)
	copy(b.w.Bytes(strOff, len(s)), s)

	item := b.alloc(stringItemSize)
	b.putU32(item, siString, strOff)

	// Chain into the persisted bucket. The first item ever added becomes
	// the head of the global string list; later items are not linked to it.
	table := b.getU32(0, hdrStrHashTable)
	bucket := table + 4*StrHash(s)
	b.putU32(item, siNext, le.Uint32(b.w.Bytes(bucket, 4)))
	le.PutUint32(b.w.Bytes(bucket, 4), item)

	hdr := b.w.Bytes(0, headerSize)
	prevHead := le.Uint32(hdr[hdrStringList:])
	if prevHead == 0 {
		le.PutUint32(hdr[hdrStringList:], item)
	}

	b.strings[s] = strOff
	return strOff
}

// FindGrp returns the group for name, or 0.
func (b *Builder) FindGrp(name string) Handle {
	table := b.getU32(0, hdrPkgHashTable)
	g := le.Uint32(b.w.Bytes(table+4*PkgHash(name), 4))
	for g != 0 {
		if b.readString(b.getU32(g, grpName)) == name {
			return g
		}
		g = b.getU32(g, grpNextGroup)
	}
	return 0
}

func (b *Builder) readString(h Handle) string {
	if h == 0 {
		return ""
	}
	// Builder-side strings are in the live arena; scan to the nul.
	end := h
	for b.w.Bytes(end, 1)[0] != 0 {
		end++
	}
	return string(b.w.Bytes(h, int(end-h)))
}

// findOrCreateGrp resolves a group by name, creating and hashing it in.
func (b *Builder) findOrCreateGrp(name string) Handle {
	if g := b.FindGrp(name); g != 0 {
		return g
	}
	g := b.alloc(groupSize)
	b.putU32(g, grpName, b.InternString(name))
	table := b.getU32(0, hdrPkgHashTable)
	bucket := table + 4*PkgHash(name)
	b.putU32(g, grpNextGroup, le.Uint32(b.w.Bytes(bucket, 4)))
	le.PutUint32(b.w.Bytes(bucket, 4), g)
	b.groupCount++
	return g
}

// FindPkg returns the package (name, arch), or 0.
func (b *Builder) FindPkg(name, arch string) Handle {
	g := b.FindGrp(name)
	if g == 0 {
		return 0
	}
	p := b.getU32(g, grpFirstPkg)
	for p != 0 {
		if b.readString(b.getU32(p, pkgArch)) == arch {
			return p
		}
		p = b.getU32(p, pkgNextPkg)
	}
	return 0
}

// NewPackage resolves or creates the package (name, arch).
func (b *Builder) NewPackage(name, arch string) Handle {
	if p := b.FindPkg(name, arch); p != 0 {
		return p
	}
	g := b.findOrCreateGrp(name)
	p := b.alloc(packageSize)
	b.putU32(p, pkgName, b.getU32(g, grpName))
	b.putU32(p, pkgArch, b.InternString(arch))
	b.putU32(p, pkgGroup, g)
	b.putU32(p, pkgID, b.packageCount)
	b.packageCount++

	if last := b.getU32(g, grpLastPkg); last != 0 {
		b.putU32(last, pkgNextPkg, p)
	} else {
		b.putU32(g, grpFirstPkg, p)
	}
	b.putU32(g, grpLastPkg, p)
	return p
}

// NewVersion creates a version record under pkg, inserted so the chain
// stays sorted highest-version-first. cmp(existing) must return the Debian
// comparison of the new version string against existing (>0 when the new
// one is higher). Returns the existing record unchanged when version is
// already present.
func (b *Builder) NewVersion(pkg Handle, version string, hash uint16, cmp func(existing string) int) (Handle, bool) {
	prev := Handle(0)
	v := b.getU32(pkg, pkgVersionList)
	for v != 0 {
		existing := b.readString(b.getU32(v, verStr))
		if existing == version && le.Uint16(b.w.Bytes(v+verHash, 2)) == hash {
			// Same version string and same stanza hash: the status overlay
			// (or a second mirror) is describing the version we already
			// know; share the record instead of duplicating it.
			return v, false
		}
		if cmp != nil && cmp(existing) > 0 {
			break
		}
		prev = v
		v = b.getU32(v, verNextVer)
	}

	nv := b.alloc(versionSize)
	b.putU32(nv, verStr, b.InternString(version))
	b.putU32(nv, verParentPkg, pkg)
	le.PutUint16(b.w.Bytes(nv+verHash, 2), hash)
	b.putU32(nv, verNextVer, v)
	if prev == 0 {
		b.putU32(pkg, pkgVersionList, nv)
	} else {
		b.putU32(prev, verNextVer, nv)
	}
	b.versionCount++
	return nv, true
}

// SetVersionInfo fills a version's scalar attributes.
func (b *Builder) SetVersionInfo(v Handle, section, arch string, size, instSize uint64, priority byte) {
	b.putU32(v, verSection, b.InternString(section))
	b.putU32(v, verArch, b.InternString(arch))
	le.PutUint64(b.w.Bytes(v+verSize, 8), size)
	le.PutUint64(b.w.Bytes(v+verInstSize, 8), instSize)
	b.w.Bytes(v+verPriority, 1)[0] = priority
}

// NewDescription appends a description record to v's chain. The earliest
// md5 for a version wins; later duplicates are dropped by the caller.
func (b *Builder) NewDescription(v Handle, language, md5 string) Handle {
	d := b.alloc(descriptionSize)
	b.putU32(d, descLanguage, b.InternString(language))
	b.putU32(d, descMd5, b.InternString(md5))

	// Append, preserving encounter order.
	cur := b.getU32(v, verDescList)
	if cur == 0 {
		b.putU32(v, verDescList, d)
	} else {
		for next := b.getU32(cur, descNextDesc); next != 0; next = b.getU32(cur, descNextDesc) {
			cur = next
		}
		b.putU32(cur, descNextDesc, d)
	}
	b.descCount++
	return d
}

// NewDependency appends a dependency record from version v to the package
// (targetName, targetArch), creating the target package record if this is
// the first reference to it. orFlag marks all but the final member of an
// OR-group.
func (b *Builder) NewDependency(v Handle, targetName, targetArch string, depVer string, op byte, dtype byte, orFlag bool) Handle {
	target := b.NewPackage(targetName, targetArch)

	d := b.alloc(dependencySize)
	if depVer != "" {
		b.putU32(d, depVersion, b.InternString(depVer))
	}
	b.putU32(d, depPackage, target)
	b.putU32(d, depParentVer, v)
	b.w.Bytes(d+depType, 1)[0] = dtype
	b.w.Bytes(d+depCompareOp, 1)[0] = op
	if orFlag {
		b.w.Bytes(d+depFlags, 1)[0] = DepFlagOr
	}

	// Append to the parent version's dependency chain in field order.
	cur := b.getU32(v, verDepends)
	if cur == 0 {
		b.putU32(v, verDepends, d)
	} else {
		for next := b.getU32(cur, depNextDep); next != 0; next = b.getU32(cur, depNextDep) {
			cur = next
		}
		b.putU32(cur, depNextDep, d)
	}

	// Push onto the target package's reverse chain.
	b.putU32(d, depNextRev, b.getU32(target, pkgRevDepends))
	b.putU32(target, pkgRevDepends, d)

	b.dependsCount++
	return d
}

// NewProvides records that version v provides the virtual name, optionally
// at provVer.
func (b *Builder) NewProvides(v Handle, name, arch, provVer string) Handle {
	target := b.NewPackage(name, arch)

	p := b.alloc(providesSize)
	b.putU32(p, prvParentVer, v)
	b.putU32(p, prvPackage, target)
	if provVer != "" {
		b.putU32(p, prvVersion, b.InternString(provVer))
	}

	b.putU32(p, prvNextPkgPrv, b.getU32(target, pkgProvides))
	b.putU32(target, pkgProvides, p)
	b.putU32(p, prvNextVerPrv, b.getU32(v, verProvides))
	b.putU32(v, verProvides, p)

	b.providesCount++
	return p
}

// PackageFileInfo carries the origin attributes of one merged index file.
type PackageFileInfo struct {
	FileName  string
	Archive   string
	Codename  string
	Component string
	Arch      string
	Origin    string
	Label     string
	Site      string
	IndexType string
	Flags     uint16
	Mtime     int64
	Size      int64
}

// NewPackageFile appends an index-file record and links it onto the
// header's file chain, preserving merge order.
func (b *Builder) NewPackageFile(info PackageFileInfo) Handle {
	f := b.alloc(packageFileSize)
	b.putU32(f, pfFileName, b.InternString(info.FileName))
	b.putU32(f, pfArchive, b.InternString(info.Archive))
	b.putU32(f, pfCodename, b.InternString(info.Codename))
	b.putU32(f, pfComponent, b.InternString(info.Component))
	b.putU32(f, pfArch, b.InternString(info.Arch))
	b.putU32(f, pfOrigin, b.InternString(info.Origin))
	b.putU32(f, pfLabel, b.InternString(info.Label))
	b.putU32(f, pfSite, b.InternString(info.Site))
	b.putU32(f, pfIndexType, b.InternString(info.IndexType))
	le.PutUint16(b.w.Bytes(f+pfFlags, 2), info.Flags)
	le.PutUint64(b.w.Bytes(f+pfMtime, 8), uint64(info.Mtime))
	le.PutUint64(b.w.Bytes(f+pfSize, 8), uint64(info.Size))
	b.putU32(f, pfID, b.pkgFileCount)
	b.pkgFileCount++

	if b.lastFile != 0 {
		b.putU32(b.lastFile, pfNextFile, f)
	} else {
		b.putU32(0, hdrFileList, f)
	}
	b.lastFile = f
	return f
}

// AddVerFile links version v to index file f at the given stanza position.
func (b *Builder) AddVerFile(v, f Handle, offset, size uint64) Handle {
	vf := b.alloc(verFileSize)
	b.putU32(vf, vfFile, f)
	le.PutUint64(b.w.Bytes(vf+vfOffset, 8), offset)
	le.PutUint64(b.w.Bytes(vf+vfSize, 8), size)

	cur := b.getU32(v, verFileList)
	if cur == 0 {
		b.putU32(v, verFileList, vf)
	} else {
		for next := b.getU32(cur, vfNextFile); next != 0; next = b.getU32(cur, vfNextFile) {
			cur = next
		}
		b.putU32(cur, vfNextFile, vf)
	}
	b.verFileCount++
	return vf
}

// SetCurrentVer marks v as pkg's installed version.
func (b *Builder) SetCurrentVer(pkg, v Handle) { b.putU32(pkg, pkgCurrentVer, v) }

// SetPkgStates records a package's dpkg selected and current states.
func (b *Builder) SetPkgStates(pkg Handle, selected, current byte) {
	b.w.Bytes(pkg+pkgSelected, 1)[0] = selected
	b.w.Bytes(pkg+pkgCurState, 1)[0] = current
}

// SetPkgFlags ORs flags into a package's flag set.
func (b *Builder) SetPkgFlags(pkg Handle, flags uint16) {
	f := b.w.Bytes(pkg+pkgFlags, 2)
	le.PutUint16(f, le.Uint16(f)|flags)
}

// Seal finalizes counts, clears the dirty bit and returns a read view over
// the arena. The builder must not be written to afterwards.
func (b *Builder) Seal() *Cache {
	hdr := b.w.Bytes(0, headerSize)
	le.PutUint32(hdr[hdrGroupCount:], b.groupCount)
	le.PutUint32(hdr[hdrPackageCount:], b.packageCount)
	le.PutUint32(hdr[hdrVersionCount:], b.versionCount)
	le.PutUint32(hdr[hdrDescCount:], b.descCount)
	le.PutUint32(hdr[hdrDependsCount:], b.dependsCount)
	le.PutUint32(hdr[hdrProvidesCount:], b.providesCount)
	le.PutUint32(hdr[hdrPkgFileCount:], b.pkgFileCount)
	le.PutUint32(hdr[hdrVerFileCount:], b.verFileCount)
	le.PutUint32(hdr[hdrCacheSize:], b.w.Size())

	// Pool descriptors, for forward-compatible tooling that wants to walk
	// records without following chains.
	poolsOff := le.Uint32(hdr[hdrPoolsOffset:])
	for i, p := range b.pools {
		d := b.w.Bytes(poolsOff+Handle(i*poolDescSize), poolDescSize)
		le.PutUint32(d[0:], uint32(p.itemSize))
		le.PutUint32(d[4:], p.start)
		le.PutUint32(d[8:], p.count)
	}

	hdr[hdrDirty] = 0
	b.sealed = true
	return &Cache{arena: writerArena{b.w}}
}

// Save writes the sealed arena to its target path atomically.
func (b *Builder) Save() error {
	if !b.sealed {
		return fmt.Errorf("acache: Save before Seal")
	}
	return b.w.Close()
}
