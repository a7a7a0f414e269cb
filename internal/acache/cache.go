package acache

import (
	"fmt"

	"github.com/arc-language/goapt/internal/mmapfile"
)

// arena abstracts where the cache bytes live: the builder's live buffer
// during a generation session, or a read-only memory mapping afterwards.
type arena interface {
	bytes(off Handle, n int) []byte
	size() uint32
}

type writerArena struct{ w *mmapfile.Writer }

func (a writerArena) bytes(off Handle, n int) []byte { return a.w.Bytes(off, n) }
func (a writerArena) size() uint32                   { return a.w.Size() }

type mapArena struct{ r *mmapfile.Reader }

func (a mapArena) bytes(off Handle, n int) []byte {
	b, err := a.r.Bytes(off, n)
	if err != nil {
		// Offsets inside a validated cache never leave the mapping; a read
		// failure here means the file changed underneath us.
		panic(fmt.Sprintf("acache: corrupt read at %d+%d: %v", off, n, err))
	}
	return b
}
func (a mapArena) size() uint32 { return uint32(a.r.Len()) }

// Cache is a read view over a sealed package cache.
type Cache struct {
	arena  arena
	closer *mmapfile.Reader
}

// Open memory-maps the cache at path and validates its header: magic,
// version, the dirty bit, every record sizeof, and the recorded file size.
func Open(path string) (*Cache, error) {
	r, err := mmapfile.Open(path)
	if err != nil {
		return nil, err
	}
	c := &Cache{arena: mapArena{r}, closer: r}
	if err := c.validate(); err != nil {
		r.Close()
		return nil, err
	}
	return c, nil
}

// Close unmaps an Open'd cache. Iterators are invalid afterwards.
func (c *Cache) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

func (c *Cache) validate() error {
	if c.arena.size() < headerSize {
		return fmt.Errorf("acache: file too small to hold a header")
	}
	hdr := c.arena.bytes(0, headerSize)
	if le.Uint32(hdr[hdrMagic:]) != Magic {
		return fmt.Errorf("acache: bad magic")
	}
	if hdr[hdrMajor] != MajorVersion || hdr[hdrMinor] != MinorVersion {
		return fmt.Errorf("acache: version %d.%d, want %d.%d", hdr[hdrMajor], hdr[hdrMinor], MajorVersion, MinorVersion)
	}
	if hdr[hdrDirty] != 0 {
		return fmt.Errorf("acache: cache is dirty (generation did not complete)")
	}
	for i, want := range recordSizes {
		if got := le.Uint16(hdr[hdrSizes+2*i:]); got != want {
			return fmt.Errorf("acache: record size table mismatch at %d: %d != %d", i, got, want)
		}
	}
	if sz := le.Uint32(hdr[hdrCacheSize:]); sz != c.arena.size() {
		return fmt.Errorf("acache: header says %d bytes, file has %d", sz, c.arena.size())
	}
	return nil
}

func (c *Cache) u32(h Handle, field int) uint32 {
	return le.Uint32(c.arena.bytes(h+Handle(field), 4))
}

func (c *Cache) u16(h Handle, field int) uint16 {
	return le.Uint16(c.arena.bytes(h+Handle(field), 2))
}

func (c *Cache) u8(h Handle, field int) byte {
	return c.arena.bytes(h+Handle(field), 1)[0]
}

func (c *Cache) u64(h Handle, field int) uint64 {
	return le.Uint64(c.arena.bytes(h+Handle(field), 8))
}

// str reads the nul-terminated string at h.
func (c *Cache) str(h Handle) string {
	if h == 0 {
		return ""
	}
	var out []byte
	off := h
	limit := c.arena.size()
	for off < limit {
		n := 64
		if off+Handle(n) > limit {
			n = int(limit - off)
		}
		chunk := c.arena.bytes(off, n)
		for i, b := range chunk {
			if b == 0 {
				return string(append(out, chunk[:i]...))
			}
		}
		out = append(out, chunk...)
		off += Handle(n)
	}
	return string(out)
}

// Counts reported by the header.

func (c *Cache) PackageCount() uint32 { return c.u32(0, hdrPackageCount) }
func (c *Cache) VersionCount() uint32 { return c.u32(0, hdrVersionCount) }
func (c *Cache) GroupCount() uint32   { return c.u32(0, hdrGroupCount) }
func (c *Cache) DependsCount() uint32 { return c.u32(0, hdrDependsCount) }

// FindGrp locates the group for a package name via the hash table.
func (c *Cache) FindGrp(name string) GrpIterator {
	table := c.u32(0, hdrPkgHashTable)
	g := le.Uint32(c.arena.bytes(table+4*PkgHash(name), 4))
	for g != 0 {
		if c.str(c.u32(g, grpName)) == name {
			return GrpIterator{c: c, h: g}
		}
		g = c.u32(g, grpNextGroup)
	}
	return GrpIterator{c: c}
}

// FindPkg locates the package (name, arch).
func (c *Cache) FindPkg(name, arch string) PkgIterator {
	g := c.FindGrp(name)
	if g.IsEnd() {
		return PkgIterator{c: c}
	}
	return g.FindPkg(arch)
}

// FindPkgAnyArch returns the first package in name's group, in merge order.
func (c *Cache) FindPkgAnyArch(name string) PkgIterator {
	g := c.FindGrp(name)
	if g.IsEnd() {
		return PkgIterator{c: c}
	}
	return g.PackageList()
}

// GrpBegin starts a walk over every group, bucket by bucket.
func (c *Cache) GrpBegin() GrpIterator {
	it := GrpIterator{c: c, walking: true, bucket: -1}
	it.nextBucket()
	return it
}

// PkgBegin starts a walk over every package in the cache.
func (c *Cache) PkgBegin() PkgIterator {
	g := c.GrpBegin()
	for !g.IsEnd() {
		if p := g.PackageList(); !p.IsEnd() {
			return PkgIterator{c: c, h: p.h, grp: g}
		}
		g.Inc()
	}
	return PkgIterator{c: c}
}

// FileBegin starts a walk over every merged index file.
func (c *Cache) FileBegin() PkgFileIterator {
	return PkgFileIterator{c: c, h: c.u32(0, hdrFileList)}
}
