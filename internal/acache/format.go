// Package acache implements the package cache: a single flat byte arena
// holding every known package, version, dependency and origin record,
// addressed by 32-bit offsets from the arena base. The generator appends
// records through a pooled allocator; consumers open the finished file
// memory-mapped read-only and walk it with (arena, handle) iterators. Zero
// is the nil handle throughout.
package acache

import "encoding/binary"

// Handle is a 32-bit offset from the arena base. 0 means "none".
type Handle = uint32

const (
	// Magic identifies a cache file; Major/Minor gate format changes.
	Magic        uint32 = 0x43504147 // "GAPC"
	MajorVersion byte   = 1
	MinorVersion byte   = 0

	// HashTableSize is the bucket count of both the package-name and the
	// unique-string hash tables. The string hash is 9 bits wide, hence 512.
	HashTableSize = 512
)

// Fixed record sizes. The header stores each so a reader built against a
// different layout refuses the file instead of misreading it.
const (
	headerSize      = 96
	groupSize       = 16
	packageSize     = 40
	versionSize     = 56
	descriptionSize = 16
	dependencySize  = 24
	providesSize    = 20
	packageFileSize = 64
	verFileSize     = 24
	stringItemSize  = 8

	poolDescCount = 12
	poolDescSize  = 16
)

// Header field offsets within the arena's first headerSize bytes.
const (
	hdrMagic        = 0  // u32
	hdrMajor        = 4  // u8
	hdrMinor        = 5  // u8
	hdrDirty        = 6  // u8
	hdrSizes        = 8  // 10 x u16: header, group, package, version, description, dependency, provides, packagefile, verfile, stringitem
	hdrGroupCount   = 28 // u32
	hdrPackageCount = 32 // u32
	hdrVersionCount = 36 // u32
	hdrDescCount    = 40 // u32
	hdrDependsCount = 44 // u32
	hdrProvidesCount = 48 // u32
	hdrPkgFileCount = 52 // u32
	hdrVerFileCount = 56 // u32
	hdrFileList     = 60 // u32: head of the PackageFile chain
	hdrStringList   = 64 // u32: head of the StringItem chain
	hdrPoolsOffset  = 68 // u32: pool descriptor array
	hdrPkgHashTable = 72 // u32: 512 x u32 group buckets
	hdrStrHashTable = 76 // u32: 512 x u32 string buckets
	hdrCacheSize    = 80 // u32: total arena size at seal time
)

// Group record: the set of packages sharing one name across architectures.
const (
	grpName        = 0  // u32 string
	grpFirstPkg    = 4  // u32 Package
	grpLastPkg     = 8  // u32 Package
	grpNextGroup   = 12 // u32 Group, hash-bucket chain
)

// Package record.
const (
	pkgName        = 0  // u32 string
	pkgArch        = 4  // u32 string
	pkgVersionList = 8  // u32 Version chain, highest first
	pkgCurrentVer  = 12 // u32 Version
	pkgGroup       = 16 // u32 Group
	pkgNextPkg     = 20 // u32 Package, same-group chain
	pkgRevDepends  = 24 // u32 Dependency chain
	pkgProvides    = 28 // u32 Provides chain
	pkgID          = 32 // u32
	pkgFlags       = 36 // u16
	pkgSelected    = 38 // u8
	pkgCurState    = 39 // u8
)

// Package flags.
const (
	PkgFlagEssential uint16 = 1 << 0
	PkgFlagImportant uint16 = 1 << 1
)

// Selected-state values (the status file's second word).
const (
	SelUnknown byte = iota
	SelInstall
	SelHold
	SelDeInstall
	SelPurge
)

// Current-state values (the status file's third word).
const (
	StateNotInstalled byte = iota
	StateConfigFiles
	StateHalfInstalled
	StateUnPacked
	StateHalfConfigured
	StateInstalled
)

// Version record.
const (
	verStr         = 0  // u32 string
	verParentPkg   = 4  // u32 Package
	verNextVer     = 8  // u32 Version
	verFileList    = 12 // u32 VerFile chain
	verDepends     = 16 // u32 Dependency chain
	verProvides    = 20 // u32 Provides chain
	verDescList    = 24 // u32 Description chain
	verSection     = 28 // u32 string
	verArch        = 32 // u32 string
	verSize        = 36 // u64 download size
	verInstSize    = 44 // u64 installed size
	verHash        = 52 // u16 stanza hash
	verPriority    = 54 // u8
	verFlags       = 55 // u8
)

// Version priority values, highest urgency first.
const (
	PriRequired byte = iota + 1
	PriImportant
	PriStandard
	PriOptional
	PriExtra
)

// Description record.
const (
	descLanguage = 0  // u32 string
	descMd5      = 4  // u32 string
	descNextDesc = 8  // u32 Description
)

// Dependency record.
const (
	depVersion    = 0  // u32 string, 0 when unversioned
	depPackage    = 4  // u32 target Package
	depNextDep    = 8  // u32 Dependency, parent-version chain
	depNextRev    = 12 // u32 Dependency, target-package reverse chain
	depParentVer  = 16 // u32 Version
	depType       = 20 // u8
	depCompareOp  = 21 // u8 debver.Op
	depFlags      = 22 // u8
)

// Dependency types.
const (
	DepDepends byte = iota + 1
	DepPreDepends
	DepSuggests
	DepRecommends
	DepConflicts
	DepBreaks
	DepReplaces
	DepEnhances
)

// DepFlagOr marks a record whose OR-group continues with the next record.
// The final member of a group never carries it.
const DepFlagOr byte = 1 << 0

// IsNegativeDep reports whether t is a conflicts-class dependency: one
// satisfied by the target being absent rather than present.
func IsNegativeDep(t byte) bool {
	return t == DepConflicts || t == DepBreaks || t == DepReplaces
}

// DepTypeName returns the field name a dependency type is parsed from.
func DepTypeName(t byte) string {
	switch t {
	case DepDepends:
		return "Depends"
	case DepPreDepends:
		return "Pre-Depends"
	case DepSuggests:
		return "Suggests"
	case DepRecommends:
		return "Recommends"
	case DepConflicts:
		return "Conflicts"
	case DepBreaks:
		return "Breaks"
	case DepReplaces:
		return "Replaces"
	case DepEnhances:
		return "Enhances"
	default:
		return "Unknown"
	}
}

// Provides record.
const (
	prvParentVer  = 0  // u32 providing Version
	prvPackage    = 4  // u32 virtual Package
	prvVersion    = 8  // u32 string, 0 when unversioned
	prvNextPkgPrv = 12 // u32 Provides, virtual-package chain
	prvNextVerPrv = 16 // u32 Provides, providing-version chain
)

// PackageFile record: one index file merged into the cache.
const (
	pfFileName  = 0  // u32 string
	pfArchive   = 4  // u32 string (suite, e.g. "stable")
	pfCodename  = 8  // u32 string
	pfComponent = 12 // u32 string
	pfArch      = 16 // u32 string
	pfOrigin    = 20 // u32 string
	pfLabel     = 24 // u32 string
	pfSite      = 28 // u32 string
	pfIndexType = 32 // u32 string
	pfFlags     = 36 // u16
	pfMtime     = 40 // u64 unix seconds
	pfSize      = 48 // u64
	pfNextFile  = 56 // u32 PackageFile
	pfID        = 60 // u32
)

// PackageFile flags.
const (
	PkgFileFlagNotSource    uint16 = 1 << 0
	PkgFileFlagLocalStatus  uint16 = 1 << 1
	PkgFileFlagNotAutomatic uint16 = 1 << 2
)

// VerFile record: one (version, index file) listing.
const (
	vfFile     = 0  // u32 PackageFile
	vfNextFile = 4  // u32 VerFile
	vfOffset   = 8  // u64 stanza offset within the index
	vfSize     = 16 // u64 stanza size
)

// StringItem record: unique-string pool chain node.
const (
	siString = 0 // u32 string bytes
	siNext   = 4 // u32 StringItem
)

// StrHash is the 9-bit hash the unique-string pool buckets by.
func StrHash(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*41 + uint32(s[i])
	}
	return h % HashTableSize
}

// PkgHash buckets group names into the package hash table. Case matters:
// package names are lowercase by policy, so no folding is done.
func PkgHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = h*53 + uint32(name[i])
	}
	return h % HashTableSize
}

var le = binary.LittleEndian

// recordSizes is the order the header's sizeof fields are stored in.
var recordSizes = [10]uint16{
	headerSize, groupSize, packageSize, versionSize, descriptionSize,
	dependencySize, providesSize, packageFileSize, verFileSize, stringItemSize,
}
