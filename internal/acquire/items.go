package acquire

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arc-language/goapt/internal/hashes"
)

// The concrete item variants. Each constructor fills the generic Item with
// the destination, IMS and verification behavior its kind needs; the
// sources-list layer picks URIs and expected hashes.

// imsTimeFor samples an existing destination's mtime for conditional
// requests. Second granularity: index timestamps on archive servers carry
// no subsecond precision and comparisons must not invent differences.
func imsTimeFor(dest string) time.Time {
	st, err := os.Stat(dest)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(st.ModTime().Unix(), 0)
}

// NewIndexFileItem fetches one Packages/Sources index into listsDir. The
// download lands in lists/partial and is renamed into place after
// verification; an existing copy makes the request conditional.
func NewIndexFileItem(desc string, uris []string, destName, listsDir string, expected *hashes.HashStringList, size int64) *Item {
	dest := filepath.Join(listsDir, destName)
	return &Item{
		Desc:         desc,
		URIs:         uris,
		DestFile:     dest,
		PartialFile:  filepath.Join(listsDir, "partial", destName),
		Expected:     expected,
		ExpectedSize: size,
		IMSTime:      imsTimeFor(dest),
	}
}

// NewTranslationIndexItem fetches a translated-description index. Its
// OnFail clears the item's ErrorText; the failure itself is still recorded
// on the error stack and the item is listed in the run's FetchFailed.
func NewTranslationIndexItem(desc string, uris []string, destName, listsDir string, expected *hashes.HashStringList) *Item {
	it := NewIndexFileItem(desc, uris, destName, listsDir, expected, 0)
	it.OnFail = func(it *Item, msg *Message) {
		// Optional payload: surface nothing, keep whatever copy exists.
		it.ErrorText = ""
	}
	return it
}

// NewReleaseFileItem fetches the top-level Release (or InRelease) index.
// No hashes are known in advance; verification happens one level up when
// the signature item completes.
func NewReleaseFileItem(desc string, uris []string, destName, listsDir string) *Item {
	dest := filepath.Join(listsDir, destName)
	return &Item{
		Desc:        desc,
		URIs:        uris,
		DestFile:    dest,
		PartialFile: filepath.Join(listsDir, "partial", destName),
		IMSTime:     imsTimeFor(dest),
	}
}

// NewReleaseSigItem fetches the detached Release.gpg signature. verify is
// called with the signature in place; it decides trusted vs untrusted and
// its error is what ultimately fails the item (an unverifiable archive is
// worse than an absent signature, which only downgrades trust).
func NewReleaseSigItem(desc string, uris []string, destName, listsDir string, verify func(sigPath string) error) *Item {
	dest := filepath.Join(listsDir, destName)
	it := &Item{
		Desc:        desc,
		URIs:        uris,
		DestFile:    dest,
		PartialFile: filepath.Join(listsDir, "partial", destName),
		IMSTime:     imsTimeFor(dest),
	}
	if verify != nil {
		it.OnDone = func(it *Item, msg *Message) error { return verify(it.DestFile) }
	}
	return it
}

// NewArchiveItem fetches one binary package into the archive cache. The
// destination name is pool-style: name_version_arch.deb with ':' in the
// version escaped.
func NewArchiveItem(pkgName, version, arch string, uris []string, archivesDir string, expected *hashes.HashStringList, size int64) *Item {
	base := fmt.Sprintf("%s_%s_%s.deb", pkgName, escapeVersion(version), arch)
	dest := filepath.Join(archivesDir, base)
	return &Item{
		Desc:         pkgName + " " + version,
		URIs:         uris,
		DestFile:     dest,
		PartialFile:  filepath.Join(archivesDir, "partial", base),
		Expected:     expected,
		ExpectedSize: size,
	}
}

func escapeVersion(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		if v[i] == ':' {
			out = append(out, '%', '3', 'a')
		} else {
			out = append(out, v[i])
		}
	}
	return string(out)
}

// NewFileCopyItem copies a local file (file:// or cdrom-cached source)
// into dest through the copy method, verifying like any download.
func NewFileCopyItem(src, dest string, expected *hashes.HashStringList) *Item {
	return &Item{
		Desc:     filepath.Base(dest),
		URIs:     []string{"copy:" + src},
		DestFile: dest,
		Expected: expected,
	}
}

// NewMetadataDiffItem fetches an index patch set. The diff machinery only
// needs the patch file on disk plus a completion hook that applies it; a
// failed patch falls back to the caller re-adding the full index item.
func NewMetadataDiffItem(desc string, uris []string, destName, listsDir string, expected *hashes.HashStringList, apply func(patchPath string) error) *Item {
	it := NewIndexFileItem(desc, uris, destName, listsDir, expected, 0)
	if apply != nil {
		it.OnDone = func(it *Item, msg *Message) error { return apply(it.DestFile) }
	}
	return it
}
