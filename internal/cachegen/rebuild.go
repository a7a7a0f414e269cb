package cachegen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/platform"
)

// CacheValid reports whether the cache at path still reflects sources and
// statusPath: every merged file must still exist with the mtime and size
// snapshotted into its PackageFile record, and no source may be missing
// from or extra to the snapshot.
func CacheValid(path string, sources []IndexSource, statusPath string) bool {
	c, err := acache.Open(path)
	if err != nil {
		return false
	}
	defer c.Close()

	want := make(map[string]bool, len(sources)+1)
	for _, s := range sources {
		name := s.Info.FileName
		if name == "" {
			name = s.Path
		}
		want[name] = true
	}
	statusSeen := false

	n := 0
	for f := c.FileBegin(); !f.IsEnd(); f.Inc() {
		n++
		if f.IsStatusFile() {
			statusSeen = true
			if !statMatches(statusPath, f.Mtime(), f.Size()) {
				return false
			}
			continue
		}
		if !want[f.FileName()] {
			return false
		}
		src := findSource(sources, f.FileName())
		if src == nil || !statMatches(src.Path, f.Mtime(), f.Size()) {
			return false
		}
	}

	expected := len(sources)
	if statusSeen {
		expected++
	} else if statusPath != "" {
		if _, err := os.Stat(statusPath); err == nil {
			// A status file appeared since the cache was generated.
			return false
		}
	}
	return n == expected
}

func findSource(sources []IndexSource, fileName string) *IndexSource {
	for i := range sources {
		name := sources[i].Info.FileName
		if name == "" {
			name = sources[i].Path
		}
		if name == fileName {
			return &sources[i]
		}
	}
	return nil
}

func statMatches(path string, mtime, size int64) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	return st.ModTime().Unix() == mtime && st.Size() == size
}

// Build generates a cache file at path from sources, overlaying statusPath
// when non-empty, holding the lock file path+".lock" for the duration.
func Build(path string, sources []IndexSource, statusPath string, arch platform.Arch, es *errstack.Stack) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	lock, err := layout.GetLock(path + ".lock")
	if err != nil {
		return err
	}
	defer lock.Release()

	b := acache.NewBuilder(path)
	g := New(b, arch, es)
	for _, src := range sources {
		if err := g.MergeIndex(src); err != nil {
			return err
		}
	}
	if statusPath != "" {
		if err := g.MergeStatus(statusPath); err != nil {
			return err
		}
	}
	b.Seal()
	return b.Save()
}

// OpenOrRebuild returns a usable cache: the existing file when its header
// snapshot still matches every source, a freshly generated one otherwise.
// With readOnly set the generator never runs; a stale or missing cache is
// an error instead.
func OpenOrRebuild(paths layout.Paths, sources []IndexSource, arch platform.Arch, es *errstack.Stack, readOnly bool) (*acache.Cache, error) {
	// The source cache holds only the downloaded indexes; the full cache
	// adds the installed-status overlay. Both are generated from the index
	// files: the full cache is not derived from the source cache, so a
	// change to the status file alone re-parses every index.
	if CacheValid(paths.PkgCache, sources, paths.StatusFile) {
		return acache.Open(paths.PkgCache)
	}
	if readOnly {
		c, err := acache.Open(paths.PkgCache)
		if err != nil {
			return nil, fmt.Errorf("cachegen: cache is stale and the generator is disabled: %w", err)
		}
		return c, nil
	}

	if !CacheValid(paths.SrcPkgCache, sources, "") {
		if err := Build(paths.SrcPkgCache, sources, "", arch, es); err != nil {
			return nil, err
		}
	}
	if err := Build(paths.PkgCache, sources, paths.StatusFile, arch, es); err != nil {
		return nil, err
	}
	return acache.Open(paths.PkgCache)
}
