package indexfile

import (
	"fmt"
	"io"
	"os"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/cachegen"
	"github.com/arc-language/goapt/internal/compress"
	"github.com/arc-language/goapt/internal/tagfile"
)

// FindRecord re-reads the index stanza for a version: the cache stores
// only the essential fields, so the pool Filename and payload hashes come
// from scanning the stored index the version was merged from.
func FindRecord(sources []cachegen.IndexSource, v acache.VerIterator) (*RecordParser, *cachegen.IndexSource, error) {
	name := v.ParentPkg().Name()
	version := v.VerStr()
	for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
		file := vf.File()
		if file.IsStatusFile() {
			continue
		}
		src := sourceByFileName(sources, file.FileName())
		if src == nil {
			continue
		}
		rp, err := scanFor(src, name, version)
		if err != nil {
			return nil, nil, err
		}
		if rp != nil {
			return rp, src, nil
		}
	}
	return nil, nil, fmt.Errorf("indexfile: no index record for %s %s", name, version)
}

func sourceByFileName(sources []cachegen.IndexSource, fileName string) *cachegen.IndexSource {
	for i := range sources {
		n := sources[i].Info.FileName
		if n == "" {
			n = sources[i].Path
		}
		if n == fileName {
			return &sources[i]
		}
	}
	return nil
}

func scanFor(src *cachegen.IndexSource, name, version string) (*RecordParser, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r, err := compress.NewReader(src.Format, f)
	if err != nil {
		return nil, err
	}
	sc := tagfile.NewScanner(r)
	for {
		sec, err := sc.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			if _, ok := err.(*tagfile.ErrMalformedStanza); ok {
				continue
			}
			return nil, err
		}
		p, _ := sec.Find("Package")
		v, _ := sec.Find("Version")
		if p == name && v == version {
			return NewRecordParser(sec), nil
		}
	}
}

// ArchiveItemFor composes the download item for one package version: the
// pool URI from its index record, the expected hashes and size alongside.
func ArchiveItemFor(v acache.VerIterator, sources []cachegen.IndexSource, archivesDir string) (*acquire.Item, error) {
	rp, src, err := FindRecord(sources, v)
	if err != nil {
		return nil, err
	}
	pool := rp.FileName()
	if pool == "" {
		return nil, fmt.Errorf("indexfile: record for %s has no Filename", v.ParentPkg().Name())
	}
	uri := src.ArchiveRoot + "/" + pool
	return acquire.NewArchiveItem(
		v.ParentPkg().Name(), v.VerStr(), v.Arch(),
		[]string{uri}, archivesDir, rp.Hashes(), rp.Size(),
	), nil
}
