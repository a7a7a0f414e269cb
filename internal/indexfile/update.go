package indexfile

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/arc-language/goapt/internal/acquire"
	"github.com/arc-language/goapt/internal/cachegen"
	"github.com/arc-language/goapt/internal/config"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/gpgverify"
	"github.com/arc-language/goapt/internal/hashes"
	"github.com/arc-language/goapt/internal/layout"
	"github.com/arc-language/goapt/internal/platform"
	"github.com/arc-language/goapt/internal/sourcelist"
)

// Updater drives one "update the lists" run: Release files and signatures
// first, then every index with the hashes the verified Release declared.
type Updater struct {
	Cfg     *config.Tree
	Paths   layout.Paths
	Arch    platform.Arch
	ES      *errstack.Stack
	Logger  *log.Logger
	Keyring openpgp.EntityList

	releases map[string]*Release // dist root → parsed Release
	trusted  map[string]bool
}

// Run fetches everything the source list names. Untrusted archives are
// recorded as warnings, not failures.
func (u *Updater) Run(ctx context.Context, list *sourcelist.List) error {
	if err := u.Paths.EnsureDirs(); err != nil {
		return err
	}
	u.releases = make(map[string]*Release)
	u.trusted = make(map[string]bool)

	targets := Targets(list, u.Arch, u.Cfg.FindVector("Acquire::Languages"))
	if err := u.fetchReleases(ctx, targets); err != nil {
		return err
	}
	return u.fetchIndexes(ctx, targets)
}

// fetchReleases downloads each distinct Release file plus its signature
// and parses the survivors.
func (u *Updater) fetchReleases(ctx context.Context, targets []Target) error {
	a := acquire.New(u.Cfg, u.ES, u.Logger)
	seen := make(map[string]Target)
	for _, t := range targets {
		root := t.distRoot()
		if _, dup := seen[root]; dup {
			continue
		}
		seen[root] = t

		relName := t.ReleaseFileName()
		relItem := acquire.NewReleaseFileItem("Release "+t.Entry.Dist, []string{t.ReleaseURI()}, relName, u.Paths.ListsDir)
		if _, err := a.Add(relItem); err != nil {
			return err
		}

		rootCopy := root
		relPath := filepath.Join(u.Paths.ListsDir, relName)
		sigItem := acquire.NewReleaseSigItem("Release.gpg "+t.Entry.Dist,
			[]string{t.ReleaseSigURI()}, relName+".gpg", u.Paths.ListsDir,
			func(sigPath string) error {
				if err := u.verifySignature(relPath, sigPath); err != nil {
					// Authenticity missing downgrades trust; the data is
					// still usable after explicit confirmation.
					u.ES.Warnf("update", "%v", err)
					u.trusted[rootCopy] = false
					return nil
				}
				u.trusted[rootCopy] = true
				return nil
			})
		sigItem.OnFail = func(it *acquire.Item, msg *acquire.Message) {
			// The acquire run has just recorded a transient error for this
			// item; an absent signature only downgrades trust, so drop it.
			u.ES.PopMessage()
			u.ES.Warnf("update", "no Release.gpg for %s; archive is untrusted", rootCopy)
			u.trusted[rootCopy] = false
		}
		if _, err := a.Add(sigItem); err != nil {
			return err
		}
	}

	err := a.Run(ctx)
	if _, partial := err.(*acquire.FetchFailed); err != nil && !partial {
		return err
	}

	grace := time.Duration(u.Cfg.FindI("Acquire::ValidTime-Grace-Seconds", 0)) * time.Second
	for root, t := range seen {
		relPath := filepath.Join(u.Paths.ListsDir, t.ReleaseFileName())
		rel, perr := ParseReleaseFile(relPath)
		if perr != nil {
			u.ES.Warnf("update", "no usable Release for %s: %v", root, perr)
			continue
		}
		if verr := rel.CheckValid(time.Now(), grace); verr != nil {
			u.ES.Errorf(errstack.KindMalformedInput, "update", verr, "rejecting %s", root)
			continue
		}
		u.releases[root] = rel
	}
	return nil
}

func (u *Updater) verifySignature(relPath, sigPath string) error {
	return gpgverify.VerifyDetached(u.Keyring, relPath, sigPath)
}

// fetchIndexes downloads every target whose Release survived, with the
// expected hashes the Release declared.
func (u *Updater) fetchIndexes(ctx context.Context, targets []Target) error {
	a := acquire.New(u.Cfg, u.ES, u.Logger)
	for _, t := range targets {
		rel := u.releases[t.distRoot()]
		digest, relPath := rel.DigestFor(t)

		uris := t.CompressedURIs()
		destName := t.FileName()
		if digest != nil {
			// The Release names the exact spelling it hashed; fetch that.
			uris = []string{t.distRoot() + "/" + relPath}
			destName = layout.URIToFileName(uris[0])
		} else if rel != nil {
			u.ES.Warnf("update", "%s not listed in its Release file", t.Description())
		}

		var size int64
		if digest != nil {
			size = digest.Size
		}
		item := acquire.NewIndexFileItem(t.Description(), uris, destName, u.Paths.ListsDir, digestHashes(digest), size)
		if t.Kind == KindTranslation {
			item = acquire.NewTranslationIndexItem(t.Description(), uris, destName, u.Paths.ListsDir, digestHashes(digest))
		}
		item.Trusted = u.trusted[t.distRoot()]
		if _, err := a.Add(item); err != nil {
			return err
		}
	}
	return a.Run(ctx)
}

// Sources enumerates the on-disk index files an update run produced, in
// source-list order, ready for the cache generator.
func (u *Updater) Sources(list *sourcelist.List) []cachegen.IndexSource {
	targets := Targets(list, u.Arch, nil)
	var out []cachegen.IndexSource
	for _, t := range targets {
		if t.Kind != KindPackages {
			continue
		}
		rel := u.releases[t.distRoot()]
		src, ok := u.sourceFor(t, rel)
		if ok {
			out = append(out, src)
		}
	}
	return out
}

// SourcesFromDisk rebuilds the index list without a preceding Run, for
// commands that only read the cache. Release attributes are re-read from
// the stored Release files.
func SourcesFromDisk(paths layout.Paths, list *sourcelist.List, arch platform.Arch) []cachegen.IndexSource {
	targets := Targets(list, arch, nil)
	var out []cachegen.IndexSource
	for _, t := range targets {
		if t.Kind != KindPackages {
			continue
		}
		rel, _ := ParseReleaseFile(filepath.Join(paths.ListsDir, t.ReleaseFileName()))
		u := &Updater{Paths: paths}
		if src, ok := u.sourceFor(t, rel); ok {
			out = append(out, src)
		}
	}
	return out
}

// sourceFor locates the stored file for a target, preferring the exact
// spelling the Release hashed, then the conventional compressed names.
func (u *Updater) sourceFor(t Target, rel *Release) (cachegen.IndexSource, bool) {
	var candidates []string
	if digest, relPath := rel.DigestFor(t); digest != nil {
		candidates = append(candidates, layout.URIToFileName(t.distRoot()+"/"+relPath))
	}
	for _, uri := range t.CompressedURIs() {
		candidates = append(candidates, layout.URIToFileName(uri))
	}
	for _, name := range candidates {
		path := filepath.Join(u.Paths.ListsDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return cachegen.IndexSource{
			Path:        path,
			Format:      FormatOf(name),
			ArchiveRoot: t.Entry.URI,
			Info:        t.PackageFileInfo(u.Paths.ListsDir, rel),
		}, true
	}
	return cachegen.IndexSource{}, false
}

func digestHashes(fd *FileDigest) *hashes.HashStringList {
	if fd == nil {
		return nil
	}
	return fd.Hashes
}
