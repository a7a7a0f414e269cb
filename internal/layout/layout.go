// Package layout names the persistent on-disk state the engine keeps under
// its configured root: downloaded index lists, in-progress partials, the
// generated caches and the installed-packages status file.
package layout

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/arc-language/goapt/internal/config"
)

// Paths resolves the standard state locations from a configuration tree.
type Paths struct {
	StateDir   string
	CacheDir   string
	EtcDir     string
	ListsDir   string
	PartialDir string
	StatusFile string
	PkgCache   string
	SrcPkgCache string
	ArchivesDir string
}

// Resolve computes every path from the tree's Dir hierarchy.
func Resolve(cfg *config.Tree) Paths {
	root := cfg.Find("Dir", "/")
	state := joinRoot(root, cfg.Find("Dir::State", "var/lib/goapt"))
	cache := joinRoot(root, cfg.Find("Dir::Cache", "var/cache/goapt"))
	etc := joinRoot(root, cfg.Find("Dir::Etc", "etc/goapt"))
	lists := filepath.Join(state, cfg.Find("Dir::State::Lists", "lists/"))
	return Paths{
		StateDir:    state,
		CacheDir:    cache,
		EtcDir:      etc,
		ListsDir:    lists,
		PartialDir:  filepath.Join(lists, "partial"),
		StatusFile:  filepath.Join(state, cfg.Find("Dir::State::Status", "status")),
		PkgCache:    filepath.Join(cache, cfg.Find("Dir::Cache::PkgCache", "pkgcache.bin")),
		SrcPkgCache: filepath.Join(cache, cfg.Find("Dir::Cache::SrcPkgCache", "srcpkgcache.bin")),
		ArchivesDir: filepath.Join(cache, cfg.Find("Dir::Cache::Archives", "archives/")),
	}
}

func joinRoot(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// EnsureDirs creates the state directories that downloads and cache
// generation write into.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.StateDir, p.CacheDir, p.ListsDir, p.PartialDir, p.ArchivesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// URIToFileName converts a source URI into the flat filename it is stored
// under in lists/: the scheme is dropped, path separators become '_', and
// anything else unsafe is %-escaped.
func URIToFileName(uri string) string {
	u, err := url.Parse(uri)
	if err == nil && u.Scheme != "" {
		uri = u.Host + u.Path
	}
	uri = strings.TrimSuffix(uri, "/")
	var b strings.Builder
	for i := 0; i < len(uri); i++ {
		c := uri[i]
		switch {
		case c == '/':
			b.WriteByte('_')
		case c == '_' || c == '-' || c == '.' || c == ':' || c == '~' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9'):
			b.WriteByte(c)
		default:
			b.WriteString(url.QueryEscape(string(c)))
		}
	}
	return b.String()
}
