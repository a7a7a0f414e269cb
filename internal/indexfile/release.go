package indexfile

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/arc-language/goapt/internal/hashes"
	"github.com/arc-language/goapt/internal/tagfile"
)

// Release is a parsed Release (or InRelease payload) stanza: the archive's
// identity attributes, expiry, and the per-file hash tables used to verify
// every index fetched beneath it.
type Release struct {
	Origin       string
	Label        string
	Suite        string
	Codename     string
	Architectures []string
	Components   []string
	Date         time.Time
	ValidUntil   time.Time
	NotAutomatic bool

	// Files maps a dist-relative path ("main/binary-amd64/Packages.gz")
	// to its strongest known hashes and size.
	Files map[string]*FileDigest
}

// FileDigest is one entry of a Release hash table.
type FileDigest struct {
	Hashes *hashes.HashStringList
	Size   int64
}

// ErrExpired reports a Release whose Valid-Until lies in the past.
type ErrExpired struct {
	Suite string
	Until time.Time
}

func (e *ErrExpired) Error() string {
	return fmt.Sprintf("indexfile: release %s expired %s ago", e.Suite, time.Since(e.Until).Round(time.Second))
}

// ParseRelease reads a Release stanza from r.
func ParseRelease(r io.Reader) (*Release, error) {
	sec, err := tagfile.NewScanner(r).Next()
	if err != nil {
		return nil, fmt.Errorf("indexfile: reading release: %w", err)
	}
	rel := &Release{Files: make(map[string]*FileDigest)}
	rel.Origin, _ = sec.Find("Origin")
	rel.Label, _ = sec.Find("Label")
	rel.Suite, _ = sec.Find("Suite")
	rel.Codename, _ = sec.Find("Codename")
	if v, ok := sec.Find("Architectures"); ok {
		rel.Architectures = strings.Fields(v)
	}
	if v, ok := sec.Find("Components"); ok {
		rel.Components = strings.Fields(v)
	}
	rel.NotAutomatic = sec.FindFlag("NotAutomatic", false)
	if v, ok := sec.Find("Date"); ok {
		rel.Date, _ = parseReleaseTime(v)
	}
	if v, ok := sec.Find("Valid-Until"); ok {
		rel.ValidUntil, _ = parseReleaseTime(v)
	}

	digests := []struct {
		field string
		kind  hashes.Kind
	}{
		{"MD5Sum", hashes.KindMD5},
		{"SHA1", hashes.KindSHA1},
		{"SHA256", hashes.KindSHA256},
		{"SHA512", hashes.KindSHA512},
	}
	for _, d := range digests {
		v, ok := sec.Find(d.field)
		if !ok {
			continue
		}
		for _, line := range strings.Split(v, "\n") {
			fields := strings.Fields(line)
			if len(fields) != 3 {
				continue
			}
			var size int64
			fmt.Sscanf(fields[1], "%d", &size)
			path := fields[2]
			fd, ok := rel.Files[path]
			if !ok {
				fd = &FileDigest{Hashes: hashes.NewHashStringList(), Size: size}
				rel.Files[path] = fd
			}
			fd.Hashes.Set(d.kind, fields[0])
		}
	}
	return rel, nil
}

// ParseReleaseFile reads a Release file from disk.
func ParseReleaseFile(path string) (*Release, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRelease(f)
}

func parseReleaseTime(v string) (time.Time, error) {
	for _, layoutStr := range []string{time.RFC1123, time.RFC1123Z, "Mon, 2 Jan 2006 15:04:05 MST"} {
		if t, err := time.Parse(layoutStr, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("indexfile: unparsable date %q", v)
}

// CheckValid rejects an expired Release. grace extends the lifetime, the
// configured escape hatch for archives that stopped updating Valid-Until.
func (rel *Release) CheckValid(now time.Time, grace time.Duration) error {
	if rel.ValidUntil.IsZero() {
		return nil
	}
	if now.After(rel.ValidUntil.Add(grace)) {
		return &ErrExpired{Suite: rel.Suite, Until: rel.ValidUntil}
	}
	return nil
}

// DigestFor looks up the hash-table entry for a target's index, trying the
// compressed and plain spellings the archive may list.
func (rel *Release) DigestFor(t Target) (*FileDigest, string) {
	if rel == nil {
		return nil, ""
	}
	var base string
	switch t.Kind {
	case KindSources:
		base = t.Component + "/source/Sources"
	case KindTranslation:
		base = t.Component + "/i18n/Translation-" + t.Language
	default:
		base = fmt.Sprintf("%s/binary-%s/Packages", t.Component, t.Arch)
	}
	for _, suffix := range []string{".gz", ".xz", ""} {
		if fd, ok := rel.Files[base+suffix]; ok {
			return fd, base + suffix
		}
	}
	return nil, ""
}
