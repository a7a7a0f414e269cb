// Package policy implements pin-based candidate version selection: each
// version of a package gets a score from matching pin rules and per-file
// default priorities, and the candidate is the highest-scoring version,
// ties broken by version order and then installed-ness.
package policy

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/errstack"
	"github.com/arc-language/goapt/internal/tagfile"
)

// Default priorities, matching the archive conventions: a normal index is
// 500, the installed-status overlay 100, a NotAutomatic archive 1.
const (
	DefaultPriority       = 500
	StatusFilePriority    = 100
	NotAutomaticPriority  = 1
	DowngradeOverridePin  = 1000
)

// MatchKind distinguishes what a pin's Package/Pin pattern matches on.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchGlob
	MatchRegex
)

// Pin is one parsed preferences stanza.
type Pin struct {
	Kind     MatchKind
	Package  string         // pattern; "*" means every package
	re       *regexp.Regexp // compiled when Kind == MatchRegex

	// Exactly one of the following pin targets is set.
	Version  string            // "Pin: version <spec>", glob over version strings
	Origin   string            // "Pin: origin <site>"
	Release  map[string]string // "Pin: release k=v,..." attribute set

	Priority int
}

// Policy holds the pin table and a per-generation candidate memo. The memo
// is sound because candidate selection is a pure function of the sealed
// cache and the loaded pins.
type Policy struct {
	cache *acache.Cache
	pins  []Pin
	memo  *lru.Cache[acache.Handle, acache.Handle]
}

// New builds a Policy over c with no pins loaded.
func New(c *acache.Cache) *Policy {
	memo, _ := lru.New[acache.Handle, acache.Handle](4096)
	return &Policy{cache: c, memo: memo}
}

// LoadDir reads every preferences file under dir in name order. A missing
// directory simply loads nothing.
func (p *Policy) LoadDir(dir string, es *errstack.Stack) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.LoadFile(filepath.Join(dir, name), es); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile parses one preferences file of Package/Pin/Pin-Priority
// stanzas. Malformed stanzas are warned about and skipped.
func (p *Policy) LoadFile(file string, es *errstack.Stack) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := tagfile.NewScanner(f)
	for {
		sec, err := sc.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			es.Warnf("policy", "%s: %v", file, err)
			if _, ok := err.(*tagfile.ErrMalformedStanza); ok {
				continue
			}
			return err
		}
		pin, perr := parsePin(sec)
		if perr != nil {
			es.Warnf("policy", "%s: %v", file, perr)
			continue
		}
		p.AddPin(pin)
	}
}

// AddPin appends a pin rule and invalidates the candidate memo.
func (p *Policy) AddPin(pin Pin) {
	p.pins = append(p.pins, pin)
	p.memo.Purge()
}

func parsePin(sec *tagfile.Section) (Pin, error) {
	pkgPat, ok := sec.Find("Package")
	if !ok {
		return Pin{}, fmt.Errorf("pin stanza without Package")
	}
	pinField, ok := sec.Find("Pin")
	if !ok {
		return Pin{}, fmt.Errorf("pin stanza without Pin")
	}
	prioStr, ok := sec.Find("Pin-Priority")
	if !ok {
		return Pin{}, fmt.Errorf("pin stanza without Pin-Priority")
	}
	prio, err := strconv.Atoi(strings.TrimSpace(prioStr))
	if err != nil {
		return Pin{}, fmt.Errorf("bad Pin-Priority %q", prioStr)
	}

	pin := Pin{Package: pkgPat, Priority: prio}
	switch {
	case strings.HasPrefix(pkgPat, "/") && strings.HasSuffix(pkgPat, "/") && len(pkgPat) > 2:
		re, err := regexp.Compile(pkgPat[1 : len(pkgPat)-1])
		if err != nil {
			return Pin{}, fmt.Errorf("bad package regexp %q: %v", pkgPat, err)
		}
		pin.Kind = MatchRegex
		pin.re = re
	case strings.ContainsAny(pkgPat, "*?["):
		pin.Kind = MatchGlob
	default:
		pin.Kind = MatchExact
	}

	word, rest, _ := strings.Cut(pinField, " ")
	rest = strings.TrimSpace(rest)
	switch word {
	case "version":
		if rest == "" {
			return Pin{}, fmt.Errorf("version pin without a version spec")
		}
		pin.Version = rest
	case "origin":
		pin.Origin = rest
	case "release":
		attrs := make(map[string]string)
		for _, kv := range strings.Split(rest, ",") {
			k, v, found := strings.Cut(strings.TrimSpace(kv), "=")
			if !found {
				return Pin{}, fmt.Errorf("bad release attribute %q", kv)
			}
			attrs[k] = v
		}
		if len(attrs) == 0 {
			return Pin{}, fmt.Errorf("release pin without attributes")
		}
		pin.Release = attrs
	default:
		return Pin{}, fmt.Errorf("unknown pin type %q", word)
	}
	return pin, nil
}

func (pin *Pin) matchesPackage(name string) bool {
	switch pin.Kind {
	case MatchExact:
		return pin.Package == "*" || pin.Package == name
	case MatchGlob:
		ok, _ := path.Match(pin.Package, name)
		return ok
	case MatchRegex:
		return pin.re.MatchString(name)
	default:
		return false
	}
}

// releaseMatches checks every present key of the pin's attribute set
// against one index file's release attributes.
func releaseMatches(attrs map[string]string, f acache.PkgFileIterator) bool {
	for k, v := range attrs {
		var got string
		switch k {
		case "a", "archive", "suite":
			got = f.Archive()
		case "n", "codename":
			got = f.Codename()
		case "c", "component":
			got = f.Component()
		case "b", "arch", "architecture":
			got = f.Architecture()
		case "o", "origin":
			got = f.Origin()
		case "l", "label":
			got = f.Label()
		default:
			return false
		}
		if got != v {
			return false
		}
	}
	return true
}

// filePriority is the per-file default score for versions listed by f.
func filePriority(f acache.PkgFileIterator) int {
	switch {
	case f.IsStatusFile():
		return StatusFilePriority
	case f.Flags()&acache.PkgFileFlagNotAutomatic != 0:
		return NotAutomaticPriority
	default:
		return DefaultPriority
	}
}

// VersionScore computes a version's pin score: the maximum priority among
// matching version pins, matching release/origin pins of any of the
// version's files, and the per-file defaults. When every matching pin is
// negative, that negative score is returned and the defaults are not
// consulted, so the version is excluded from candidate selection.
func (p *Policy) VersionScore(v acache.VerIterator) int {
	name := v.ParentPkg().Name()
	best := -(1 << 30)
	matched := false

	for i := range p.pins {
		pin := &p.pins[i]
		if !pin.matchesPackage(name) {
			continue
		}
		switch {
		case pin.Version != "":
			ok := pin.Version == v.VerStr()
			if !ok && strings.ContainsAny(pin.Version, "*?[") {
				ok, _ = path.Match(pin.Version, v.VerStr())
			}
			if ok {
				matched = true
				if pin.Priority > best {
					best = pin.Priority
				}
			}
		case pin.Origin != "":
			for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
				if vf.File().Site() == pin.Origin {
					matched = true
					if pin.Priority > best {
						best = pin.Priority
					}
					break
				}
			}
		case pin.Release != nil:
			for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
				if releaseMatches(pin.Release, vf.File()) {
					matched = true
					if pin.Priority > best {
						best = pin.Priority
					}
					break
				}
			}
		}
	}
	if matched && best < 0 {
		return best
	}

	for vf := v.FileList(); !vf.IsEnd(); vf.Inc() {
		if fp := filePriority(vf.File()); fp > best {
			best = fp
			matched = true
		}
	}
	if !matched {
		return 0
	}
	return best
}

// GetCandidateVer selects the version of pkg that would be installed by
// default: highest pin score wins; negative scores are excluded; ties fall
// to the higher version, then to the installed one. Versions below the
// installed one are protected from selection unless pinned at exactly
// DowngradeOverridePin.
func (p *Policy) GetCandidateVer(pkg acache.PkgIterator) acache.VerIterator {
	if pkg.IsEnd() {
		return acache.VerIterator{}
	}
	if h, ok := p.memo.Get(pkg.Handle()); ok {
		return p.verAt(pkg, h)
	}

	current := pkg.CurrentVer()
	var bestVer acache.VerIterator
	bestScore := 0

	for v := pkg.VersionList(); !v.IsEnd(); v.Inc() {
		score := p.VersionScore(v)
		if score < 0 {
			continue
		}
		if !current.IsEnd() && debver.Compare(v.VerStr(), current.VerStr()) < 0 && score != DowngradeOverridePin {
			continue
		}
		switch {
		case bestVer.IsEnd(), score > bestScore:
			bestVer, bestScore = v, score
		case score == bestScore:
			cmp := debver.Compare(v.VerStr(), bestVer.VerStr())
			if cmp > 0 || (cmp == 0 && v.Same(current)) {
				bestVer = v
			}
		}
	}

	p.memo.Add(pkg.Handle(), bestVer.Handle())
	return bestVer
}

func (p *Policy) verAt(pkg acache.PkgIterator, h acache.Handle) acache.VerIterator {
	for v := pkg.VersionList(); !v.IsEnd(); v.Inc() {
		if v.Handle() == h {
			return v
		}
	}
	return acache.VerIterator{}
}
