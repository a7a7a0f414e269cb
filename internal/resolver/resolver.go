// Package resolver repairs broken planning states: given a dependency
// cache with unsatisfied dependencies, it scores every package, walks the
// broken ones in descending score order, and tries upgrade, downgrade,
// provider installation and finally removal until nothing is broken or the
// iteration bound is hit.
package resolver

import (
	"fmt"
	"sort"

	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/depcache"
)

// Resolver carries the scoring table for one planning session.
type Resolver struct {
	dc     *depcache.DepCache
	scores map[acache.Handle]int

	// RemoveEssential permits removal of essential packages; off by
	// default and only honored for explicit user requests.
	RemoveEssential bool
}

// New builds a resolver over dc and computes package scores.
func New(dc *depcache.DepCache) *Resolver {
	r := &Resolver{dc: dc, scores: make(map[acache.Handle]int)}
	r.makeScores()
	return r
}

// Score exposes a package's computed repair priority.
func (r *Resolver) Score(p acache.PkgIterator) int { return r.scores[p.Handle()] }

// makeScores blends essential-ness, install status, priority, upgradability
// and protection into a per-package rank. Higher scores are repaired first
// and sacrificed last.
func (r *Resolver) makeScores() {
	c := r.dc.Cache()
	priScore := map[byte]int{
		acache.PriRequired:  4,
		acache.PriImportant: 3,
		acache.PriStandard:  2,
		acache.PriOptional:  1,
		acache.PriExtra:     0,
	}
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		score := 0
		if p.Flags()&acache.PkgFlagEssential != 0 {
			score += 200
		}
		if p.Flags()&acache.PkgFlagImportant != 0 {
			score += 100
		}
		if !p.CurrentVer().IsEnd() {
			score += 20
		}
		if cand := r.dc.CandidateVer(p); !cand.IsEnd() {
			score += priScore[cand.Priority()]
		}
		if r.dc.Upgradable(p) {
			score += 5
		}
		if r.dc.IsProtected(p) {
			score += 10000
		}
		r.scores[p.Handle()] = score
	}

	// Propagate a fraction of each package's score to what it depends on,
	// so load-bearing libraries outrank their leaves.
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		v := r.dc.InstVer(p)
		if v.IsEnd() {
			continue
		}
		base := r.scores[p.Handle()]
		for d := v.DependsList(); !d.IsEnd(); d.Inc() {
			t := d.DepType()
			if t == acache.DepDepends || t == acache.DepPreDepends {
				r.scores[d.TargetPkg().Handle()] += base / 2
			}
		}
	}
}

// maxPasses bounds the repair loop; a state still broken after this many
// full sweeps is reported as unresolvable.
const maxPasses = 10

// Unresolved describes the packages the resolver could not repair.
type Unresolved struct {
	Packages []string
}

func (e *Unresolved) Error() string {
	return fmt.Sprintf("resolver: unable to correct problems, broken packages: %v", e.Packages)
}

// Resolve repairs the current plan with minimal changes.
func (r *Resolver) Resolve() error { return r.run(false) }

// FixBroken repairs without planning new installs beyond what repair
// itself requires: only already-installed packages are touched.
func (r *Resolver) FixBroken() error { return r.run(true) }

// DistUpgrade plans candidate installs for every installed package,
// then repairs whatever that broke.
func (r *Resolver) DistUpgrade() error {
	c := r.dc.Cache()
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		if r.dc.Upgradable(p) {
			r.dc.MarkInstall(p, true)
		}
	}
	return r.run(false)
}

// Upgrade plans only upgrades that break nothing: any upgrade that leaves
// a package broken is rolled back to keep.
func (r *Resolver) Upgrade() error {
	c := r.dc.Cache()
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		if !r.dc.Upgradable(p) {
			continue
		}
		r.dc.MarkInstall(p, false)
		if r.dc.Counters().Broken > 0 {
			r.dc.MarkKeep(p, false)
		}
	}
	if r.dc.Counters().Broken > 0 {
		return r.Resolve()
	}
	return nil
}

func (r *Resolver) broken() []acache.PkgIterator {
	var out []acache.PkgIterator
	for p := r.dc.Cache().PkgBegin(); !p.IsEnd(); p.Inc() {
		if r.dc.IsInstBroken(p) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return r.scores[out[i].Handle()] > r.scores[out[j].Handle()]
	})
	return out
}

func (r *Resolver) run(fixOnly bool) error {
	for pass := 0; pass < maxPasses; pass++ {
		broken := r.broken()
		if len(broken) == 0 {
			return nil
		}
		progressed := false
		for _, p := range broken {
			if !r.dc.IsInstBroken(p) {
				continue // repaired as a side effect earlier this pass
			}
			if r.repair(p, fixOnly) {
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	broken := r.broken()
	if len(broken) == 0 {
		return nil
	}
	e := &Unresolved{}
	for _, p := range broken {
		e.Packages = append(e.Packages, p.FullName())
	}
	return e
}

// repair tries the escalation ladder on one broken package. Returns true
// when it changed anything.
func (r *Resolver) repair(p acache.PkgIterator, fixOnly bool) bool {
	// Protection shields p's own mode, not the repairs made around it.
	protected := r.dc.IsProtected(p)

	// (a) Upgrade to candidate.
	if !protected && r.dc.GetMode(p) != depcache.ModeInstall && r.dc.Upgradable(p) {
		r.dc.MarkInstall(p, true)
		if !r.dc.IsInstBroken(p) {
			return true
		}
	}

	// Walk the unsatisfied hard dependencies of the planned version and
	// try to satisfy each by acting on the target side.
	v := r.dc.InstVer(p)
	if !v.IsEnd() {
		d := v.DependsList()
		for !d.IsEnd() {
			var members []acache.DepIterator
			for {
				members = append(members, d)
				isOr := d.IsOr()
				d.Inc()
				if !isOr || d.IsEnd() {
					break
				}
			}
			t := members[0].DepType()
			hard := t == acache.DepDepends || t == acache.DepPreDepends
			negative := members[0].IsNegative()
			if !hard && !negative {
				continue
			}
			if r.dc.DepState(members[0])&depcache.DepGInstall != 0 {
				continue
			}
			if negative {
				for _, m := range members {
					r.repairConflict(m)
				}
				continue
			}
			if r.repairDepGroup(members, fixOnly) {
				continue
			}
		}
	}
	if !r.dc.IsInstBroken(p) {
		return true
	}
	if protected {
		return false
	}

	// (d) Give up on the package itself: remove it if that is allowed.
	if !p.CurrentVer().IsEnd() || r.dc.GetMode(p) == depcache.ModeInstall {
		if p.Flags()&acache.PkgFlagEssential != 0 && !r.RemoveEssential {
			return false
		}
		if p.CurrentVer().IsEnd() {
			r.dc.MarkKeep(p, false) // cancel a failed new install
		} else {
			r.dc.MarkDelete(p, false)
		}
		return true
	}
	return false
}

// repairDepGroup tries to satisfy one OR-group: upgrade the target,
// downgrade it to an older installable version, or install a provider.
func (r *Resolver) repairDepGroup(members []acache.DepIterator, fixOnly bool) bool {
	// (a)+(c): a member whose target candidate (or provider) satisfies.
	for _, m := range members {
		tp := m.TargetPkg()
		if fixOnly && tp.CurrentVer().IsEnd() {
			continue
		}
		if cand := r.dc.CandidateVer(tp); !cand.IsEnd() && m.Satisfies(cand.VerStr()) {
			r.dc.MarkInstall(tp, true)
			if r.dc.DepState(m)&depcache.DepGInstall != 0 {
				return true
			}
		}
	}
	for _, m := range members {
		tp := m.TargetPkg()
		for prv := tp.ProvidesList(); !prv.IsEnd(); prv.Inc() {
			owner := prv.OwnerPkg()
			if fixOnly && owner.CurrentVer().IsEnd() {
				continue
			}
			oc := r.dc.CandidateVer(owner)
			if !oc.IsEnd() && oc.Same(prv.OwnerVer()) && !r.dc.IsProtected(owner) {
				r.dc.MarkInstall(owner, true)
				if r.dc.DepState(m)&depcache.DepGInstall != 0 {
					return true
				}
			}
		}
	}

	// (b) Downgrade: an older version of the target that satisfies. Only
	// attempted when policy did not forbid it outright (score >= 0).
	for _, m := range members {
		tp := m.TargetPkg()
		if fixOnly && tp.CurrentVer().IsEnd() {
			continue
		}
		for tv := tp.VersionList(); !tv.IsEnd(); tv.Inc() {
			if !m.Satisfies(tv.VerStr()) {
				continue
			}
			if r.dc.Policy().VersionScore(tv) < 0 {
				continue
			}
			cur := tp.CurrentVer()
			if !cur.IsEnd() && debver.Compare(tv.VerStr(), cur.VerStr()) == 0 {
				r.dc.MarkKeep(tp, false)
			} else {
				// No per-version override in MarkInstall; settle for the
				// keep/install the candidate machinery offers.
				r.dc.MarkInstall(tp, true)
			}
			if r.dc.DepState(m)&depcache.DepGInstall != 0 {
				return true
			}
		}
	}
	return false
}

// repairConflict clears a violated negative dependency by removing the
// offending target (never a protected or essential one).
func (r *Resolver) repairConflict(m acache.DepIterator) {
	tp := m.TargetPkg()
	iv := r.dc.InstVer(tp)
	if iv.IsEnd() || !m.Satisfies(iv.VerStr()) {
		return
	}
	if r.dc.IsProtected(tp) {
		return
	}
	if tp.Flags()&acache.PkgFlagEssential != 0 && !r.RemoveEssential {
		return
	}
	if tp.CurrentVer().IsEnd() {
		r.dc.MarkKeep(tp, false)
	} else {
		r.dc.MarkDelete(tp, false)
	}
}
