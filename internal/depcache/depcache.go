// Package depcache layers planning state over the package cache: for every
// package a target mode (delete/keep/install), its policy candidate, and
// for every dependency a bitmap recording whether it is satisfied now,
// after the planned changes, and by the candidate. All counters are
// maintained incrementally; RecomputeCounters exists so tests can check
// them against a fresh count.
package depcache

import (
	"github.com/arc-language/goapt/internal/acache"
	"github.com/arc-language/goapt/internal/policy"
)

// Mode is a package's planned target state.
type Mode byte

const (
	ModeDelete Mode = iota
	ModeKeep
	ModeInstall
)

// Per-dependency state bits. The G-prefixed bits aggregate the dependency's
// whole OR-group and are identical on every member.
const (
	DepNow      byte = 1 << 0
	DepInstall  byte = 1 << 1
	DepCVer     byte = 1 << 2
	DepGNow     byte = 1 << 3
	DepGInstall byte = 1 << 4
	DepGCVer    byte = 1 << 5
)

// Package state flags.
const (
	FlagAuto byte = 1 << 0
	FlagProtected byte = 1 << 1
	FlagReInstall byte = 1 << 2
	FlagInstBroken byte = 1 << 3
	FlagNowBroken byte = 1 << 4
)

// StateCache is the per-package planning record.
type StateCache struct {
	Candidate acache.Handle
	Mode      Mode
	Flags     byte
}

// Counters aggregates the plan: how many packages change, how much gets
// downloaded, and the net installed-size delta.
type Counters struct {
	Install      int
	Delete       int
	Keep         int
	Broken       int
	DownloadSize int64
	UsrSize      int64
}

// DepCache is the planning session over one sealed cache.
type DepCache struct {
	cache  *acache.Cache
	pol    *policy.Policy
	states map[acache.Handle]*StateCache
	dep    map[acache.Handle]byte
	counts Counters
}

// New builds and initializes a planning session: candidates resolved,
// every package set to Keep, dependency states and counters computed.
func New(c *acache.Cache, pol *policy.Policy) *DepCache {
	dc := &DepCache{
		cache:  c,
		pol:    pol,
		states: make(map[acache.Handle]*StateCache, c.PackageCount()),
		dep:    make(map[acache.Handle]byte, c.DependsCount()),
	}
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		st := &StateCache{Mode: ModeKeep}
		st.Candidate = pol.GetCandidateVer(p).Handle()
		dc.states[p.Handle()] = st
	}
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		for v := p.VersionList(); !v.IsEnd(); v.Inc() {
			dc.updateVerDepStates(v)
		}
	}
	for p := c.PkgBegin(); !p.IsEnd(); p.Inc() {
		dc.refreshBroken(p)
		dc.counts.add(dc.contribution(p))
	}
	return dc
}

// Cache returns the underlying package cache.
func (dc *DepCache) Cache() *acache.Cache { return dc.cache }

// Policy returns the pin policy in effect.
func (dc *DepCache) Policy() *policy.Policy { return dc.pol }

// Counters returns the running totals.
func (dc *DepCache) Counters() Counters { return dc.counts }

func (dc *DepCache) state(p acache.PkgIterator) *StateCache {
	st, ok := dc.states[p.Handle()]
	if !ok {
		st = &StateCache{Mode: ModeKeep}
		dc.states[p.Handle()] = st
	}
	return st
}

// GetMode returns the planned mode for p.
func (dc *DepCache) GetMode(p acache.PkgIterator) Mode { return dc.state(p).Mode }

// CandidateVer returns the policy candidate for p.
func (dc *DepCache) CandidateVer(p acache.PkgIterator) acache.VerIterator {
	return dc.verAt(p, dc.state(p).Candidate)
}

func (dc *DepCache) verAt(p acache.PkgIterator, h acache.Handle) acache.VerIterator {
	for v := p.VersionList(); !v.IsEnd(); v.Inc() {
		if v.Handle() == h {
			return v
		}
	}
	return acache.VerIterator{}
}

// InstVer returns the version p will have after the planned changes.
func (dc *DepCache) InstVer(p acache.PkgIterator) acache.VerIterator {
	switch dc.state(p).Mode {
	case ModeInstall:
		return dc.CandidateVer(p)
	case ModeKeep:
		return p.CurrentVer()
	default:
		return acache.VerIterator{}
	}
}

// Upgradable reports whether p is installed with a higher candidate.
func (dc *DepCache) Upgradable(p acache.PkgIterator) bool {
	cur := p.CurrentVer()
	if cur.IsEnd() {
		return false
	}
	cand := dc.CandidateVer(p)
	return !cand.IsEnd() && !cand.Same(cur)
}

// NewInstall reports whether p is planned for install with nothing
// currently installed.
func (dc *DepCache) NewInstall(p acache.PkgIterator) bool {
	return dc.state(p).Mode == ModeInstall && p.CurrentVer().IsEnd()
}

// IsAuto reports whether p was installed to satisfy a dependency rather
// than by user request.
func (dc *DepCache) IsAuto(p acache.PkgIterator) bool { return dc.state(p).Flags&FlagAuto != 0 }

// IsProtected reports whether the resolver must not touch p.
func (dc *DepCache) IsProtected(p acache.PkgIterator) bool {
	return dc.state(p).Flags&FlagProtected != 0
}

// SetProtected shields p from the problem resolver.
func (dc *DepCache) SetProtected(p acache.PkgIterator) { dc.state(p).Flags |= FlagProtected }

// IsInstBroken reports whether p's planned version has unsatisfied hard
// dependencies or violated conflicts.
func (dc *DepCache) IsInstBroken(p acache.PkgIterator) bool {
	return dc.state(p).Flags&FlagInstBroken != 0
}

// IsNowBroken is IsInstBroken over the currently-installed version.
func (dc *DepCache) IsNowBroken(p acache.PkgIterator) bool {
	return dc.state(p).Flags&FlagNowBroken != 0
}

// DepState returns the state bitmap for one dependency record.
func (dc *DepCache) DepState(d acache.DepIterator) byte { return dc.dep[d.Handle()] }

// --- state functions -----------------------------------------------------

func (dc *DepCache) verNow(p acache.PkgIterator) acache.VerIterator { return p.CurrentVer() }

func (dc *DepCache) verInstall(p acache.PkgIterator) acache.VerIterator { return dc.InstVer(p) }

func (dc *DepCache) verCand(p acache.PkgIterator) acache.VerIterator {
	return dc.CandidateVer(p)
}

// provMatches checks a provides record against a dependency's restriction.
// An unversioned provide satisfies only unversioned dependencies.
func provMatches(d acache.DepIterator, prv acache.PrvIterator) bool {
	if d.TargetVer() == "" {
		return true
	}
	pv := prv.ProvideVersion()
	return pv != "" && d.Satisfies(pv)
}

// depHolds evaluates one dependency record under the state function f.
// For a negative dependency "holds" means not violated.
func (dc *DepCache) depHolds(d acache.DepIterator, f func(acache.PkgIterator) acache.VerIterator) bool {
	target := d.TargetPkg()
	parent := d.ParentPkg()

	if d.IsNegative() {
		// Self-conflicts are ignored by definition.
		if target.Handle() != parent.Handle() {
			if v := f(target); !v.IsEnd() && d.Satisfies(v.VerStr()) {
				return false
			}
		}
		for prv := target.ProvidesList(); !prv.IsEnd(); prv.Inc() {
			owner := prv.OwnerPkg()
			if owner.Handle() == parent.Handle() {
				continue
			}
			if ov := f(owner); !ov.IsEnd() && ov.Same(prv.OwnerVer()) && provMatches(d, prv) {
				return false
			}
		}
		return true
	}

	if v := f(target); !v.IsEnd() && d.Satisfies(v.VerStr()) {
		return true
	}
	for prv := target.ProvidesList(); !prv.IsEnd(); prv.Inc() {
		if ov := f(prv.OwnerPkg()); !ov.IsEnd() && ov.Same(prv.OwnerVer()) && provMatches(d, prv) {
			return true
		}
	}
	return false
}

// updateVerDepStates recomputes the bitmap for every dependency of v,
// including the OR-group aggregate bits.
func (dc *DepCache) updateVerDepStates(v acache.VerIterator) {
	d := v.DependsList()
	for !d.IsEnd() {
		// One OR-group: [d, groupEnd].
		var members []acache.DepIterator
		for {
			members = append(members, d)
			isOr := d.IsOr()
			d.Inc()
			if !isOr {
				break
			}
			if d.IsEnd() {
				break
			}
		}

		var group byte
		for _, m := range members {
			var bits byte
			if dc.depHolds(m, dc.verNow) {
				bits |= DepNow
			}
			if dc.depHolds(m, dc.verInstall) {
				bits |= DepInstall
			}
			if dc.depHolds(m, dc.verCand) {
				bits |= DepCVer
			}
			dc.dep[m.Handle()] = bits
			group |= bits
		}
		group = (group & (DepNow | DepInstall | DepCVer)) << 3
		for _, m := range members {
			dc.dep[m.Handle()] = (dc.dep[m.Handle()] & ^(DepGNow | DepGInstall | DepGCVer)) | group
		}
	}
}

// verBroken reports whether v has a hard dependency group unsatisfied or a
// conflict violated under the given aggregate bit.
func (dc *DepCache) verBroken(v acache.VerIterator, groupBit byte) bool {
	if v.IsEnd() {
		return false
	}
	d := v.DependsList()
	for !d.IsEnd() {
		t := d.DepType()
		hard := t == acache.DepDepends || t == acache.DepPreDepends || d.IsNegative()
		if hard && dc.dep[d.Handle()]&groupBit == 0 {
			return true
		}
		d.Inc()
	}
	return false
}

func (dc *DepCache) refreshBroken(p acache.PkgIterator) {
	st := dc.state(p)
	st.Flags &^= FlagInstBroken | FlagNowBroken
	if dc.verBroken(dc.InstVer(p), DepGInstall) {
		st.Flags |= FlagInstBroken
	}
	if dc.verBroken(p.CurrentVer(), DepGNow) {
		st.Flags |= FlagNowBroken
	}
}

// contribution computes p's share of every counter.
func (dc *DepCache) contribution(p acache.PkgIterator) Counters {
	var c Counters
	st := dc.state(p)
	cur := p.CurrentVer()
	switch st.Mode {
	case ModeInstall:
		cand := dc.CandidateVer(p)
		if !cand.IsEnd() && !cand.Same(cur) {
			c.Install = 1
			c.DownloadSize = int64(cand.Size())
			c.UsrSize = int64(cand.InstalledSize())
			if !cur.IsEnd() {
				c.UsrSize -= int64(cur.InstalledSize())
			}
		}
	case ModeDelete:
		if !cur.IsEnd() {
			c.Delete = 1
			c.UsrSize = -int64(cur.InstalledSize())
		}
	case ModeKeep:
		if dc.Upgradable(p) {
			c.Keep = 1
		}
	}
	if st.Flags&FlagInstBroken != 0 {
		c.Broken = 1
	}
	return c
}

func (c *Counters) add(o Counters) {
	c.Install += o.Install
	c.Delete += o.Delete
	c.Keep += o.Keep
	c.Broken += o.Broken
	c.DownloadSize += o.DownloadSize
	c.UsrSize += o.UsrSize
}

func (c *Counters) sub(o Counters) {
	c.Install -= o.Install
	c.Delete -= o.Delete
	c.Keep -= o.Keep
	c.Broken -= o.Broken
	c.DownloadSize -= o.DownloadSize
	c.UsrSize -= o.UsrSize
}

// RecomputeCounters rebuilds the totals from scratch; the incremental
// totals must always equal this.
func (dc *DepCache) RecomputeCounters() Counters {
	var c Counters
	for p := dc.cache.PkgBegin(); !p.IsEnd(); p.Inc() {
		c.add(dc.contribution(p))
	}
	return c
}

// affectedBy collects the packages whose dependency states can change when
// p's planned version changes: p itself, parents of dependencies targeting
// p, and parents of dependencies targeting anything p's versions provide.
func (dc *DepCache) affectedBy(p acache.PkgIterator) map[acache.Handle]acache.PkgIterator {
	out := map[acache.Handle]acache.PkgIterator{p.Handle(): p}
	add := func(target acache.PkgIterator) {
		for d := target.RevDependsList(); !d.IsEnd(); d.Inc() {
			parent := d.ParentPkg()
			out[parent.Handle()] = parent
		}
	}
	add(p)
	for v := p.VersionList(); !v.IsEnd(); v.Inc() {
		for prv := v.ProvidesList(); !prv.IsEnd(); prv.Inc() {
			virt := prv.ParentPkg()
			out[virt.Handle()] = virt
			add(virt)
		}
	}
	return out
}

// setMode changes p's planned mode, repropagating dependency state and
// keeping every counter equal to the sum of per-package contributions.
func (dc *DepCache) setMode(p acache.PkgIterator, mode Mode) {
	st := dc.state(p)
	if st.Mode == mode {
		return
	}
	affected := dc.affectedBy(p)
	for _, a := range affected {
		dc.counts.sub(dc.contribution(a))
	}

	st.Mode = mode

	// Dependencies targeting p (or its virtual names) re-evaluate against
	// the new planned version; every affected parent's versions carry them.
	for _, a := range affected {
		for v := a.VersionList(); !v.IsEnd(); v.Inc() {
			dc.updateVerDepStates(v)
		}
	}
	for _, a := range affected {
		dc.refreshBroken(a)
		dc.counts.add(dc.contribution(a))
	}
}

// MarkKeep resets p to its current installed version (or to staying
// uninstalled). soft marks the keep as automatic so a later MarkInstall
// may override it.
func (dc *DepCache) MarkKeep(p acache.PkgIterator, soft bool) {
	st := dc.state(p)
	if soft {
		st.Flags |= FlagAuto
	}
	dc.setMode(p, ModeKeep)
}

// MarkDelete plans removal of p. purge is not stored and does not change
// planning semantics.
func (dc *DepCache) MarkDelete(p acache.PkgIterator, purge bool) {
	if dc.IsProtected(p) {
		return
	}
	dc.setMode(p, ModeDelete)
}

// MarkInstall plans installation of p's candidate. With autoInst set,
// unsatisfied hard dependencies of the candidate are resolved by
// recursively installing a member of each OR-group, preferring targets
// that are already installed or already planned for install.
func (dc *DepCache) MarkInstall(p acache.PkgIterator, autoInst bool) {
	dc.markInstall(p, autoInst, 0, false)
}

// MarkAuto flags p as automatically installed.
func (dc *DepCache) MarkAuto(p acache.PkgIterator) { dc.state(p).Flags |= FlagAuto }

const maxInstallDepth = 100

func (dc *DepCache) markInstall(p acache.PkgIterator, autoInst bool, depth int, auto bool) {
	if depth > maxInstallDepth {
		return
	}
	cand := dc.CandidateVer(p)
	if cand.IsEnd() {
		return
	}
	st := dc.state(p)
	if auto {
		st.Flags |= FlagAuto
	}
	cur := p.CurrentVer()
	if !cur.IsEnd() && cand.Same(cur) {
		dc.setMode(p, ModeKeep)
		return
	}
	dc.setMode(p, ModeInstall)
	if !autoInst {
		return
	}

	d := cand.DependsList()
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
		if t != acache.DepDepends && t != acache.DepPreDepends {
			continue
		}
		if dc.dep[members[0].Handle()]&DepGInstall != 0 {
			continue
		}

		// Pick the member to satisfy: an already-installed or
		// already-planned target first, then the first member whose
		// candidate is installable.
		var pick acache.PkgIterator
		for _, m := range members {
			tp := m.TargetPkg()
			iv := dc.InstVer(tp)
			if !iv.IsEnd() && m.Satisfies(iv.VerStr()) {
				pick = tp
				break
			}
		}
		if pick.IsEnd() {
			for _, m := range members {
				tp := m.TargetPkg()
				mc := dc.CandidateVer(tp)
				if !mc.IsEnd() && m.Satisfies(mc.VerStr()) {
					pick = tp
					break
				}
				// A virtual target: try its first installable provider.
				if mc.IsEnd() && !tp.HasVersions() {
					for prv := tp.ProvidesList(); !prv.IsEnd(); prv.Inc() {
						owner := prv.OwnerPkg()
						oc := dc.CandidateVer(owner)
						if !oc.IsEnd() && oc.Same(prv.OwnerVer()) && provMatches(m, prv) {
							pick = owner
							break
						}
					}
				}
				if !pick.IsEnd() {
					break
				}
			}
		}
		if !pick.IsEnd() {
			dc.markInstall(pick, true, depth+1, true)
		}
	}
}
