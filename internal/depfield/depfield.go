// Package depfield parses the dependency field grammar shared by Depends,
// Pre-Depends, Recommends, Suggests, Conflicts, Breaks, Replaces, Enhances
// and Provides:
//
//	depends := dep ("," dep)*
//	dep     := group ("|" group)*
//	group   := name [":" arch] ["(" op ver ")"] ["[" archlist "]"] ["<" profiles ">"]
//
// Parsing is cursor-based over the raw field bytes, no regexp and no
// allocation beyond the output records, since the cache generator runs this
// over every stanza of every index file.
package depfield

import (
	"fmt"
	"strings"

	"github.com/arc-language/goapt/internal/debver"
	"github.com/arc-language/goapt/internal/platform"
)

// Dep is one parsed dependency alternative.
type Dep struct {
	Name     string
	Arch     string // ":arch" qualifier, empty if none
	Op       debver.Op
	Version  string
	ArchList []string // "[amd64 !i386]" restriction, nil if none
	Profiles []string // "<profile ...>" restriction, nil if none
}

// Group is one comma-separated element: a list of "|"-joined alternatives.
type Group []Dep

// Parse splits a full dependency field into its OR-groups.
func Parse(field string) ([]Group, error) {
	var groups []Group
	p := &parser{s: field}
	for {
		p.skipSpace()
		if p.done() {
			break
		}
		var g Group
		for {
			d, err := p.parseDep()
			if err != nil {
				return nil, err
			}
			g = append(g, d)
			p.skipSpace()
			if !p.consume('|') {
				break
			}
		}
		groups = append(groups, g)
		p.skipSpace()
		if p.done() {
			break
		}
		if !p.consume(',') {
			return nil, fmt.Errorf("depfield: expected ',' or '|' at %q", p.rest())
		}
	}
	return groups, nil
}

// AppliesTo reports whether d is active for arch, i.e. its archlist
// restriction (if any) does not exclude it. Profile-restricted deps apply
// only in build contexts, so any profile restriction makes the dep absent
// for binary installation.
func (d *Dep) AppliesTo(arch platform.Arch) bool {
	if len(d.Profiles) > 0 {
		return false
	}
	return platform.MatchesArchList(arch, d.ArchList)
}

type parser struct {
	s   string
	pos int
}

func (p *parser) done() bool  { return p.pos >= len(p.s) }
func (p *parser) rest() string { return p.s[p.pos:] }

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) consume(c byte) bool {
	if p.pos < len(p.s) && p.s[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

func isNameByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == '+' || c == '-' || c == '.' || c == '_'
}

func (p *parser) parseDep() (Dep, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.s) && isNameByte(p.s[p.pos]) {
		p.pos++
	}
	if p.pos == start {
		return Dep{}, fmt.Errorf("depfield: expected package name at %q", p.rest())
	}
	d := Dep{Name: p.s[start:p.pos]}

	if p.consume(':') {
		aStart := p.pos
		for p.pos < len(p.s) && isNameByte(p.s[p.pos]) {
			p.pos++
		}
		if p.pos == aStart {
			return Dep{}, fmt.Errorf("depfield: expected architecture after %q:", d.Name)
		}
		d.Arch = p.s[aStart:p.pos]
	}

	p.skipSpace()
	if p.consume('(') {
		if err := p.parseVersionRestriction(&d); err != nil {
			return Dep{}, err
		}
		p.skipSpace()
	}
	if p.consume('[') {
		list, err := p.parseBracketList(']')
		if err != nil {
			return Dep{}, err
		}
		d.ArchList = list
		p.skipSpace()
	}
	if p.consume('<') {
		list, err := p.parseBracketList('>')
		if err != nil {
			return Dep{}, err
		}
		d.Profiles = list
		p.skipSpace()
	}
	return d, nil
}

func (p *parser) parseVersionRestriction(d *Dep) error {
	p.skipSpace()
	opStart := p.pos
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '<' || c == '>' || c == '=' || c == '!' {
			p.pos++
		} else {
			break
		}
	}
	op, err := debver.ParseOp(p.s[opStart:p.pos])
	if err != nil {
		return fmt.Errorf("depfield: in %q: %w", d.Name, err)
	}
	if op == debver.OpNone {
		// "(1.0)" with no operator means exact match, dpkg legacy.
		op = debver.OpEquals
	}
	d.Op = op

	p.skipSpace()
	vStart := p.pos
	for p.pos < len(p.s) && p.s[p.pos] != ')' {
		p.pos++
	}
	if p.pos >= len(p.s) {
		return fmt.Errorf("depfield: unterminated version restriction for %q", d.Name)
	}
	d.Version = strings.TrimSpace(p.s[vStart:p.pos])
	p.pos++ // ')'
	if d.Version == "" {
		return fmt.Errorf("depfield: empty version restriction for %q", d.Name)
	}
	return nil
}

func (p *parser) parseBracketList(closer byte) ([]string, error) {
	var out []string
	var cur strings.Builder
	for {
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("depfield: unterminated %q list", string(closer))
		}
		c := p.s[p.pos]
		p.pos++
		switch {
		case c == closer:
			if cur.Len() > 0 {
				out = append(out, cur.String())
			}
			return out, nil
		case c == ' ' || c == '\t':
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
}
