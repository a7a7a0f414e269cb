// Package debver implements Debian-style version comparison and
// dependency-operator evaluation, producing the same total order as
// dpkg --compare-versions.
//
// A version string is "epoch:upstream-revision". Comparison fragments each
// of the three parts into alternating runs of digits and non-digits and
// compares run by run; within a non-digit run, '~' sorts below everything
// (including the empty string), and non-alphabetic characters sort above
// alphabetic ones.
package debver

import (
	"fmt"
	"strconv"
	"strings"
)

// Compare returns -1, 0 or 1 as a is less than, equal to, or greater than b,
// by the Debian version ordering. It is a total order.
func Compare(a, b string) int {
	aEpoch, aRest := splitEpoch(a)
	bEpoch, bRest := splitEpoch(b)

	if r := compareEpoch(aEpoch, bEpoch); r != 0 {
		return r
	}

	aUpstream, aRevision := splitRevision(aRest)
	bUpstream, bRevision := splitRevision(bRest)

	if r := compareFragment(aUpstream, bUpstream); r != 0 {
		return r
	}
	return compareFragment(aRevision, bRevision)
}

// Equal reports whether Compare(a, b) == 0.
func Equal(a, b string) bool { return Compare(a, b) == 0 }

func splitEpoch(v string) (epoch, rest string) {
	if i := strings.IndexByte(v, ':'); i >= 0 {
		return v[:i], v[i+1:]
	}
	return "", v
}

func compareEpoch(a, b string) int {
	an, aerr := strconv.ParseUint(orZero(a), 10, 64)
	bn, berr := strconv.ParseUint(orZero(b), 10, 64)
	if aerr != nil || berr != nil {
		// Malformed epoch digits: fall back to the generic fragment
		// comparison rather than panicking on bad input.
		return compareFragment(a, b)
	}
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func splitRevision(v string) (upstream, revision string) {
	if i := strings.LastIndexByte(v, '-'); i >= 0 {
		return v[:i], v[i+1:]
	}
	return v, ""
}

// compareFragment compares one upstream/revision fragment using the
// alternating digit/non-digit run algorithm.
func compareFragment(a, b string) int {
	ai, bi := 0, 0
	for ai < len(a) || bi < len(b) {
		// Non-digit run.
		aStart := ai
		for ai < len(a) && !isDigit(a[ai]) {
			ai++
		}
		bStart := bi
		for bi < len(b) && !isDigit(b[bi]) {
			bi++
		}
		if r := compareNonDigitRun(a[aStart:ai], b[bStart:bi]); r != 0 {
			return r
		}

		// Digit run.
		aStart = ai
		for ai < len(a) && isDigit(a[ai]) {
			ai++
		}
		bStart = bi
		for bi < len(b) && isDigit(b[bi]) {
			bi++
		}
		if r := compareDigitRun(a[aStart:ai], b[bStart:bi]); r != 0 {
			return r
		}
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// compareNonDigitRun compares two runs of non-digit characters character by
// character using the rule: '~' sorts below everything, including the
// empty string; letters sort below any other non-alpha byte.
func compareNonDigitRun(a, b string) int {
	i := 0
	for i < len(a) || i < len(b) {
		var ca, cb rune = -1, -1
		if i < len(a) {
			ca = rune(a[i])
		}
		if i < len(b) {
			cb = rune(b[i])
		}
		if ca == cb {
			i++
			continue
		}
		if compareOrderRank(ca) < compareOrderRank(cb) {
			return -1
		}
		return 1
	}
	return 0
}

// compareOrderRank maps a byte (or -1 for "absent") to its sort rank per
// the '~' < empty < alphabetic < other rule. Absent sorts as empty: below
// everything except '~', so an exhausted side sorts higher unless the
// other side's next character is '~'.
func compareOrderRank(c rune) int {
	switch {
	case c == -1:
		return 1 // empty/absent
	case c == '~':
		return 0
	case isAlpha(byte(c)):
		return 2000 + int(c)
	default:
		return 3000 + int(c)
	}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func compareDigitRun(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	// Equal length numeric strings compare lexically (they have the same
	// magnitude comparison as numeric once zero-stripped and equal length).
	return strings.Compare(a, b)
}

// Op is a dependency version-comparison operator.
type Op int

const (
	OpNone Op = iota
	OpLessEq
	OpGreaterEq
	OpLess
	OpGreater
	OpEquals
	OpNotEquals
)

// ParseOp parses a dependency grammar operator token. "<" is accepted as a
// historical synonym for "<=", per Debian policy's legacy allowance.
func ParseOp(s string) (Op, error) {
	switch s {
	case "<<":
		return OpLess, nil
	case "<=", "<":
		return OpLessEq, nil
	case "=":
		return OpEquals, nil
	case ">=":
		return OpGreaterEq, nil
	case ">>", ">":
		return OpGreater, nil
	case "!=":
		return OpNotEquals, nil
	case "":
		return OpNone, nil
	default:
		return OpNone, fmt.Errorf("debver: unknown operator %q", s)
	}
}

func (o Op) String() string {
	switch o {
	case OpLessEq:
		return "<="
	case OpGreaterEq:
		return ">="
	case OpLess:
		return "<<"
	case OpGreater:
		return ">>"
	case OpEquals:
		return "="
	case OpNotEquals:
		return "!="
	default:
		return ""
	}
}

// CheckDep evaluates "pkgVersion op depVersion" -- e.g. CheckDep("1.2", OpGreaterEq, "1.0")
// answers whether an installed/candidate version of 1.2 satisfies ">= 1.0".
// A OpNone dependency (no version restriction) is always satisfied.
func CheckDep(pkgVersion string, op Op, depVersion string) bool {
	if op == OpNone || depVersion == "" {
		return true
	}
	if pkgVersion == "" {
		return false
	}
	res := Compare(pkgVersion, depVersion)
	switch op {
	case OpLessEq:
		return res <= 0
	case OpGreaterEq:
		return res >= 0
	case OpLess:
		return res < 0
	case OpGreater:
		return res > 0
	case OpEquals:
		return res == 0
	case OpNotEquals:
		return res != 0
	default:
		return false
	}
}
