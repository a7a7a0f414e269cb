// Package platform consolidates architecture detection and the dpkg
// architecture-tuple wildcard matching used by dependency archlist
// restrictions.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Arch is a Debian architecture name, e.g. "amd64" or "all".
type Arch string

const (
	Amd64   Arch = "amd64"
	I386    Arch = "i386"
	Arm64   Arch = "arm64"
	Armhf   Arch = "armhf"
	Armel   Arch = "armel"
	Ppc64el Arch = "ppc64el"
	S390x   Arch = "s390x"
	Mips64el Arch = "mips64el"
	Riscv64 Arch = "riscv64"
	All     Arch = "all"
)

// Known lists every architecture this build recognizes.
var Known = []Arch{Amd64, I386, Arm64, Armhf, Armel, Ppc64el, S390x, Mips64el, Riscv64, All}

func (a Arch) String() string { return string(a) }

// Valid reports whether a is one of the Known architectures.
func (a Arch) Valid() bool {
	for _, k := range Known {
		if a == k {
			return true
		}
	}
	return false
}

// UsesPortsRepo reports whether an archive typically serves this
// architecture from a ports (non-primary) mirror.
func (a Arch) UsesPortsRepo() bool {
	switch a {
	case Arm64, Armhf, Armel, Ppc64el, S390x, Riscv64, Mips64el:
		return true
	default:
		return false
	}
}

// Detect returns the running system's Debian architecture name.
func Detect() (Arch, error) {
	if runtime.GOOS != "linux" {
		return "", fmt.Errorf("platform: package archive operations require linux, running on %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64":
		return Amd64, nil
	case "386":
		return I386, nil
	case "arm64":
		return Arm64, nil
	case "arm":
		return Armhf, nil
	case "ppc64le":
		return Ppc64el, nil
	case "s390x":
		return S390x, nil
	case "mips64le":
		return Mips64el, nil
	case "riscv64":
		return Riscv64, nil
	default:
		return "", fmt.Errorf("platform: unsupported GOARCH %q", runtime.GOARCH)
	}
}

// MatchesArchList reports whether arch satisfies a dependency grammar
// archlist restriction such as "linux-any amd64 !i386". A bare name must
// match exactly; "any" matches every architecture; "<os>-any" matches any
// architecture on that kernel (we only model linux); "any-<cpu>" matches
// any OS for that cpu bit; a leading "!" negates the element. The list is
// satisfied if at least one non-negated element matches and no negated
// element matches (matching dpkg's documented semantics).
func MatchesArchList(arch Arch, list []string) bool {
	if len(list) == 0 {
		return true
	}
	positiveSeen := false
	positiveMatch := false
	for _, raw := range list {
		neg := strings.HasPrefix(raw, "!")
		pattern := strings.TrimPrefix(raw, "!")
		m := matchesOne(arch, pattern)
		if neg {
			if m {
				return false
			}
			continue
		}
		positiveSeen = true
		if m {
			positiveMatch = true
		}
	}
	if !positiveSeen {
		// Only negations were given: absent == not excluded.
		return true
	}
	return positiveMatch
}

func matchesOne(arch Arch, pattern string) bool {
	if pattern == "any" {
		return true
	}
	if pattern == string(arch) {
		return true
	}
	if strings.HasSuffix(pattern, "-any") {
		// "<os>-any": we only support the linux kernel, so match any arch.
		return strings.TrimSuffix(pattern, "-any") == "linux"
	}
	if strings.HasPrefix(pattern, "any-") {
		cpu := strings.TrimPrefix(pattern, "any-")
		return cpu == string(arch)
	}
	return false
}
