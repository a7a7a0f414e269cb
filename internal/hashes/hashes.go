// Package hashes implements the streaming multi-hash verification used by
// the acquire subsystem and the deb reader: MD5, SHA1, SHA256 and SHA512,
// plus a HashStringList that can tell which of several reported digests is
// the strongest and compare two lists for agreement.
package hashes

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// Kind identifies a hash algorithm. Ordered weakest to strongest so that
// comparing Kind values answers "is this stronger than that".
type Kind int

const (
	KindMD5 Kind = iota
	KindSHA1
	KindSHA256
	KindSHA512
)

func (k Kind) String() string {
	switch k {
	case KindMD5:
		return "MD5Sum"
	case KindSHA1:
		return "SHA1"
	case KindSHA256:
		return "SHA256"
	case KindSHA512:
		return "SHA512"
	default:
		return "unknown"
	}
}

func (k Kind) new() hash.Hash {
	switch k {
	case KindMD5:
		return md5.New()
	case KindSHA1:
		return sha1.New()
	case KindSHA256:
		return sha256.New()
	case KindSHA512:
		return sha512.New()
	default:
		panic("hashes: unknown kind")
	}
}

// AllKinds lists every supported kind, weakest first.
var AllKinds = []Kind{KindMD5, KindSHA1, KindSHA256, KindSHA512}

// HashString is a single (kind, hex digest) pair.
type HashString struct {
	Kind Kind
	Hex  string
}

func (h HashString) String() string { return fmt.Sprintf("%s:%s", h.Kind, h.Hex) }

// HashStringList pairs kinds with expected hex values for one artifact.
type HashStringList struct {
	entries map[Kind]string
}

// NewHashStringList builds a list from the given entries.
func NewHashStringList(hs ...HashString) *HashStringList {
	l := &HashStringList{entries: make(map[Kind]string, len(hs))}
	for _, h := range hs {
		l.entries[h.Kind] = h.Hex
	}
	return l
}

// Set records or overwrites the expected digest for kind.
func (l *HashStringList) Set(kind Kind, hex string) {
	if l.entries == nil {
		l.entries = make(map[Kind]string)
	}
	l.entries[kind] = hex
}

// Find returns the expected digest for kind, if present.
func (l *HashStringList) Find(kind Kind) (string, bool) {
	if l == nil {
		return "", false
	}
	v, ok := l.entries[kind]
	return v, ok
}

// Empty reports whether no hash has been recorded at all.
func (l *HashStringList) Empty() bool {
	return l == nil || len(l.entries) == 0
}

// Strongest returns the strongest kind present in the list.
func (l *HashStringList) Strongest() (Kind, bool) {
	if l.Empty() {
		return 0, false
	}
	best := Kind(-1)
	for k := range l.entries {
		if k > best {
			best = k
		}
	}
	return best, true
}

// VerifyFile computes every kind present in the list over r and reports
// whether all of them matched their expected value. At least one kind must
// be present in common or the comparison is considered inconclusive (false).
func (l *HashStringList) VerifyFile(r io.Reader) (bool, error) {
	if l.Empty() {
		return false, fmt.Errorf("hashes: no expected hash to verify against")
	}

	hashers := make(map[Kind]hash.Hash, len(l.entries))
	writers := make([]io.Writer, 0, len(l.entries))
	for k := range l.entries {
		h := k.new()
		hashers[k] = h
		writers = append(writers, h)
	}

	if _, err := io.Copy(io.MultiWriter(writers...), r); err != nil {
		return false, fmt.Errorf("hashes: reading stream: %w", err)
	}

	matched := 0
	for k, want := range l.entries {
		got := hex.EncodeToString(hashers[k].Sum(nil))
		if got != want {
			return false, nil
		}
		matched++
	}
	return matched > 0, nil
}

// Matches reports whether two lists agree: at least one kind must be
// present in both, and every kind present in both must match.
func (a *HashStringList) Matches(b *HashStringList) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	common := 0
	for k, av := range a.entries {
		bv, ok := b.entries[k]
		if !ok {
			continue
		}
		common++
		if av != bv {
			return false
		}
	}
	return common > 0
}

// Sum computes one kind's hex digest over r.
func Sum(kind Kind, r io.Reader) (string, error) {
	h := kind.new()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
