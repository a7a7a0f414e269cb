// Package tagfile implements the RFC-822-style stanza scanner used to read
// Packages, Sources and Release control files, built around a growable
// byte buffer with per-stanza field indexing.
//
// A stanza is a run of "Field: value" lines (with RFC-822 continuation
// lines indented by whitespace) terminated by a blank line or EOF. Indexing
// is done once per stanza by byte offset so repeated Find calls never
// re-walk the stanza on the hot parse path apt-cache/apt-get walk for every
// package in an archive.
package tagfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxTagCount bounds how many distinct fields a single stanza may hold.
// Exceeding it fails the stanza rather than growing unbounded on malformed
// or adversarial input.
const MaxTagCount = 2048

// ErrMalformedStanza is returned by Next when a stanza cannot be indexed,
// either because it is not well-formed RFC-822 or it exceeds MaxTagCount.
type ErrMalformedStanza struct {
	Offset int64
	Reason string
}

func (e *ErrMalformedStanza) Error() string {
	return fmt.Sprintf("tagfile: malformed stanza at offset %d: %s", e.Offset, e.Reason)
}

// field records one tag's name span and value span within a Section's raw
// bytes, precomputed during indexing so Find never re-walks the stanza.
type field struct {
	nameStart, nameEnd   int
	valueStart, valueEnd int
}

// Section holds one parsed stanza: the raw bytes plus an index of fields.
type Section struct {
	raw    []byte
	fields []field
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\r' }

// findBlankLine reports the byte offset just past the first blank-line
// terminator in buf (consuming any run of consecutive blank lines), or
// false if buf does not yet contain one.
func findBlankLine(buf []byte) (consumed int, found bool) {
	lineStart := 0
	n := len(buf)
	for lineStart < n {
		nl := bytes.IndexByte(buf[lineStart:], '\n')
		if nl < 0 {
			return 0, false
		}
		lineEnd := lineStart + nl
		if lineEnd == lineStart {
			end := lineEnd + 1
			for end < n && buf[end] == '\n' {
				end++
			}
			return end, true
		}
		lineStart = lineEnd + 1
	}
	return 0, false
}

// indexFields walks a complete, bounded stanza buffer (no trailing blank
// line included) and builds its field index: a non-whitespace byte at the
// start of a line begins a new field; a line starting with whitespace
// continues the previous field's value.
func indexFields(raw []byte) ([]field, error) {
	var fields []field
	lineStart := 0
	n := len(raw)
	for lineStart < n {
		nl := bytes.IndexByte(raw[lineStart:], '\n')
		lineEnd := n
		if nl >= 0 {
			lineEnd = lineStart + nl
		}
		if lineEnd == lineStart {
			lineStart++
			continue
		}

		isContinuation := raw[lineStart] == ' ' || raw[lineStart] == '\t'
		if isContinuation {
			if len(fields) == 0 {
				return nil, &ErrMalformedStanza{Reason: "continuation line before any field"}
			}
			fields[len(fields)-1].valueEnd = lineEnd
		} else {
			colon := bytes.IndexByte(raw[lineStart:lineEnd], ':')
			if colon < 0 {
				return nil, &ErrMalformedStanza{Reason: fmt.Sprintf("line %q has no ':'", raw[lineStart:lineEnd])}
			}
			nameEnd := lineStart + colon
			valStart := nameEnd + 1
			for valStart < lineEnd && isSpace(raw[valStart]) {
				valStart++
			}
			fields = append(fields, field{nameStart: lineStart, nameEnd: nameEnd, valueStart: valStart, valueEnd: lineEnd})
			if len(fields) > MaxTagCount {
				return nil, &ErrMalformedStanza{Reason: fmt.Sprintf("exceeds MaxTagCount (%d)", MaxTagCount)}
			}
		}
		lineStart = lineEnd + 1
	}
	if len(fields) == 0 {
		return nil, &ErrMalformedStanza{Reason: "stanza has no fields"}
	}
	return fields, nil
}

// Find locates a field by name (case-insensitive) and returns its folded
// value with RFC-822 continuation indentation stripped per line.
func (s *Section) Find(tag string) (string, bool) {
	for _, f := range s.fields {
		if strings.EqualFold(string(s.raw[f.nameStart:f.nameEnd]), tag) {
			return s.foldValue(f), true
		}
	}
	return "", false
}

// FindInt interprets a field's value as a base-10 integer, returning def
// when the field is absent or not a number.
func (s *Section) FindInt(tag string, def int64) int64 {
	v, ok := s.Find(tag)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// FindFlag interprets a field's value as a yes/no boolean, matching dpkg's
// accepted tokens. Returns def if the field is absent or unrecognized.
func (s *Section) FindFlag(tag string, def bool) bool {
	v, ok := s.Find(tag)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	case "no", "false", "0":
		return false
	default:
		return def
	}
}

func (s *Section) foldValue(f field) string {
	raw := s.raw[f.valueStart:f.valueEnd]
	if !bytes.ContainsRune(raw, '\n') {
		return strings.TrimRight(string(raw), " \t\r")
	}
	lines := bytes.Split(raw, []byte{'\n'})
	var b strings.Builder
	for i, line := range lines {
		trimmed := bytes.TrimLeft(line, " \t")
		if i > 0 {
			b.WriteByte('\n')
		}
		b.Write(bytes.TrimRight(trimmed, " \t\r"))
	}
	return b.String()
}

// Tags returns every field name present in the stanza, in file order.
func (s *Section) Tags() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = string(s.raw[f.nameStart:f.nameEnd])
	}
	return out
}

// Raw returns the unparsed bytes of the stanza, for callers computing a
// hash over the original record.
func (s *Section) Raw() []byte { return s.raw }

// Scanner reads successive stanzas out of a Packages/Sources/Release style
// file. The zero value is not usable; construct with NewScanner.
type Scanner struct {
	r      *bufio.Reader
	buf    []byte
	offset int64
	atEOF  bool
}

// NewScanner wraps r for stanza-at-a-time reading.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Offset returns the byte position the scanner has consumed up to. The
// cache generator samples it around Next to record where each stanza lives
// inside its index file.
func (sc *Scanner) Offset() int64 { return sc.offset }

// Next reads and indexes the next stanza, returning io.EOF once the
// underlying reader is exhausted and no further stanza remains.
func (sc *Scanner) Next() (*Section, error) {
	for {
		// Skip blank lines between stanzas.
		for len(sc.buf) > 0 && sc.buf[0] == '\n' {
			sc.buf = sc.buf[1:]
			sc.offset++
		}

		if consumed, found := findBlankLine(sc.buf); found {
			raw := sc.buf[:consumed]
			body := bytes.TrimRight(raw, "\n")
			fields, err := indexFields(body)
			sc.buf = sc.buf[consumed:]
			sc.offset += int64(consumed)
			if err != nil {
				if me, ok := err.(*ErrMalformedStanza); ok {
					me.Offset = sc.offset
				}
				return nil, err
			}
			return &Section{raw: body, fields: fields}, nil
		}

		if sc.atEOF {
			if len(sc.buf) == 0 {
				return nil, io.EOF
			}
			raw := sc.buf
			sc.buf = nil
			fields, err := indexFields(raw)
			if err != nil {
				// Final partial stanza with no content is simply EOF, not
				// an error -- a trailing newline-only tail is common.
				if len(bytes.TrimSpace(raw)) == 0 {
					return nil, io.EOF
				}
				if me, ok := err.(*ErrMalformedStanza); ok {
					me.Offset = sc.offset
				}
				return nil, err
			}
			sc.offset += int64(len(raw))
			return &Section{raw: raw, fields: fields}, nil
		}

		chunk := make([]byte, 64*1024)
		n, rerr := sc.r.Read(chunk)
		if n > 0 {
			sc.buf = append(sc.buf, chunk[:n]...)
		}
		if rerr != nil {
			sc.atEOF = true
		}
	}
}

// RewritePackageOrder is the canonical field order archive tooling writes
// a Packages stanza in. Fields not present in this list are appended after
// it, in their original order.
var RewritePackageOrder = []string{
	"Package", "Package-Type", "Architecture", "Subarchitecture", "Version",
	"Revision", "Package-Revision", "Package_Revision", "Kernel-Version",
	"Built-Using", "Built-For-Profiles", "Auto-Built-Package", "Multi-Arch",
	"Status", "Priority", "Class", "Essential", "Installer-Menu-Item",
	"Section", "Source", "Origin", "Maintainer", "Original-Maintainer",
	"Bugs", "Config-Version", "Conffiles", "Triggers-Awaited",
	"Triggers-Pending", "Installed-Size", "Provides", "Pre-Depends",
	"Depends", "Recommends", "Recommended", "Suggests", "Optional",
	"Conflicts", "Breaks", "Replaces", "Enhances", "Filename",
	"MSDOS-Filename", "Size", "MD5sum", "SHA1", "SHA256", "SHA512",
	"Homepage", "Description", "Tag", "Task",
}

// RewriteSourceOrder is the canonical field order for a Sources stanza.
var RewriteSourceOrder = []string{
	"Package", "Source", "Format", "Binary", "Architecture", "Version",
	"Priority", "Class", "Section", "Origin", "Maintainer",
	"Original-Maintainer", "Uploaders", "Dm-Upload-Allowed",
	"Standards-Version", "Build-Depends", "Build-Depends-Arch",
	"Build-Depends-Indep", "Build-Conflicts", "Build-Conflicts-Arch",
	"Build-Conflicts-Indep", "Testsuite", "Testsuite-Triggers", "Homepage",
	"Vcs-Browser", "Vcs-Browse", "Vcs-Arch", "Vcs-Bzr", "Vcs-Cvs",
	"Vcs-Darcs", "Vcs-Git", "Vcs-Hg", "Vcs-Mtn", "Vcs-Svn", "Directory",
	"Package-List", "Files", "Checksums-Md5", "Checksums-Sha1",
	"Checksums-Sha256", "Checksums-Sha512",
}

// Tag is one replacement or insertion handed to RewriteWith.
type Tag struct {
	Name  string
	Value string
}

// Rewrite renders the stanza's fields in the given canonical order,
// appending any fields not named by order at the end in their original
// position.
func (s *Section) Rewrite(order []string) string {
	return s.RewriteWith(order, nil, nil)
}

// RewriteWith is Rewrite plus edits: removals drops fields by name, and
// each insertion replaces an existing field's value or, when the field is
// new, appends it after the known ones. Rewriting is total: every
// surviving field appears in the output exactly once.
func (s *Section) RewriteWith(order []string, removals []string, insertions []Tag) string {
	removed := make(map[string]bool, len(removals))
	for _, r := range removals {
		removed[strings.ToLower(r)] = true
	}
	replacement := make(map[string]string, len(insertions))
	for _, in := range insertions {
		replacement[strings.ToLower(in.Name)] = in.Value
	}

	value := func(tag string) (string, bool) {
		if removed[strings.ToLower(tag)] {
			return "", false
		}
		if v, ok := replacement[strings.ToLower(tag)]; ok {
			return v, true
		}
		return s.Find(tag)
	}

	written := make(map[string]bool, len(s.fields))
	var b strings.Builder
	emit := func(tag string) {
		if written[strings.ToLower(tag)] {
			return
		}
		v, ok := value(tag)
		if !ok {
			return
		}
		// Multi-line values get their continuation indent back so the
		// output re-parses to the same fields.
		fmt.Fprintf(&b, "%s: %s\n", tag, strings.ReplaceAll(v, "\n", "\n "))
		written[strings.ToLower(tag)] = true
	}

	for _, tag := range order {
		emit(tag)
	}
	for _, f := range s.fields {
		emit(string(s.raw[f.nameStart:f.nameEnd]))
	}
	// Brand-new fields from insertions land last, in insertion order.
	for _, in := range insertions {
		if !written[strings.ToLower(in.Name)] && !removed[strings.ToLower(in.Name)] {
			fmt.Fprintf(&b, "%s: %s\n", in.Name, strings.ReplaceAll(in.Value, "\n", "\n "))
			written[strings.ToLower(in.Name)] = true
		}
	}
	return b.String()
}

// ParseTags parses "Key: value" pairs out of a rendered stanza, used by
// tests asserting the render/parse round trip and by callers consuming a
// RewriteWith result as structured data again.
func ParseTags(stanza string) (map[string]string, error) {
	sec, err := NewScanner(strings.NewReader(stanza + "\n")).Next()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(sec.fields))
	for _, name := range sec.Tags() {
		v, _ := sec.Find(name)
		out[name] = v
	}
	return out, nil
}
