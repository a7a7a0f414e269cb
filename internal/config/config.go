// Package config implements the hierarchical configuration tree the whole
// engine reads its knobs from: nodes addressed by "::"-separated paths
// (e.g. "Acquire::Queue-Mode"), each carrying an optional scalar value and
// ordered children. Ordered iteration matters: sources and pin directories
// are walked in the order the configuration listed them.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Tree is one configuration node. The zero value is an empty root.
type Tree struct {
	name     string
	value    string
	hasValue bool
	children []*Tree
	byName   map[string]*Tree
}

// New returns an empty configuration root.
func New() *Tree {
	return &Tree{}
}

func (t *Tree) child(name string, create bool) *Tree {
	if t.byName != nil {
		if c, ok := t.byName[strings.ToLower(name)]; ok {
			return c
		}
	}
	if !create {
		return nil
	}
	c := &Tree{name: name}
	if t.byName == nil {
		t.byName = make(map[string]*Tree)
	}
	t.byName[strings.ToLower(name)] = c
	t.children = append(t.children, c)
	return c
}

// lookup walks a "::" path from t. With create set, missing intermediate
// nodes are made on the way down.
func (t *Tree) lookup(key string, create bool) *Tree {
	cur := t
	for _, part := range strings.Split(key, "::") {
		if part == "" {
			continue
		}
		cur = cur.child(part, create)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Set assigns a scalar value at key, creating intermediate nodes.
func (t *Tree) Set(key, value string) {
	n := t.lookup(key, true)
	n.value = value
	n.hasValue = true
}

// Append adds a new anonymous child under key carrying value, used for
// list-valued settings (e.g. multiple pin directories). Each call adds one
// element; iteration order is insertion order.
func (t *Tree) Append(key, value string) {
	n := t.lookup(key, true)
	c := &Tree{value: value, hasValue: true}
	n.children = append(n.children, c)
}

// Exists reports whether key names a node with a scalar value.
func (t *Tree) Exists(key string) bool {
	n := t.lookup(key, false)
	return n != nil && n.hasValue
}

// Find returns the scalar at key, or def when absent.
func (t *Tree) Find(key, def string) string {
	n := t.lookup(key, false)
	if n == nil || !n.hasValue {
		return def
	}
	return n.value
}

// FindB interprets the scalar at key as a boolean.
func (t *Tree) FindB(key string, def bool) bool {
	v := t.Find(key, "")
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1", "with", "enable":
		return true
	case "false", "no", "off", "0", "without", "disable":
		return false
	default:
		return def
	}
}

// FindI interprets the scalar at key as an integer.
func (t *Tree) FindI(key string, def int) int {
	v := t.Find(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FindDir returns the scalar at key as a directory path, joined under the
// parent directory named by parentKey when the value is relative. This is
// the Dir::State/Dir::Cache composition rule: "lists/" under Dir::State
// resolves against the configured state root.
func (t *Tree) FindDir(key, parentKey, def string) string {
	v := t.Find(key, def)
	if v == "" || filepath.IsAbs(v) || parentKey == "" {
		return v
	}
	parent := t.Find(parentKey, "")
	if parent == "" {
		return v
	}
	return filepath.Join(parent, v)
}

// FindVector returns the ordered scalar values of key's children. A node
// that itself has a scalar contributes that value first.
func (t *Tree) FindVector(key string) []string {
	n := t.lookup(key, false)
	if n == nil {
		return nil
	}
	var out []string
	if n.hasValue && n.value != "" {
		out = append(out, n.value)
	}
	for _, c := range n.children {
		if c.hasValue {
			out = append(out, c.value)
		}
	}
	return out
}

// Children returns key's child nodes in insertion order.
func (t *Tree) Children(key string) []*Tree {
	n := t.lookup(key, false)
	if n == nil {
		return nil
	}
	return n.children
}

// Name returns the node's own name component.
func (t *Tree) Name() string { return t.name }

// Value returns the node's scalar value, empty if none is set.
func (t *Tree) Value() string { return t.value }

// Dump renders the tree in apt.conf syntax, one "path value;" line per
// scalar node, matching what apt-config dump prints.
func (t *Tree) Dump() string {
	var b strings.Builder
	t.dump(&b, "")
	return b.String()
}

func (t *Tree) dump(b *strings.Builder, prefix string) {
	path := prefix
	if t.name != "" {
		if path != "" {
			path += "::"
		}
		path += t.name
	}
	if t.hasValue {
		fmt.Fprintf(b, "%s \"%s\";\n", path, t.value)
	}
	for _, c := range t.children {
		c.dump(b, path)
	}
}
