// internal/tree/tree.go
//
// Dotted-path helpers over a free-form configuration tree.
//
// Context
// -------
// A configuration tree is a map[string]any whose values are strings, ints,
// float64s, bools, nil, []any, or nested map[string]any.  Every layer above
// this package (override engine, manager, HTTP server, CLI) addresses values
// with dotted paths such as “server.host”.
//
// Notes
// -----
//   - Reads never panic.  A missing segment, or a non-mapping met before the
//     path is exhausted, is simply “not found”.
//   - Writes create intermediate mappings.  An intermediate scalar is
//     replaced by a fresh mapping; that is destructive and intentional.
//   - The empty path addresses the root for reads.  Set and Delete ignore it.
package tree

import "strings"

// Sep separates path segments.
const Sep = "."

// Split breaks a dotted path into segments.
func Split(path string) []string {
	return strings.Split(path, Sep)
}

// Join is the inverse of Split.  Empty parts are skipped so callers can join
// a prefix that may be blank.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, Sep)
}

// Get returns the value at path and whether it exists.
func Get(t map[string]any, path string) (any, bool) {
	if t == nil {
		return nil, false
	}
	if path == "" {
		return t, true
	}

	var cur any = t
	for _, seg := range Split(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetOr returns the value at path, or def when the path does not resolve.
func GetOr(t map[string]any, path string, def any) any {
	if v, ok := Get(t, path); ok {
		return v
	}
	return def
}

// Set writes v at path, creating intermediate mappings as needed.
func Set(t map[string]any, path string, v any) {
	if t == nil || path == "" {
		return
	}

	segs := Split(path)
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}

// Delete removes the leaf at path and reports whether it was present.
// Intermediate mappings left empty are kept.
func Delete(t map[string]any, path string) bool {
	if t == nil || path == "" {
		return false
	}

	segs := Split(path)
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	if _, ok := cur[leaf]; !ok {
		return false
	}
	delete(cur, leaf)
	return true
}
