// Package secrets replaces secret references inside a configuration tree.
//
// A reference is a string leaf of the form
//
//	vault:<mount>/<path>#<key>
//
// for example "vault:secret/app/db#password".  Resolution runs on the
// effective tree only; the raw tree and the file on disk keep the reference.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nya-foundation/nekoconf/internal/tree"
)

// Scheme prefixes every reference.
const Scheme = "vault:"

// ErrBadRef is returned for strings that carry the scheme but not a usable
// mount, path and key.
var ErrBadRef = errors.New("malformed secret reference")

// Resolver turns one reference into its secret value.
type Resolver interface {
	Resolve(ctx context.Context, ref Ref) (string, error)
}

// Ref is a parsed reference.
type Ref struct {
	Mount string
	Path  string
	Key   string
}

func (r Ref) String() string { return Scheme + r.Mount + "/" + r.Path + "#" + r.Key }

// IsRef reports whether s uses the reference scheme.
func IsRef(s string) bool { return strings.HasPrefix(s, Scheme) }

// ParseRef parses s.  Strings without the scheme are rejected with ErrBadRef
// as well.
func ParseRef(s string) (Ref, error) {
	if !IsRef(s) {
		return Ref{}, fmt.Errorf("%w: %q", ErrBadRef, s)
	}
	body := strings.TrimPrefix(s, Scheme)

	loc, key, ok := strings.Cut(body, "#")
	if !ok || key == "" {
		return Ref{}, fmt.Errorf("%w: %q has no #key", ErrBadRef, s)
	}
	mount, path, ok := strings.Cut(loc, "/")
	if !ok || mount == "" || path == "" {
		return Ref{}, fmt.Errorf("%w: %q needs <mount>/<path>", ErrBadRef, s)
	}
	return Ref{Mount: mount, Path: path, Key: key}, nil
}

// ResolveTree replaces every reference in data, in place, and returns how
// many were resolved.  The first failure stops the walk.
func ResolveTree(ctx context.Context, data map[string]any, r Resolver) (int, error) {
	if r == nil {
		return 0, nil
	}
	n := 0
	err := walk(ctx, data, "", r, &n)
	return n, err
}

func walk(ctx context.Context, node any, path string, r Resolver, n *int) error {
	switch t := node.(type) {
	case map[string]any:
		for k, v := range t {
			p := tree.Join(path, k)
			s, ok := v.(string)
			if !ok {
				if err := walk(ctx, v, p, r, n); err != nil {
					return err
				}
				continue
			}
			if !IsRef(s) {
				continue
			}
			val, err := resolve(ctx, s, r)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", p, err)
			}
			t[k] = val
			*n++
		}
	case []any:
		for i, v := range t {
			p := tree.Join(path, strconv.Itoa(i))
			s, ok := v.(string)
			if !ok {
				if err := walk(ctx, v, p, r, n); err != nil {
					return err
				}
				continue
			}
			if !IsRef(s) {
				continue
			}
			val, err := resolve(ctx, s, r)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", p, err)
			}
			t[i] = val
			*n++
		}
	}
	return nil
}

func resolve(ctx context.Context, s string, r Resolver) (string, error) {
	ref, err := ParseRef(s)
	if err != nil {
		return "", err
	}
	return r.Resolve(ctx, ref)
}
