// internal/override/override.go
//
// Environment-variable override engine.
//
/*
Context
--------
Apply overlays environment values onto a configuration tree in two passes:

  1. Existing keys.  Every key at every depth is visited with an explicit
     stack of (mapping, path-prefix) pairs.  The dotted path maps to one
     variable name (“server.host” → NEKOCONF_SERVER_HOST).  When that
     variable is set its value is parsed and written back.

  2. New keys.  Every variable carrying the prefix is turned back into a
     dotted path.  Variables pass 1 already applied are skipped, as are
     paths that already resolve; the rest are added.  With “_” as the
     delimiter NEKOCONF_DB_POOL_SIZE names db.pool_size in pass 1 and would
     read back as db.pool.size here.

Both passes honour the include / exclude rules.  Exclusion always wins.

Parse failures are counted.  In lenient mode (the default) they are logged
and the original value stays in place.  In strict mode the first failure is
returned at once; writes made before it are kept.

Instrumentation
---------------
  • DEBUG per applied override and a per-call summary.
  • WARN  for malformed variable names and lenient parse failures.
  • Prometheus counters for applied values and errors.

Notes
-----
  • The engine only reads the Source.  It never touches os.Setenv.
  • Without inPlace the caller's tree is deep-copied first.
*/
package override

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/metrics"
	"github.com/nya-foundation/nekoconf/internal/tree"
	"github.com/nya-foundation/nekoconf/internal/value"
)

const (
	DefaultPrefix    = "NEKOCONF"
	DefaultDelimiter = "_"
)

// Options is the override rule set.  It is copied into the Handler and never
// changed afterwards.
type Options struct {
	Enabled       bool     `koanf:"enabled"`
	Prefix        string   `koanf:"prefix"`
	Delimiter     string   `koanf:"delimiter"`
	IncludePaths  []string `koanf:"include_paths"`
	ExcludePaths  []string `koanf:"exclude_paths"`
	PreserveCase  bool     `koanf:"preserve_case"`
	StrictParsing bool     `koanf:"strict_parsing"`
}

// DefaultOptions enables overrides with the NEKOCONF prefix and “_” as the
// nesting delimiter.
func DefaultOptions() Options {
	return Options{
		Enabled:   true,
		Prefix:    DefaultPrefix,
		Delimiter: DefaultDelimiter,
	}
}

// Stats counts what one Apply call did.
type Stats struct {
	Applied int
	Errors  int
}

// OverrideError is returned in strict mode when a variable cannot be
// applied.
type OverrideError struct {
	Var  string
	Path string
	Err  error
}

func (e *OverrideError) Error() string {
	return fmt.Sprintf("environment variable %s for key %q: %v", e.Var, e.Path, e.Err)
}

func (e *OverrideError) Unwrap() error { return e.Err }

// Handler applies one Options rule set.  It is safe for concurrent use.
type Handler struct {
	opts Options
	log  *zap.SugaredLogger
}

// New builds a Handler.  The prefix is upper-cased with trailing underscores
// stripped, and an empty delimiter falls back to DefaultDelimiter.  A nil logger means
// zap.S().
func New(opts Options, log *zap.SugaredLogger) *Handler {
	opts.Prefix = strings.ToUpper(strings.TrimRight(opts.Prefix, "_"))
	if opts.Delimiter == "" {
		opts.Delimiter = DefaultDelimiter
	}
	opts.IncludePaths = append([]string(nil), opts.IncludePaths...)
	opts.ExcludePaths = append([]string(nil), opts.ExcludePaths...)
	if log == nil {
		log = zap.S()
	}
	return &Handler{opts: opts, log: log}
}

// Options returns a copy of the effective rule set.
func (h *Handler) Options() Options {
	o := h.opts
	o.IncludePaths = append([]string(nil), o.IncludePaths...)
	o.ExcludePaths = append([]string(nil), o.ExcludePaths...)
	return o
}

// Apply overlays src onto data.  Without inPlace data is left untouched and
// a modified copy is returned.  With inPlace data itself is modified and
// returned.  A disabled Handler returns data as-is.
func (h *Handler) Apply(data map[string]any, src Source, inPlace bool) (map[string]any, Stats, error) {
	var st Stats
	if !h.opts.Enabled {
		return data, st, nil
	}

	eff := data
	if !inPlace || eff == nil {
		eff = tree.CloneMap(data)
	}

	used := make(map[string]struct{})
	err := h.overrideExisting(eff, src, used, &st)
	if err == nil {
		err = h.addNew(eff, src, used, &st)
	}

	metrics.OverridesApplied.Add(float64(st.Applied))
	metrics.OverrideErrors.Add(float64(st.Errors))

	if st.Applied > 0 || st.Errors > 0 {
		h.log.Debugw("environment overrides applied",
			"applied", st.Applied,
			"errors", st.Errors,
		)
	}
	return eff, st, err
}

/*──────────────────────────── pass 1 ──────────────────────────────────────*/

type frame struct {
	m      map[string]any
	prefix string
}

// overrideExisting records in used every variable it found, applied or not.
func (h *Handler) overrideExisting(root map[string]any, src Source, used map[string]struct{}, st *Stats) error {
	stack := []frame{{m: root}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, key := range sortedKeys(top.m) {
			path := tree.Join(top.prefix, key)

			if h.ShouldOverride(path) {
				name := h.EnvName(path)
				if raw, ok := src.LookupEnv(name); ok {
					used[name] = struct{}{}
					if err := h.apply(root, path, name, raw, st); err != nil {
						return err
					}
				}
			}

			if child, ok := top.m[key].(map[string]any); ok {
				stack = append(stack, frame{m: child, prefix: path})
			}
		}
	}
	return nil
}

/*──────────────────────────── pass 2 ──────────────────────────────────────*/

type candidate struct {
	name, path, raw string
}

// addNew collects every candidate against the pass-1 tree before writing
// anything, so a structured value added here cannot hide a deeper variable
// on this run but not on the next.
func (h *Handler) addNew(root map[string]any, src Source, used map[string]struct{}, st *Stats) error {
	var todo []candidate
	byPath := make(map[string]int)
	vars := src.Environ()
	sort.Strings(vars)
	for _, kv := range vars {
		name, raw, _ := strings.Cut(kv, "=")
		if _, done := used[name]; done {
			continue
		}

		path, ok := h.pathFromEnv(name, true)
		if !ok {
			continue
		}
		if _, exists := tree.Get(root, path); exists {
			continue
		}
		if !h.ShouldOverride(path) {
			continue
		}

		// Several spellings can fold onto one path.  Keep the one pass 1
		// would look up on the next run.
		c := candidate{name: name, path: path, raw: raw}
		if i, dup := byPath[path]; dup {
			if name == h.EnvName(path) {
				todo[i] = c
			}
			continue
		}
		byPath[path] = len(todo)
		todo = append(todo, c)
	}

	// Parents sort before their children.
	sort.Slice(todo, func(i, j int) bool { return todo[i].name < todo[j].name })

	for _, c := range todo {
		if err := h.apply(root, c.path, c.name, c.raw, st); err != nil {
			return err
		}
	}
	return nil
}

/*──────────────────────────── naming ──────────────────────────────────────*/

// EnvName derives the variable name for a dotted path.
func (h *Handler) EnvName(path string) string {
	name := strings.ReplaceAll(path, tree.Sep, h.opts.Delimiter)
	if h.opts.Prefix != "" {
		name = h.opts.Prefix + "_" + name
	}
	return strings.ToUpper(name)
}

// PathFromEnv is the inverse of EnvName.  It reports false when name does
// not carry the prefix or its key part is malformed.
func (h *Handler) PathFromEnv(name string) (string, bool) {
	return h.pathFromEnv(name, false)
}

func (h *Handler) pathFromEnv(name string, warn bool) (string, bool) {
	if name == "" {
		return "", false
	}

	key := name
	if h.opts.Prefix != "" {
		p := h.opts.Prefix + "_"
		if !strings.HasPrefix(name, p) {
			return "", false
		}
		key = name[len(p):]
	} else if strings.HasPrefix(name, "_") {
		return "", false
	}

	if key == "" {
		if warn {
			h.log.Warnw("skipping environment variable with empty key", "var", name)
		}
		return "", false
	}

	d := h.opts.Delimiter
	if strings.HasPrefix(key, d) || strings.HasSuffix(key, d) || strings.Contains(key, d+d) {
		if warn {
			h.log.Warnw("skipping environment variable with malformed delimiters",
				"var", name,
				"delimiter", d,
			)
		}
		return "", false
	}

	path := strings.ReplaceAll(key, d, tree.Sep)
	if !h.opts.PreserveCase {
		path = strings.ToLower(path)
	}
	return path, true
}

/*──────────────────────────── rules ───────────────────────────────────────*/

// ShouldOverride reports whether path is eligible under the include and
// exclude rules.  Exclusion is checked first and always wins.
func (h *Handler) ShouldOverride(path string) bool {
	for _, ex := range h.opts.ExcludePaths {
		if covers(ex, path) {
			return false
		}
	}
	if len(h.opts.IncludePaths) == 0 {
		return true
	}
	for _, in := range h.opts.IncludePaths {
		if covers(in, path) {
			return true
		}
	}
	return false
}

// covers reports whether path equals rule or descends from it.
func covers(rule, path string) bool {
	return path == rule || strings.HasPrefix(path, rule+tree.Sep)
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func (h *Handler) apply(root map[string]any, path, name, raw string, st *Stats) error {
	v, err := value.Parse(raw)
	if err != nil {
		st.Errors++
		if h.opts.StrictParsing {
			return &OverrideError{Var: name, Path: path, Err: err}
		}
		h.log.Warnw("environment override skipped",
			"var", name,
			"key", path,
			"err", err,
		)
		return nil
	}

	tree.Set(root, path, v.Any())
	st.Applied++
	h.log.Debugw("environment override", "var", name, "key", path, "kind", v.Kind.String())
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
