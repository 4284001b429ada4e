package override

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// Source is a read-only view of an environment.  The engine never reads the
// process environment directly; callers pass OS() in production and Map()
// in tests.
type Source interface {
	// LookupEnv returns the value of name and whether it is set.
	LookupEnv(name string) (string, bool)
	// Environ returns "NAME=value" pairs, like os.Environ.
	Environ() []string
}

// OS returns the process environment.
func OS() Source { return osSource{} }

type osSource struct{}

func (osSource) LookupEnv(name string) (string, bool) { return os.LookupEnv(name) }
func (osSource) Environ() []string                    { return os.Environ() }

// Map wraps a fixed set of variables.  The map is not copied; do not mutate
// it while an Apply is running.
type Map map[string]string

func (m Map) LookupEnv(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func (m Map) Environ() []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// DotEnv reads one or more .env files with godotenv.  Later files do not
// override earlier ones, matching godotenv.Load.  Missing files are an error;
// wrap with Chain(OS(), …) only after checking they exist.
func DotEnv(paths ...string) (Source, error) {
	merged := Map{}
	for _, p := range paths {
		vars, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read dotenv %s: %w", p, err)
		}
		for k, v := range vars {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// Chain layers sources.  Lookups return the first hit; Environ lists every
// name once, with the value from the first source that defines it.
func Chain(sources ...Source) Source { return chain(sources) }

type chain []Source

func (c chain) LookupEnv(name string) (string, bool) {
	for _, s := range c {
		if v, ok := s.LookupEnv(name); ok {
			return v, true
		}
	}
	return "", false
}

func (c chain) Environ() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range c {
		for _, kv := range s.Environ() {
			name, _, _ := strings.Cut(kv, "=")
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, kv)
		}
	}
	return out
}
