// internal/store/store.go
//
// Configuration file persistence.
//
/*
Context
--------
A Store is bound to one file.  The parser is picked from the extension:
`.json` uses the JSON parser in this package, everything else is YAML.

`Load()` reads through koanf's file provider and returns the normalised
tree.  `Save()` marshals with the same parser and replaces the file
atomically (temp file in the same directory, fsync, rename), so readers and
file watchers never observe a half-written document.

Notes
-----
  • A missing file is reported with an error wrapping fs.ErrNotExist so the
    caller can decide to start empty.
  • An empty file loads as an empty tree.
*/
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/tree"
)

// Store reads and writes one configuration file.
type Store struct {
	path   string
	parser koanf.Parser
}

// New binds a Store to path.  Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path, parser: ParserFor(path)}
}

// ParserFor returns the parser matching path's extension.
func ParserFor(path string) koanf.Parser {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSON()
	}
	return yaml.Parser()
}

// Path returns the bound file.
func (s *Store) Path() string { return s.path }

// Load reads the file and returns its tree.
func (s *Store) Load() (map[string]any, error) {
	if _, err := os.Stat(s.path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}

	k := koanf.New(tree.Sep)
	if err := k.Load(file.Provider(s.path), s.parser); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}

	zap.S().Debugw("configuration file loaded", "file", s.path, "keys", len(k.Raw()))
	return tree.NormalizeMap(k.Raw()), nil
}

// Save writes data to the bound file atomically.
func (s *Store) Save(data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	body, err := s.parser.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.path, err)
	}
	if err := writeAtomic(s.path, body); err != nil {
		zap.S().Errorw("configuration save failed", "file", s.path, "err", err)
		return err
	}
	zap.S().Debugw("configuration file saved", "file", s.path, "bytes", len(body))
	return nil
}

// Read loads any supported file once.
func Read(path string) (map[string]any, error) {
	return New(path).Load()
}

// IsNotExist reports whether err came from a missing file.
func IsNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

/*──────────────────────────── helpers ─────────────────────────────────────*/

func writeAtomic(path string, body []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	mode := fs.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op after a successful rename

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(name, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
