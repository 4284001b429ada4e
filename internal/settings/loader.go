// internal/settings/loader.go
//
// Daemon settings loader.
//
/*
Context
--------
`Load()` builds one immutable `Settings` value from four layers (highest
precedence last):

  1. Defaults().
  2. Optional `.env` file (Options.DotEnv, default `.env` in the working
     directory).  Values land in the process environment and feed layer 4.
  3. Optional YAML file (Options.File, the `--settings` flag).
  4. Environment variables prefixed `NEKOCONFD_`, where `__` maps to “.”
     (e.g., `NEKOCONFD_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled over the defaults, validated, and
cached in an `atomic.Pointer` for lock-free reads.

Instrumentation
---------------
  • DEBUG spans: dotenv, YAML read, env overlay.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span : final “settings loaded” with key highlights.
  • Logs use the global sugared logger (`zap.S()`) because the file logger
    is configured from these very settings.
*/
package settings

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"
)

// EnvPrefix marks daemon settings in the environment.
const EnvPrefix = "NEKOCONFD_"

var current atomic.Pointer[Settings]

// Options locates the optional layers.
type Options struct {
	File   string // settings YAML; "" skips the layer
	DotEnv string // dotenv file; "" means ".env"
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load merges all layers, validates, and caches the result.
func Load(opts Options) (*Settings, error) {
	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err == nil {
		zap.S().Debugw("settings dotenv loaded", "file", dotenv)
	} else if opts.DotEnv != "" || !errors.Is(err, fs.ErrNotExist) {
		zap.S().Errorw("settings dotenv load failed", "file", dotenv, "err", err)
		return nil, err
	}

	k := koanf.New(".")

	if opts.File != "" {
		if err := k.Load(file.Provider(opts.File), yaml.Parser()); err != nil {
			zap.S().Errorw("settings yaml load failed", "file", opts.File, "err", err)
			return nil, err
		}
		zap.S().Debugw("settings yaml loaded", "file", opts.File)
	}

	// NEKOCONFD_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		zap.S().Errorw("settings env overlay failed", "err", err)
		return nil, err
	}

	s := Defaults()
	if err := k.Unmarshal("", &s); err != nil {
		zap.S().Errorw("settings unmarshal failed", "err", err)
		return nil, err
	}

	if err := validateStruct(&s); err != nil {
		zap.S().Errorw("settings validation failed", "err", err)
		return nil, err
	}

	current.Store(&s)
	zap.S().Infow("settings loaded",
		"listen_addr", s.HTTP.ListenAddr,
		"config", s.Config.Path,
		"read_only", s.HTTP.ReadOnly,
		"env_prefix", s.Env.Prefix,
	)
	return &s, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

// Get returns the most recently loaded settings, or nil before Load.
func Get() *Settings { return current.Load() }

// Reload loads again with opts and swaps the cached value.
func Reload(opts Options) error { _, err := Load(opts); return err }

// Exists reports whether path names a readable file.  The CLI uses it to
// make the default settings file optional.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
