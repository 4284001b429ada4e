// internal/settings/model.go
//
// Typed settings for the nekoconf daemon.
//
// Context
// -------
// These structs describe the daemon itself, not the configuration it
// serves.  `loader.go` fills them from four layers (highest precedence
// last):
//
//   • built-in defaults (Defaults),
//   • optional `.env`                           – dotenv values,
//   • optional settings YAML                    – `--settings` flag,
//   • `NEKOCONFD_`-prefixed environment values  – `__` nests.
//
// Validation runs immediately after unmarshal; the daemon refuses to start
// with missing or malformed settings.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • The served file's own override engine is configured in `Env` and
//     reads the `NEKOCONF_` prefix by default; the two prefixes never meet.

package settings

import (
	"time"

	"github.com/nya-foundation/nekoconf/internal/logger"
	"github.com/nya-foundation/nekoconf/internal/override"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr  string   `koanf:"listen_addr"  validate:"required,hostname_port"`
	APIKey      string   `koanf:"api_key"`
	ReadOnly    bool     `koanf:"read_only"`
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,required"`
}

//
// Config section
//

// Config names the served file and how it is loaded.
type Config struct {
	Path       string        `koanf:"path"        validate:"required"`
	SchemaPath string        `koanf:"schema_path"`
	Watch      bool          `koanf:"watch"`
	Debounce   time.Duration `koanf:"debounce"    validate:"gte=0"`
}

//
// Optional backends
//

// History enables the SQL revision log when DSN is set.
type History struct {
	DSN string `koanf:"dsn"`
}

// Vault enables `vault:` reference resolution.  The client reads VAULT_ADDR
// and VAULT_TOKEN itself.
type Vault struct {
	Enabled bool `koanf:"enabled"`
}

//
// Root aggregate
//

// Settings is the immutable aggregate returned by Load and cached for
// lock-free reads.
type Settings struct {
	HTTP    HTTP             `koanf:"http"`
	Config  Config           `koanf:"config"`
	Env     override.Options `koanf:"env"`
	Log     logger.Options   `koanf:"log"`
	History History          `koanf:"history"`
	Vault   Vault            `koanf:"vault"`
}

// Defaults returns the settings used for every key no layer sets.
func Defaults() Settings {
	return Settings{
		HTTP:   HTTP{ListenAddr: "0.0.0.0:8000"},
		Config: Config{Path: "config.yaml", Debounce: 100 * time.Millisecond},
		Env:    override.DefaultOptions(),
		Log:    logger.Options{Level: "info"},
	}
}
