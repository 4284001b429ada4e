// internal/settings/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `loader.go` calls `validateStruct` right after it unmarshals the merged
// Koanf tree.  Any failure aborts startup.
//
// Rules in use: `required`, `hostname_port` for the listen address,
// `oneof` for the log level, `dive` over CORS origins, and the custom
// `envdelim` rule registered below.

package settings

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	// A delimiter containing "." would make the env naming ambiguous.
	_ = val.RegisterValidation("envdelim", func(fl validator.FieldLevel) bool {
		return !strings.Contains(fl.Field().String(), ".")
	})
	return val
}

//
// public API
//

// validateStruct returns the validation errors, or nil on success.
func validateStruct(s *Settings) error {
	if err := v.Struct(s); err != nil {
		return err
	}
	return v.Var(s.Env.Delimiter, "envdelim")
}
