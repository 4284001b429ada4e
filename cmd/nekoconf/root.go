package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nya-foundation/nekoconf/internal/logger"
	"github.com/nya-foundation/nekoconf/internal/manager"
)

var (
	// Global flags
	settingsFile string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "nekoconf",
	Short: "NekoConf - configuration manager with environment overrides",
	Long: `NekoConf loads a YAML or JSON configuration file, lets environment
variables override any key, validates the result against a JSON Schema,
and serves it over a small JSON API.

Environment overrides use the NEKOCONF_ prefix by default:
  server.host      ← NEKOCONF_SERVER_HOST
  database.pool    ← NEKOCONF_DATABASE_POOL`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := "warn"
		if verbose {
			level = "debug"
		}
		_, err := logger.New(logger.Options{Level: level})
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsFile, "settings", "s", "nekoconf.yaml", "daemon settings file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// openManager builds and loads a manager for the one-shot commands.
func openManager(ctx context.Context, configPath, schemaPath string) (*manager.Manager, error) {
	opts := []manager.Option{manager.WithLogger(zap.S())}
	if schemaPath != "" {
		opts = append(opts, manager.WithSchema(schemaPath))
	}
	m, err := manager.New(configPath, opts...)
	if err != nil {
		return nil, err
	}
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
