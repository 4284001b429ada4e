package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nya-foundation/nekoconf/internal/history"
	"github.com/nya-foundation/nekoconf/internal/logger"
	"github.com/nya-foundation/nekoconf/internal/manager"
	"github.com/nya-foundation/nekoconf/internal/secrets"
	"github.com/nya-foundation/nekoconf/internal/server"
	"github.com/nya-foundation/nekoconf/internal/settings"
)

const shutdownTimeout = 10 * time.Second

var serverFlags struct {
	config   string
	schema   string
	host     string
	port     int
	apiKey   string
	readOnly bool
	watch    bool
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the configuration over HTTP",
	Long: `Start the JSON API for one configuration file.

Settings come from defaults, an optional settings file (--settings), .env,
and NEKOCONFD_ environment variables (NEKOCONFD_HTTP__LISTEN_ADDR, …).
Flags given on the command line win over all of them.

Examples:
  nekoconf server --config config.yaml --port 9000 --watch
  nekoconf server --config config.yaml --read-only --api-key s3cret`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	addServerFlags(serverCmd.Flags())
}

func addServerFlags(f *pflag.FlagSet) {
	f.StringVarP(&serverFlags.config, "config", "c", "", "configuration file")
	f.StringVar(&serverFlags.schema, "schema", "", "JSON Schema file")
	f.StringVar(&serverFlags.host, "host", "", "listen host")
	f.IntVarP(&serverFlags.port, "port", "p", 0, "listen port")
	f.StringVar(&serverFlags.apiKey, "api-key", "", "require this API key on /api routes")
	f.BoolVar(&serverFlags.readOnly, "read-only", false, "reject mutating requests")
	f.BoolVar(&serverFlags.watch, "watch", false, "reload when the file changes")
}

// loadSettings merges the settings layers and then the flags the user set.
func loadSettings(cmd *cobra.Command) (*settings.Settings, error) {
	opts := settings.Options{}
	if cmd.Flags().Changed("settings") || settings.Exists(settingsFile) {
		opts.File = settingsFile
	}
	s, err := settings.Load(opts)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("config") {
		s.Config.Path = serverFlags.config
	}
	if f.Changed("schema") {
		s.Config.SchemaPath = serverFlags.schema
	}
	if f.Changed("host") || f.Changed("port") {
		host, port, err := net.SplitHostPort(s.HTTP.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("listen address %q: %w", s.HTTP.ListenAddr, err)
		}
		if f.Changed("host") {
			host = serverFlags.host
		}
		if f.Changed("port") {
			port = strconv.Itoa(serverFlags.port)
		}
		s.HTTP.ListenAddr = net.JoinHostPort(host, port)
	}
	if f.Changed("api-key") {
		s.HTTP.APIKey = serverFlags.apiKey
	}
	if f.Changed("read-only") {
		s.HTTP.ReadOnly = serverFlags.readOnly
	}
	if f.Changed("watch") {
		s.Config.Watch = serverFlags.watch
	}
	if verbose {
		s.Log.Level = "debug"
	}
	return s, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(s.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mopts := []manager.Option{
		manager.WithLogger(log),
		manager.WithOverrides(s.Env),
	}
	if s.Config.SchemaPath != "" {
		mopts = append(mopts, manager.WithSchema(s.Config.SchemaPath))
	}
	if s.Vault.Enabled {
		v, err := secrets.NewVault(ctx, log)
		if err != nil {
			return err
		}
		mopts = append(mopts, manager.WithResolver(v))
	}

	m, err := manager.New(s.Config.Path, mopts...)
	if err != nil {
		return err
	}
	if err := m.Load(ctx); err != nil {
		return err
	}

	sopts := server.Options{
		ReadOnly:    s.HTTP.ReadOnly,
		APIKey:      s.HTTP.APIKey,
		CORSOrigins: s.HTTP.CORSOrigins,
		Logger:      log,
	}
	if s.History.DSN != "" {
		db, err := history.Open(ctx, s.History.DSN)
		if err != nil {
			return err
		}
		defer db.Close()

		hs := history.NewStore(db)
		if err := hs.Migrate(ctx); err != nil {
			return err
		}
		m.Observe(hs.Recorder(m.Raw))
		sopts.History = hs
		log.Infow("history enabled")
	}

	srv := server.NewHTTP(s.HTTP.ListenAddr, server.New(m, sopts).Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("listening", "addr", s.HTTP.ListenAddr, "config", m.Path(), "read_only", s.HTTP.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Infow("shutting down")
		return srv.Shutdown(sctx)
	})
	if s.Config.Watch {
		g.Go(func() error { return m.Watch(gctx, s.Config.Debounce) })
	}

	if err := g.Wait(); err != nil {
		log.Errorw("server stopped", "err", err)
		return err
	}
	log.Infow("server stopped")
	return nil
}
