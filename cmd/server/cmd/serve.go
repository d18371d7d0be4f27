package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/eventboard/server/internal/api"
	"github.com/eventboard/server/internal/app"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/storage"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/eventboard/server/internal/storage/postgres"
	"github.com/eventboard/server/internal/supervisor"
	"github.com/eventboard/server/internal/telemetry"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	host    string
	port    int
	workers int
	migrate bool
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the worker pool and begin accepting requests.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Optionally apply database migrations (--migrate or DATABASE_MIGRATE=true)
- Start a supervised pool of workers sharing one listener
- Replace workers that fault, backing off if they keep crashing
- Drain every worker on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port with two workers
  server serve --host 127.0.0.1 --port 9090 --workers 2

  # Migrate the database first
  server serve --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			opts.apply(&cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "worker count (default: derived from CPUs and memory)")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply database migrations before serving")
	return cmd
}

func (o *serveOptions) apply(cfg *config.Config) {
	if o.host != "" {
		cfg.Server.Host = o.host
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.workers > 0 {
		cfg.Workers.Count = o.workers
	}
	if o.migrate {
		cfg.Database.MigrateOnStart = true
	}
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg.Logging)
	build := api.BuildInfo{Version: Version, GitCommit: GitCommit, BuildDate: BuildDate}
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting eventboard server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	if cfg.Storage.Driver == config.DriverPostgres && cfg.Database.MigrateOnStart {
		if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}
		logger.Info().Msg("database migrations applied")
	}

	// Every worker opens its own Postgres pool; the memory store has to be
	// shared for workers to see each other's writes.
	var shared storage.Store
	if cfg.Storage.Driver == config.DriverMemory {
		shared = memory.New()
		logger.Warn().Msg("using in-memory storage, data is lost on exit")
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	sup := supervisor.New(workerFactory(cfg, build, shared), supervisor.OptionsFromConfig(cfg), logger)
	if err := sup.Serve(ctx, ln); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func workerFactory(cfg config.Config, build api.BuildInfo, shared storage.Store) supervisor.Factory {
	return func(ctx context.Context, w *supervisor.Worker) (supervisor.Instance, error) {
		instance, err := app.New(ctx, app.Options{
			Config: cfg,
			Logger: w.Logger(),
			Build:  build,
			Name:   strconv.Itoa(w.ID()),
			Store:  shared,
			Fault:  w.ReportFault,
			Go:     w.Go,
		})
		if err != nil {
			return nil, err
		}
		return instance, nil
	}
}
