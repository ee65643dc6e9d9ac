package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var configPath string

var serveFlags struct {
	addr      string
	issuer    string
	backend   string
	seedFile  string
	logLevel  string
	logFormat string
	metrics   bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization server",
	Example: `  # In-memory storage seeded from a fixture file
  oauth-server serve --seed seed.yaml

  # Postgres storage with JSON logs
  OAUTH_STORAGE_POSTGRES_URL=postgres://oauth@db/oauth oauth-server serve --storage postgres --log-format json`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	flags := serveCmd.Flags()
	flags.StringVar(&serveFlags.addr, "addr", "", "Listen address (overrides OAUTH_ADDR)")
	flags.StringVar(&serveFlags.issuer, "issuer", "", "Externally visible base URL (overrides OAUTH_ISSUER)")
	flags.StringVar(&serveFlags.backend, "storage", "", "Storage backend: memory, valkey, postgres or remote")
	flags.StringVar(&serveFlags.seedFile, "seed", "", "YAML fixtures of clients, users and resource servers")
	flags.StringVar(&serveFlags.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&serveFlags.logFormat, "log-format", "", "Log format: text or json")
	flags.BoolVar(&serveFlags.metrics, "metrics", false, "Serve Prometheus metrics on /metrics")

	rootCmd.AddCommand(serveCmd)
}

// applyFlags overlays explicitly set flags on cfg
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr = serveFlags.addr
	}
	if flags.Changed("issuer") {
		cfg.Issuer = serveFlags.issuer
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = serveFlags.backend
	}
	if flags.Changed("seed") {
		cfg.Storage.SeedFile = serveFlags.seedFile
	}
	if flags.Changed("log-level") {
		cfg.Observability.LogLevel = serveFlags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Observability.LogFormat = serveFlags.logFormat
	}
	if flags.Changed("metrics") {
		cfg.Observability.MetricsEnabled = serveFlags.metrics
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := newLogger(os.Stdout, cfg.Observability)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting OAuth server",
			"addr", cfg.Addr,
			"issuer", cfg.Issuer,
			"storage", cfg.Storage.Backend,
			"version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.Close(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down OAuth server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	err = httpServer.Shutdown(shutdownCtx)
	a.Close(shutdownCtx)
	return err
}
