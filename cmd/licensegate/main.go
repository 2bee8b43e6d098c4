// Package main is the entrypoint for the licensegate server and its
// operator CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/MacJediWizard/licensegate/internal/admin"
	"github.com/MacJediWizard/licensegate/internal/api"
	"github.com/MacJediWizard/licensegate/internal/config"
	"github.com/MacJediWizard/licensegate/internal/health"
	"github.com/MacJediWizard/licensegate/internal/license"
	"github.com/MacJediWizard/licensegate/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.ServerConfig) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("version", Version).Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "licensegate",
		Short: "License verification service with an operator kill switch",
		Long: `licensegate answers license verification requests from automation
workflows, records every decision, and serves an operator dashboard for
suspending and reactivating licenses.

Run 'licensegate serve' to start the HTTP server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newLicensesCmd(),
		newEventsCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "licensegate %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, config.LoadServerConfig())
		},
	}
}

// systemDataPath is the path whose volume /health/system reports. Remote
// stores fall back to the working directory.
func systemDataPath(cfg config.ServerConfig) string {
	if cfg.StoreDriver == config.StoreSQLite {
		return cfg.DatabasePath
	}
	return "."
}

func runServer(ctx context.Context, cfg config.ServerConfig) error {
	logger := newLogger(cfg)
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Str("store", string(cfg.StoreDriver)).
		Msg("Starting licensegate server")

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("Invalid configuration")
		return err
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	store, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open license store")
		return err
	}
	defer closeStore()

	if cfg.SeedDefault {
		if err := license.EnsureDefault(ctx, store, logger); err != nil {
			logger.Error().Err(err).Msg("Failed to provision default license")
			return err
		}
	}

	if cfg.SeedFile != "" {
		seed, err := license.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			logger.Error().Err(err).Str("path", cfg.SeedFile).Msg("Failed to load license seed file")
			return err
		}
		res, err := license.ImportSeed(ctx, store, seed, logger)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to import license seed file")
			return err
		}
		logger.Info().Int("created", res.Created).Int("skipped", res.Skipped).Msg("License seed file imported")
	}

	redisClient, err := openRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to redis")
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promMetrics, err := metrics.NewPrometheusMetrics(reg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to register metrics")
		return err
	}

	verifier := license.NewService(license.ServiceConfig{
		Licenses: store,
		Events:   store,
		Recorder: promMetrics,
		Logger:   logger,
	})

	dashboard := admin.NewDashboard(admin.DashboardConfig{
		Store:       store,
		Recorder:    promMetrics,
		EventWindow: cfg.EventWindow,
		Logger:      logger,
	})

	refresher := admin.NewRefresher(dashboard, cfg.RefreshInterval, logger)
	if err := refresher.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start dashboard refresher")
	}
	defer refresher.Stop()

	routerCfg := api.DefaultConfig()
	routerCfg.AllowedOrigins = cfg.CORSOrigins
	routerCfg.StrictCORS = cfg.IsProduction()
	routerCfg.RateLimitRequests = cfg.RateLimitRequests
	routerCfg.RateLimitPeriod = cfg.RateLimitPeriod
	routerCfg.RefreshInterval = cfg.RefreshInterval
	routerCfg.Version = Version
	routerCfg.Commit = Commit
	routerCfg.BuildDate = BuildDate
	routerCfg.StoreDriver = store.Driver()

	router, err := api.NewRouter(routerCfg, api.Deps{
		Verifier: verifier,
		Store:    store,
		Operator: dashboard,
		Health:   store,
		System:   health.NewCollector(systemDataPath(cfg)),
		Gatherer: reg,
		Redis:    redisClient,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize router")
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	logger.Info().Msg("Server stopped gracefully")
	return nil
}
