package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
	"github.com/tendant/simple-knowledge/pkg/knowledge/api"
	"github.com/tendant/simple-knowledge/pkg/knowledge/config"
)

func main() {
	configFile := flag.String("config", "", "optional YAML or .env config file")
	showEnv := flag.Bool("env-help", false, "print the supported environment variables and exit")
	flag.Parse()

	if *showEnv {
		fmt.Println(config.Usage())
		return
	}

	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()

	opts := []config.Option{}
	if *configFile != "" {
		opts = append(opts, config.WithFile(*configFile))
	} else {
		opts = append(opts, config.WithEnv())
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped", "err", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if environment == "development" {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.ServerConfig, logger *slog.Logger) error {
	ctx := context.Background()

	var reg prometheus.Registerer
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		reg, gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
	}

	svc, cleanup, err := cfg.BuildService(ctx, logger, reg)
	if err != nil {
		return fmt.Errorf("failed to build service: %w", err)
	}
	defer cleanup()

	if cfg.ReconcileOnStart {
		reconcile(ctx, svc, logger)
	}

	guard, err := api.NewModeratorGuard(api.GuardConfig{
		APIKeySHA256: cfg.ModeratorAPIKeySHA256,
		JWTSecret:    cfg.ModeratorJWTSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize moderator guard: %w", err)
	}
	if guard == nil {
		logger.Warn("Review routes are not protected; set KNOWLEDGE_MODERATOR_API_KEY_SHA256 or KNOWLEDGE_MODERATOR_JWT_SECRET")
	}

	handlerOpts := []api.Option{
		api.WithLogger(logger),
		api.WithMaxUploadBytes(cfg.MaxUploadBytes),
	}
	if guard != nil {
		handlerOpts = append(handlerOpts, api.WithGuard(guard))
	}
	if gatherer != nil {
		handlerOpts = append(handlerOpts, api.WithMetrics(reg, gatherer))
	}
	handler := api.NewHandler(svc, handlerOpts...)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	server.R.Mount("/", handler.Routes())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           server.R,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Knowledge server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.StorageType,
			"moderated", cfg.Moderated())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exiting")
	return nil
}

// reconcile repairs archives left behind by an interrupted approval or upload.
func reconcile(ctx context.Context, svc knowledge.Service, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		logger.Error("Startup reconcile failed", "err", err)
		return
	}
	logger.Info("Startup reconcile finished",
		"checked", report.Checked,
		"promoted", len(report.Promoted),
		"unstaged", len(report.Unstaged),
		"missing", len(report.Missing),
		"orphaned", len(report.Orphaned))
}
