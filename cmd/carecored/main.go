// Command carecored runs the care-plan synchronization and notification
// service over HTTP.
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

	"carecore/internal/api"
	"carecore/internal/cache"
	"carecore/internal/config"
	"carecore/internal/core"
	"carecore/internal/notify"
	"carecore/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "carecored:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := core.NewDefaultRulesEngine()
	store, err := core.OpenPersistentStore(ctx, core.StorageConfig{
		Driver:        core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:    cfg.Storage.SQLitePath,
		PostgresDSN:   cfg.Storage.PostgresDSN,
		MongoURI:      cfg.Storage.MongoURI,
		MongoDatabase: cfg.Storage.MongoDatabase,
	}, engine)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer closeStore(store, logger)

	readCache, err := cache.NewMemory(cfg.Cache.Size)
	if err != nil {
		return fmt.Errorf("build cache: %w", err)
	}

	gateway := realtime.NewGateway(
		realtime.WithBufferSize(cfg.Realtime.BufferSize),
		realtime.WithLogger(logger),
	)
	dispatcher := notify.NewDispatcher(store, gateway, notify.WithLogger(logger))

	var metrics core.MetricsRecorder
	switch cfg.Metrics.Backend {
	case "expvar":
		metrics = core.NewExpvarMetricsRecorder("carecore_service_metrics")
	default:
		metrics = core.NewPrometheusMetricsRecorder(nil)
	}

	service := core.NewService(store,
		core.WithCache(readCache),
		core.WithDispatcher(dispatcher),
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithCacheTTL(cfg.Cache.TTL),
	)

	handler := api.NewHandler(service, api.WithGateway(gateway), api.WithLogger(logger))
	server := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout stays zero so SSE connections are not cut off.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func buildLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

func closeStore(store core.PersistentStore, logger *slog.Logger) {
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}
}
