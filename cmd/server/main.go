// Command server runs MemoryHub as a standalone HTTP service.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	memoryhub "github.com/blueberrycongee/memoryhub"
	"github.com/blueberrycongee/memoryhub/internal/config"
	"github.com/blueberrycongee/memoryhub/internal/embedding"
	"github.com/blueberrycongee/memoryhub/internal/monitor"
	"github.com/blueberrycongee/memoryhub/internal/observability"
	"github.com/blueberrycongee/memoryhub/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.DefaultConfig()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format == "json",
	})
	slogger := logger.Slog()

	// Hot reload: most settings need a restart; log so operators notice.
	if configPath != "" {
		mgr, err := config.NewManager(configPath, slogger)
		if err != nil {
			slogger.Warn("config watch unavailable", "error", err)
		} else {
			mgr.OnChange(func(next *config.Config) {
				slogger.Info("configuration file changed; restart to apply")
			})
			watchCtx, watchCancel := context.WithCancel(context.Background())
			defer watchCancel()
			if err := mgr.Watch(watchCtx); err != nil {
				slogger.Warn("config watch failed", "error", err)
			}
			defer func() { _ = mgr.Close() }()
		}
	}

	hub, err := buildHub(cfg, slogger)
	if err != nil {
		return fmt.Errorf("build hub: %w", err)
	}
	defer func() {
		if err := hub.Close(); err != nil {
			slogger.Error("hub shutdown error", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/", hub.Handler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.RequestIDMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slogger.Info("memoryhub listening", "addr", server.Addr, "version", memoryhub.Version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case sig := <-stop:
		slogger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildHub translates the file config into hub options.
func buildHub(cfg *config.Config, logger *slog.Logger) (*memoryhub.Hub, error) {
	opts := []memoryhub.Option{
		memoryhub.WithLogger(logger),
		memoryhub.WithRedis(storage.RedisConfig{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			ClusterAddrs:   cfg.Redis.ClusterAddrs,
			SentinelAddrs:  cfg.Redis.SentinelAddrs,
			SentinelMaster: cfg.Redis.SentinelMaster,
			DialTimeout:    cfg.Redis.DialTimeout,
			ReadTimeout:    cfg.Redis.ReadTimeout,
			WriteTimeout:   cfg.Redis.WriteTimeout,
			PoolSize:       cfg.Redis.PoolSize,
			MinIdleConns:   cfg.Redis.MinIdleConns,
			MaxRetries:     cfg.Redis.MaxRetries,
		}),
		memoryhub.WithIndexPersistence(cfg.Embedding.IndexPath, cfg.Embedding.MetadataPath),
		memoryhub.WithSimilarityThreshold(cfg.Embedding.SimilarityThreshold),
		memoryhub.WithRebuildRatio(cfg.Embedding.RebuildRatio),
		memoryhub.WithRequireAuth(cfg.Auth.RequireAuth),
		memoryhub.WithTokenExpiry(cfg.Auth.TokenExpiry),
		memoryhub.WithTrustedIdentities(cfg.Auth.TrustedIdentities...),
		memoryhub.WithScoreCacheTTL(cfg.Auth.ScoreCacheTTL),
		memoryhub.WithMonitorConfig(monitor.Config{
			QueueSize:         cfg.Monitor.QueueSize,
			SessionSweep:      cfg.Monitor.SessionSweep,
			InactiveAfter:     cfg.Monitor.InactiveAfter,
			CleanupInterval:   cfg.Monitor.CleanupInterval,
			EventRetention:    cfg.Monitor.EventRetention,
			RebuildInterval:   cfg.Monitor.RebuildInterval,
			AnalysisInterval:  cfg.Monitor.AnalysisInterval,
			HealthInterval:    cfg.Monitor.HealthInterval,
			HealthSnapshotTTL: cfg.Monitor.HealthSnapshotTTL,
		}),
	}

	if cfg.Auth.TokenSecret != "" {
		opts = append(opts, memoryhub.WithTokenSecret(cfg.Auth.TokenSecret))
	}

	// An empty Postgres host selects the in-memory durable store.
	if cfg.Postgres.Host != "" {
		opts = append(opts, memoryhub.WithPostgres(storage.PostgresConfig{
			Host:         cfg.Postgres.Host,
			Port:         cfg.Postgres.Port,
			User:         cfg.Postgres.User,
			Password:     cfg.Postgres.Password,
			Database:     cfg.Postgres.Database,
			SSLMode:      cfg.Postgres.SSLMode,
			MaxOpenConns: cfg.Postgres.MaxOpenConns,
			MaxIdleConns: cfg.Postgres.MaxIdleConns,
			ConnLifetime: cfg.Postgres.ConnLifetime,
		}))
	}

	switch cfg.Encoder.Type {
	case "http":
		opts = append(opts, memoryhub.WithHTTPEncoder(embedding.HTTPEncoderConfig{
			BaseURL:    cfg.Encoder.BaseURL,
			APIKey:     cfg.Encoder.APIKey,
			Model:      cfg.Encoder.Model,
			Dimensions: cfg.Encoder.Dimensions,
			Timeout:    cfg.Encoder.Timeout,
		}))
	default:
		opts = append(opts, memoryhub.WithHashEncoder(cfg.Encoder.Dimensions))
	}

	return memoryhub.New(opts...)
}
