// Package main implements the gpukitd entry point. gpukitd runs one engine
// instance and exposes its metrics, health and stats over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360/gpukit/config"
	"github.com/c360/gpukit/engine"
	"github.com/c360/gpukit/natsclient"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "gpukitd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting gpukitd",
		"version", Version,
		"backend", cfg.Backend,
		"pipeline", cfg.Vector.PipelineName)

	ctx := context.Background()
	opts := []engine.Option{
		engine.WithLogger(logger),
	}

	// Telemetry transport is optional; run local-only when absent.
	if len(cfg.NATS.URLs) > 0 {
		nc, err := connectNATS(ctx, cfg, logger)
		if err != nil {
			logger.Warn("NATS unavailable, telemetry stays local", "error", err)
		} else {
			defer nc.Close()
			opts = append(opts, engine.WithNATSConn(nc.Conn()))
		}
	}

	// Cold cache tier is optional too.
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = client.Close() }()
		opts = append(opts, engine.WithRedisClient(client))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := eng.Start(runCtx); err != nil {
		return err
	}

	var httpServer *http.Server
	if cliCfg.HTTPAddr != "" {
		httpServer = startHTTPServer(cliCfg.HTTPAddr, eng, logger)
	}

	// Block until SIGINT or SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutdown signal received", "signal", sig.String())

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cliCfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", "error", err)
		}
	}
	return eng.Stop(cliCfg.ShutdownTimeout)
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	ncCfg := natsclient.DefaultConfig(cfg.NATS.URLs...)
	ncCfg.Username = cfg.NATS.Username
	ncCfg.Password = cfg.NATS.Password
	ncCfg.Token = cfg.NATS.Token
	ncCfg.Name = appName

	client, err := natsclient.New(ncCfg, natsclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, err
	}
	return client, nil
}

func startHTTPServer(addr string, eng *engine.Engine, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", eng.Registry().Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := eng.Health()
		w.Header().Set("Content-Type", "application/json")
		if !status.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.Stats())
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
		}
	}()
	return server
}
