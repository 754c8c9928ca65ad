package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feedforge/pricefeed/pkg/config"
	"github.com/feedforge/pricefeed/pkg/engine"
	"github.com/feedforge/pricefeed/pkg/engine/store"
	"github.com/feedforge/pricefeed/pkg/logging"
	"github.com/feedforge/pricefeed/pkg/metrics"
	"github.com/feedforge/pricefeed/pkg/server/api"
	"github.com/feedforge/pricefeed/pkg/version"
)

var (
	configFile = flag.String("config", "config/config.yaml", "Path to configuration file")
	showVer    = flag.Bool("version", false, "Show version and exit")
)

func main() {
	flag.Parse()

	if *showVer {
		fmt.Printf("pricefeed version %s\n", version.Version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logging
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("Starting pricefeed", "version", version.Version, "owner", cfg.Engine.Owner)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		go func() {
			logger.Info("Starting metrics server", "addr", cfg.Metrics.Addr)
			if err := metrics.ServeHTTP(cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- run(ctx, cfg, logger)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}

	logger.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// Open the state store
	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	logger.Info("Opened state store", "backend", cfg.Storage.Backend, "path", cfg.Storage.Path)

	// The clock derives one height per block interval
	clock := engine.NewTickingClock(cfg.Clock.StartHeight, cfg.Clock.BlockInterval.ToDuration())

	// Create the engine, restoring persisted state
	eng, err := engine.New(engine.Config{
		Owner:              engine.Source(cfg.Engine.Owner),
		MinSources:         cfg.Engine.MinSources,
		StalenessThreshold: cfg.Engine.StalenessThreshold,
		Clock:              clock,
		Store:              st,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Start HTTP server
	server := api.NewServer(cfg.Server.HTTP.Addr, eng, logger)

	// Start WebSocket server if enabled
	var wsServer *api.WebSocketServer
	if cfg.Server.WebSocket.Enabled {
		wsServer = api.NewWebSocketServer(cfg.Server.WebSocket.Addr, eng, logger)
		go func() {
			if err := wsServer.Start(ctx); err != nil {
				logger.Error("WebSocket server error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		if wsServer != nil {
			wsServer.Stop()
		}
	}()

	return server.Start()
}
