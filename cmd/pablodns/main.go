package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pablodns/pkg/api"
	"pablodns/pkg/config"
	"pablodns/pkg/dns"
	"pablodns/pkg/forwarder"
	"pablodns/pkg/logging"
	"pablodns/pkg/rules"
	"pablodns/pkg/stats"
	"pablodns/pkg/storage"
	"pablodns/pkg/telemetry"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("PabloDNS starting",
		"version", version,
		"build_time", buildTime,
	)

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}

	// Rule store: load the persisted document, then write through on every
	// admin edit.
	store := rules.NewStore(cfg.Rules.MaintenanceNotice)
	snapshot, maintenance, err := rules.LoadFile(cfg.Rules.FilePath)
	if err != nil {
		logger.Error("Failed to load rules file", "path", cfg.Rules.FilePath, "error", err)
		os.Exit(1)
	}
	// The gauge follows every published snapshot, including watcher reloads
	// that bypass the write-through callback.
	var lastCount int64
	store.OnPublish(func(snap *rules.Snapshot) {
		metrics.RuleCount.Add(context.Background(), int64(snap.Len())-lastCount)
		lastCount = int64(snap.Len())
	})

	store.Publish(snapshot)
	store.SetMaintenance(maintenance)

	logger.Info("Rules loaded",
		"path", cfg.Rules.FilePath,
		"rules", snapshot.Len(),
		"maintenance", maintenance,
	)

	store.OnChange(func(snap *rules.Snapshot, maint bool) {
		if err := rules.SaveFile(cfg.Rules.FilePath, snap, maint); err != nil {
			logger.Error("Failed to persist rules file",
				"path", cfg.Rules.FilePath,
				"error", err,
			)
		}
	})

	// Query log storage.
	var stor storage.Storage
	if cfg.Storage.Enabled {
		storCfg := storage.DefaultConfig()
		storCfg.Path = cfg.Storage.DatabasePath
		storCfg.BufferSize = cfg.Storage.BufferSize
		storCfg.RetentionDays = cfg.Storage.RetentionDays

		stor, err = storage.NewSQLiteStorage(&storCfg, metrics)
		if err != nil {
			logger.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		defer func() { _ = stor.Close() }()

		logger.Info("Query log storage enabled", "path", cfg.Storage.DatabasePath)

		go runRetentionLoop(ctx, stor, cfg.Storage.RetentionDays, logger)
	}

	recorder := stats.NewRecorder()

	handler := dns.NewHandler(store)
	handler.SetStats(recorder)
	handler.SetMetrics(metrics)
	handler.SetLogger(logger)
	handler.SetForwarder(forwarder.New(cfg, logger))

	var queryLogger *dns.QueryLogger
	if stor != nil {
		queryLogger = dns.NewQueryLogger(stor, logger, cfg.Storage.BufferSize, cfg.Storage.Workers)
		defer func() { _ = queryLogger.Close() }()
		handler.SetQueryLogger(queryLogger)
	}

	server := dns.NewServer(cfg, handler, logger, metrics)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 2)
	go func() {
		if err := server.Start(serverCtx); err != nil {
			errChan <- err
		}
	}()

	// Admin API.
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(&api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Store:         store,
			Stats:         recorder,
			Storage:       stor,
			Logger:        logger.Logger,
			Version:       version,
			APIKey:        cfg.API.APIKey,
			BasicUser:     cfg.API.BasicUser,
			PasswordHash:  cfg.API.PasswordHash,
		})
		go func() {
			if err := apiServer.Start(serverCtx); err != nil {
				errChan <- err
			}
		}()
	}

	// Reload the rules document when it changes on disk.
	var watcher *rules.Watcher
	if cfg.Rules.WatchFile {
		watcher, err = rules.NewWatcher(cfg.Rules.FilePath, store, logger.Logger)
		if err != nil {
			logger.Error("Failed to start rules watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Start(serverCtx); err != nil {
				errChan <- err
			}
		}()
		defer func() { _ = watcher.Close() }()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("PabloDNS is running",
		"address", cfg.Server.ListenAddress,
		"upstreams", cfg.UpstreamDNSServers,
		"api", cfg.API.Enabled,
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
		}

		if apiServer != nil {
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("Error during API shutdown", "error", err)
			}
		}

		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during telemetry shutdown", "error", err)
		}

		logger.Info("PabloDNS stopped")

	case err := <-errChan:
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// runRetentionLoop prunes query log entries older than the retention window
// once a day.
func runRetentionLoop(ctx context.Context, stor storage.Storage, retentionDays int, logger *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := stor.Cleanup(cleanupCtx, cutoff); err != nil {
				logger.Error("Query log cleanup failed", "error", err)
			}
			cancel()
		}
	}
}
