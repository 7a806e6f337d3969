package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"homebase42/internal/api"
	"homebase42/internal/clock"
	"homebase42/internal/config"
	"homebase42/internal/export"
	"homebase42/internal/ha"
	"homebase42/internal/shadowstate"
	"homebase42/internal/state"
	"homebase42/internal/store"
	pkgha "homebase42/pkg/ha"
	"homebase42/pkg/plugin"
	pkgstate "homebase42/pkg/state"

	// Plugins register themselves from init()
	_ "homebase42/internal/plugins/health"
)

// optionsReloadInterval is how often the options file is polled
const optionsReloadInterval = 30 * time.Second

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	env, err := config.LoadEnv(os.Getenv)
	if err != nil {
		logger.Fatal("Invalid environment", zap.Error(err))
	}

	logger.Info("Starting Homebase42",
		zap.String("url", env.HAURL),
		zap.Bool("read_only", env.ReadOnly),
		zap.Duration("scan_interval", env.ScanInterval))

	// Integration options
	options := config.NewLoader(env.ConfigDir, logger)
	if _, err := options.Load(); err != nil {
		logger.Fatal("Failed to load options", zap.String("path", options.Path()), zap.Error(err))
	}
	options.StartAutoReload(optionsReloadInterval)
	defer options.Stop()

	// Restore store
	db, err := store.Open(env.DBPath, logger)
	if err != nil {
		logger.Fatal("Failed to open restore store", zap.Error(err))
	}
	defer db.Close()

	// Create HA client
	client := ha.NewClient(env.HAURL, env.HAToken, logger)
	if env.HARESTURL != "" {
		client.SetRESTURL(env.HARESTURL)
	}

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	clk := clock.NewRealClock()
	stateManager := state.NewManager(client, db, clk, logger, env.ReadOnly)
	subscribeToChanges(stateManager, logger)

	// Plugins
	plugin.SetLogger(logger)
	shadow := shadowstate.NewTracker()
	pluginCtx := plugin.NewContext(
		pkgha.WrapClient(client),
		pkgstate.WrapManager(stateManager),
		logger,
		env.ReadOnly,
		options,
		clk,
		shadow,
		env.ScanInterval,
	)

	plugins, err := plugin.CreateAll(pluginCtx)
	if err != nil {
		logger.Fatal("Failed to create plugins", zap.Error(err))
	}
	if err := plugin.StartAll(plugins); err != nil {
		logger.Fatal("Failed to start plugins", zap.Error(err))
	}
	defer plugin.StopAll(plugins)

	names := make([]string, 0, len(plugins))
	for _, p := range plugins {
		names = append(names, p.Name())
	}
	logger.Info("Plugins started", zap.Strings("plugins", names))

	// HTTP API
	exporter := export.NewBuilder(client, clk, logger, env.ReadOnly)
	apiServer := api.NewServer(stateManager, shadow, exporter, client, logger, env.APIPort)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}
	defer func() {
		if err := apiServer.Stop(); err != nil {
			logger.Error("Failed to stop API server", zap.Error(err))
		}
	}()

	if env.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
}

// subscribeToChanges logs every transition of a published signal
func subscribeToChanges(manager *state.Manager, logger *zap.Logger) {
	for _, sig := range state.AllSignals {
		_, err := manager.Subscribe(sig.Key, func(key string, oldValue, newValue state.Value) {
			logger.Info("Signal changed",
				zap.String("key", key),
				zap.String("entity_id", newValue.EntityID),
				zap.String("old", oldValue.State),
				zap.String("new", newValue.State),
				zap.Int("count", newValue.Count))
		})
		if err != nil {
			logger.Error("Failed to subscribe", zap.String("key", sig.Key), zap.Error(err))
		}
	}
}
