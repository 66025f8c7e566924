package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/playlimit/internal/bridge"
	"github.com/goodtune/playlimit/internal/config"
	"github.com/goodtune/playlimit/internal/identity"
	"github.com/goodtune/playlimit/internal/metrics"
	"github.com/goodtune/playlimit/internal/playtime"
	"github.com/goodtune/playlimit/internal/storage"
	"github.com/goodtune/playlimit/internal/storage/bolt"
	"github.com/goodtune/playlimit/internal/storage/redis"
	"github.com/goodtune/playlimit/internal/storage/sqlite"
	"github.com/goodtune/playlimit/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start playlimit server",
	Long:  `Start the evaluation loop, the game host bridge and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting playlimit")

	loc, err := cfg.Limit.Location()
	if err != nil {
		return err
	}

	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// A ledger that cannot be opened or migrated is fatal
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	names, err := identity.NewResolver(cfg.Identity.CacheSize, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize identity resolver: %w", err)
	}

	host := bridge.NewHost(bridge.DefaultQueueSize, logger)

	policy := playtime.NewPolicy(
		cfg.Limit.DailyLimitMinutes,
		cfg.Limit.KickMessage,
		cfg.Limit.BroadcastTemplate,
		cfg.Limit.IgnoredUserIDs,
		loc,
	)

	engine := playtime.NewEngine(
		playtime.Config{
			ShutdownTimeout: parseDuration(cfg.Engine.ShutdownTimeout, playtime.DefaultShutdownTimeout),
			ActionBuffer:    cfg.Engine.ActionBuffer,
		},
		policy,
		store,
		host,
		host,
		names,
		quartz.NewReal(),
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	commands := playtime.NewCommands(engine.Aggregator(), engine.Tracker(), names)

	bridgeServer := bridge.NewServer(
		bridge.Config{
			ListenAddr: cfg.Bridge.ListenAddr,
			Token:      cfg.Bridge.Token,
		},
		host,
		engine,
		commands,
		names,
		logger,
	)
	if sdListeners.Bridge != nil {
		bridgeServer.SetListener(sdListeners.Bridge)
	}
	if err := bridgeServer.Start(); err != nil {
		return fmt.Errorf("failed to start bridge server: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.Metrics.ListenAddr, logger)
	if sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().
		Int64("daily_limit_minutes", cfg.Limit.DailyLimitMinutes).
		Str("timezone", loc.String()).
		Int("ignored_users", len(policy.IgnoredUserIDs)).
		Str("bridge", cfg.Bridge.ListenAddr).
		Str("metrics", cfg.Metrics.ListenAddr).
		Msg("playlimit startup complete")

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			logger.Warn().Msg("SIGHUP received, configuration reload is not supported; restart to apply changes")
			continue
		}
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// No new player events once the engine starts flushing
	if err := bridgeServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping bridge server")
	}

	if err := engine.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Engine shutdown incomplete")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("playlimit stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Ledger, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
