package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fx-signal-engine/config"
	"fx-signal-engine/internal/api"
	"fx-signal-engine/internal/engine"
	"fx-signal-engine/internal/events"
	"fx-signal-engine/internal/feed"
	"fx-signal-engine/internal/lifecycle"
	"fx-signal-engine/internal/logging"
	"fx-signal-engine/internal/market"
	"fx-signal-engine/internal/notification"
	"fx-signal-engine/internal/performance"
	"fx-signal-engine/internal/risk"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LoggingConfig.Level, cfg.LoggingConfig.Pretty)
	logger.Info().Strs("symbols", cfg.FeedConfig.Symbols).Msg("starting signal engine")

	ctx := context.Background()

	bus := events.NewEventBus()
	ring := events.NewRing(bus, 200)

	if cfg.NotificationConfig.Enabled {
		notifier := notification.NewManager(logger)
		if cfg.NotificationConfig.TelegramBotToken != "" && cfg.NotificationConfig.TelegramChatID != "" {
			notifier.Add(notification.NewTelegramNotifier(cfg.NotificationConfig.TelegramBotToken, cfg.NotificationConfig.TelegramChatID))
		}
		if cfg.NotificationConfig.DiscordWebhookURL != "" {
			notifier.Add(notification.NewDiscordNotifier(cfg.NotificationConfig.DiscordWebhookURL))
		}
		notifier.Attach(bus)
	}

	store, closeStore, err := buildPerformanceStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("performance store init failed")
	}
	defer closeStore()

	port := lifecycle.NewPaperPort(logger)

	engines := make([]*engine.Engine, 0, len(cfg.FeedConfig.Symbols))
	bySymbol := make(map[string]*engine.Engine, len(cfg.FeedConfig.Symbols))
	var snapshotStores []*lifecycle.SnapshotStore

	for _, symbol := range cfg.FeedConfig.Symbols {
		var snapshots *lifecycle.SnapshotStore
		if cfg.RedisConfig.Enabled {
			snapshots, err = lifecycle.NewSnapshotStore(redisURL(cfg), symbol, logger)
			if err != nil {
				logger.Fatal().Err(err).Str("symbol", symbol).Msg("snapshot store init failed")
			}
			snapshotStores = append(snapshotStores, snapshots)
		}

		eng, err := engine.New(engineConfig(cfg, symbol), engine.Deps{
			Port:      port,
			Store:     store,
			Snapshots: snapshots,
			Bus:       bus,
			Logger:    logger,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("symbol", symbol).Msg("engine init failed")
		}
		if err := eng.Restore(ctx); err != nil {
			logger.Error().Err(err).Str("symbol", symbol).Msg("trade restore failed, starting flat")
		}
		engines = append(engines, eng)
		bySymbol[symbol] = eng
	}

	stream, err := feed.NewStream(feed.Config{
		URL:            cfg.FeedConfig.URL,
		Symbols:        cfg.FeedConfig.Symbols,
		ReconnectDelay: cfg.FeedConfig.ReconnectDelay,
	}, func(symbol string, bar market.Bar) {
		eng, ok := bySymbol[symbol]
		if !ok {
			logger.Warn().Str("symbol", symbol).Msg("bar for unknown symbol dropped")
			return
		}
		eng.OnBar(ctx, bar)
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("feed init failed")
	}
	stream.Start()

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, engines, store, ring, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	stream.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}

	for _, s := range snapshotStores {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("snapshot store close failed")
		}
	}
	logger.Info().Msg("shutdown complete")
}

func engineConfig(cfg *config.Config, symbol string) engine.Config {
	return engine.Config{
		Symbol:             symbol,
		BufferCapacity:     cfg.EngineConfig.BufferCapacity,
		SwingLookback:      cfg.EngineConfig.SwingLookback,
		MinPatternStrength: cfg.EngineConfig.MinPatternStrength,
		BaseConfluence:     cfg.EngineConfig.BaseConfluence,
		ATRPeriod:          cfg.EngineConfig.ATRPeriod,
		StartingBalance:    cfg.EngineConfig.StartingBalance,
		Risk: risk.Config{
			RiskBase:        cfg.RiskConfig.BaseRiskPercent,
			RiskMid:         cfg.RiskConfig.StrongRiskPercent,
			RiskHigh:        cfg.RiskConfig.MaxRiskPercent,
			MaxPositionSize: cfg.RiskConfig.MaxPositionSize,
			MaxExposure:     cfg.RiskConfig.MaxExposure,
		},
		Lifecycle: lifecycle.Config{
			BreakevenR:      cfg.LifecycleConfig.BreakevenR,
			TrailStartR:     cfg.LifecycleConfig.TrailStartR,
			PyramidEnabled:  cfg.LifecycleConfig.PyramidEnabled,
			PyramidMaxLevel: cfg.LifecycleConfig.PyramidMaxLevel,
			ReentryMinDelay: cfg.LifecycleConfig.ReentryMinDelay,
			ReentryExpiry:   cfg.LifecycleConfig.ReentryExpiry,
		},
	}
}

func buildPerformanceStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (performance.Store, func(), error) {
	if !cfg.PostgresConfig.Enabled {
		logger.Info().Msg("using in-memory performance store")
		return performance.NewMemoryStore(), func() {}, nil
	}

	pg, err := performance.NewPostgresStore(ctx, cfg.PostgresConfig.DSN, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting performance store: %w", err)
	}
	logger.Info().Msg("postgres performance store connected")
	return pg, pg.Close, nil
}

func redisURL(cfg *config.Config) string {
	if cfg.RedisConfig.Password != "" {
		return fmt.Sprintf("redis://:%s@%s/%d", cfg.RedisConfig.Password, cfg.RedisConfig.Address, cfg.RedisConfig.DB)
	}
	return fmt.Sprintf("redis://%s/%d", cfg.RedisConfig.Address, cfg.RedisConfig.DB)
}
