package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipsbot/internal/commands"
	"shipsbot/internal/config"
	"shipsbot/internal/db"
	"shipsbot/internal/discord"
	"shipsbot/internal/game"
	"shipsbot/internal/metrics"
	"shipsbot/internal/notify"
	"shipsbot/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadBotFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	content, err := loadContent(cfg.ContentPath)
	if err != nil {
		logger.Error("load content failed", "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, db.PoolOptions{MaxConns: cfg.Store.MaxConns})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.Store.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	reg := metrics.NewRegistry()
	m := metrics.New(reg)
	store := postgres.NewStore(pool, cfg.Store.LockTimeout, logger, m)

	gateway, err := discord.New(cfg.DiscordToken, logger, discord.WithSendRate(cfg.SendRate, cfg.SendBurst))
	if err != nil {
		logger.Error("discord init failed", "err", err)
		os.Exit(1)
	}
	sched := notify.New(store, gateway, content, logger, notify.WithMetrics(m))
	svc, err := game.NewService(store, content, logger,
		game.WithScheduler(sched),
		game.WithMetrics(m),
		game.WithMaxRaceRetries(cfg.Store.MaxRaceRetries),
	)
	if err != nil {
		logger.Error("game init failed", "err", err)
		os.Exit(1)
	}
	dispatcher := commands.New(svc, logger,
		commands.WithRateLimit(cfg.CommandRate, cfg.CommandBurst),
		commands.WithMetrics(m),
	)

	shutdown, err := start(ctx, sched, gateway, dispatcher)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer shutdown()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
	}

	// Notifications written by the admin API are armed on the next sync.
	ticker := time.NewTicker(cfg.SyncEvery)
	defer ticker.Stop()

	logger.Info("shipsbot started", "prefix", dispatcher.Prefix(), "sync_every", cfg.SyncEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("shipsbot shutdown")
			return
		case <-ticker.C:
			if err := sched.Sync(ctx); err != nil {
				logger.Error("scheduler sync failed", "err", err)
			}
		}
	}
}

type scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

type chatGateway interface {
	Open(ctx context.Context, handler discord.Handler) error
	Close() error
}

// start brings the scheduler up before the gateway, so a command arriving
// right after connect arms its timer on a started scheduler. The returned
// func closes the gateway and then stops the scheduler.
func start(ctx context.Context, sched scheduler, gw chatGateway, handler discord.Handler) (func(), error) {
	if err := sched.Start(ctx); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}
	if err := gw.Open(ctx, handler); err != nil {
		sched.Stop()
		return nil, fmt.Errorf("open discord: %w", err)
	}
	return func() {
		_ = gw.Close()
		sched.Stop()
	}, nil
}

func loadContent(path string) (config.Content, error) {
	if path == "" {
		return config.DefaultContent()
	}
	return config.LoadContent(path)
}
