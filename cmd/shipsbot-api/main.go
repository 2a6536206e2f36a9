package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shipsbot/internal/api"
	"shipsbot/internal/commands"
	"shipsbot/internal/config"
	"shipsbot/internal/db"
	"shipsbot/internal/game"
	"shipsbot/internal/metrics"
	"shipsbot/internal/notify"
	"shipsbot/internal/store/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	content := config.Content{}
	if cfg.ContentPath != "" {
		content, err = config.LoadContent(cfg.ContentPath)
	} else {
		content, err = config.DefaultContent()
	}
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

	// The API only persists notifications; the bot delivers them.
	svc, err := game.NewService(store, content, logger,
		game.WithScheduler(notify.Deferred{}),
		game.WithMetrics(m),
		game.WithMaxRaceRetries(cfg.Store.MaxRaceRetries),
	)
	if err != nil {
		logger.Error("game init failed", "err", err)
		os.Exit(1)
	}
	dispatcher := commands.New(svc, logger, commands.WithMetrics(m))

	server := api.New(cfg, logger, svc, dispatcher, metrics.Handler(reg))
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("shipsbot api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
