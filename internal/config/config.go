package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// StoreConfig is shared by every process that talks to the database.
type StoreConfig struct {
	DatabaseURL    string        `env:"DATABASE_URL,required"`
	LockTimeout    time.Duration `env:"SHIPSBOT_LOCK_TIMEOUT" envDefault:"10s"`
	MaxRaceRetries int           `env:"SHIPSBOT_MAX_RACE_RETRIES" envDefault:"5"`
	AutoMigrate    bool          `env:"SHIPSBOT_AUTO_MIGRATE" envDefault:"true"`
	MaxConns       int32         `env:"SHIPSBOT_DB_MAX_CONNS" envDefault:"20"`
}

type BotConfig struct {
	Store        StoreConfig
	DiscordToken string        `env:"DISCORD_TOKEN,required"`
	ContentPath  string        `env:"SHIPSBOT_CONTENT_PATH"`
	LogLevel     slog.Level    `env:"SHIPSBOT_LOG_LEVEL" envDefault:"INFO"`
	SyncEvery    time.Duration `env:"SHIPSBOT_SYNC_EVERY" envDefault:"30s"`
	MetricsAddr  string        `env:"SHIPSBOT_METRICS_ADDR"`

	// Per-player command limiter.
	CommandRate  float64 `env:"SHIPSBOT_COMMAND_RATE" envDefault:"1"`
	CommandBurst int     `env:"SHIPSBOT_COMMAND_BURST" envDefault:"5"`

	// Outbound message limiter shared by all notifications.
	SendRate  float64 `env:"SHIPSBOT_SEND_RATE" envDefault:"5"`
	SendBurst int     `env:"SHIPSBOT_SEND_BURST" envDefault:"10"`
}

type APIConfig struct {
	Store       StoreConfig
	Addr        string     `env:"SHIPSBOT_API_ADDR" envDefault:":8080"`
	AdminToken  string     `env:"SHIPSBOT_ADMIN_TOKEN,required"`
	ContentPath string     `env:"SHIPSBOT_CONTENT_PATH"`
	LogLevel    slog.Level `env:"SHIPSBOT_LOG_LEVEL" envDefault:"INFO"`
}

type CLIConfig struct {
	APIBaseURL string `env:"SHIPSCTL_API_BASE_URL" envDefault:"http://localhost:8080"`
}

func LoadBotFromEnv() (BotConfig, error) {
	var cfg BotConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Store.validate(); err != nil {
		return cfg, err
	}
	if cfg.SyncEvery <= 0 {
		return cfg, fmt.Errorf("SHIPSBOT_SYNC_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	// PORT wins when the platform injects one.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.AdminToken = strings.TrimSpace(cfg.AdminToken)
	if cfg.AdminToken == "" {
		return cfg, fmt.Errorf("SHIPSBOT_ADMIN_TOKEN is required")
	}
	return cfg, cfg.Store.validate()
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

func (c StoreConfig) validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("SHIPSBOT_LOCK_TIMEOUT must be > 0")
	}
	if c.MaxRaceRetries < 1 {
		return fmt.Errorf("SHIPSBOT_MAX_RACE_RETRIES must be >= 1")
	}
	return nil
}
