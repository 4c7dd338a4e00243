package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML file over Defaults, loads .env if present,
// then applies POSMON_* environment overrides. An empty or missing path
// skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.LogLevel = getEnv("POSMON_LOG_LEVEL", cfg.Service.LogLevel)

	cfg.Feed.URLTemplate = getEnv("POSMON_FEED_URL_TEMPLATE", cfg.Feed.URLTemplate)
	cfg.Feed.ReconnectDelay = getDuration("POSMON_FEED_RECONNECT_DELAY", cfg.Feed.ReconnectDelay)

	cfg.Monitor.SuppressWindow = getDuration("POSMON_SUPPRESS_WINDOW", cfg.Monitor.SuppressWindow)

	cfg.History.Backend = getEnv("POSMON_HISTORY_BACKEND", cfg.History.Backend)
	cfg.History.Path = getEnv("POSMON_HISTORY_PATH", cfg.History.Path)
	cfg.History.SQLitePath = getEnv("POSMON_SQLITE_PATH", cfg.History.SQLitePath)
	cfg.History.Limit = getInt("POSMON_HISTORY_LIMIT", cfg.History.Limit)

	cfg.Redis.Enabled = getBool("POSMON_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("POSMON_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("POSMON_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getInt("POSMON_REDIS_DB", cfg.Redis.DB)

	cfg.API.Addr = getEnv("POSMON_API_ADDR", cfg.API.Addr)
	cfg.API.AdminOTPSecret = getEnv("POSMON_ADMIN_TOTP_SECRET", cfg.API.AdminOTPSecret)
	cfg.API.DefaultAmount = getFloat("POSMON_DEFAULT_AMOUNT", cfg.API.DefaultAmount)

	cfg.Metrics.Addr = getEnv("POSMON_METRICS_ADDR", cfg.Metrics.Addr)

	cfg.Telegram.Token = getEnv("POSMON_TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.ChatID = getEnv("POSMON_TELEGRAM_CHAT_ID", cfg.Telegram.ChatID)
	cfg.Webhook.URL = getEnv("POSMON_WEBHOOK_URL", cfg.Webhook.URL)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration{d}
		}
	}
	return fallback
}
