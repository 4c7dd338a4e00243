// Package config holds the position monitor's runtime configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Service  ServiceConfig  `toml:"service"`
	Feed     FeedConfig     `toml:"feed"`
	Monitor  MonitorConfig  `toml:"monitor"`
	History  HistoryConfig  `toml:"history"`
	Redis    RedisConfig    `toml:"redis"`
	API      APIConfig      `toml:"api"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Telegram TelegramConfig `toml:"telegram"`
	Webhook  WebhookConfig  `toml:"webhook"`
}

type ServiceConfig struct {
	Name     string `toml:"name"`
	LogLevel string `toml:"log_level"`
}

type FeedConfig struct {
	// URLTemplate is formatted with the normalized pair key.
	URLTemplate      string   `toml:"url_template"`
	ReconnectDelay   Duration `toml:"reconnect_delay"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
}

type MonitorConfig struct {
	SuppressWindow Duration `toml:"suppress_window"`
	TickBuffer     int      `toml:"tick_buffer"`
}

type HistoryConfig struct {
	// Backend is "file", "sqlite" or "none".
	Backend    string `toml:"backend"`
	Path       string `toml:"path"`
	SQLitePath string `toml:"sqlite_path"`
	Limit      int    `toml:"limit"`
}

type RedisConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	Password        string   `toml:"password"`
	DB              int      `toml:"db"`
	Channel         string   `toml:"channel"`
	PriceTTL        Duration `toml:"price_ttl"`
	BreakerFailures int      `toml:"breaker_failures"`
	BreakerCooldown Duration `toml:"breaker_cooldown"`
}

type APIConfig struct {
	Addr           string  `toml:"addr"`
	AdminOTPSecret string  `toml:"admin_otp_secret"`
	DefaultAmount  float64 `toml:"default_amount"`
	ReplaySize     int     `toml:"replay_size"`
}

type MetricsConfig struct {
	Addr          string   `toml:"addr"`
	CheckInterval Duration `toml:"check_interval"`
}

type TelegramConfig struct {
	Token  string `toml:"token"`
	ChatID string `toml:"chat_id"`
}

type WebhookConfig struct {
	URL     string   `toml:"url"`
	Timeout Duration `toml:"timeout"`
}

// Duration is a time.Duration decoded from strings like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config that runs locally with no config file.
func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			Name:     "posmon",
			LogLevel: "info",
		},
		Feed: FeedConfig{
			URLTemplate:      "wss://stream.binance.com:9443/ws/%s@trade",
			ReconnectDelay:   Duration{5 * time.Second},
			HandshakeTimeout: Duration{10 * time.Second},
		},
		Monitor: MonitorConfig{
			SuppressWindow: Duration{5 * time.Minute},
			TickBuffer:     1024,
		},
		History: HistoryConfig{
			Backend:    "file",
			Path:       "data/closed_positions.json",
			SQLitePath: "data/posmon.db",
			Limit:      50,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			Channel:         "pub:positions",
			PriceTTL:        Duration{time.Minute},
			BreakerFailures: 5,
			BreakerCooldown: Duration{10 * time.Second},
		},
		API: APIConfig{
			Addr:          ":8080",
			DefaultAmount: 100,
			ReplaySize:    256,
		},
		Metrics: MetricsConfig{
			Addr:          ":9090",
			CheckInterval: Duration{10 * time.Second},
		},
		Webhook: WebhookConfig{
			Timeout: Duration{5 * time.Second},
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if !strings.Contains(c.Feed.URLTemplate, "%s") {
		errs = append(errs, errors.New("feed.url_template must contain %s"))
	}
	if c.Feed.ReconnectDelay.Duration <= 0 {
		errs = append(errs, errors.New("feed.reconnect_delay must be positive"))
	}
	if c.Monitor.SuppressWindow.Duration <= 0 {
		errs = append(errs, errors.New("monitor.suppress_window must be positive"))
	}

	switch c.History.Backend {
	case "file":
		if c.History.Path == "" {
			errs = append(errs, errors.New("history.path is required for the file backend"))
		}
	case "sqlite":
		if c.History.SQLitePath == "" {
			errs = append(errs, errors.New("history.sqlite_path is required for the sqlite backend"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("history.backend %q: want file, sqlite or none", c.History.Backend))
	}
	if c.History.Limit <= 0 {
		errs = append(errs, errors.New("history.limit must be positive"))
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.API.Addr == "" {
		errs = append(errs, errors.New("api.addr is required"))
	}
	if c.API.DefaultAmount <= 0 {
		errs = append(errs, errors.New("api.default_amount must be positive"))
	}
	if (c.Telegram.Token == "") != (c.Telegram.ChatID == "") {
		errs = append(errs, errors.New("telegram.token and telegram.chat_id must be set together"))
	}

	return errors.Join(errs...)
}
