// Package config loads process configuration from an optional .env file, an
// optional YAML file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FeedMock selects the in-process synthetic tick generator.
const FeedMock = "mock"

// Config holds all application configuration.
type Config struct {
	// Instrument
	Symbol            string  `yaml:"symbol"`
	FeedURL           string  `yaml:"feed_url"` // "mock" or ws(s)://
	IntervalMs        int64   `yaml:"interval_ms"`
	MomentumThreshold float64 `yaml:"momentum_threshold"`
	MaxCandles        int     `yaml:"max_candles"`

	// Process
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
	GatewayAddr string `yaml:"gateway_addr"`

	// Sinks; empty address/path disables the sink
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	SQLitePath       string `yaml:"sqlite_path"`
	WebhookURL       string `yaml:"webhook_url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Symbol:            "OTC-EURUSD",
		FeedURL:           FeedMock,
		IntervalMs:        5000,
		MomentumThreshold: 0.5,
		LogLevel:          "info",
		MetricsAddr:       ":9090",
		GatewayAddr:       ":8080",
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE
// (if set), then environment variables, and validates the result.
func Load() (*Config, error) {
	_ = godotenv.Load() // best-effort

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Symbol = getEnv("SYMBOL", c.Symbol)
	c.FeedURL = getEnv("FEED_URL", c.FeedURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.WebhookURL = getEnv("WEBHOOK_URL", c.WebhookURL)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)

	var err error
	if c.IntervalMs, err = getEnvInt64("INTERVAL_MS", c.IntervalMs); err != nil {
		return err
	}
	if c.MomentumThreshold, err = getEnvFloat("MOMENTUM_THRESHOLD", c.MomentumThreshold); err != nil {
		return err
	}
	maxCandles, err := getEnvInt64("MAX_CANDLES", int64(c.MaxCandles))
	if err != nil {
		return err
	}
	c.MaxCandles = int(maxCandles)
	return nil
}

// Validate checks values the pipeline cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Symbol == "" {
		errs = append(errs, errors.New("symbol is required"))
	}
	if c.IntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("interval_ms must be > 0, got %d", c.IntervalMs))
	}
	if math.IsNaN(c.MomentumThreshold) || math.IsInf(c.MomentumThreshold, 0) || c.MomentumThreshold <= 0 {
		errs = append(errs, fmt.Errorf("momentum_threshold must be a finite number > 0, got %v", c.MomentumThreshold))
	}
	if c.MaxCandles < 0 {
		errs = append(errs, fmt.Errorf("max_candles must be >= 0, got %d", c.MaxCandles))
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("telegram_bot_token and telegram_chat_id must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// MockFeed reports whether the synthetic generator should be used.
func (c *Config) MockFeed() bool {
	return c.FeedURL == "" || c.FeedURL == FeedMock
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}
