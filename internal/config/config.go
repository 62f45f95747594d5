package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the server configuration. Values come from an optional YAML
// file and are then overridden by environment variables.
type Config struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	Chat   Chat   `yaml:"chat"`
}

// Chat configures the chat gateway and its provider.
type Chat struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// MaxDuration is the wall-clock ceiling of one chat request.
	MaxDuration time.Duration `yaml:"max_duration"`
	// RatePerMinute and Burst drive the per-client limiter. Zero disables it.
	RatePerMinute float64 `yaml:"rate_per_minute"`
	Burst         int     `yaml:"burst"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:   ":8100",
		DBPath: "forumtech.db",
		Chat: Chat{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			MaxDuration:   30 * time.Second,
			RatePerMinute: 20,
			Burst:         5,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.Addr = envOrDefault("FORUMTECH_ADDR", cfg.Addr)
	cfg.DBPath = envOrDefault("FORUMTECH_DB_PATH", cfg.DBPath)
	cfg.Chat.APIKey = envOrDefault("OPENAI_API_KEY", cfg.Chat.APIKey)
	cfg.Chat.BaseURL = envOrDefault("OPENAI_BASE_URL", cfg.Chat.BaseURL)
	cfg.Chat.Model = envOrDefault("OPENAI_MODEL", cfg.Chat.Model)
	cfg.Chat.MaxDuration = envDurationOrDefault("FORUMTECH_CHAT_MAX_DURATION", cfg.Chat.MaxDuration)
	cfg.Chat.RatePerMinute = envFloatOrDefault("FORUMTECH_CHAT_RATE", cfg.Chat.RatePerMinute)
	cfg.Chat.Burst = envIntOrDefault("FORUMTECH_CHAT_BURST", cfg.Chat.Burst)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with. A missing API key is
// not an error here: chat requests report it as a configuration error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("addr must not be empty")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.Chat.Model == "" {
		return fmt.Errorf("chat.model must not be empty")
	}
	if c.Chat.MaxDuration <= 0 {
		return fmt.Errorf("chat.max_duration must be positive, got %s", c.Chat.MaxDuration)
	}
	if c.Chat.RatePerMinute < 0 {
		return fmt.Errorf("chat.rate_per_minute must not be negative")
	}
	if c.Chat.RatePerMinute > 0 && c.Chat.Burst < 1 {
		return fmt.Errorf("chat.burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDurationOrDefault(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
