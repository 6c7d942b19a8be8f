package kernel

import (
	"fmt"
	"time"
)

// Config holds kernel endpoints and timing
type Config struct {
	BaseURL string `yaml:"base_url"`

	PollInterval    time.Duration `yaml:"poll_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	PanicTimeout    time.Duration `yaml:"panic_timeout"`
	TelegramTimeout time.Duration `yaml:"telegram_timeout"`
	CommandTimeout  time.Duration `yaml:"command_timeout"`

	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after"`
	OverrideTTL         time.Duration `yaml:"override_ttl"`

	MaxConcurrency int    `yaml:"max_concurrency"`
	Source         string `yaml:"source"`

	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig points at the transparency channel
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		BaseURL:             "http://localhost:8000",
		PollInterval:        2 * time.Second,
		ReadTimeout:         1500 * time.Millisecond,
		PanicTimeout:        3 * time.Second,
		TelegramTimeout:     2 * time.Second,
		CommandTimeout:      3 * time.Second,
		HeartbeatStaleAfter: 5 * time.Second,
		OverrideTTL:         30 * time.Second,
		MaxConcurrency:      16,
		Source:              "signalgate-saas",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
	}
}

// Validate checks that timings are usable
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("kernel base_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("kernel poll_interval must be positive")
	}
	if c.ReadTimeout <= 0 || c.ReadTimeout >= c.PollInterval {
		return fmt.Errorf("kernel read_timeout must be positive and shorter than poll_interval")
	}
	if c.PanicTimeout <= 0 || c.TelegramTimeout <= 0 || c.CommandTimeout <= 0 {
		return fmt.Errorf("kernel command timeouts must be positive")
	}
	if c.HeartbeatStaleAfter <= 0 {
		return fmt.Errorf("kernel heartbeat_stale_after must be positive")
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.PanicTimeout <= 0 {
		c.PanicTimeout = def.PanicTimeout
	}
	if c.TelegramTimeout <= 0 {
		c.TelegramTimeout = def.TelegramTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.HeartbeatStaleAfter <= 0 {
		c.HeartbeatStaleAfter = def.HeartbeatStaleAfter
	}
	if c.OverrideTTL <= 0 {
		c.OverrideTTL = def.OverrideTTL
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.Source == "" {
		c.Source = def.Source
	}
	return c
}
