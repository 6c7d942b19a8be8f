package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/signalgate/internal/infrastructure/db"
	atomicio "github.com/sawpanic/signalgate/internal/io"
	"github.com/sawpanic/signalgate/internal/kernel"
	applog "github.com/sawpanic/signalgate/internal/log"
	"github.com/sawpanic/signalgate/internal/quota"
	"github.com/sawpanic/signalgate/internal/routing"
	"github.com/sawpanic/signalgate/internal/signals"
)

// AppConfig is the complete service configuration
type AppConfig struct {
	Server      ServerConfig   `yaml:"server"`
	Database    db.Config      `yaml:"database"`
	Kernel      kernel.Config  `yaml:"kernel"`
	Signals     signals.Config `yaml:"signals"`
	Training    TrainingConfig `yaml:"training"`
	Ingest      IngestConfig   `yaml:"ingest"`
	Routing     routing.Config `yaml:"routing"`
	Log         applog.Config  `yaml:"log"`
	DefaultTier string         `yaml:"default_tier"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TrainingConfig controls the JSON-lines mirror sink
type TrainingConfig struct {
	MirrorEnabled bool   `yaml:"mirror_enabled"`
	MirrorDir     string `yaml:"mirror_dir"`
}

// IngestConfig holds the shared-secret pair and per-source throttling
type IngestConfig struct {
	APIKey         string  `yaml:"api_key"`
	APISecret      string  `yaml:"api_secret"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// DefaultAppConfig returns a configuration that runs locally without postgres or kafka
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: db.DefaultConfig(),
		Kernel:   kernel.DefaultConfig(),
		Signals:  signals.DefaultConfig(),
		Training: TrainingConfig{
			MirrorEnabled: true,
			MirrorDir:     "data/training",
		},
		Ingest: IngestConfig{
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Routing:     routing.DefaultConfig(),
		Log:         applog.DefaultConfig(),
		DefaultTier: string(quota.TierFree),
	}
}

// LoadAppConfig starts from defaults, overlays the YAML file if it exists,
// then applies environment overrides
func LoadAppConfig(configPath string) (*AppConfig, error) {
	config := DefaultAppConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}

			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// SaveAppConfig writes the configuration as YAML, replacing the file atomically
func SaveAppConfig(config *AppConfig, configPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := atomicio.WriteFileAtomic(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}

	return nil
}

func applyEnvOverrides(c *AppConfig) {
	// database
	envString("PG_DSN", &c.Database.DSN)
	envBool("PG_ENABLED", &c.Database.Enabled)
	envBool("PG_AUTO_MIGRATE", &c.Database.AutoMigrate)
	envInt("PG_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	envInt("PG_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	envDuration("PG_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetime)
	envDuration("PG_CONN_MAX_IDLE_TIME", &c.Database.ConnMaxIdleTime)
	envDuration("PG_QUERY_TIMEOUT", &c.Database.QueryTimeout)
	envDuration("PG_CONNECT_TIMEOUT", &c.Database.ConnectTimeout)

	// transparency channel
	envString("REDIS_ADDR", &c.Kernel.Redis.Addr)
	envString("REDIS_PASSWORD", &c.Kernel.Redis.Password)
	envInt("REDIS_DB", &c.Kernel.Redis.DB)
	envString("REDIS_KEY_PREFIX", &c.Kernel.Redis.KeyPrefix)

	// kernel
	envString("KERNEL_BASE_URL", &c.Kernel.BaseURL)
	envDuration("KERNEL_POLL_INTERVAL", &c.Kernel.PollInterval)
	envDuration("KERNEL_READ_TIMEOUT", &c.Kernel.ReadTimeout)

	// service
	envString("SIGNALGATE_HOST", &c.Server.Host)
	envInt("SIGNALGATE_PORT", &c.Server.Port)
	envString("SIGNALGATE_SIGNAL_KEY", &c.Ingest.APIKey)
	envString("SIGNALGATE_SIGNAL_SECRET", &c.Ingest.APISecret)
	envFloat("SIGNALGATE_INGEST_RPS", &c.Ingest.RateLimitRPS)
	envInt("SIGNALGATE_INGEST_BURST", &c.Ingest.RateLimitBurst)
	envBool("SIGNALGATE_MIRROR_ENABLED", &c.Training.MirrorEnabled)
	envString("SIGNALGATE_MIRROR_DIR", &c.Training.MirrorDir)
	envString("SIGNALGATE_KAFKA_TOPIC", &c.Routing.Topic)
	if brokers := os.Getenv("SIGNALGATE_KAFKA_BROKERS"); brokers != "" {
		c.Routing.Brokers = splitList(brokers)
	}
	envString("SIGNALGATE_LOG_LEVEL", &c.Log.Level)
	envString("SIGNALGATE_LOG_FORMAT", &c.Log.Format)
	envString("SIGNALGATE_LOG_FILE", &c.Log.File)
	envString("SIGNALGATE_DEFAULT_TIER", &c.DefaultTier)
}

// Validate checks cross-field constraints
func (c *AppConfig) Validate() error {
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required when database is enabled")
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max_idle_conns cannot exceed max_open_conns")
	}
	if c.Database.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	if err := c.Kernel.Validate(); err != nil {
		return err
	}

	if (c.Ingest.APIKey == "") != (c.Ingest.APISecret == "") {
		return fmt.Errorf("ingest api_key and api_secret must be set together")
	}
	if c.Ingest.RateLimitRPS < 0 || c.Ingest.RateLimitBurst < 0 {
		return fmt.Errorf("ingest rate limits cannot be negative")
	}

	if c.Training.MirrorEnabled && c.Training.MirrorDir == "" {
		return fmt.Errorf("training mirror_dir is required when the mirror is enabled")
	}

	if len(c.Routing.Brokers) > 0 && c.Routing.Topic == "" {
		return fmt.Errorf("routing topic is required when kafka brokers are set")
	}

	if _, ok := quota.ParseTier(c.DefaultTier); !ok {
		return fmt.Errorf("unknown default_tier %q", c.DefaultTier)
	}

	return nil
}

// Addr returns host:port for the HTTP listener
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseBool(v); err == nil {
			*dst = val
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			*dst = val
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = val
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if val, err := time.ParseDuration(v); err == nil {
			*dst = val
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
