// Package config loads the server and CLI configuration from the environment
// and an optional .env file using Viper.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`

	// DatabaseDriver is sqlite3 or pgx.
	DatabaseDriver  string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL     string `mapstructure:"DATABASE_URL"`
	StoreWriteQueue int    `mapstructure:"STORE_WRITE_QUEUE"`
	StoreBatchSize  int    `mapstructure:"STORE_BATCH_SIZE"`
	QueryPageSize   int    `mapstructure:"QUERY_PAGE_SIZE"`
	QueryMaxLimit   int    `mapstructure:"QUERY_MAX_LIMIT"`

	SubscriberQueueSize   int `mapstructure:"SUBSCRIBER_QUEUE_SIZE"`
	SubscriberPendingSize int `mapstructure:"SUBSCRIBER_PENDING_SIZE"`
	// SubscriberSaturationTimeout is how long a queue may stay full before
	// its viewer is disconnected (e.g. "5s").
	SubscriberSaturationTimeout string `mapstructure:"SUBSCRIBER_SATURATION_TIMEOUT"`
	// RelayDisconnectTimeout ends a session whose relay has been gone this long.
	RelayDisconnectTimeout string `mapstructure:"RELAY_DISCONNECT_TIMEOUT"`
	DefaultLookbackMs      int64  `mapstructure:"DEFAULT_LOOKBACK_MS"`

	ResourcesDir string `mapstructure:"RESOURCES_DIR"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`

	// Export sinks are optional; an empty address disables the sink.
	KafkaBrokers    string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic      string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	RedisPassword   string `mapstructure:"REDIS_PASSWORD"`
	RedisDB         int    `mapstructure:"REDIS_DB"`
	ExportQueueSize int    `mapstructure:"EXPORT_QUEUE_SIZE"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	TelegramToken   string `mapstructure:"TELEGRAM_TOKEN"`
	TelegramChatIDs string `mapstructure:"TELEGRAM_CHAT_IDS"`
}

// Load reads .env (if present), then the environment. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // missing .env is fine

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "./telemetry.db")
	v.SetDefault("STORE_WRITE_QUEUE", 1024)
	v.SetDefault("STORE_BATCH_SIZE", 256)
	v.SetDefault("QUERY_PAGE_SIZE", 500)
	v.SetDefault("QUERY_MAX_LIMIT", 5000)
	v.SetDefault("SUBSCRIBER_QUEUE_SIZE", 256)
	v.SetDefault("SUBSCRIBER_PENDING_SIZE", 8192)
	v.SetDefault("SUBSCRIBER_SATURATION_TIMEOUT", "5s")
	v.SetDefault("RELAY_DISCONNECT_TIMEOUT", "30s")
	v.SetDefault("DEFAULT_LOOKBACK_MS", 0)
	v.SetDefault("RESOURCES_DIR", "./resources")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 3)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "race-telemetry")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EXPORT_QUEUE_SIZE", 4096)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("TELEGRAM_TOKEN", "")
	v.SetDefault("TELEGRAM_CHAT_IDS", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decoding")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	switch c.DatabaseDriver {
	case "sqlite3", "pgx":
	default:
		return errors.Errorf("config: DATABASE_DRIVER must be sqlite3 or pgx, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver == "pgx" && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set for pgx")
	}
	if c.SubscriberQueueSize < 1 {
		return errors.New("config: SUBSCRIBER_QUEUE_SIZE must be positive")
	}
	if c.SubscriberPendingSize < c.SubscriberQueueSize {
		return errors.New("config: SUBSCRIBER_PENDING_SIZE must not be smaller than SUBSCRIBER_QUEUE_SIZE")
	}
	if c.QueryMaxLimit < c.QueryPageSize {
		return errors.New("config: QUERY_MAX_LIMIT must not be smaller than QUERY_PAGE_SIZE")
	}
	if c.DefaultLookbackMs < 0 {
		return errors.New("config: DEFAULT_LOOKBACK_MS must not be negative")
	}
	if c.TelegramToken != "" && len(c.TelegramChatIDList()) == 0 {
		return errors.New("config: TELEGRAM_CHAT_IDS must list at least one chat when TELEGRAM_TOKEN is set")
	}
	return nil
}

// SaturationTimeout returns 5s if unset or invalid.
func (c *Config) SaturationTimeout() time.Duration {
	return durationOr(c.SubscriberSaturationTimeout, 5*time.Second)
}

// RelayTimeout returns 30s if unset or invalid.
func (c *Config) RelayTimeout() time.Duration {
	return durationOr(c.RelayDisconnectTimeout, 30*time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// TelegramChatIDList skips entries that are not numeric chat ids.
func (c *Config) TelegramChatIDList() []int64 {
	var ids []int64
	for _, s := range splitList(c.TelegramChatIDs) {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
