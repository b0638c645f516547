// Package config provides process-level configuration for the timed
// message scheduler, loaded once at startup with spf13/viper. It is
// distinct from internal/runtimeconfig, which holds values an admin
// mutates at runtime via chat commands.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper" // v1.17.0
)

// Config is the full set of process-start settings for both cmd/server
// and cmd/worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Gateway  GatewayConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds the Redis connection used by the flow store and
// pending-auth store when they're configured to share state across
// processes.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// GatewayConfig holds the settings governing the WhatsApp-mediated
// scheduling domain itself.
type GatewayConfig struct {
	URL                string        `mapstructure:"url"`
	AssistantMode      bool          `mapstructure:"assistant_mode"`
	MaxScheduleHours   int           `mapstructure:"max_schedule_hours"`
	DefaultTimezone    string        `mapstructure:"default_timezone"`
	CommonConfigPath   string        `mapstructure:"common_config_path"`
	TimedMessagesPath  string        `mapstructure:"timed_messages_config_path"`
	SchedulingGroup    string        `mapstructure:"scheduling_group"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
}

// WorkerConfig holds the delivery worker's polling cadence and outbound
// rate limit.
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// LoadConfig loads and validates process configuration from environment
// variables (and an optional config file), binding the fixed WHATSAPP_*
// variable names directly and everything else under the MSG_SVC prefix.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("MSG_SVC")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/timed-messages/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	bindFixedEnv(v, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// bindFixedEnv reads the WHATSAPP_*/DEFAULT_TIMEZONE variable names
// directly (not MSG_SVC-prefixed), since they are a fixed external
// contract shared with the other gateway-attached services rather than
// free-form service configuration.
func bindFixedEnv(v *viper.Viper, cfg *Config) {
	raw := viper.New()
	raw.AutomaticEnv()

	if url := raw.GetString("WHATSAPP_GATEWAY_URL"); url != "" {
		cfg.Gateway.URL = url
	}
	if raw.IsSet("WHATSAPP_ASSISTANT_MODE") {
		cfg.Gateway.AssistantMode = raw.GetString("WHATSAPP_ASSISTANT_MODE") == "true"
	}
	if raw.IsSet("WHATSAPP_ASSISTANT_MAX_SCHEDULE_HOURS") {
		cfg.Gateway.MaxScheduleHours = raw.GetInt("WHATSAPP_ASSISTANT_MAX_SCHEDULE_HOURS")
	}
	if tz := raw.GetString("DEFAULT_TIMEZONE"); tz != "" {
		cfg.Gateway.DefaultTimezone = tz
	}
	if p := raw.GetString("WHATSAPP_COMMON_CONFIG_PATH"); p != "" {
		cfg.Gateway.CommonConfigPath = p
	}
	if p := raw.GetString("WHATSAPP_TIMED_MESSAGES_CONFIG_PATH"); p != "" {
		cfg.Gateway.TimedMessagesPath = p
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", "15m")

	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("gateway.url", "http://localhost:9090")
	v.SetDefault("gateway.assistant_mode", false)
	v.SetDefault("gateway.max_schedule_hours", 24)
	v.SetDefault("gateway.default_timezone", "UTC")
	v.SetDefault("gateway.common_config_path", "./data/common_config.json")
	v.SetDefault("gateway.timed_messages_config_path", "./data/timed_messages_config.json")
	v.SetDefault("gateway.request_timeout", "5s")

	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.lease_timeout", "300s")
	v.SetDefault("worker.rate_limit", 20)
	v.SetDefault("worker.rate_burst", 5)
}

func (cfg *Config) validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.Gateway.URL == "" {
		return fmt.Errorf("WHATSAPP_GATEWAY_URL is required")
	}
	if cfg.Gateway.DefaultTimezone == "" {
		return fmt.Errorf("DEFAULT_TIMEZONE is required")
	}
	if cfg.Gateway.MaxScheduleHours <= 0 {
		return fmt.Errorf("assistant max schedule hours must be positive")
	}
	if cfg.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker batch size must be positive")
	}
	return nil
}
