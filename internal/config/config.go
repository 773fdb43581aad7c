package config

import (
	"log"
	"strings"

	"github.com/GoLogware/loggate/internal/model"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Rules     []RuleFile      `mapstructure:"rules"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type AuthConfig struct {
	RequireAPIKey bool   `mapstructure:"require_api_key"`
	APIKey        string `mapstructure:"api_key"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr           string `mapstructure:"addr"`
	Password       string `mapstructure:"password"`
	DB             int    `mapstructure:"db"`
	ArchiveListKey string `mapstructure:"archive_list_key"`
	ArchiveListMax int    `mapstructure:"archive_list_max"`
}

type AuditConfig struct {
	SecretKey        string                  `mapstructure:"secret_key"`
	MaxMemoryEntries int                     `mapstructure:"max_memory_entries"`
	AutoDomains      []string                `mapstructure:"auto_domains"`
	Retention        []model.RetentionPolicy `mapstructure:"retention"`
}

type EngineConfig struct {
	MaxWindowRecords int `mapstructure:"max_window_records"`
}

type OptimizerConfig struct {
	MaxBatchSize          int     `mapstructure:"max_batch_size"`
	BatchTimeoutMs        int     `mapstructure:"batch_timeout_ms"`
	FlushIntervalMs       int     `mapstructure:"flush_interval_ms"`
	CacheTTLMs            int     `mapstructure:"cache_ttl_ms"`
	CacheMaxEntries       int     `mapstructure:"cache_max_entries"`
	ParallelChunks        int     `mapstructure:"parallel_chunks"`
	HighPriorityThreshold int     `mapstructure:"high_priority_threshold"`
	MemoryCheckIntervalMs int     `mapstructure:"memory_check_interval_ms"`
	MemoryLimitMB         int     `mapstructure:"memory_limit_mb"`
	MemoryPressureRatio   float64 `mapstructure:"memory_pressure_ratio"`
	MetricsIntervalMs     int     `mapstructure:"metrics_interval_ms"`
}

type IngestConfig struct {
	RateQPS   float64 `mapstructure:"rate_qps"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type NotifyConfig struct {
	WebhookURL       string `mapstructure:"webhook_url"`
	WebhookTimeoutMs int    `mapstructure:"webhook_timeout_ms"`
}

// RuleFile is the declarative config-file rendering of an alert rule.
// Conditions come in as loose maps so the same schema works for yaml
// and for the POST /v1/rules JSON body.
type RuleFile struct {
	ID               string                   `mapstructure:"id"`
	Name             string                   `mapstructure:"name"`
	Severity         string                   `mapstructure:"severity"`
	Conditions       []map[string]interface{} `mapstructure:"conditions"`
	Filters          map[string]interface{}   `mapstructure:"filters"`
	Actions          []string                 `mapstructure:"actions"`
	Enabled          bool                     `mapstructure:"enabled"`
	CooldownMs       int64                    `mapstructure:"cooldown_ms"`
	MaxAlertsPerHour int                      `mapstructure:"max_alerts_per_hour"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. LOGGATE_AUDIT_SECRET_KEY
	viper.SetEnvPrefix("loggate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("auth.require_api_key", false)
	viper.SetDefault("redis.archive_list_key", "audit_archive")
	viper.SetDefault("redis.archive_list_max", 10000)
	viper.SetDefault("audit.secret_key", "loggate-dev-secret")
	viper.SetDefault("audit.max_memory_entries", 10000)
	viper.SetDefault("engine.max_window_records", 10000)
	viper.SetDefault("optimizer.max_batch_size", 500)
	viper.SetDefault("optimizer.batch_timeout_ms", 30000)
	viper.SetDefault("optimizer.flush_interval_ms", 1000)
	viper.SetDefault("optimizer.cache_ttl_ms", 60000)
	viper.SetDefault("optimizer.cache_max_entries", 1000)
	viper.SetDefault("optimizer.parallel_chunks", 4)
	viper.SetDefault("optimizer.high_priority_threshold", 50)
	viper.SetDefault("optimizer.memory_check_interval_ms", 30000)
	viper.SetDefault("optimizer.memory_limit_mb", 512)
	viper.SetDefault("optimizer.memory_pressure_ratio", 0.8)
	viper.SetDefault("optimizer.metrics_interval_ms", 10000)
	viper.SetDefault("ingest.rate_qps", 200)
	viper.SetDefault("ingest.rate_burst", 400)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("notify.webhook_timeout_ms", 5000)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
