// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Serp      SerpConfig      `mapstructure:"serp"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Volume    VolumeConfig    `mapstructure:"volume"`
	Gap       GapConfig       `mapstructure:"gap"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LimitsConfig governs per-tenant, per-region request budgets.
type LimitsConfig struct {
	RequestsPerHour int `mapstructure:"requests_per_hour"`
	Burst           int `mapstructure:"burst"`
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
}

// SerpConfig configures the SERP fetch client.
type SerpConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PageSize       int    `mapstructure:"page_size"`
	Platform       string `mapstructure:"platform"`
}

// SchedulerConfig governs job fan-out and retry behavior.
type SchedulerConfig struct {
	Workers                       int `mapstructure:"workers"`
	QueueDepth                    int `mapstructure:"queue_depth"`
	MaxRetries                    int `mapstructure:"max_retries"`
	BackoffInitialMs              int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs                  int `mapstructure:"backoff_max_ms"`
	JobTimeoutPerCandidateSeconds int `mapstructure:"job_timeout_per_candidate_seconds"`
	MaxTrackedPosition            int `mapstructure:"max_tracked_position"`
}

// VolumeConfig controls estimate refresh cadence.
type VolumeConfig struct {
	StalenessDays        int   `mapstructure:"staleness_days"`
	AuthorityRatingCount int64 `mapstructure:"authority_rating_count"`
}

// GapConfig controls gap report comparison tolerances.
type GapConfig struct {
	DateToleranceDays int `mapstructure:"date_tolerance_days"`
}

// ClusterConfig sets clustering thresholds.
type ClusterConfig struct {
	MinClusterSize      int     `mapstructure:"min_cluster_size"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ArchiveConfig sets the raw SERP payload archive destination.
type ArchiveConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for completion event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KWENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("limits.requests_per_hour", 600)
	v.SetDefault("limits.burst", 10)
	v.SetDefault("limits.cooldown_seconds", 300)
	v.SetDefault("serp.base_url", "https://itunes.apple.com/search")
	v.SetDefault("serp.user_agent", "aso-insight-bot/0.1")
	v.SetDefault("serp.timeout_seconds", 10)
	v.SetDefault("serp.page_size", 50)
	v.SetDefault("serp.platform", "ios")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.backoff_initial_ms", 250)
	v.SetDefault("scheduler.backoff_max_ms", 5000)
	v.SetDefault("scheduler.job_timeout_per_candidate_seconds", 30)
	v.SetDefault("scheduler.max_tracked_position", 100)
	v.SetDefault("volume.staleness_days", 7)
	v.SetDefault("volume.authority_rating_count", 10000)
	v.SetDefault("gap.date_tolerance_days", 2)
	v.SetDefault("cluster.min_cluster_size", 2)
	v.SetDefault("cluster.similarity_threshold", 0.3)
	v.SetDefault("archive.prefix", "serp")
	v.SetDefault("archive.content_type", "application/json")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Limits.RequestsPerHour <= 0 {
		return fmt.Errorf("limits.requests_per_hour must be > 0")
	}
	if c.Serp.TimeoutSeconds <= 0 {
		return fmt.Errorf("serp.timeout_seconds must be > 0")
	}
	if c.Serp.PageSize <= 0 {
		return fmt.Errorf("serp.page_size must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.MaxTrackedPosition <= 0 {
		return fmt.Errorf("scheduler.max_tracked_position must be > 0")
	}
	if c.Cluster.SimilarityThreshold <= 0 || c.Cluster.SimilarityThreshold > 1 {
		return fmt.Errorf("cluster.similarity_threshold must be in (0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FetchTimeout converts the SERP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Serp.TimeoutSeconds) * time.Second
}

// Cooldown converts the region cooldown into a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.Limits.CooldownSeconds) * time.Second
}

// JobTimeout scales the per-job budget by candidate count.
func (c Config) JobTimeout(candidates int) time.Duration {
	if candidates <= 0 {
		candidates = 1
	}
	return time.Duration(candidates*c.Scheduler.JobTimeoutPerCandidateSeconds) * time.Second
}

// VolumeStaleness is the maximum estimate age before recomputation.
func (c Config) VolumeStaleness() time.Duration {
	return time.Duration(c.Volume.StalenessDays) * 24 * time.Hour
}
