package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/elonfeng/storyradar/pkg/engagement"
	"github.com/elonfeng/storyradar/pkg/match"
	"github.com/elonfeng/storyradar/pkg/trigger"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Cache    CacheConfig    `yaml:"cache"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Matching MatchingConfig `yaml:"matching"`
	Triggers trigger.Policy `yaml:"triggers"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the background loops.
type ScheduleConfig struct {
	ArticleInterval  string `yaml:"article_interval"`
	TriggerInterval  string `yaml:"trigger_interval"`
	BaselineInterval string `yaml:"baseline_interval"`
	Workers          int    `yaml:"workers"`
	BatchSize        int    `yaml:"batch_size"`
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ParseArticleInterval returns the pending-article poll interval.
func (s ScheduleConfig) ParseArticleInterval() time.Duration {
	return parseDuration(s.ArticleInterval, 5*time.Minute)
}

// ParseTriggerInterval returns the due-trigger poll interval.
func (s ScheduleConfig) ParseTriggerInterval() time.Duration {
	return parseDuration(s.TriggerInterval, 15*time.Minute)
}

// ParseBaselineInterval returns the baseline recalculation interval.
func (s ScheduleConfig) ParseBaselineInterval() time.Duration {
	return parseDuration(s.BaselineInterval, 6*time.Hour)
}

// OracleConfig configures the LLM analysis oracle.
type OracleConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Provider          string  `yaml:"provider"` // "openai" or "anthropic"
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"` // custom endpoint (optional)
	Timeout           string  `yaml:"timeout"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

// ParseTimeout returns the per-call oracle timeout.
func (o OracleConfig) ParseTimeout() time.Duration {
	return parseDuration(o.Timeout, 30*time.Second)
}

// CacheConfig configures the baseline cache.
type CacheConfig struct {
	Backend            string `yaml:"backend"` // "memory" or "redis"
	RedisURL           string `yaml:"redis_url"`
	TTL                string `yaml:"ttl"`
	Window             string `yaml:"window"`
	MinCategorySamples int    `yaml:"min_category_samples"`
}

// ParseTTL returns the baseline time-to-live.
func (c CacheConfig) ParseTTL() time.Duration {
	return parseDuration(c.TTL, 6*time.Hour)
}

// ParseWindow returns the trailing sample window.
func (c CacheConfig) ParseWindow() time.Duration {
	return parseDuration(c.Window, 90*24*time.Hour)
}

// ProviderOptions converts the cache section for the baseline provider.
func (c CacheConfig) ProviderOptions(defaults engagement.Baseline) engagement.ProviderOptions {
	return engagement.ProviderOptions{
		TTL:                c.ParseTTL(),
		Window:             c.ParseWindow(),
		MinCategorySamples: c.MinCategorySamples,
		Defaults:           &defaults,
	}
}

// ScoringConfig overrides the default scoring policy. Zero values keep
// the defaults.
type ScoringConfig struct {
	Weights                 *engagement.Weights        `yaml:"weights"`
	Recency                 *engagement.Recency        `yaml:"recency"`
	Dwell                   *engagement.MetricBaseline `yaml:"dwell"`
	NeutralScore            float64                    `yaml:"neutral_score"`
	Defaults                *BaselineDefaults          `yaml:"defaults"`
	CategoryPriority        map[string]float64         `yaml:"category_priority"`
	DefaultCategoryPriority float64                    `yaml:"default_category_priority"`
	HighEngagementThreshold float64                    `yaml:"high_engagement_threshold"`
}

// BaselineDefaults are the statistics used when none can be computed.
type BaselineDefaults struct {
	Views    engagement.MetricBaseline `yaml:"views"`
	Comments engagement.MetricBaseline `yaml:"comments"`
	Shares   engagement.MetricBaseline `yaml:"shares"`
}

// MatchingConfig overrides the thread matching policy.
type MatchingConfig struct {
	Weights  *match.Weights `yaml:"weights"`
	MinScore float64        `yaml:"min_score"`
}

// AlertsConfig configures follow-up alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./storyradar.db"},
		Schedule: ScheduleConfig{
			ArticleInterval:  "5m",
			TriggerInterval:  "15m",
			BaselineInterval: "6h",
			Workers:          4,
			BatchSize:        50,
		},
		Oracle: OracleConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  "30s",
		},
		Cache: CacheConfig{
			Backend:            "memory",
			TTL:                "6h",
			Window:             "2160h",
			MinCategorySamples: 10,
		},
		Triggers: trigger.DefaultPolicy(),
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// ScoringPolicy builds the engagement policy from the defaults and the
// configured overrides.
func (c *Config) ScoringPolicy() engagement.Policy {
	p := engagement.DefaultPolicy()
	s := c.Scoring
	if s.Weights != nil {
		p.Weights = *s.Weights
		p.Version = "custom"
	}
	if s.Recency != nil {
		p.Recency = *s.Recency
		p.Version = "custom"
	}
	if s.Dwell != nil {
		p.Dwell = *s.Dwell
	}
	if s.NeutralScore > 0 {
		p.NeutralScore = s.NeutralScore
	}
	if s.Defaults != nil {
		p.Defaults.Views = s.Defaults.Views
		p.Defaults.Comments = s.Defaults.Comments
		p.Defaults.Shares = s.Defaults.Shares
	}
	for k, v := range s.CategoryPriority {
		p.CategoryPriority[k] = v
	}
	if s.DefaultCategoryPriority > 0 {
		p.DefaultCategoryPriority = s.DefaultCategoryPriority
	}
	if s.HighEngagementThreshold > 0 {
		p.HighEngagementThreshold = s.HighEngagementThreshold
	}
	return p
}

// MatchPolicy builds the matching policy.
func (c *Config) MatchPolicy() match.Policy {
	p := match.DefaultPolicy()
	if c.Matching.Weights != nil {
		p.Weights = *c.Matching.Weights
	}
	if c.Matching.MinScore > 0 {
		p.MinScore = c.Matching.MinScore
	}
	return p
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if err := c.ScoringPolicy().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	switch c.Cache.Backend {
	case "", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache: redis backend needs redis_url")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}
	return nil
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STORYRADAR_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STORYRADAR_REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		cfg.Cache.Backend = "redis"
	}
	if v := os.Getenv("STORYRADAR_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
		cfg.Oracle.Enabled = true
		cfg.Oracle.Provider = "openai"
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
		cfg.Oracle.Enabled = true
		cfg.Oracle.Provider = "anthropic"
		if cfg.Oracle.Model == "gpt-4o-mini" {
			cfg.Oracle.Model = ""
		}
	}
}
