package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/sitewatch-dev/sitewatch-backend-go/internal/alerting"
	"github.com/sitewatch-dev/sitewatch-backend-go/internal/database"
)

type Config struct {
	Server   ServerConfig    `mapstructure:"server"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	Database database.Config `mapstructure:"database"`
	Alerting AlertingConfig  `mapstructure:"alerting"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Mode string `mapstructure:"mode"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AlertingConfig is the alerting engine section. Durations are strings
// parsed with time.ParseDuration; bad values fall back to defaults.
type AlertingConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	EvaluationInterval string `mapstructure:"evaluation_interval"`
	EscalationInterval string `mapstructure:"escalation_interval"`
	Retention          string `mapstructure:"retention"`
	MaxAlerts          int    `mapstructure:"max_alerts"`
	DedupEnabled       bool   `mapstructure:"dedup_enabled"`
	WebhookTimeout     string `mapstructure:"webhook_timeout"`
}

// EngineConfig converts the section into the engine's typed configuration
func (a AlertingConfig) EngineConfig() *alerting.Config {
	cfg := alerting.DefaultConfig()
	cfg.Enabled = a.Enabled
	cfg.DedupEnabled = a.DedupEnabled
	if a.MaxAlerts > 0 {
		cfg.MaxAlerts = a.MaxAlerts
	}
	if d, err := time.ParseDuration(a.EvaluationInterval); err == nil && d > 0 {
		cfg.EvaluationInterval = d
	}
	if d, err := time.ParseDuration(a.EscalationInterval); err == nil && d > 0 {
		cfg.EscalationInterval = d
	}
	if d, err := time.ParseDuration(a.Retention); err == nil && d > 0 {
		cfg.Retention = d
	}
	if d, err := time.ParseDuration(a.WebhookTimeout); err == nil && d > 0 {
		cfg.WebhookTimeout = d
	}
	return cfg
}

// Load reads configuration from configs/config.yaml and the environment
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("logging.level", "LOG_LEVEL")
	viper.BindEnv("alerting.enabled", "ALERTING_ENABLED")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine, defaults and env cover everything.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 3301)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("database.path", "./data/sitewatch.db")
	viper.SetDefault("database.max_connections", 10)

	viper.SetDefault("alerting.enabled", true)
	viper.SetDefault("alerting.evaluation_interval", "60s")
	viper.SetDefault("alerting.escalation_interval", "60s")
	viper.SetDefault("alerting.retention", "24h")
	viper.SetDefault("alerting.max_alerts", 1000)
	viper.SetDefault("alerting.dedup_enabled", true)
	viper.SetDefault("alerting.webhook_timeout", "30s")
}
