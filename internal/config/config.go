// Package config loads the process configuration from a YAML file with
// environment-variable overrides, following the nested-section shape the
// rest of the ambient stack expects.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Storage       StorageConfig       `yaml:"storage"`
	Classification ClassificationConfig `yaml:"classification"`
	Validation    ValidationConfig    `yaml:"validation"`
	AIAssessment  AIAssessmentConfig  `yaml:"ai_assessment"`
	Notification  NotificationConfig `yaml:"notification"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	Environment string `yaml:"environment"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	MappingRuleTTL time.Duration `yaml:"mapping_rule_ttl"`
}

type StorageConfig struct {
	Backend        string `yaml:"backend"`
	LocalBasePath  string `yaml:"local_base_path"`
}

type ClassificationConfig struct {
	MinHighConfidence   float64 `yaml:"min_high_confidence"`
	MinMediumConfidence float64 `yaml:"min_medium_confidence"`
}

type ValidationConfig struct {
	AmountTolerance     string `yaml:"amount_tolerance"`
	IncrementTolerance  string `yaml:"increment_tolerance"`
}

type AIAssessmentConfig struct {
	Enabled       bool          `yaml:"enabled"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	BreakerTripAt uint32        `yaml:"breaker_trip_at"`
}

type NotificationConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
	Enabled         bool   `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration populated with sane local-development
// defaults, mirroring DefaultConfig() in the ambient-stack model this
// package is based on.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MetricsPort: 9090,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "ebilling",
			Database:        "claims_ebilling",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			DB:             0,
			MappingRuleTTL: 5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend:       "local",
			LocalBasePath: "./data/uploads",
		},
		Classification: ClassificationConfig{
			MinHighConfidence:   0.85,
			MinMediumConfidence: 0.65,
		},
		Validation: ValidationConfig{
			AmountTolerance:    "0.02",
			IncrementTolerance: "0.001",
		},
		AIAssessment: AIAssessmentConfig{
			Enabled:       false,
			Model:         "claude-haiku-4-5",
			Timeout:       10 * time.Second,
			BreakerTripAt: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (if it exists) over the defaults, then applies
// environment-variable overrides, matching the precedence order the rest
// of this codebase's ambient stack always uses: file overrides defaults,
// env overrides file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.Database.SSLMode = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.AIAssessment.APIKey = v
		c.AIAssessment.Enabled = true
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notification.SlackWebhookURL = v
		c.Notification.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// DSN builds a postgres connection string from the database section.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}
