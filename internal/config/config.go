package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Redis      RedisConfig      `json:"redis" yaml:"redis"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Notify     NotifyConfig     `json:"notify" yaml:"notify"`
}

type ServerConfig struct {
	BindAddr  string `json:"bindAddr" yaml:"bindAddr"`
	AuthToken string `json:"authToken" yaml:"authToken"`
}

type DatabaseConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"dbname" yaml:"dbname"`
	SSLMode  string `json:"sslmode" yaml:"sslmode"`
}

// DSN renders the libpq-style connection string consumed by the pgx driver.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// MonitoringConfig carries the scheduler cadences and retention horizons.
// Durations are strings like "30s" so they round-trip through JSON/YAML/env.
type MonitoringConfig struct {
	CheckInterval       string `json:"checkInterval" yaml:"checkInterval"`
	SnapshotInterval    string `json:"snapshotInterval" yaml:"snapshotInterval"`
	BroadcastInterval   string `json:"broadcastInterval" yaml:"broadcastInterval"`
	RetentionInterval   string `json:"retentionInterval" yaml:"retentionInterval"`
	MetricRetentionDays int    `json:"metricRetentionDays" yaml:"metricRetentionDays"`
	AlertRetentionDays  int    `json:"alertRetentionDays" yaml:"alertRetentionDays"`
	AgentURL            string `json:"agentUrl" yaml:"agentUrl"`
	AgentTimeout        string `json:"agentTimeout" yaml:"agentTimeout"`
}

type NotifyConfig struct {
	// shoutrrr service URL templates; %s is replaced with the subscriber's
	// destination (address, webhook token, chat id).
	EmailURLTemplate   string `json:"emailUrlTemplate" yaml:"emailUrlTemplate"`
	ChatURLTemplate    string `json:"chatUrlTemplate" yaml:"chatUrlTemplate"`
	BotChatURLTemplate string `json:"botChatUrlTemplate" yaml:"botChatUrlTemplate"`
	WebhookTimeout     string `json:"webhookTimeout" yaml:"webhookTimeout"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()
	return LoadFrom(*configFile)
}

// LoadFrom builds the config from env defaults, then overlays the given
// file if non-empty. Separated from Load so tests can bypass flag parsing.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BindAddr:  getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
			AuthToken: getEnv("SERVER_AUTH_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "watchtower"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Monitoring: MonitoringConfig{
			CheckInterval:       getEnv("MONITOR_CHECK_INTERVAL", "30s"),
			SnapshotInterval:    getEnv("MONITOR_SNAPSHOT_INTERVAL", "5m"),
			BroadcastInterval:   getEnv("MONITOR_BROADCAST_INTERVAL", "10s"),
			RetentionInterval:   getEnv("MONITOR_RETENTION_INTERVAL", "24h"),
			MetricRetentionDays: getEnvInt("MONITOR_METRIC_RETENTION_DAYS", 30),
			AlertRetentionDays:  getEnvInt("MONITOR_ALERT_RETENTION_DAYS", 7),
			AgentURL:            getEnv("AGENT_RUNTIME_URL", "http://localhost:8090"),
			AgentTimeout:        getEnv("AGENT_RUNTIME_TIMEOUT", "30s"),
		},
		Notify: NotifyConfig{
			EmailURLTemplate:   getEnv("NOTIFY_EMAIL_URL_TEMPLATE", ""),
			ChatURLTemplate:    getEnv("NOTIFY_CHAT_URL_TEMPLATE", ""),
			BotChatURLTemplate: getEnv("NOTIFY_BOTCHAT_URL_TEMPLATE", ""),
			WebhookTimeout:     getEnv("NOTIFY_WEBHOOK_TIMEOUT", "10s"),
		},
	}

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Monitoring.CheckInterval == "" {
		cfg.Monitoring.CheckInterval = "30s"
	}
	if cfg.Monitoring.SnapshotInterval == "" {
		cfg.Monitoring.SnapshotInterval = "5m"
	}
	if cfg.Monitoring.BroadcastInterval == "" {
		cfg.Monitoring.BroadcastInterval = "10s"
	}
	if cfg.Monitoring.RetentionInterval == "" {
		cfg.Monitoring.RetentionInterval = "24h"
	}
	if cfg.Monitoring.MetricRetentionDays == 0 {
		cfg.Monitoring.MetricRetentionDays = 30
	}
	if cfg.Monitoring.AlertRetentionDays == 0 {
		cfg.Monitoring.AlertRetentionDays = 7
	}
	if cfg.Monitoring.AgentTimeout == "" {
		cfg.Monitoring.AgentTimeout = "30s"
	}
	if cfg.Notify.WebhookTimeout == "" {
		cfg.Notify.WebhookTimeout = "10s"
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	switch filepath.Ext(filePath) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
		}
	}
	return nil
}

// ParseDuration parses s, falling back to d when s is empty or malformed.
func ParseDuration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
