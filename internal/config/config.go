package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. SSLMON_MAIL_PASSWORD
const EnvPrefix = "SSLMON"

// DefaultCron fires a sweep every day at 06:00
const DefaultCron = "0 6 * * *"

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Mail     MailConfig     `yaml:"mail"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug/release
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite
	Path string `yaml:"path"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text/json
}

// MonitorConfig represents sweep configuration
type MonitorConfig struct {
	DefaultCron        string        `yaml:"default_cron" envconfig:"default_cron"`
	Timezone           string        `yaml:"timezone"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" envconfig:"probe_timeout"`
	ProbeConcurrency   int           `yaml:"probe_concurrency" envconfig:"probe_concurrency"`
	MailConcurrency    int           `yaml:"mail_concurrency" envconfig:"mail_concurrency"`
	FailedLogRetention int           `yaml:"failed_log_retention" envconfig:"failed_log_retention"`
	SweepTimeout       time.Duration `yaml:"sweep_timeout" envconfig:"sweep_timeout"`
}

// MailConfig represents SMTP configuration
type MailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	SMTPHost    string `yaml:"smtp_host" envconfig:"smtp_host"`
	SMTPPort    int    `yaml:"smtp_port" envconfig:"smtp_port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	From        string `yaml:"from"`
	FromName    string `yaml:"from_name" envconfig:"from_name"`
	ImplicitTLS bool   `yaml:"implicit_tls" envconfig:"implicit_tls"` // SMTPS (465) instead of STARTTLS

	SendTimeout time.Duration `yaml:"send_timeout" envconfig:"send_timeout"` // whole SMTP exchange, dial included
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "5000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "ssl-certificate.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Monitor: MonitorConfig{
			DefaultCron:        DefaultCron,
			Timezone:           "Local",
			ProbeTimeout:       10 * time.Second,
			ProbeConcurrency:   15,
			MailConcurrency:    15,
			FailedLogRetention: 10,
			SweepTimeout:       30 * time.Minute,
		},
		Mail: MailConfig{
			SMTPPort: 587,
			FromName: "SSL Monitor",
		},
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults, then applies
// .env and SSLMON_* environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// .env does not override variables already set in the environment
	_ = godotenv.Load()

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a sweep
func (c *Config) Validate() error {
	if c.Monitor.ProbeConcurrency <= 0 {
		return fmt.Errorf("monitor.probe_concurrency must be positive, got %d", c.Monitor.ProbeConcurrency)
	}
	if c.Monitor.MailConcurrency <= 0 {
		return fmt.Errorf("monitor.mail_concurrency must be positive, got %d", c.Monitor.MailConcurrency)
	}
	if c.Monitor.ProbeTimeout <= 0 {
		return fmt.Errorf("monitor.probe_timeout must be positive, got %s", c.Monitor.ProbeTimeout)
	}
	if c.Monitor.FailedLogRetention < 0 {
		return fmt.Errorf("monitor.failed_log_retention must not be negative, got %d", c.Monitor.FailedLogRetention)
	}
	if n := len(strings.Fields(c.Monitor.DefaultCron)); n != 5 {
		return fmt.Errorf("monitor.default_cron %q: expected 5 fields, got %d", c.Monitor.DefaultCron, n)
	}
	if _, err := cron.ParseStandard(c.Monitor.DefaultCron); err != nil {
		return fmt.Errorf("monitor.default_cron %q: %w", c.Monitor.DefaultCron, err)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Mail.Enabled && (c.Mail.SMTPHost == "" || c.Mail.From == "") {
		return errors.New("mail.smtp_host and mail.from are required when mail is enabled")
	}
	if c.Mail.Enabled && c.Mail.SendTimeout <= 0 {
		return fmt.Errorf("mail.send_timeout must be positive, got %s", c.Mail.SendTimeout)
	}
	return nil
}

// Location resolves monitor.timezone for the scheduler
func (c *Config) Location() (*time.Location, error) {
	if c.Monitor.Timezone == "" || c.Monitor.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Monitor.Timezone)
	if err != nil {
		return nil, fmt.Errorf("monitor.timezone %q: %w", c.Monitor.Timezone, err)
	}
	return loc, nil
}
