// Package config loads the service configuration and the locations file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath    = "configs/config.yaml"
	DefaultLocationsPath = "configs/locations.yaml"
)

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		APIKeys        []string `yaml:"api_keys"`
		RateLimitRPS   float64  `yaml:"rate_limit_rps"`
		RateLimitBurst int      `yaml:"rate_limit_burst"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Locks struct {
		TimeoutMs int `yaml:"timeout_ms"`
		TTLMs     int `yaml:"ttl_ms"`
	} `yaml:"locks"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		MinAdvanceMinutes int    `yaml:"min_advance_minutes"`
		MaxAdvanceDays    int    `yaml:"max_advance_days"`
		CleanupMinutes    int    `yaml:"cleanup_minutes"`
		SlotMinutes       int    `yaml:"slot_minutes"`
		Timezone          string `yaml:"timezone"`
	} `yaml:"booking"`

	Locations struct {
		Path                string `yaml:"path"`
		WatchIntervalSecond int    `yaml:"watch_interval_seconds"`
	} `yaml:"locations"`

	Reports struct {
		ArchiveEnabled bool   `yaml:"archive_enabled"`
		ArchivePath    string `yaml:"archive_path"`
	} `yaml:"reports"`

	Collaborators struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		DedupTTLHours  int    `yaml:"dedup_ttl_hours"`
	} `yaml:"collaborators"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// BackupConfig controls the periodic SQLite snapshot.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads the YAML file at path, falling back to DefaultConfigPath. A .env
// file next to the working directory is loaded first so ${VAR} placeholders
// can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if _, err := cfg.TimeLocation(); err != nil {
		return nil, err
	}
	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	keys := c.Server.APIKeys[:0]
	for _, k := range c.Server.APIKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	c.Server.APIKeys = keys
	if c.Server.RateLimitRPS <= 0 {
		c.Server.RateLimitRPS = 20
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = 40
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/spadesk.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Booking.SlotMinutes <= 0 {
		c.Booking.SlotMinutes = 30
	}
	if c.Locations.Path == "" {
		c.Locations.Path = DefaultLocationsPath
	}
	if c.Reports.ArchivePath == "" {
		c.Reports.ArchivePath = "data/archive"
	}
	if c.Collaborators.TimeoutSeconds <= 0 {
		c.Collaborators.TimeoutSeconds = 10
	}
	if c.Collaborators.DedupTTLHours <= 0 {
		c.Collaborators.DedupTTLHours = 24
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) BookingMinAdvance() time.Duration {
	if c.Booking.MinAdvanceMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(c.Booking.MinAdvanceMinutes) * time.Minute
}

func (c *Config) BookingMaxAdvance() time.Duration {
	if c.Booking.MaxAdvanceDays <= 0 {
		return 60 * 24 * time.Hour
	}
	return time.Duration(c.Booking.MaxAdvanceDays) * 24 * time.Hour
}

func (c *Config) CleanupBuffer() time.Duration {
	if c.Booking.CleanupMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Booking.CleanupMinutes) * time.Minute
}

func (c *Config) LockTimeout() time.Duration {
	if c.Locks.TimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Locks.TimeoutMs) * time.Millisecond
}

func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Locks.TTLMs) * time.Millisecond
}

func (c *Config) LocationsWatchInterval() time.Duration {
	if c.Locations.WatchIntervalSecond <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Locations.WatchIntervalSecond) * time.Second
}

// CollaboratorTimeout bounds one invoice or housekeeping delivery.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.Collaborators.TimeoutSeconds) * time.Second
}

func (c *Config) CollaboratorDedupTTL() time.Duration {
	return time.Duration(c.Collaborators.DedupTTLHours) * time.Hour
}

// TimeLocation resolves booking.timezone; empty means the process local zone.
func (c *Config) TimeLocation() (*time.Location, error) {
	if c.Booking.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Booking.Timezone)
	if err != nil {
		return nil, fmt.Errorf("booking.timezone: %w", err)
	}
	return loc, nil
}
