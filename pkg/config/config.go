// Package config loads and validates the PabloDNS YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Upstream DNS servers used for pass-through queries
	UpstreamDNSServers []string `yaml:"upstream_dns_servers"`

	// Rule engine settings
	Rules RulesConfig `yaml:"rules"`

	// Storage (query log)
	Storage StorageConfig `yaml:"storage"`

	// Admin API
	API APIConfig `yaml:"api"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry (OTEL)
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds DNS server settings
type ServerConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	UDPEnabled    bool          `yaml:"udp_enabled"`
	TCPEnabled    bool          `yaml:"tcp_enabled"`
	AnswerTTL     time.Duration `yaml:"answer_ttl"`
}

// RulesConfig holds rule persistence settings
type RulesConfig struct {
	// FilePath is the persisted rules document (rules + maintenance flag),
	// read once at startup and written through on every admin edit.
	FilePath          string `yaml:"file_path"`
	MaintenanceNotice string `yaml:"maintenance_notice"`
	// WatchFile reloads the document when it changes on disk.
	WatchFile bool `yaml:"watch_file"`
}

// StorageConfig holds query-log storage settings
type StorageConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DatabasePath  string `yaml:"database_path"`
	BufferSize    int    `yaml:"buffer_size"`
	Workers       int    `yaml:"workers"`
	RetentionDays int    `yaml:"retention_days"`
}

// APIConfig holds admin API settings
type APIConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
	APIKey        string `yaml:"api_key"`
	BasicUser     string `yaml:"basic_user"`
	// PasswordHash is a bcrypt hash; plain passwords are never stored.
	PasswordHash string `yaml:"password_hash"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level     string `yaml:"level"`      // debug, info, warn, error
	Format    string `yaml:"format"`     // json, text
	Output    string `yaml:"output"`     // stdout, stderr, file
	FilePath  string `yaml:"file_path"`  // if output=file
	AddSource bool   `yaml:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ServiceName       string `yaml:"service_name"`
	ServiceVersion    string `yaml:"service_version"`
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
}

// Load loads the configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with sensible defaults
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = ":53"
	}
	if !c.Server.UDPEnabled && !c.Server.TCPEnabled {
		c.Server.UDPEnabled = true
		c.Server.TCPEnabled = true
	}
	if c.Server.AnswerTTL == 0 {
		c.Server.AnswerTTL = 60 * time.Second
	}

	// Rules defaults
	if c.Rules.FilePath == "" {
		c.Rules.FilePath = "./config.json"
	}
	if c.Rules.MaintenanceNotice == "" {
		c.Rules.MaintenanceNotice = "PabloDNS: Estamos en mantenimiento"
	}

	// Storage defaults
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./pablodns.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.Workers == 0 {
		c.Storage.Workers = 2
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 30
	}

	// API defaults
	if c.API.ListenAddress == "" {
		c.API.ListenAddress = ":8080"
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	// Telemetry defaults
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "pablodns"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		return fmt.Errorf("server.listen_address cannot be empty")
	}
	if !c.Server.UDPEnabled && !c.Server.TCPEnabled {
		return fmt.Errorf("at least one of TCP or UDP must be enabled")
	}
	if c.Server.AnswerTTL < 0 {
		return fmt.Errorf("server.answer_ttl cannot be negative")
	}

	if c.Rules.FilePath == "" {
		return fmt.Errorf("rules.file_path cannot be empty")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	if c.Storage.Enabled {
		if c.Storage.BufferSize < 1 {
			return fmt.Errorf("storage.buffer_size must be positive")
		}
		if c.Storage.Workers < 1 {
			return fmt.Errorf("storage.workers must be positive")
		}
	}

	return nil
}
