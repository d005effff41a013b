package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Audio    AudioConfig    `yaml:"audio"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port            int      `yaml:"port"`
	Address         string   `yaml:"address"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout"` // seconds
}

// DatabaseConfig contains recording store configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// StorageConfig selects and configures the audio byte sink
type StorageConfig struct {
	Backend  string         `yaml:"backend"` // "local" or "supabase"
	Local    LocalStorage   `yaml:"local"`
	Supabase SupabaseConfig `yaml:"supabase"`
}

// LocalStorage contains local filesystem sink configuration
type LocalStorage struct {
	Dir string `yaml:"dir"`
}

// SupabaseConfig contains Supabase object storage sink configuration
type SupabaseConfig struct {
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	Bucket   string `yaml:"bucket"`
	SpoolDir string `yaml:"spool_dir"`
}

// AudioConfig contains audio assembly parameters
type AudioConfig struct {
	SampleRate        int `yaml:"sample_rate"`         // Hz, default input rate from the device
	FlushThresholdKiB int `yaml:"flush_threshold_kib"` // pending bytes before a sink flush
	MaxPendingChunks  int `yaml:"max_pending_chunks"`  // pending chunk ceiling before a forced flush
}

// RealtimeConfig contains realtime fan-out configuration
type RealtimeConfig struct {
	KeepAliveInterval int `yaml:"keepalive_interval"` // seconds
	ClientBuffer      int `yaml:"client_buffer"`      // per-connection event buffer
}

// SessionConfig contains device session binding configuration
type SessionConfig struct {
	RequireDevice bool   `yaml:"require_device"` // reject UI start when no device session is bound
	Locale        string `yaml:"locale"`         // transcription locale subscribed on the device
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Environment references
// (${VAR}) inside the file are expanded before parsing so secrets can be
// supplied via the environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyDefaults fills zero values with service defaults
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "recorder.db"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Local.Dir == "" {
		c.Storage.Local.Dir = "recordings"
	}
	if c.Storage.Supabase.SpoolDir == "" {
		c.Storage.Supabase.SpoolDir = "spool"
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.FlushThresholdKiB == 0 {
		c.Audio.FlushThresholdKiB = 1024 // 1 MiB
	}
	if c.Audio.MaxPendingChunks == 0 {
		c.Audio.MaxPendingChunks = 64
	}
	if c.Realtime.KeepAliveInterval == 0 {
		c.Realtime.KeepAliveInterval = 25
	}
	if c.Realtime.ClientBuffer == 0 {
		c.Realtime.ClientBuffer = 32
	}
	if c.Session.Locale == "" {
		c.Session.Locale = "en-US"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("driver must be 'sqlite' or 'postgres', got '%s'", d.Driver)
	}

	if d.DSN == "" {
		return fmt.Errorf("dsn cannot be empty")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case "local":
		if s.Local.Dir == "" {
			return fmt.Errorf("local.dir cannot be empty")
		}
	case "supabase":
		if s.Supabase.URL == "" {
			return fmt.Errorf("supabase.url cannot be empty")
		}
		if s.Supabase.APIKey == "" {
			return fmt.Errorf("supabase.api_key cannot be empty")
		}
		if s.Supabase.Bucket == "" {
			return fmt.Errorf("supabase.bucket cannot be empty")
		}
		if s.Supabase.SpoolDir == "" {
			return fmt.Errorf("supabase.spool_dir cannot be empty")
		}
	default:
		return fmt.Errorf("backend must be 'local' or 'supabase', got '%s'", s.Backend)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FlushThresholdKiB < 4 {
		return fmt.Errorf("flush_threshold_kib must be at least 4 KiB, got %d", a.FlushThresholdKiB)
	}

	if a.MaxPendingChunks < 1 {
		return fmt.Errorf("max_pending_chunks must be at least 1, got %d", a.MaxPendingChunks)
	}

	return nil
}

// Validate validates realtime configuration
func (r *RealtimeConfig) Validate() error {
	if r.KeepAliveInterval < 1 {
		return fmt.Errorf("keepalive_interval must be at least 1 second, got %d", r.KeepAliveInterval)
	}

	if r.ClientBuffer < 1 {
		return fmt.Errorf("client_buffer must be at least 1, got %d", r.ClientBuffer)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// FlushThresholdBytes returns the assembler flush threshold in bytes
func (a *AudioConfig) FlushThresholdBytes() int {
	return a.FlushThresholdKiB * 1024
}

// GetKeepAliveInterval returns the keep-alive interval as a time.Duration
func (r *RealtimeConfig) GetKeepAliveInterval() time.Duration {
	return time.Duration(r.KeepAliveInterval) * time.Second
}

// GetShutdownTimeout returns the shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}
