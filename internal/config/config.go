package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Library   LibraryConfig   `toml:"library"`
	Subtitles SubtitlesConfig `toml:"subtitles"`
	Progress  ProgressConfig  `toml:"progress"`
	Images    ImagesConfig    `toml:"images"`
	Logging   LoggingConfig   `toml:"logging"`
	Auth      AuthConfig      `toml:"auth"`
	Ngrok     NgrokConfig     `toml:"ngrok"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port        string `toml:"port"`
	Host        string `toml:"host"`
	EnableCORS  bool   `toml:"enable_cors"`
	ReadTimeout int    `toml:"read_timeout_seconds"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path           string `toml:"path"`
	MaxConnections int    `toml:"max_connections"`
}

// LibraryConfig contains local media library configuration
type LibraryConfig struct {
	Path             string   `toml:"path"`
	SupportedFormats []string `toml:"supported_formats"`
	ScanOnStartup    bool     `toml:"scan_on_startup"`
	WatchForChanges  bool     `toml:"watch_for_changes"`
}

// SubtitlesConfig contains subtitle track configuration
type SubtitlesConfig struct {
	Dir                string `toml:"dir"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	WatchForChanges    bool   `toml:"watch_for_changes"`
	MaxConcurrent      int    `toml:"max_concurrent_imports"`
}

// ProgressConfig contains playback progress tracking configuration
type ProgressConfig struct {
	AutosaveInterval  int    `toml:"autosave_interval_seconds"`
	RetentionDays     int    `toml:"retention_days"`
	RetentionSchedule string `toml:"retention_schedule"`
}

// ImagesConfig contains image cache configuration
type ImagesConfig struct {
	MemoryLimitMB       int  `toml:"memory_limit_mb"`
	MemoryTrimTargetMB  int  `toml:"memory_trim_target_mb"`
	PrefetchConcurrency int  `toml:"prefetch_concurrency"`
	MonitorPressure     bool `toml:"monitor_pressure"`
	HeapLimitMB         int  `toml:"heap_limit_mb"`
	FetchTimeout        int  `toml:"fetch_timeout_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level          string `toml:"level"`
	Format         string `toml:"format"`
	File           string `toml:"file"`
	RequestLogging bool   `toml:"request_logging"`
}

// AuthConfig contains API authentication configuration
type AuthConfig struct {
	Enabled        bool   `toml:"enabled"`
	PasswordHash   string `toml:"password_hash"` // bcrypt; INTERMEZZO_PASSWORD_HASH env overrides
	SessionTimeout int    `toml:"session_timeout_minutes"`
}

// NgrokConfig contains ngrok tunnel configuration
type NgrokConfig struct {
	Enabled   bool   `toml:"enabled"`
	AuthToken string `toml:"auth_token"`
	Domain    string `toml:"domain"`
	Region    string `toml:"region"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Host:        "0.0.0.0",
			EnableCORS:  true,
			ReadTimeout: 30,
		},
		Database: DatabaseConfig{
			Path:           "./intermezzo.db",
			MaxConnections: 10,
		},
		Library: LibraryConfig{
			Path:             "./media",
			SupportedFormats: []string{".flac", ".mp3", ".wav", ".m4a", ".mp4", ".mkv"},
			ScanOnStartup:    true,
			WatchForChanges:  true,
		},
		Subtitles: SubtitlesConfig{
			Dir:                "./subtitles",
			PollIntervalMillis: 100,
			WatchForChanges:    true,
			MaxConcurrent:      2,
		},
		Progress: ProgressConfig{
			AutosaveInterval:  10,
			RetentionDays:     0, // 0 disables retention sweeps
			RetentionSchedule: "0 4 * * *",
		},
		Images: ImagesConfig{
			MemoryLimitMB:       100,
			MemoryTrimTargetMB:  60,
			PrefetchConcurrency: 4,
			MonitorPressure:     false,
			HeapLimitMB:         512,
			FetchTimeout:        15,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			File:           "",
			RequestLogging: true,
		},
		Auth: AuthConfig{
			Enabled:        false,
			PasswordHash:   "",
			SessionTimeout: 720,
		},
		Ngrok: NgrokConfig{
			Enabled:   false,
			AuthToken: "",
			Domain:    "",
			Region:    "us",
		},
	}
}

// LoadConfig loads configuration from a TOML file
func LoadConfig(configPath string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config file doesn't exist, create it with defaults
		if err := cfg.SaveToFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config file: %w", err)
		}
		fmt.Printf("Created default configuration file at: %s\n", configPath)
		return cfg, nil
	}

	// Load from file
	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveToFile saves the configuration to a TOML file
func (c *Config) SaveToFile(configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create or open file
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	header := `# Intermezzo Companion Server Configuration
# This file contains all configuration options for the Intermezzo resume and
# subtitle companion server. Edit the values below to customize your setup.

`
	if _, err := file.WriteString(header); err != nil {
		return fmt.Errorf("failed to write config header: %w", err)
	}

	// Encode configuration to TOML
	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config to TOML: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	// Validate database config
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections < 1 {
		return fmt.Errorf("database max connections must be at least 1")
	}

	// Validate library config
	if c.Library.Path == "" {
		return fmt.Errorf("media library path cannot be empty")
	}
	if len(c.Library.SupportedFormats) == 0 {
		return fmt.Errorf("at least one supported media format must be specified")
	}

	// Validate subtitle config
	if c.Subtitles.Dir == "" {
		return fmt.Errorf("subtitle directory cannot be empty")
	}
	if c.Subtitles.PollIntervalMillis < 10 {
		return fmt.Errorf("subtitle poll interval must be at least 10ms")
	}
	if c.Subtitles.MaxConcurrent < 1 {
		return fmt.Errorf("subtitle import concurrency must be at least 1")
	}

	// Validate progress config
	if c.Progress.AutosaveInterval < 1 {
		return fmt.Errorf("progress autosave interval must be at least 1 second")
	}
	if c.Progress.RetentionDays < 0 {
		return fmt.Errorf("progress retention days cannot be negative")
	}

	// Validate image cache config
	if c.Images.MemoryLimitMB < 1 {
		return fmt.Errorf("image cache memory limit must be at least 1 MB")
	}
	if c.Images.MemoryTrimTargetMB < 0 || c.Images.MemoryTrimTargetMB > c.Images.MemoryLimitMB {
		return fmt.Errorf("image cache trim target must be between 0 and the memory limit")
	}
	if c.Images.PrefetchConcurrency < 1 {
		return fmt.Errorf("image prefetch concurrency must be at least 1")
	}

	// Validate logging config
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true, "json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	// Validate auth config
	if c.Auth.Enabled && c.Auth.PasswordHash == "" && os.Getenv("INTERMEZZO_PASSWORD_HASH") == "" {
		return fmt.Errorf("auth is enabled but no password hash is configured")
	}
	if c.Auth.SessionTimeout < 1 {
		return fmt.Errorf("auth session timeout must be at least 1 minute")
	}

	return nil
}

// GetAddress returns the full server address
func (c *Config) GetAddress() string {
	return c.Server.Host + ":" + c.Server.Port
}

// IsFormatSupported checks if a media file format is supported
func (c *Config) IsFormatSupported(format string) bool {
	for _, supported := range c.Library.SupportedFormats {
		if supported == format {
			return true
		}
	}
	return false
}
