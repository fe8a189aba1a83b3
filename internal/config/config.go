// Package config loads configuration from an optional YAML file and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	CORSOrigins string `yaml:"cors_origins"`
	WebappDir   string `yaml:"webapp_dir"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Storage
	UploadDir     string `yaml:"upload_dir"`
	PreviewDir    string `yaml:"preview_dir"`
	NotesFile     string `yaml:"notes_file"`
	MaxUploadSize int64  `yaml:"max_upload_size"`

	// Previews
	PreviewMaxDim    int `yaml:"preview_max_dim"`
	PreviewQuality   int `yaml:"preview_quality"`
	PreviewTextBytes int `yaml:"preview_text_bytes"`
	PreviewWrapWidth int `yaml:"preview_wrap_width"`
}

// MaxPreviewTextBytes caps how much of a file a text preview reads.
const MaxPreviewTextBytes = 16 << 10

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ListenAddr:       ":8000",
		MetricsAddr:      ":9090",
		CORSOrigins:      "*",
		LogLevel:         "info",
		LogFormat:        "json",
		UploadDir:        "uploads",
		PreviewDir:       "previews",
		NotesFile:        "code_blocks.json",
		MaxUploadSize:    0, // 0 = unlimited
		PreviewMaxDim:    300,
		PreviewQuality:   85,
		PreviewTextBytes: 2000,
		PreviewWrapWidth: 80,
	}
}

// Load reads configuration with defaults. If CONFIG_FILE is set, the YAML
// file is applied first; environment variables always win.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	// Set but empty disables the metrics listener.
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	c.CORSOrigins = envOr("CORS_ORIGINS", c.CORSOrigins)
	c.WebappDir = envOr("WEBAPP_DIR", c.WebappDir)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.UploadDir = envOr("UPLOAD_DIR", c.UploadDir)
	c.PreviewDir = envOr("PREVIEW_DIR", c.PreviewDir)
	c.NotesFile = envOr("NOTES_FILE", c.NotesFile)
	c.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.PreviewMaxDim = envInt("PREVIEW_MAX_DIM", c.PreviewMaxDim)
	c.PreviewQuality = envInt("PREVIEW_QUALITY", c.PreviewQuality)
	c.PreviewTextBytes = envInt("PREVIEW_TEXT_BYTES", c.PreviewTextBytes)
	c.PreviewWrapWidth = envInt("PREVIEW_WRAP_WIDTH", c.PreviewWrapWidth)
}

// Validate checks values that would make the server misbehave.
func (c *Config) Validate() error {
	if c.UploadDir == "" || c.PreviewDir == "" {
		return fmt.Errorf("UPLOAD_DIR and PREVIEW_DIR are required")
	}
	if filepath.Clean(c.UploadDir) == filepath.Clean(c.PreviewDir) {
		return fmt.Errorf("UPLOAD_DIR and PREVIEW_DIR must differ")
	}
	if c.NotesFile == "" {
		return fmt.Errorf("NOTES_FILE is required")
	}
	if c.PreviewMaxDim <= 0 || c.PreviewTextBytes <= 0 || c.PreviewWrapWidth <= 0 {
		return fmt.Errorf("preview dimensions, text bytes and wrap width must be positive")
	}
	if c.PreviewTextBytes > MaxPreviewTextBytes {
		return fmt.Errorf("PREVIEW_TEXT_BYTES must be at most %d", MaxPreviewTextBytes)
	}
	if c.PreviewQuality < 1 || c.PreviewQuality > 100 {
		return fmt.Errorf("PREVIEW_QUALITY must be between 1 and 100")
	}
	if c.MaxUploadSize < 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
