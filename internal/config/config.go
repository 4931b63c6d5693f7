package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v2"

	"defiaudit-desktop/internal/api"
)

// Config holds the client settings. File values are overridden by environment variables.
type Config struct {
	APIBaseURL      string        `yaml:"api_base_url"`
	APIToken        string        `yaml:"api_token"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	DatabaseURL     string        `yaml:"database_url"`
	LogLevel        string        `yaml:"log_level"`
	ExportDir       string        `yaml:"export_dir"`
	ReportCacheSize int           `yaml:"report_cache_size"`
}

// Load reads the YAML file at path (optional), applies defaults and env overrides, then validates
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", absPath, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnvString("DEFI_AUDIT_API_URL", c.APIBaseURL)
	c.APIToken = getEnvString("DEFI_AUDIT_TOKEN", c.APIToken)
	c.RequestTimeout = getEnvDuration("DEFI_AUDIT_REQUEST_TIMEOUT", c.RequestTimeout)
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.ExportDir = getEnvString("DEFI_AUDIT_EXPORT_DIR", c.ExportDir)
	c.ReportCacheSize = getEnvInt("DEFI_AUDIT_REPORT_CACHE", c.ReportCacheSize)
}

func (c *Config) applyDefaults() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = api.DefaultTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ReportCacheSize <= 0 {
		c.ReportCacheSize = 32
	}
	if c.ExportDir == "" {
		c.ExportDir = defaultExportDir()
	}
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required (or set DEFI_AUDIT_API_URL)")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("api_base_url must be an http(s) URL, got %q", c.APIBaseURL)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

func defaultExportDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		downloads := filepath.Join(home, "Downloads")
		if info, err := os.Stat(downloads); err == nil && info.IsDir() {
			return downloads
		}
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration from environment variable with default fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
