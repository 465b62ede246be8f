package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattkit/pkg/device"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the accepted values of Config.OutputFormat.
var OutputFormats = []string{"table", "json"}

// Config holds application configuration
type Config struct {
	LogLevel logrus.Level `yaml:"-"`
	// LogLevelName is the YAML form of LogLevel.
	LogLevelName string `yaml:"log_level" default:"info"`

	Backend string `yaml:"backend"`
	Adapter string `yaml:"adapter"`

	ScanTimeout      time.Duration `yaml:"scan_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" default:"30s"`
	OperationTimeout time.Duration `yaml:"operation_timeout" default:"10s"`
	DisableTimeout   time.Duration `yaml:"disable_timeout" default:"5s"`

	NotifyBuffer    int `yaml:"notify_buffer" default:"16"`
	ScanBuffer      int `yaml:"scan_buffer" default:"256"`
	DeviceCacheSize int `yaml:"device_cache_size" default:"256"`

	OutputFormat string `yaml:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges and resolves LogLevelName.
func (c *Config) Validate() error {
	var errs []error

	if c.LogLevelName != "" {
		level, err := logrus.ParseLevel(c.LogLevelName)
		if err != nil {
			errs = append(errs, fmt.Errorf("log_level: %w", err))
		} else {
			c.LogLevel = level
		}
	}
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format: %q is not one of %s", c.OutputFormat, strings.Join(OutputFormats, ", ")))
	}
	for name, d := range map[string]time.Duration{
		"scan_timeout":      c.ScanTimeout,
		"connect_timeout":   c.ConnectTimeout,
		"operation_timeout": c.OperationTimeout,
		"disable_timeout":   c.DisableTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	for name, n := range map[string]int{
		"notify_buffer":     c.NotifyBuffer,
		"scan_buffer":       c.ScanBuffer,
		"device_cache_size": c.DeviceCacheSize,
	} {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions converts the configuration into device session options.
func (c *Config) SessionOptions(logger *logrus.Logger) device.Options {
	return device.Options{
		Backend:         c.Backend,
		AdapterName:     c.Adapter,
		Logger:          logger,
		NotifyBuffer:    c.NotifyBuffer,
		ScanBuffer:      c.ScanBuffer,
		DeviceCacheSize: c.DeviceCacheSize,
		DisableTimeout:  c.DisableTimeout,
	}
}
