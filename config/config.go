// Package config provides configuration for the revcache tooling.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"revcache/internal/gitio"
)

// Config holds repository and cache configuration.
type Config struct {
	// Repository is the path to the git repository (work tree or .git).
	Repository string `yaml:"repository"`
	// Cache is the SQLite cache database path. Empty disables caching.
	Cache string `yaml:"cache"`
	// ShortRevLen is the minimum abbreviated revision length.
	ShortRevLen int `yaml:"shortrev_len"`
	// UseCommitterID selects the committer instead of the author as the
	// displayed identity.
	UseCommitterID bool `yaml:"use_committer_id"`
	// UseCommitterTime selects the committer timestamp instead of the
	// author timestamp.
	UseCommitterTime bool `yaml:"use_committer_time"`
	// RenameLimit caps the number of changes considered for rename and
	// copy pairing in one changeset.
	RenameLimit int `yaml:"rename_limit"`
	// Debug enables debug logging.
	Debug bool `yaml:"debug"`
	// WatchDebounce is how long to coalesce filesystem events before
	// triggering a synchronization.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
	// WatchIgnore lists glob patterns for paths whose events are ignored.
	WatchIgnore []string `yaml:"watch_ignore"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ShortRevLen:      7,
		RenameLimit:      200,
		WatchDebounce:    2 * time.Second,
		UseCommitterID:   true,
		UseCommitterTime: true,
	}
}

// FromEnv creates a Config from defaults overlaid with environment
// variables.
func FromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// Load reads a YAML config file and applies environment overrides on
// top. A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Repository = getEnv("REVCACHE_REPOSITORY", c.Repository)
	c.Cache = getEnv("REVCACHE_CACHE", c.Cache)
	c.ShortRevLen = getEnvInt("REVCACHE_SHORTREV_LEN", c.ShortRevLen)
	c.UseCommitterID = getEnvBool("REVCACHE_USE_COMMITTER_ID", c.UseCommitterID)
	c.UseCommitterTime = getEnvBool("REVCACHE_USE_COMMITTER_TIME", c.UseCommitterTime)
	c.RenameLimit = getEnvInt("REVCACHE_RENAME_LIMIT", c.RenameLimit)
	c.Debug = getEnvBool("REVCACHE_DEBUG", c.Debug)
	c.WatchDebounce = getEnvDuration("REVCACHE_WATCH_DEBOUNCE", c.WatchDebounce)
}

// Options maps the configuration onto graph options.
func (c *Config) Options() gitio.Options {
	return gitio.Options{
		ShortRevLen:      c.ShortRevLen,
		UseCommitterID:   c.UseCommitterID,
		UseCommitterTime: c.UseCommitterTime,
		RenameLimit:      c.RenameLimit,
	}
}

// Validate clamps and checks the configuration.
func (c *Config) Validate() error {
	if c.ShortRevLen < 4 {
		c.ShortRevLen = 4
	}
	if c.ShortRevLen > 40 {
		c.ShortRevLen = 40
	}
	if c.RenameLimit < 0 {
		c.RenameLimit = 0
	}
	if c.WatchDebounce <= 0 {
		c.WatchDebounce = 2 * time.Second
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
