// Package config loads tb configuration from file and environment.
//
// Precedence (highest to lowest):
//  1. Command-line flags (applied by the caller)
//  2. Environment variables (TB_*)
//  3. Config file
//  4. Built-in defaults
//
// Config file search order:
//  1. .tb.yaml in current directory
//  2. ~/.config/tmux-bridge/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tb configuration.
type Config struct {
	// Timeouts
	IdleTimeout  string `yaml:"idle_timeout"`  // Go duration, or integer seconds
	MaxTime      string `yaml:"max_time"`      // Go duration, or integer seconds
	PollInterval string `yaml:"poll_interval"` // Go duration string, e.g. "100ms"
	Grace        string `yaml:"grace"`         // Delay between interrupt and quit

	// Output budget
	First int `yaml:"first"`
	Last  int `yaml:"last"`

	// Background tasks
	TaskHeight int `yaml:"task_height"`

	// REPL defaults
	Prompt   string `yaml:"prompt"`
	ReplExit string `yaml:"repl_exit"` // Empty sends EOF

	// Logging
	LogDir    string `yaml:"log_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Debug     bool   `yaml:"debug"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed durations (not from YAML, set after loading)
	IdleTimeoutDuration  time.Duration `yaml:"-"`
	MaxTimeDuration      time.Duration `yaml:"-"`
	PollIntervalDuration time.Duration `yaml:"-"`
	GraceDuration        time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		IdleTimeout:  "10s",
		MaxTime:      "120s",
		PollInterval: "100ms",
		Grace:        "3s",
		First:        50,
		Last:         50,
		TaskHeight:   5,
		LogLevel:     "info",
		LogFormat:    "json",
	}
}

// Load reads configuration from file and environment variables.
// Environment variables always override file values.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// the default locations; an explicit path that cannot be read is an error.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	var data []byte
	var err error
	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		path, data, err = findConfigFile()
	}
	if err == nil {
		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		var budget fileBudget
		if err := yaml.Unmarshal(data, &budget); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
		mergeFile(cfg, &fileCfg, budget)
	}

	// Environment variables override everything
	if err := mergeEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parse fills the parsed duration fields and validates the budget.
func (c *Config) parse() error {
	var err error
	if c.IdleTimeoutDuration, err = ParseSeconds(c.IdleTimeout, 10*time.Second); err != nil {
		return fmt.Errorf("invalid idle timeout %q: %w", c.IdleTimeout, err)
	}
	if c.MaxTimeDuration, err = ParseSeconds(c.MaxTime, 120*time.Second); err != nil {
		return fmt.Errorf("invalid max time %q: %w", c.MaxTime, err)
	}
	if c.PollIntervalDuration, err = parseDuration(c.PollInterval, 100*time.Millisecond); err != nil {
		return fmt.Errorf("invalid poll interval %q: %w", c.PollInterval, err)
	}
	if c.GraceDuration, err = parseDuration(c.Grace, 3*time.Second); err != nil {
		return fmt.Errorf("invalid grace %q: %w", c.Grace, err)
	}
	if c.First < 0 || c.Last < 0 {
		return fmt.Errorf("first and last must not be negative (got %d, %d)", c.First, c.Last)
	}
	if c.TaskHeight <= 0 {
		return fmt.Errorf("task_height must be positive (got %d)", c.TaskHeight)
	}
	return nil
}

// findConfigFile searches for a config file and returns its path and contents.
func findConfigFile() (string, []byte, error) {
	// 1. Current directory
	if data, err := os.ReadFile(".tb.yaml"); err == nil {
		return ".tb.yaml", data, nil
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "tmux-bridge", "config.yaml")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
	}

	return "", nil, fmt.Errorf("no config file found")
}

// fileBudget records which budget keys the file sets. Zero is a valid
// budget, so presence cannot be read from Config.
type fileBudget struct {
	First *int `yaml:"first"`
	Last  *int `yaml:"last"`
}

// mergeFile applies non-zero file values, and any budget key present in
// the file, onto cfg.
func mergeFile(cfg *Config, file *Config, budget fileBudget) {
	if file.IdleTimeout != "" {
		cfg.IdleTimeout = file.IdleTimeout
	}
	if file.MaxTime != "" {
		cfg.MaxTime = file.MaxTime
	}
	if file.PollInterval != "" {
		cfg.PollInterval = file.PollInterval
	}
	if file.Grace != "" {
		cfg.Grace = file.Grace
	}
	if budget.First != nil {
		cfg.First = *budget.First
	}
	if budget.Last != nil {
		cfg.Last = *budget.Last
	}
	if file.TaskHeight > 0 {
		cfg.TaskHeight = file.TaskHeight
	}
	if file.Prompt != "" {
		cfg.Prompt = file.Prompt
	}
	if file.ReplExit != "" {
		cfg.ReplExit = file.ReplExit
	}
	if file.LogDir != "" {
		cfg.LogDir = file.LogDir
	}
	if file.LogLevel != "" {
		cfg.LogLevel = file.LogLevel
	}
	if file.LogFormat != "" {
		cfg.LogFormat = file.LogFormat
	}
	if file.Debug {
		cfg.Debug = true
	}
	if file.OTELEndpoint != "" {
		cfg.OTELEndpoint = file.OTELEndpoint
	}
	if file.OTELHeaders != "" {
		cfg.OTELHeaders = file.OTELHeaders
	}
}

// mergeEnv applies environment variables onto cfg. Env always wins.
func mergeEnv(cfg *Config) error {
	if v := os.Getenv("TB_IDLE_TIMEOUT"); v != "" {
		cfg.IdleTimeout = v
	}
	if v := os.Getenv("TB_MAX_TIME"); v != "" {
		cfg.MaxTime = v
	}
	if v := os.Getenv("TB_POLL_INTERVAL"); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv("TB_GRACE"); v != "" {
		cfg.Grace = v
	}
	for key, dst := range map[string]*int{"TB_FIRST": &cfg.First, "TB_LAST": &cfg.Last, "TB_TASK_HEIGHT": &cfg.TaskHeight} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
	}
	if v := os.Getenv("TB_PROMPT"); v != "" {
		cfg.Prompt = v
	}
	if v := os.Getenv("TB_REPL_EXIT"); v != "" {
		cfg.ReplExit = v
	}
	if v := os.Getenv("TB_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("TB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TB_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("TB_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.OTELEndpoint = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"); v != "" {
		cfg.OTELHeaders = v
	}
	return nil
}

// ParseSeconds parses a timeout given either as a Go duration ("90s",
// "2m") or as a plain number of seconds ("90", "1.5"). Empty returns the
// fallback. Timeouts must be positive.
func ParseSeconds(s string, fallback time.Duration) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback, nil
	}
	var d time.Duration
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		d = time.Duration(f * float64(time.Second))
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// parseDuration parses a Go duration string. Empty returns the fallback.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
