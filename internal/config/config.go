// Package config loads keepsake's application settings.
//
// Settings come from, in increasing priority: built-in defaults, a TOML
// config file, and KEEPSAKE_* environment variables (nested keys joined
// with "_", e.g. KEEPSAKE_LOG_LEVEL).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/keepsake-dev/keepsake/internal/folder"
)

const (
	configName = "config"
	configType = "toml"
	envPrefix  = "KEEPSAKE"
	appDir     = "keepsake"
)

// Config is the application configuration.
type Config struct {
	// DataDir holds the folder registry, journal and logs
	DataDir string `mapstructure:"data_dir" toml:"data_dir"`

	// Registry is the folder registry file (default: <data_dir>/folders.json)
	Registry string `mapstructure:"registry" toml:"registry"`

	// Journal is the activity database (default: <data_dir>/activity.db)
	Journal string `mapstructure:"journal" toml:"journal"`

	// StoreRoot is where `folder add --external` places history stores
	// (default: <data_dir>/stores)
	StoreRoot string `mapstructure:"store_root" toml:"store_root"`

	// Author is recorded on every commit
	Author string `mapstructure:"author" toml:"author"`

	Log      LogConfig      `mapstructure:"log" toml:"log"`
	Server   ServerConfig   `mapstructure:"server" toml:"server"`
	Defaults DefaultsConfig `mapstructure:"defaults" toml:"defaults"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level"` // debug, info, warn, error
	Format     string `mapstructure:"format" toml:"format"` // text or json
	File       string `mapstructure:"file" toml:"file"`     // default: <data_dir>/keepsake.log
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days"`
	Stderr     bool   `mapstructure:"stderr" toml:"stderr"`
}

// ServerConfig controls the HTTP API started by `watch --serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// DefaultsConfig seeds newly added folders.
type DefaultsConfig struct {
	Strategy        string   `mapstructure:"strategy" toml:"strategy"`
	IntervalMinutes int      `mapstructure:"interval_minutes" toml:"interval_minutes"`
	IgnorePatterns  []string `mapstructure:"ignore_patterns" toml:"ignore_patterns"`
	WatchSubtree    bool     `mapstructure:"watch_subtree" toml:"watch_subtree"`
}

// Default values.
const (
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultLogMaxSizeMB    = 10
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAgeDays   = 28
	DefaultServerAddr      = "127.0.0.1:7465"
	DefaultIntervalMinutes = 5
)

// DefaultDataDir returns ~/.keepsake, or a relative .keepsake when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".keepsake"
	}
	return filepath.Join(home, ".keepsake")
}

// SearchPaths lists the directories searched for config.toml.
func SearchPaths() []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appDir))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", appDir))
	}
	return append(paths, DefaultDataDir())
}

// DefaultPath is where `config init` writes when no path is given.
func DefaultPath() string {
	return filepath.Join(SearchPaths()[0], configName+"."+configType)
}

// Default returns the built-in configuration with derived paths filled.
func Default() *Config {
	v := viper.New()
	applyDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.resolve()
	return &cfg
}

// Load reads configuration. An explicit path must exist; otherwise the
// search paths are tried and a missing file means defaults.
func Load(path string) (*Config, string, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		for _, dir := range SearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validate config: %w", err)
	}
	return &cfg, v.ConfigFileUsed(), nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("registry", "")
	v.SetDefault("journal", "")
	v.SetDefault("store_root", "")
	v.SetDefault("author", "keepsake <keepsake@localhost>")

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAgeDays)
	v.SetDefault("log.stderr", false)

	v.SetDefault("server.addr", DefaultServerAddr)

	v.SetDefault("defaults.strategy", string(folder.StrategyOnSave))
	v.SetDefault("defaults.interval_minutes", DefaultIntervalMinutes)
	v.SetDefault("defaults.ignore_patterns", []string{})
	v.SetDefault("defaults.watch_subtree", true)
}

// resolve expands ~ and fills paths derived from DataDir.
func (c *Config) resolve() {
	c.DataDir = expandHome(c.DataDir)
	if c.Registry == "" {
		c.Registry = filepath.Join(c.DataDir, "folders.json")
	}
	if c.Journal == "" {
		c.Journal = filepath.Join(c.DataDir, "activity.db")
	}
	if c.StoreRoot == "" {
		c.StoreRoot = filepath.Join(c.DataDir, "stores")
	}
	if c.Log.File == "" {
		c.Log.File = filepath.Join(c.DataDir, "keepsake.log")
	}
	c.Registry = expandHome(c.Registry)
	c.Journal = expandHome(c.Journal)
	c.StoreRoot = expandHome(c.StoreRoot)
	c.Log.File = expandHome(c.Log.File)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("invalid log.format %q (want text or json)", c.Log.Format)
	}
	if _, err := folder.ParseStrategy(c.Defaults.Strategy); err != nil {
		return fmt.Errorf("defaults.strategy: %w", err)
	}
	if c.Defaults.IntervalMinutes < 1 {
		return fmt.Errorf("defaults.interval_minutes must be at least 1, got %d", c.Defaults.IntervalMinutes)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

// NewFolder returns a folder for path seeded from the configured defaults.
func (c *Config) NewFolder(f folder.WatchedFolder) folder.WatchedFolder {
	if f.Strategy == "" {
		f.Strategy = folder.Strategy(c.Defaults.Strategy)
	}
	if f.IntervalMinutes == 0 {
		f.IntervalMinutes = c.Defaults.IntervalMinutes
	}
	if f.IgnorePatterns == nil && len(c.Defaults.IgnorePatterns) > 0 {
		f.IgnorePatterns = append([]string(nil), c.Defaults.IgnorePatterns...)
	}
	return f
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// WriteFile writes cfg to path. An existing file is kept unless force is set.
func WriteFile(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if err := Write(f, cfg); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
