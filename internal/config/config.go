package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable override, e.g. VIDBATCH_OUTPUT_DIR.
const EnvPrefix = "VIDBATCH"

// Config holds all configuration for a batch run
type Config struct {
	Manifest    string        `mapstructure:"manifest"`
	OutputDir   string        `mapstructure:"output_dir"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`

	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`

	// Resolved absolute paths
	AbsManifest  string `mapstructure:"-"`
	AbsOutputDir string `mapstructure:"-"`
	AbsDBPath    string `mapstructure:"-"`

	Version   string    `mapstructure:"-"`
	StartTime time.Time `mapstructure:"-"`
}

// FetcherConfig configures the external media fetcher.
type FetcherConfig struct {
	Binary      string        `mapstructure:"binary"`
	Format      string        `mapstructure:"format"`
	MergeFormat string        `mapstructure:"merge_format"`
	ExtraArgs   string        `mapstructure:"extra_args"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// JournalConfig configures the SQLite run journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"output-dir":   "output_dir",
	"lock-timeout": "lock_timeout",
	"binary":       "fetcher.binary",
	"format":       "fetcher.format",
	"extra-args":   "fetcher.extra_args",
	"min-interval": "fetcher.min_interval",
	"journal":      "journal.enabled",
	"db":           "journal.path",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
}

// New creates a Config with default values
func New() *Config {
	return &Config{
		Manifest:  "videos.txt",
		Journal:   JournalConfig{Enabled: true},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Version:   "1.0.0",
		StartTime: time.Now(),
		Fetcher: FetcherConfig{
			Binary:      "yt-dlp",
			Format:      "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
			MergeFormat: "mp4",
		},
	}
}

// Load reads configuration with precedence flag > environment > file > default.
// configPath may be empty, in which case no file is read. flags may be nil.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, New())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if filepath.Ext(configPath) == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("manifest", d.Manifest)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("lock_timeout", d.LockTimeout)
	v.SetDefault("fetcher.binary", d.Fetcher.Binary)
	v.SetDefault("fetcher.format", d.Fetcher.Format)
	v.SetDefault("fetcher.merge_format", d.Fetcher.MergeFormat)
	v.SetDefault("fetcher.extra_args", d.Fetcher.ExtraArgs)
	v.SetDefault("fetcher.min_interval", d.Fetcher.MinInterval)
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks that all required configuration is present and valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Fetcher.Binary) == "" {
		return errors.New("fetcher.binary is required")
	}
	if strings.TrimSpace(c.Fetcher.Format) == "" {
		return errors.New("fetcher.format is required")
	}
	// Artifacts are always reconciled to .mp4.
	c.Fetcher.MergeFormat = strings.ToLower(strings.TrimSpace(c.Fetcher.MergeFormat))
	if c.Fetcher.MergeFormat == "" {
		c.Fetcher.MergeFormat = "mp4"
	}
	if c.Fetcher.MergeFormat != "mp4" {
		return fmt.Errorf("invalid fetcher.merge_format: %s (must be mp4)", c.Fetcher.MergeFormat)
	}
	if c.Fetcher.MinInterval < 0 {
		return fmt.Errorf("invalid fetcher.min_interval: %s (must not be negative)", c.Fetcher.MinInterval)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("invalid lock_timeout: %s (must not be negative)", c.LockTimeout)
	}

	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug|info|warn|error)", c.Logging.Level)
	}
	c.Logging.Format = strings.ToLower(c.Logging.Format)
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json|text)", c.Logging.Format)
	}
	return nil
}

// Resolve resolves every path in the configuration.
func (c *Config) Resolve() error {
	if err := c.ResolveManifest(); err != nil {
		return err
	}
	if err := c.ResolveOutputDir(); err != nil {
		return err
	}
	return c.ResolveDBPath()
}

// ResolveManifest expands the manifest path and resolves it to an absolute path
func (c *Config) ResolveManifest() error {
	if c.Manifest == "" {
		return errors.New("manifest path is required")
	}
	abs, err := resolvePath(c.Manifest)
	if err != nil {
		return err
	}
	c.AbsManifest = abs
	return nil
}

// ResolveOutputDir expands the output directory path and resolves it to an absolute path
// If empty, defaults to $HOME/Videos/vidbatch
func (c *Config) ResolveOutputDir() error {
	if c.OutputDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		c.OutputDir = filepath.Join(home, "Videos", "vidbatch")
	}
	abs, err := resolvePath(c.OutputDir)
	if err != nil {
		return err
	}
	c.AbsOutputDir = abs
	return nil
}

// ResolveDBPath expands the journal path and resolves it to an absolute path
// If empty, defaults to OS cache directory
func (c *Config) ResolveDBPath() error {
	if c.Journal.Path == "" {
		c.Journal.Path = defaultCacheDBPath()
	}
	abs, err := resolvePath(c.Journal.Path)
	if err != nil {
		return err
	}
	c.AbsDBPath = abs
	return nil
}

// resolvePath expands a leading ~ and makes p absolute.
func resolvePath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %s: %w", p, err)
	}
	return abs, nil
}

// Summary returns the key configuration as log fields
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"manifest":     c.AbsManifest,
		"output_dir":   c.AbsOutputDir,
		"db_path":      c.AbsDBPath,
		"journal":      c.Journal.Enabled,
		"binary":       c.Fetcher.Binary,
		"min_interval": c.Fetcher.MinInterval.String(),
		"log_level":    c.Logging.Level,
		"version":      c.Version,
	}
}

// defaultCacheDBPath returns the cross-platform default path for the SQLite DB
// - Windows: %APPDATA%/vidbatch/vidbatch.db
// - Linux/macOS: $HOME/.cache/vidbatch/vidbatch.db
func defaultCacheDBPath() string {
	if runtime.GOOS == "windows" {
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "vidbatch", "vidbatch.db")
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "AppData", "Roaming", "vidbatch", "vidbatch.db")
		}
		return "vidbatch.db"
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "vidbatch", "vidbatch.db")
	}
	return filepath.Join("vidbatch", "vidbatch.db")
}
