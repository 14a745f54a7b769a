// Package config loads mailcache settings from a YAML file, a .env file
// and MAILCACHE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "MAILCACHE_"

type Config struct {
	Listen  string  `yaml:"listen"`
	Store   Store   `yaml:"store"`
	IMAP    IMAP    `yaml:"imap"`
	Sync    Sync    `yaml:"sync"`
	Logging Logging `yaml:"logging"`
}

type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type IMAP struct {
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	// Debug traces wire traffic at trace level. LOGIN is redacted.
	Debug bool `yaml:"debug"`
}

type Sync struct {
	DefaultFolders []string `yaml:"default_folders"`
}

type Logging struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Sanitized bool   `yaml:"sanitized"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Listen: "127.0.0.1:8080",
		Store: Store{
			Driver: "bolt",
			Path:   filepath.Join(defaultDataDir(), "mailcache.db"),
		},
		IMAP: IMAP{
			ConnectTimeout: 45 * time.Second,
			CommandTimeout: 60 * time.Second,
		},
		Sync: Sync{
			DefaultFolders: []string{"INBOX", "Sent", "Drafts", "Trash"},
		},
		Logging: Logging{Level: "info", Format: "console"},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "mailcache")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", "mailcache")
}

// Load builds the configuration. path may be empty; dotenv may be empty,
// in which case ./.env is tried and its absence ignored.
func Load(path, dotenv string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Existing environment variables win over .env entries.
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil {
			return cfg, fmt.Errorf("load %s: %w", dotenv, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
		return nil
	}

	str("LISTEN", &cfg.Listen)
	str("STORE_DRIVER", &cfg.Store.Driver)
	str("STORE_PATH", &cfg.Store.Path)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	if v, ok := lookup(envPrefix + "DEFAULT_FOLDERS"); ok && v != "" {
		cfg.Sync.DefaultFolders = splitList(v)
	}
	for _, err := range []error{
		duration("IMAP_CONNECT_TIMEOUT", &cfg.IMAP.ConnectTimeout),
		duration("IMAP_COMMAND_TIMEOUT", &cfg.IMAP.CommandTimeout),
		boolean("IMAP_INSECURE_SKIP_VERIFY", &cfg.IMAP.InsecureSkipVerify),
		boolean("IMAP_DEBUG", &cfg.IMAP.Debug),
		boolean("LOG_SANITIZED", &cfg.Logging.Sanitized),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the rest of the program cannot use.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "bolt", "json":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.Store.Path == "" {
		return errors.New("store.path: required")
	}
	if c.IMAP.ConnectTimeout <= 0 {
		return errors.New("imap.connect_timeout: must be positive")
	}
	if c.IMAP.CommandTimeout <= 0 {
		return errors.New("imap.command_timeout: must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: want json or console, got %q", c.Logging.Format)
	}
	return nil
}
