// Package config loads workspace settings from .plangrid/config.yaml and
// PLANGRID_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the .plangrid directory.
const FileName = "config.yaml"

// Storage drivers.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Server struct {
	// Addr is where `plangrid serve` listens.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// URL is the relay clients connect to. Empty means work locally.
	URL string `mapstructure:"url" yaml:"url,omitempty"`
}

type Storage struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	// Dir overrides the workspace root for file storage.
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
}

type Client struct {
	User           string        `mapstructure:"user" yaml:"user,omitempty"`
	CoalesceWindow time.Duration `mapstructure:"coalesce_window" yaml:"coalesce_window"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout" yaml:"ack_timeout"`
	Autosave       time.Duration `mapstructure:"autosave" yaml:"autosave"`
}

type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Webhook is an endpoint the relay posts relayed patches to. Ops limits
// delivery to the named patch ops; empty means all.
type Webhook struct {
	Name       string        `mapstructure:"name" yaml:"name"`
	URL        string        `mapstructure:"url" yaml:"url"`
	Secret     string        `mapstructure:"secret" yaml:"secret,omitempty"`
	Ops        []string      `mapstructure:"ops" yaml:"ops,omitempty"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay,omitempty"`
}

// Config is the merged workspace configuration.
type Config struct {
	Server   Server    `mapstructure:"server" yaml:"server"`
	Storage  Storage   `mapstructure:"storage" yaml:"storage"`
	Client   Client    `mapstructure:"client" yaml:"client"`
	Log      Log       `mapstructure:"log" yaml:"log"`
	Webhooks []Webhook `mapstructure:"webhooks" yaml:"webhooks,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server:  Server{Addr: "127.0.0.1:7420"},
		Storage: Storage{Driver: DriverFile},
		Client: Client{
			CoalesceWindow: application.DefaultCoalesceWindow,
			AckTimeout:     5 * time.Second,
			Autosave:       30 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.url", d.Server.URL)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.dir", d.Storage.Dir)
	v.SetDefault("client.user", d.Client.User)
	v.SetDefault("client.coalesce_window", d.Client.CoalesceWindow)
	v.SetDefault("client.ack_timeout", d.Client.AckTimeout)
	v.SetDefault("client.autosave", d.Client.Autosave)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Path returns the config file of the workspace at root.
func Path(root string) string {
	return filepath.Join(root, storage.PlangridDir, FileName)
}

// Load merges defaults, the workspace config file when present, and
// PLANGRID_* environment variables, in increasing precedence.
func Load(root string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("PLANGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := Path(root)
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile:
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the %s driver", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver %q: expected file, sqlite or postgres", c.Storage.Driver)
	}
	if c.Client.CoalesceWindow < 0 || c.Client.AckTimeout < 0 || c.Client.Autosave < 0 {
		return errors.New("client durations must not be negative")
	}
	for i, w := range c.Webhooks {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhooks[%d]: url must be an http(s) address", i)
		}
		if w.MaxRetries < 0 || w.RetryDelay < 0 {
			return fmt.Errorf("webhooks[%d]: retries must not be negative", i)
		}
	}
	return nil
}

// Save writes cfg to the workspace config file.
func Save(root string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := Path(root)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
