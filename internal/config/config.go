// Package config loads presence client and relay settings from an
// optional YAML file and PRESENCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/christopherjohns/filepresence/internal/workspace"
	"github.com/spf13/viper"
)

// appDir is the directory name used under the user's config directory.
const appDir = "filepresence"

// Config is the full set of recognised options.
type Config struct {
	ServerURL         string             `mapstructure:"serverUrl"`
	AutoConnect       bool               `mapstructure:"autoConnect"`
	ShowNotifications bool               `mapstructure:"showNotifications"`
	Name              string             `mapstructure:"name"`
	Avatar            string             `mapstructure:"avatar"`
	StateFile         string             `mapstructure:"stateFile"`
	RedisAddr         string             `mapstructure:"redisAddr"`
	RedisNamespace    string             `mapstructure:"redisNamespace"`
	Workspaces        []workspace.Folder `mapstructure:"workspaces"`
	Relay             Relay              `mapstructure:"relay"`
}

// Relay holds settings for `presence serve`.
type Relay struct {
	ListenAddr  string        `mapstructure:"listenAddr"`
	MaxConns    int           `mapstructure:"maxConns"`
	IdleTimeout time.Duration `mapstructure:"idleTimeout"`
	// RateLimit is the number of upgrades allowed per client IP per minute.
	// 0 disables rate limiting.
	RateLimit int `mapstructure:"rateLimit"`
}

// Default returns the built-in configuration.
func Default() Config {
	cfg := Config{
		ServerURL:         "ws://localhost:3030",
		AutoConnect:       true,
		ShowNotifications: true,
		Name:              defaultName(),
		RedisNamespace:    "default",
		Relay: Relay{
			ListenAddr: "127.0.0.1:3030",
			RateLimit:  30,
		},
	}
	if dir, err := os.UserConfigDir(); err == nil {
		cfg.StateFile = filepath.Join(dir, appDir, "state.yaml")
	}
	return cfg
}

// DefaultPath returns the config file consulted when none is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: locate config dir: %w", err)
	}
	return filepath.Join(dir, appDir, "config.yaml"), nil
}

// Load reads configuration from path. An empty path means DefaultPath;
// a missing file leaves the defaults in place.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	def := Default()
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PRESENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("serverUrl", def.ServerURL)
	v.SetDefault("autoConnect", def.AutoConnect)
	v.SetDefault("showNotifications", def.ShowNotifications)
	v.SetDefault("name", def.Name)
	v.SetDefault("avatar", def.Avatar)
	v.SetDefault("stateFile", def.StateFile)
	v.SetDefault("redisAddr", def.RedisAddr)
	v.SetDefault("redisNamespace", def.RedisNamespace)
	v.SetDefault("relay.listenAddr", def.Relay.ListenAddr)
	v.SetDefault("relay.maxConns", def.Relay.MaxConns)
	v.SetDefault("relay.idleTimeout", def.Relay.IdleTimeout)
	v.SetDefault("relay.rateLimit", def.Relay.RateLimit)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) || explicit {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option values that would otherwise fail late.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("config: serverUrl: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("config: serverUrl must use ws or wss, got %q", c.ServerURL)
	}
	if u.Host == "" {
		return fmt.Errorf("config: serverUrl has no host: %q", c.ServerURL)
	}
	if c.Relay.MaxConns < 0 {
		return fmt.Errorf("config: relay.maxConns must not be negative")
	}
	if c.Relay.RateLimit < 0 {
		return fmt.Errorf("config: relay.rateLimit must not be negative")
	}
	for _, f := range c.Workspaces {
		if f.Root == "" {
			return fmt.Errorf("config: workspace entry without root")
		}
	}
	return nil
}

func defaultName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "anonymous"
}
