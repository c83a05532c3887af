// Package config loads and saves the ironpass configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "config.toml"

// Defaults applied by Default and to fields missing from a loaded file.
const (
	DefaultUnlockTTL = 10 * time.Minute
	DefaultBranch    = "master"
	DefaultTokenEnv  = "IRONPASS_GITHUB_TOKEN"
	DefaultUserAgent = "ironpass"
	DefaultAddr      = "127.0.0.1:8484"
)

// Duration is a time.Duration written as a Go duration string ("10m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the on-disk configuration.
type Config struct {
	DataDir   string   `toml:"data_dir"`
	UnlockTTL Duration `toml:"unlock_ttl"`
	Remote    Remote   `toml:"remote"`
	Server    Server   `toml:"server"`
}

// Remote configures the git host the store is mirrored to.
type Remote struct {
	URL       string `toml:"url"`
	Branch    string `toml:"branch"`
	TokenEnv  string `toml:"token_env"`
	UserAgent string `toml:"user_agent"`
}

// Server configures the local REST API.
type Server struct {
	Addr string `toml:"addr"`
}

// Token returns the API token from the environment variable named by
// TokenEnv, or "".
func (r Remote) Token() string {
	if r.TokenEnv == "" {
		return ""
	}
	return os.Getenv(r.TokenEnv)
}

// DBPath returns the path of the bbolt database inside the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "ironpass.db")
}

// Default returns the configuration used when no file exists.
func Default() (Config, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return Config{}, err
	}
	c := Config{DataDir: dir}
	c.applyDefaults()
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.UnlockTTL.Duration <= 0 {
		c.UnlockTTL.Duration = DefaultUnlockTTL
	}
	if c.Remote.Branch == "" {
		c.Remote.Branch = DefaultBranch
	}
	if c.Remote.TokenEnv == "" {
		c.Remote.TokenEnv = DefaultTokenEnv
	}
	if c.Remote.UserAgent == "" {
		c.Remote.UserAgent = DefaultUserAgent
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
}

// Load reads the configuration at path. A missing file yields Default.
// Unset fields take their default values.
func Load(path string) (Config, error) {
	c, err := Default()
	if err != nil {
		return Config{}, err
	}
	md, err := toml.DecodeFile(path, &c)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("loading %s: unknown key %q", path, undecoded[0].String())
	}
	c.applyDefaults()
	return c, nil
}

// Save writes c to path, creating its directory.
func Save(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(c)
}

// DefaultDataDir returns the OS-appropriate directory for ironpass data.
// IRONPASS_HOME overrides it.
func DefaultDataDir() (string, error) {
	if dir := os.Getenv("IRONPASS_HOME"); dir != "" {
		return dir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "ironpass"), nil

	case "windows":
		appData := os.Getenv("AppData")
		if appData == "" {
			return "", errors.New("AppData environment variable not set")
		}
		return filepath.Join(appData, "ironpass"), nil

	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "ironpass"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot get home directory: %w", err)
		}
		return filepath.Join(home, ".local", "share", "ironpass"), nil
	}
}
