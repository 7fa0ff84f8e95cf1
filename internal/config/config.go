// Package config handles configuration loading and management for the
// analyst client.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigEnv is the environment variable to override the config file path.
	ConfigEnv = "ANALYST_CONFIG"

	// DefaultServerURL is the address of a locally running backend.
	DefaultServerURL = "http://localhost:8000"

	// DefaultTimeout bounds a single HTTP request. Analysis turns may run
	// tools for minutes.
	DefaultTimeout = 5 * time.Minute

	// DefaultContinueRate is the default number of continuation calls per
	// second in HTTP mode. Zero leaves the chain unpaced.
	DefaultContinueRate = 0.0
)

// Mode selects the conversation transport.
type Mode string

const (
	// ModeSocket keeps a persistent WebSocket session.
	ModeSocket Mode = "socket"
	// ModeHTTP sends each turn as an HTTP request and polls continuations.
	ModeHTTP Mode = "http"
)

// Valid reports whether m names a known transport.
func (m Mode) Valid() bool {
	return m == ModeSocket || m == ModeHTTP
}

// ServerConfig describes the backend.
type ServerConfig struct {
	// URL is the backend base URL (default: http://localhost:8000)
	URL string `yaml:"url" toml:"url"`
	// ImageBase is the image-serving endpoint (default: <url>/image)
	ImageBase string `yaml:"image_base" toml:"image_base"`
	// Timeout bounds one HTTP request, e.g. "90s"
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// ChatConfig controls conversations.
type ChatConfig struct {
	// Mode is "socket" or "http"
	Mode Mode `yaml:"mode" toml:"mode"`
	// Model is requested when a socket session is opened
	Model string `yaml:"model" toml:"model"`
	// CheckContinue asks the server to report should_continue
	CheckContinue bool `yaml:"check_continue" toml:"check_continue"`
	// MaxContinuations caps continuation calls per turn; 0 is unlimited
	MaxContinuations int `yaml:"max_continuations" toml:"max_continuations"`
	// ContinueRate is the pace of continuation calls per second; 0 disables pacing
	ContinueRate float64 `yaml:"continue_rate" toml:"continue_rate"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

// Config represents the complete client configuration.
type Config struct {
	Server ServerConfig `yaml:"server" toml:"server"`
	Chat   ChatConfig   `yaml:"chat" toml:"chat"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     DefaultServerURL,
			Timeout: DefaultTimeout,
		},
		Chat: ChatConfig{
			Mode:          ModeSocket,
			CheckContinue: true,
			ContinueRate:  DefaultContinueRate,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default configuration file path for the current platform.
func DefaultConfigPath() string {
	if envPath := os.Getenv(ConfigEnv); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, "analyst", "config.yaml")
}

// Format is a configuration file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatTOML
)

// FormatFor picks the syntax from the file extension. Anything that is not
// .toml is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads and parses the configuration file from the given path.
// Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is like Load but returns the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse parses configuration data on top of the defaults.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("invalid server.url %q: %w", c.Server.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server.url %q: scheme must be http or https", c.Server.URL)
	}
	if c.Server.Timeout < 0 {
		return fmt.Errorf("server.timeout must not be negative")
	}
	if !c.Chat.Mode.Valid() {
		return fmt.Errorf("invalid chat.mode %q: must be %q or %q", c.Chat.Mode, ModeSocket, ModeHTTP)
	}
	if c.Chat.MaxContinuations < 0 {
		return fmt.Errorf("chat.max_continuations must not be negative")
	}
	if c.Chat.ContinueRate < 0 {
		return fmt.Errorf("chat.continue_rate must not be negative")
	}
	return nil
}

// ImageBaseURL returns the configured image endpoint, derived from the
// server URL when unset.
func (c *Config) ImageBaseURL() string {
	if c.Server.ImageBase != "" {
		return c.Server.ImageBase
	}
	return strings.TrimRight(c.Server.URL, "/") + "/image"
}

// Clone returns a copy of c.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
