package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to fields left unset.
const (
	DefaultLogLines        = 500
	DefaultPortMin         = 3100
	DefaultPortMax         = 3999
	DefaultShutdownTimeout = 10 * time.Second
	DefaultEditor          = "code"
)

// DefaultAllowedOrigins are the webview origins of the desktop shell.
var DefaultAllowedOrigins = []string{
	"tauri://localhost",
	"http://tauri.localhost",
	"https://tauri.localhost",
}

// Config holds persistent daemon configuration loaded from ~/.devdeck/config.yaml.
type Config struct {
	ProjectsDir     string   `yaml:"projects_dir"`
	APIAddr         string   `yaml:"api_addr"`
	Editor          string   `yaml:"editor"`
	LogLines        int      `yaml:"log_lines"`
	PortMin         int      `yaml:"port_min"`
	PortMax         int      `yaml:"port_max"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins lists the browser origins that may call the API.
	// Requests without an Origin header (the CLI) are always accepted.
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// Duration is a time.Duration written as a Go duration string ("10s") in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Dir returns the devdeck state directory, ~/.devdeck.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".devdeck")
}

// DefaultPath returns the default config file path: ~/.devdeck/config.yaml.
func DefaultPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns a Config holding only defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns a Config holding only defaults and no error. An empty or
// all-comment file behaves the same way.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) applyDefaults() {
	if c.LogLines <= 0 {
		c.LogLines = DefaultLogLines
	}
	if c.PortMin == 0 {
		c.PortMin = DefaultPortMin
	}
	if c.PortMax == 0 {
		c.PortMax = DefaultPortMax
	}
	if c.ShutdownTimeout.Duration <= 0 {
		c.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
	if c.Editor == "" {
		c.Editor = DefaultEditor
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
}

func (c *Config) validate() error {
	if c.PortMin < 1 || c.PortMax > 65535 || c.PortMin > c.PortMax {
		return fmt.Errorf("invalid port range %d-%d", c.PortMin, c.PortMax)
	}
	return nil
}
