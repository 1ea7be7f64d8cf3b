// Package config loads merklerun defaults from ~/.merklerun/config.yaml.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the defaults applied to every command. Command-line flags
// override a value only when set explicitly.
type Config struct {
	Seed      int64  `yaml:"seed"`
	AllowNet  bool   `yaml:"allow_net"`
	Out       string `yaml:"out"`
	HistoryDB string `yaml:"history_db"`
	LogLevel  string `yaml:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Seed:     1337,
		AllowNet: false,
		Out:      "manifest.json",
		LogLevel: "warn",
	}
}

// DefaultPath returns ~/.merklerun/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".merklerun", "config.yaml")
}

// LoadConfig loads configuration from a YAML file.
// Empty path falls back to ~/.merklerun/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg, _, err := LoadConfigWithHash(path)
	return cfg, err
}

// LoadConfigWithHash loads configuration and returns the SHA-256 hash of
// the raw bytes on disk. When no file exists the hash is that of empty
// input.
func LoadConfigWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
		data = raw
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate rejects values no command can act on.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Out == "" {
		return fmt.Errorf("config: out must not be empty")
	}
	return nil
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	lvl, _ := ParseLevel(c.LogLevel)
	return lvl
}

// ParseLevel maps debug, info, warn and error to slog levels.
// Empty means warn.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelWarn, fmt.Errorf("config: unknown log_level %q", s)
}

// DefaultConfigYAML returns a commented config.yaml holding the defaults.
func DefaultConfigYAML() string {
	d := DefaultConfig()
	return fmt.Sprintf(`# merklerun configuration.
# Command-line flags override these values when set explicitly.

# Seed for every pseudo-random source of a run.
seed: %d

# Permit network connect/send/recv. When false they are recorded as
# net_block events and fail.
allow_net: %t

# Default manifest path for "merklerun run".
out: %s

# SQLite database indexing every run. Empty disables history.
history_db: ""

# debug | info | warn | error
log_level: %s
`, d.Seed, d.AllowNet, d.Out, d.LogLevel)
}

// ExampleScriptYAML returns the starter step script written by init.
func ExampleScriptYAML() string {
	return `name: example
steps:
  - write: {path: out.bin, random_bytes: 1024}
  - read: {path: out.bin}
  - spawn: {argv: [echo, "args: $@"]}
  - print: {text: done}
`
}
