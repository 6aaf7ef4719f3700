// Package config reads the optional .happycache.toml settings file.
// Values act as defaults; command-line flags and arguments win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const fileName = ".happycache.toml"

// Config mirrors the settings file.
type Config struct {
	// Workers applies to both modes unless overridden per mode.
	Workers int `toml:"workers"`

	Dump DumpConfig `toml:"dump"`
	Load LoadConfig `toml:"load"`
}

// DumpConfig holds dump-mode settings.
type DumpConfig struct {
	Workers int    `toml:"workers"`
	Level   int    `toml:"level"`
	Map     string `toml:"map"`
}

// LoadConfig holds load-mode settings.
type LoadConfig struct {
	Workers  int    `toml:"workers"`
	Map      string `toml:"map"`
	MaxPages int64  `toml:"max_pages"`
	IOUring  bool   `toml:"io_uring"`
}

// Default returns the zero configuration; zero values defer to the
// library defaults.
func Default() *Config {
	return &Config{}
}

// Find returns the path of the settings file, checking the working
// directory and then the home directory. Empty string means none.
func Find() string {
	if _, err := os.Stat(fileName); err == nil {
		return fileName
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidate := filepath.Join(home, fileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// Read parses the settings file at path.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Load discovers and parses the settings file. A missing file yields
// the defaults; a malformed file is an error.
func Load() (*Config, error) {
	path := Find()
	if path == "" {
		return Default(), nil
	}
	cfg, err := Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// DumpWorkers resolves the dump worker count (0 = library default).
func (c *Config) DumpWorkers() int {
	if c.Dump.Workers > 0 {
		return c.Dump.Workers
	}
	return c.Workers
}

// LoadWorkers resolves the load worker count (0 = library default).
func (c *Config) LoadWorkers() int {
	if c.Load.Workers > 0 {
		return c.Load.Workers
	}
	return c.Workers
}
