// Package config defines the configuration types and loading for bvisor.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/jsonc"
)

// maxExtendsDepth bounds the extends chain so a cycle cannot loop forever.
const maxExtendsDepth = 8

// Config is the main configuration for bvisor. The built-in admission tables
// can only be extended from here, never shrunk.
type Config struct {
	Extends    string           `json:"extends,omitempty"`
	Filesystem FilesystemConfig `json:"filesystem"`
	Overlay    OverlayConfig    `json:"overlay"`
	LogLevel   string           `json:"logLevel,omitempty"`
}

// FilesystemConfig adds user-supplied path restrictions on top of the
// built-in ones. Entries are exact paths or doublestar patterns.
type FilesystemConfig struct {
	DenyPaths        []string `json:"denyPaths"`
	DenyPrefixes     []string `json:"denyPrefixes"`
	ReadOnlyPrefixes []string `json:"readOnlyPrefixes"`
}

// OverlayConfig controls where sandbox overlays live on disk.
type OverlayConfig struct {
	// BaseDir overrides the overlay base directory (default: os.TempDir()).
	BaseDir string `json:"baseDir,omitempty"`
}

// Default returns the default configuration: built-in tables only.
func Default() *Config {
	return &Config{
		Filesystem: FilesystemConfig{
			DenyPaths:        []string{},
			DenyPrefixes:     []string{},
			ReadOnlyPrefixes: []string{},
		},
	}
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bvisor.json"
	}
	return filepath.Join(home, ".bvisor.json")
}

// Load loads configuration from a file path, following extends chains.
// A missing file yields (nil, nil) so callers fall back to Default.
func Load(path string) (*Config, error) {
	return loadDepth(path, 0)
}

func loadDepth(path string, depth int) (*Config, error) {
	if depth >= maxExtendsDepth {
		return nil, fmt.Errorf("extends chain deeper than %d at %s", maxExtendsDepth, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON in config file: %w", err)
	}

	if cfg.Extends != "" {
		base := cfg.Extends
		if !filepath.IsAbs(base) {
			base = filepath.Join(filepath.Dir(path), base)
		}
		parent, err := loadDepth(base, depth+1)
		if err != nil {
			return nil, fmt.Errorf("extends %q: %w", cfg.Extends, err)
		}
		if parent != nil {
			cfg = *merge(parent, &cfg)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// merge layers child on top of parent. List fields append; scalars from the
// child win when set.
func merge(parent, child *Config) *Config {
	out := *parent
	out.Extends = ""
	out.Filesystem.DenyPaths = append(slices.Clone(parent.Filesystem.DenyPaths), child.Filesystem.DenyPaths...)
	out.Filesystem.DenyPrefixes = append(slices.Clone(parent.Filesystem.DenyPrefixes), child.Filesystem.DenyPrefixes...)
	out.Filesystem.ReadOnlyPrefixes = append(slices.Clone(parent.Filesystem.ReadOnlyPrefixes), child.Filesystem.ReadOnlyPrefixes...)
	if child.Overlay.BaseDir != "" {
		out.Overlay.BaseDir = child.Overlay.BaseDir
	}
	if child.LogLevel != "" {
		out.LogLevel = child.LogLevel
	}
	return &out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, group := range []struct {
		name  string
		paths []string
	}{
		{"filesystem.denyPaths", c.Filesystem.DenyPaths},
		{"filesystem.denyPrefixes", c.Filesystem.DenyPrefixes},
		{"filesystem.readOnlyPrefixes", c.Filesystem.ReadOnlyPrefixes},
	} {
		for _, p := range group.paths {
			if err := validatePathPattern(p); err != nil {
				return fmt.Errorf("invalid %s entry %q: %w", group.name, p, err)
			}
		}
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logLevel %q", c.LogLevel)
	}

	return nil
}

func validatePathPattern(pattern string) error {
	if pattern == "" {
		return errors.New("empty path")
	}
	if !strings.HasPrefix(pattern, "/") {
		return errors.New("path must be absolute")
	}
	if !doublestar.ValidatePattern(pattern) {
		return errors.New("malformed glob pattern")
	}
	return nil
}

// MatchesAny reports whether path matches one of the configured patterns.
// Non-glob entries compare as literal prefixes-or-exact, glob entries via
// doublestar.
func MatchesAny(patterns []string, path string) bool {
	for _, pat := range patterns {
		if !strings.ContainsAny(pat, "*?[{") {
			if path == pat || strings.HasPrefix(path, strings.TrimSuffix(pat, "/")+"/") {
				return true
			}
			continue
		}
		if ok, err := doublestar.Match(pat, path); err == nil && ok {
			return true
		}
	}
	return false
}
