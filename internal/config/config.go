// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/haven-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete haven configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`
	// Locale is a BCP 47 tag ("en", "fr"); it selects the strings haven
	// injects into transcripts.
	Locale string `toml:"locale" json:"locale"`

	// Backend configuration
	Backend BackendConfig `toml:"backend" json:"backend"`

	// Permissions configuration
	Permissions PermissionsConfig `toml:"permissions" json:"permissions"`

	// Dispatch configuration
	Dispatch DispatchConfig `toml:"dispatch" json:"dispatch"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// BackendConfig selects and tunes the backend facility.
type BackendConfig struct {
	// DatabasePath is the sqlite database for the local backend
	// (empty = default ~/.haven/haven.db)
	DatabasePath string `toml:"database_path" json:"database_path"`
	// StreamChunkChars is how many characters the local backend emits
	// per token event
	StreamChunkChars int `toml:"stream_chunk_chars" json:"stream_chunk_chars"`
}

// PermissionsConfig tunes the consent gate.
type PermissionsConfig struct {
	// DefaultScope is the pre-selected grant scope: "temporary",
	// "project", "permanent"
	DefaultScope string `toml:"default_scope" json:"default_scope"`
	// TemporaryMinutes is the lifetime of a temporary grant
	TemporaryMinutes int `toml:"temporary_minutes" json:"temporary_minutes"`
	// PreflightEnabled toggles the outgoing-message classifier
	PreflightEnabled bool `toml:"preflight_enabled" json:"preflight_enabled"`
}

// DispatchConfig tunes the send pipeline.
type DispatchConfig struct {
	// RatePerSecond caps outgoing sends; 0 keeps the built-in default
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second"`
	// Burst is the limiter burst size
	Burst int `toml:"burst" json:"burst"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light"
	Theme string `toml:"theme" json:"theme"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
	// Markdown renders assistant turns through the markdown renderer
	Markdown bool `toml:"markdown" json:"markdown"`
	// ShowModel displays the generating model next to assistant turns
	ShowModel bool `toml:"show_model" json:"show_model"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "qwen2.5-coder:14b",
		Locale:       "en",

		Backend: BackendConfig{
			DatabasePath:     "",
			StreamChunkChars: 24,
		},

		Permissions: PermissionsConfig{
			DefaultScope:     "temporary",
			TemporaryMinutes: 15,
			PreflightEnabled: true,
		},

		Dispatch: DispatchConfig{
			RatePerSecond: 2,
			Burst:         5,
		},

		UI: UIConfig{
			Theme:       "dark",
			CompactMode: false,
			Markdown:    true,
			ShowModel:   true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the haven configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".haven"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if tomlPath, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			return LoadFromPath(tomlPath)
		}
	}
	if jsonPath, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			return LoadFromPath(jsonPath)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	// Decode over the defaults so fields the file omits keep their
	// default values; fillDefaults cannot reconstruct booleans.
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := loadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := loadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// loadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func loadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.Locale == "" {
		cfg.Locale = defaults.Locale
	}

	if cfg.Backend.StreamChunkChars <= 0 {
		cfg.Backend.StreamChunkChars = defaults.Backend.StreamChunkChars
	}

	if cfg.Permissions.DefaultScope == "" {
		cfg.Permissions.DefaultScope = defaults.Permissions.DefaultScope
	}
	if cfg.Permissions.TemporaryMinutes <= 0 {
		cfg.Permissions.TemporaryMinutes = defaults.Permissions.TemporaryMinutes
	}

	if cfg.Dispatch.RatePerSecond <= 0 {
		cfg.Dispatch.RatePerSecond = defaults.Dispatch.RatePerSecond
	}
	if cfg.Dispatch.Burst <= 0 {
		cfg.Dispatch.Burst = defaults.Dispatch.Burst
	}

	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies HAVEN_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HAVEN_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("HAVEN_LOCALE"); v != "" {
		c.Locale = v
	}
	if v := os.Getenv("HAVEN_DB_PATH"); v != "" {
		c.Backend.DatabasePath = v
	}
	if v := os.Getenv("HAVEN_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("HAVEN_PREFLIGHT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Permissions.PreflightEnabled = b
		}
	}
	if v := os.Getenv("HAVEN_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Dispatch.RatePerSecond = f
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Permissions.DefaultScope {
	case "temporary", "project", "permanent":
	default:
		return fmt.Errorf("invalid permissions.default_scope %q (want temporary, project or permanent)", c.Permissions.DefaultScope)
	}

	switch c.UI.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("invalid ui.theme %q (want dark or light)", c.UI.Theme)
	}

	if c.Dispatch.RatePerSecond < 0 {
		return fmt.Errorf("dispatch.rate_per_second must be positive, got %v", c.Dispatch.RatePerSecond)
	}
	if c.Backend.StreamChunkChars < 0 {
		return fmt.Errorf("backend.stream_chunk_chars must be positive, got %d", c.Backend.StreamChunkChars)
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration to the TOML config file atomically with
// owner-only permissions.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
