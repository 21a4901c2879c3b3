// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
	if cfg.DefaultModel == "" {
		t.Error("Expected default model")
	}
	if cfg.Locale != "en" {
		t.Errorf("Expected en locale default, got %q", cfg.Locale)
	}
}

func TestLoadFromPathTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
default_model = "llama3:8b"
locale = "fr"

[permissions]
default_scope = "project"

[ui]
theme = "light"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.DefaultModel != "llama3:8b" {
		t.Errorf("Expected llama3:8b, got %q", cfg.DefaultModel)
	}
	if cfg.Locale != "fr" {
		t.Errorf("Expected fr, got %q", cfg.Locale)
	}
	if cfg.Permissions.DefaultScope != "project" {
		t.Errorf("Expected project scope, got %q", cfg.Permissions.DefaultScope)
	}
	if cfg.UI.Theme != "light" {
		t.Errorf("Expected light theme, got %q", cfg.UI.Theme)
	}
	// Unset fields take defaults.
	if cfg.Dispatch.RatePerSecond != Default().Dispatch.RatePerSecond {
		t.Error("Expected default dispatch rate for unset field")
	}
}

func TestLoadFromPathJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"default_model": "mistral:7b", "backend": {"stream_chunk_chars": 8}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.DefaultModel != "mistral:7b" {
		t.Errorf("Expected mistral:7b, got %q", cfg.DefaultModel)
	}
	if cfg.Backend.StreamChunkChars != 8 {
		t.Errorf("Expected chunk size 8, got %d", cfg.Backend.StreamChunkChars)
	}
}

func TestLoadFixesInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`default_model = "x"`), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := LoadFromPath(path); err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected permissions tightened to 0600, got %o", info.Mode().Perm())
	}
}

func TestValidateRejectsBadScope(t *testing.T) {
	cfg := Default()
	cfg.Permissions.DefaultScope = "forever"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected invalid scope rejected")
	}
}

func TestValidateRejectsBadTheme(t *testing.T) {
	cfg := Default()
	cfg.UI.Theme = "solarized"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected invalid theme rejected")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("HAVEN_DEFAULT_MODEL", "phi3:mini")
	t.Setenv("HAVEN_LOCALE", "fr")
	t.Setenv("HAVEN_PREFLIGHT", "false")
	t.Setenv("HAVEN_RATE_PER_SECOND", "0.5")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.DefaultModel != "phi3:mini" {
		t.Errorf("Expected env model override, got %q", cfg.DefaultModel)
	}
	if cfg.Locale != "fr" {
		t.Errorf("Expected env locale override, got %q", cfg.Locale)
	}
	if cfg.Permissions.PreflightEnabled {
		t.Error("Expected preflight disabled via env")
	}
	if cfg.Dispatch.RatePerSecond != 0.5 {
		t.Errorf("Expected rate 0.5, got %v", cfg.Dispatch.RatePerSecond)
	}
}

func TestIsConfigFile(t *testing.T) {
	cases := map[string]bool{
		"/home/x/.haven/config.toml": true,
		"/home/x/.haven/config.json": true,
		"/home/x/.haven/haven.db":    false,
		"/home/x/.haven/.tmp-12345":  false,
	}
	for path, want := range cases {
		if got := isConfigFile(path); got != want {
			t.Errorf("isConfigFile(%q) = %v, want %v", path, got, want)
		}
	}
}
