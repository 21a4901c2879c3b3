// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"testing"

	"github.com/jeranaias/haven-tui/internal/chatlog"
	"github.com/jeranaias/haven-tui/internal/config"
)

func TestConfigReloadSwapsOnUpdateLoop(t *testing.T) {
	cfg := config.Default()
	m := New(cfg, chatlog.New(), nil, nil, nil, nil)

	next := config.Default()
	next.UI.CompactMode = true
	updated, _ := m.Update(ConfigReloadedMsg{Config: next})

	got := updated.(*Model)
	if got.cfg != next {
		t.Error("Expected reload to swap in the new config")
	}
	if cfg.UI.CompactMode {
		t.Error("Reload must not write through the old config pointer")
	}
}

func TestConfigReloadBeforeFirstResize(t *testing.T) {
	m := New(config.Default(), chatlog.New(), nil, nil, nil, nil)

	// Arrives before the first WindowSizeMsg; nothing to re-render yet.
	if _, cmd := m.Update(ConfigReloadedMsg{Config: config.Default()}); cmd != nil {
		t.Error("Expected no command while the view is not ready")
	}
}
