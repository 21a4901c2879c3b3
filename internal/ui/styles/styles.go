// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the haven TUI.
// All colors use Lip Gloss AdaptiveColor for automatic light/dark
// detection.
package styles

import "github.com/charmbracelet/lipgloss"

// =============================================================================
// COLORS
// =============================================================================

// Purple - Primary accent, assistant messages
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - User highlights, prompts
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - Success states, granted permissions
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Rose - Errors, denied permissions
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// Amber - Warnings, pending consent
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// Overlay - Borders, separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// TextDim - Secondary text, timestamps, model tags
var TextDim = lipgloss.AdaptiveColor{Light: "#737373", Dark: "#6C7086"}

// =============================================================================
// MESSAGE STYLES
// =============================================================================

// UserLabel styles the "You" speaker tag.
var UserLabel = lipgloss.NewStyle().Foreground(Cyan).Bold(true)

// AssistantLabel styles the assistant speaker tag.
var AssistantLabel = lipgloss.NewStyle().Foreground(Purple).Bold(true)

// SystemMessage styles injected transcript lines (denials, notices).
var SystemMessage = lipgloss.NewStyle().Foreground(Amber).Italic(true)

// ErrorMessage styles failed assistant turns.
var ErrorMessage = lipgloss.NewStyle().Foreground(Rose)

// ModelTag styles the model name shown next to assistant turns.
var ModelTag = lipgloss.NewStyle().Foreground(TextDim)

// =============================================================================
// CHROME STYLES
// =============================================================================

// StatusBar styles the bottom status line.
var StatusBar = lipgloss.NewStyle().Foreground(TextDim)

// InputBorder frames the message input.
var InputBorder = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Overlay).
	Padding(0, 1)

// ConsentBox frames the permission dialog.
var ConsentBox = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(Amber).
	Padding(1, 2)

// ConsentTitle styles the permission dialog heading.
var ConsentTitle = lipgloss.NewStyle().Foreground(Amber).Bold(true)

// ProjectBadge styles the active project indicator.
var ProjectBadge = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
