// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/stream"
	"github.com/jeranaias/haven-tui/internal/ui/styles"
)

// View implements tea.Model.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.consent != nil {
		b.WriteString(m.consentView())
	} else {
		b.WriteString(styles.InputBorder.Width(m.width - 2).Render(m.input.View()))
	}
	b.WriteString("\n")
	b.WriteString(m.statusView())
	return b.String()
}

func (m *Model) headerView() string {
	return styles.ProjectBadge.Render("⬢ " + m.projectName)
}

func (m *Model) statusView() string {
	var status string
	switch m.streamState {
	case stream.StateSending:
		status = m.spinner.View() + " sending..."
	case stream.StateTyping:
		status = m.spinner.View() + " generating... (esc to stop)"
	case stream.StateFailed:
		status = styles.ErrorMessage.Render("failed") + " · ctrl+r to retry"
	case stream.StateCancelled:
		status = "stopped · ctrl+r to retry"
	default:
		status = "enter send · ctrl+n new chat · ctrl+c quit"
	}
	return styles.StatusBar.Render(status)
}

// renderTranscript renders the full message log.
func (m *Model) renderTranscript() string {
	msgs := m.log.Messages()
	if len(msgs) == 0 {
		return styles.StatusBar.Render("\n  Start a conversation.")
	}

	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 && !m.cfg.UI.CompactMode {
			b.WriteString("\n")
		}
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderMessage(msg model.Message) string {
	if msg.IsSystem {
		return styles.SystemMessage.Render("· " + msg.Content)
	}

	switch msg.Role {
	case model.RoleUser:
		return styles.UserLabel.Render("You") + "\n" + msg.Content

	case model.RoleAssistant:
		label := styles.AssistantLabel.Render("Assistant")
		if m.cfg.UI.ShowModel && msg.Model != "" {
			label += " " + styles.ModelTag.Render("("+msg.Model+")")
		}
		content := msg.Content
		if msg.IsError {
			return label + "\n" + styles.ErrorMessage.Render(content)
		}
		if content == "" {
			return label + "\n" + m.spinner.View()
		}
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(content); err == nil {
				content = strings.TrimRight(rendered, "\n")
			}
		}
		return label + "\n" + content

	default:
		return msg.Content
	}
}

// consentView renders the permission dialog in place of the input.
func (m *Model) consentView() string {
	req := m.consent
	body := fmt.Sprintf(
		"%s\n\n%s needs your permission to:\n  %s\n\n[y] allow once  [p] allow for project  [a] always  [n] deny",
		styles.ConsentTitle.Render("Permission required: "+req.Permission.DisplayName()),
		"The assistant",
		req.Description,
	)
	return styles.ConsentBox.Width(m.width - 2).Render(body)
}
