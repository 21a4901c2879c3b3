// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/haven-tui/internal/binder"
	"github.com/jeranaias/haven-tui/internal/chatlog"
	"github.com/jeranaias/haven-tui/internal/config"
	"github.com/jeranaias/haven-tui/internal/dispatch"
	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/permission"
	"github.com/jeranaias/haven-tui/internal/stream"
	"github.com/jeranaias/haven-tui/internal/ui/styles"
)

// =============================================================================
// TEA MESSAGES
// =============================================================================

// TranscriptChangedMsg asks the view to re-render the transcript.
type TranscriptChangedMsg struct{}

// StreamStateMsg carries engine state changes.
type StreamStateMsg struct{ State stream.State }

// PermissionRequestMsg surfaces a pending consent decision.
type PermissionRequestMsg struct{ Request permission.Request }

// ProjectChangedMsg carries the newly active project (nil = unfiled).
type ProjectChangedMsg struct{ Project *model.Project }

// ConversationsMsg carries the refreshed sidebar list.
type ConversationsMsg struct{ List []model.ConversationMeta }

// ConfigReloadedMsg delivers a freshly loaded configuration from the
// file watcher. The swap happens on the update loop so View never races
// the watcher goroutine.
type ConfigReloadedMsg struct{ Config *config.Config }

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	cfg *config.Config

	log        *chatlog.Log
	controller *dispatch.Controller
	engine     *stream.Engine
	binder     *binder.Binder
	gate       *permission.Gate

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	keyMap   KeyMap

	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	streamState stream.State
	projectName string

	// consent holds the pending permission request while the dialog is
	// up; nil otherwise.
	consent *permission.Request
}

// New builds the chat view.
func New(cfg *config.Config, log *chatlog.Log, controller *dispatch.Controller, engine *stream.Engine, b *binder.Binder, gate *permission.Gate) *Model {
	input := textinput.New()
	input.Placeholder = "Ask anything..."
	input.CharLimit = 0
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(styles.Purple)

	return &Model{
		cfg:         cfg,
		log:         log,
		controller:  controller,
		engine:      engine,
		binder:      b,
		gate:        gate,
		input:       input,
		spinner:     sp,
		keyMap:      DefaultKeyMap(),
		streamState: stream.StateIdle,
		projectName: model.OrphanProjectName,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m, m.resize(msg.Width, msg.Height)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TranscriptChangedMsg:
		m.refreshViewport()
		return m, nil

	case StreamStateMsg:
		m.streamState = msg.State
		return m, nil

	case PermissionRequestMsg:
		req := msg.Request
		m.consent = &req
		return m, nil

	case ProjectChangedMsg:
		if msg.Project != nil {
			m.projectName = msg.Project.Name
		} else {
			m.projectName = model.OrphanProjectName
		}
		return m, nil

	case ConversationsMsg:
		// The compact surface has no sidebar yet; the list still flows
		// through so the status line can show a count.
		return m, nil

	case ConfigReloadedMsg:
		m.cfg = msg.Config
		if m.ready {
			// Re-runs the renderer setup so markdown and layout settings
			// take effect immediately.
			return m, m.resize(m.width, m.height)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.log.ReportScroll(m.viewport.AtBottom())
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The consent dialog captures all input while it is up.
	if m.consent != nil {
		return m.handleConsentKey(msg)
	}

	switch {
	case key.Matches(msg, m.keyMap.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Send):
		text := m.input.Value()
		m.input.Reset()
		// Busy and rate-limit rejections drop the send; the input
		// already cleared, which matches the transcript staying clean.
		_ = m.controller.Send(context.Background(), text, "")
		return m, nil

	case key.Matches(msg, m.keyMap.Stop):
		m.controller.Stop(context.Background())
		return m, nil

	case key.Matches(msg, m.keyMap.Retry):
		_ = m.controller.Retry(context.Background())
		return m, nil

	case key.Matches(msg, m.keyMap.NewChat):
		m.binder.StartConversation(m.cfg.DefaultModel)
		m.log.Load(nil)
		return m, func() tea.Msg { return TranscriptChangedMsg{} }

	case key.Matches(msg, m.keyMap.Bottom):
		m.log.ResetScroll()
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleConsentKey resolves the pending permission request:
// y grants for the default scope, p grants project-wide, a grants
// permanently, n or esc denies.
func (m *Model) handleConsentKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	req := *m.consent
	switch msg.String() {
	case "y":
		m.consent = nil
		req.Scope = permission.ScopeTemporary
		go m.gate.Resolve(context.Background(), req, true)
	case "p":
		m.consent = nil
		req.Scope = permission.ScopeProject
		go m.gate.Resolve(context.Background(), req, true)
	case "a":
		m.consent = nil
		req.Scope = permission.ScopePermanent
		go m.gate.Resolve(context.Background(), req, true)
	case "n", "esc":
		m.consent = nil
		go m.gate.Resolve(context.Background(), req, false)
	}
	return m, nil
}

func (m *Model) resize(width, height int) tea.Cmd {
	m.width = width
	m.height = height

	headerHeight := 1
	footerHeight := 4
	vpHeight := height - headerHeight - footerHeight
	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.viewport = viewport.New(width, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = vpHeight
	}
	m.input.Width = width - 6

	if m.cfg.UI.Markdown {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			m.renderer = renderer
		}
	} else {
		m.renderer = nil
	}

	m.refreshViewport()
	return nil
}

// refreshViewport re-renders the transcript into the viewport,
// following the tail only while auto-follow is engaged.
func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	if m.log.ScrollIntent() {
		m.viewport.GotoBottom()
	}
}
