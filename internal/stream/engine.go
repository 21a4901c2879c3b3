// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jeranaias/haven-tui/internal/binder"
	"github.com/jeranaias/haven-tui/internal/chatlog"
	"github.com/jeranaias/haven-tui/internal/i18n"
	"github.com/jeranaias/haven-tui/internal/model"
	"github.com/jeranaias/haven-tui/internal/permission"
)

// =============================================================================
// TURN STATE MACHINE
// =============================================================================

// State is the engine's position in the current turn.
type State int

const (
	// StateIdle means no turn is active.
	StateIdle State = iota

	// StateSending means the request left but no token arrived yet.
	StateSending

	// StateTyping means tokens are arriving.
	StateTyping

	// StateCompleted, StateCancelled and StateFailed record how the last
	// turn ended. All three accept a new turn immediately.
	StateCompleted
	StateCancelled
	StateFailed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateTyping:
		return "typing"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Busy reports whether a turn is in flight.
func (s State) Busy() bool {
	return s == StateSending || s == StateTyping
}

// =============================================================================
// INGESTION ENGINE
// =============================================================================

// Engine applies stream events to the transcript. It is safe for
// concurrent use; events arrive on the push delivery goroutine while
// Stop and BeginTurn come from the UI goroutine.
type Engine struct {
	log     *chatlog.Log
	binder  *binder.Binder
	gate    *permission.Gate
	catalog *i18n.Catalog
	logger  *slog.Logger

	mu           sync.Mutex
	state        State
	activeChatID string
	bound        bool // activeChatID is server-issued
	turnModel    string
	turnText     string // the user message that opened the turn
	promptID     string
	prompt       map[string]any

	onStateChanged func(State)
}

// NewEngine wires the engine to its collaborators.
func NewEngine(log *chatlog.Log, b *binder.Binder, gate *permission.Gate, catalog *i18n.Catalog, logger *slog.Logger) *Engine {
	if catalog == nil {
		catalog = i18n.ForLocale("en")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		log:     log,
		binder:  b,
		gate:    gate,
		catalog: catalog,
		logger:  logger,
	}
}

// SetOnStateChanged registers the spinner/status callback.
func (e *Engine) SetOnStateChanged(fn func(State)) {
	e.mu.Lock()
	e.onStateChanged = fn
	e.mu.Unlock()
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// BeginTurn arms the engine for one generation turn. conv identifies
// whose events to accept; bound says whether conv.ID was issued by the
// backend (a fresh conversation adopts the server id from the stream).
// userText is kept for rejection handling.
func (e *Engine) BeginTurn(conv model.Conversation, bound bool, userText string) {
	e.mu.Lock()
	e.state = StateSending
	e.activeChatID = conv.ID
	e.bound = bound
	e.turnModel = conv.Model
	e.turnText = userText
	e.promptID = ""
	e.prompt = nil
	fn := e.onStateChanged
	e.mu.Unlock()

	e.logger.Debug("turn started", "conversation", conv.ID, "model", conv.Model)
	if fn != nil {
		fn(StateSending)
	}
}

// PromptID returns the prompt id captured from the latest preview.
func (e *Engine) PromptID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.promptID
}

// Prompt returns the latest captured prompt preview payload.
func (e *Engine) Prompt() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prompt
}

// =============================================================================
// EVENT INGESTION
// =============================================================================

// HandleEvent applies one stream event. Events for other conversations,
// and terminal events arriving after the turn already ended, are
// dropped without touching the transcript.
func (e *Engine) HandleEvent(ctx context.Context, ev model.StreamEvent) {
	e.mu.Lock()
	if !e.acceptLocked(ev) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	switch ev.Event {
	case model.EventToken:
		e.handleToken(ev)
	case model.EventPromptPreview:
		e.handlePromptPreview(ev)
	case model.EventDone:
		e.handleDone(ctx, ev)
	case model.EventError:
		e.handleError(ev)
	case model.EventCancelled:
		e.handleCancelled(ev)
	default:
		e.logger.Debug("ignoring unknown stream event", "event", ev.Event)
	}
}

// acceptLocked decides whether the event belongs to the active turn.
// While the conversation has no server identity yet, the first event
// with a chat id claims it.
func (e *Engine) acceptLocked(ev model.StreamEvent) bool {
	if !e.state.Busy() {
		// A done/error for a turn that already ended is ignorable; the
		// transcript is final at that point.
		return false
	}
	if ev.ChatID == "" {
		return true
	}
	if !e.bound {
		e.activeChatID = ev.ChatID
		e.bound = true
		return true
	}
	if ev.ChatID != e.activeChatID {
		e.logger.Debug("ignoring event for foreign conversation",
			"event", ev.Event, "chat", ev.ChatID, "active", e.activeChatID)
		return false
	}
	return true
}

func (e *Engine) handleToken(ev model.StreamEvent) {
	e.transition(StateTyping, StateSending, StateTyping)

	e.mu.Lock()
	turnModel := e.turnModel
	e.mu.Unlock()

	e.log.UpdateTail(func(m *model.Message) {
		if m.Role != model.RoleAssistant || m.IsError {
			return
		}
		m.AppendContent(ev.Data)
		if m.Model == "" {
			m.Model = turnModel
		}
	})
}

func (e *Engine) handlePromptPreview(ev model.StreamEvent) {
	e.mu.Lock()
	e.promptID = ev.PromptID
	e.prompt = ev.Prompt
	e.mu.Unlock()

	e.log.UpdateTail(func(m *model.Message) {
		if m.Role != model.RoleAssistant {
			return
		}
		m.PromptID = ev.PromptID
	})
}

func (e *Engine) handleDone(ctx context.Context, ev model.StreamEvent) {
	if !e.transition(StateCompleted, StateSending, StateTyping) {
		return
	}
	e.logger.Debug("turn completed", "conversation", ev.ChatID)
	if e.binder != nil {
		e.binder.NotifyDone(ctx, ev.ChatID)
	}
}

func (e *Engine) handleError(ev model.StreamEvent) {
	if !e.transition(StateFailed, StateSending, StateTyping) {
		return
	}

	msg := ev.Message
	if msg == "" {
		msg = e.catalog.Get(i18n.KeyStreamError)
	}

	e.mu.Lock()
	original := e.turnText
	e.mu.Unlock()

	handled := false
	if e.gate != nil {
		handled = e.gate.HandleRejection(msg, original)
	}

	// The tail is stamped as an error either way so a retry knows to
	// replace it; the consent dialog rides on top when handled. Partial
	// tokens stay in place and the error text lands on the line below.
	e.log.UpdateTail(func(m *model.Message) {
		if m.Role != model.RoleAssistant {
			return
		}
		if m.Content == "" {
			m.Content = msg
		} else {
			m.AppendContent("\n" + msg)
		}
		m.IsError = true
	})

	if handled {
		e.logger.Info("turn blocked on permission", "conversation", ev.ChatID)
	} else {
		e.logger.Warn("turn failed", "conversation", ev.ChatID, "error", msg)
	}
}

func (e *Engine) handleCancelled(ev model.StreamEvent) {
	if !e.transition(StateCancelled, StateSending, StateTyping) {
		return
	}
	e.appendStopMarker()
	e.logger.Debug("turn cancelled by backend", "conversation", ev.ChatID)
}

// =============================================================================
// STOP
// =============================================================================

// Stop ends the turn locally. Returns true when a turn was actually in
// flight, in which case the caller should also issue the backend abort.
func (e *Engine) Stop() bool {
	if !e.transition(StateCancelled, StateSending, StateTyping) {
		return false
	}
	e.appendStopMarker()
	e.logger.Debug("turn stopped by user")
	return true
}

func (e *Engine) appendStopMarker() {
	marker := e.catalog.Get(i18n.KeyGenerationStopped)
	e.log.UpdateTail(func(m *model.Message) {
		if m.Role != model.RoleAssistant || m.IsError {
			return
		}
		m.AppendContent(marker)
	})
}

// transition moves to next if the current state is one of from.
// Returns false (and leaves the state alone) otherwise, which is what
// makes terminal events idempotent.
func (e *Engine) transition(next State, from ...State) bool {
	e.mu.Lock()
	ok := false
	for _, s := range from {
		if e.state == s {
			ok = true
			break
		}
	}
	if !ok {
		e.mu.Unlock()
		return false
	}
	changed := e.state != next
	e.state = next
	fn := e.onStateChanged
	e.mu.Unlock()

	if changed && fn != nil {
		fn(next)
	}
	return true
}
