// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatlog

import (
	"sync"

	"github.com/jeranaias/haven-tui/internal/model"
)

// =============================================================================
// MESSAGE LOG
// =============================================================================

// Log is the ordered transcript of one conversation plus its auto-follow
// intent. All methods are safe for concurrent use; stream ingestion and
// the render loop touch the log from different goroutines.
type Log struct {
	mu         sync.RWMutex
	messages   []model.Message
	autoScroll bool

	// onScrollRequest fires after a mutation while auto-follow is on,
	// asking the view to animate toward the bottom. Set once at wiring
	// time, before any concurrent use.
	onScrollRequest func()
}

// New creates an empty log with auto-follow enabled.
func New() *Log {
	return &Log{autoScroll: true}
}

// SetOnScrollRequest registers the smooth-scroll callback.
func (l *Log) SetOnScrollRequest(fn func()) {
	l.mu.Lock()
	l.onScrollRequest = fn
	l.mu.Unlock()
}

// Load replaces the transcript wholesale, e.g. when the user opens a
// different conversation. Auto-follow resets to on.
func (l *Log) Load(msgs []model.Message) {
	l.mu.Lock()
	l.messages = make([]model.Message, len(msgs))
	copy(l.messages, msgs)
	l.autoScroll = true
	fn := l.onScrollRequest
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Append adds messages to the end of the transcript. Any append
// re-engages auto-follow: new content means the user wants to see it.
// Messages are copied in; the caller's pointers do not alias the log.
func (l *Log) Append(msgs ...*model.Message) {
	l.mu.Lock()
	for _, m := range msgs {
		l.messages = append(l.messages, *m)
	}
	l.autoScroll = true
	fn := l.onScrollRequest
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// UpdateTail applies fn to the last message in place. A no-op on an
// empty log. The scroll request fires only while auto-follow is on, so
// a user who scrolled up is not yanked back down by arriving tokens.
func (l *Log) UpdateTail(fn func(*model.Message)) {
	l.mu.Lock()
	if len(l.messages) == 0 {
		l.mu.Unlock()
		return
	}
	fn(&l.messages[len(l.messages)-1])
	notify := l.onScrollRequest
	follow := l.autoScroll
	l.mu.Unlock()

	if follow && notify != nil {
		notify()
	}
}

// TrimTail removes up to n messages from the end of the transcript.
func (l *Log) TrimTail(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return
	}
	if n > len(l.messages) {
		n = len(l.messages)
	}
	l.messages = l.messages[:len(l.messages)-n]
}

// ReportScroll records the view's position. Scrolling away from the
// bottom disengages auto-follow; returning to the bottom re-engages it.
func (l *Log) ReportScroll(nearBottom bool) {
	l.mu.Lock()
	l.autoScroll = nearBottom
	l.mu.Unlock()
}

// ResetScroll forces auto-follow back on, e.g. on an explicit
// jump-to-bottom keybinding.
func (l *Log) ResetScroll() {
	l.mu.Lock()
	l.autoScroll = true
	fn := l.onScrollRequest
	l.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// ScrollIntent reports whether the view should follow new content.
func (l *Log) ScrollIntent() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.autoScroll
}

// Messages returns a snapshot of the transcript. The slice is the
// caller's to keep; later mutations do not alias into it.
func (l *Log) Messages() []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Tail returns a copy of the last message, if any.
func (l *Log) Tail() (model.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return model.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// Len reports the number of messages in the transcript.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
