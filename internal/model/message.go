// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn entry in a conversation log.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string `json:"content"`

	// Image is an opaque reference to an attached image (path or blob key).
	// The client never interprets it; it is forwarded with the chat call.
	Image string `json:"image,omitempty"`

	// Model is the identifier of the model that produced an assistant reply.
	// Stamped by the ingestion engine on the first accepted token.
	Model string `json:"model,omitempty"`

	// PromptID links an assistant reply to the prompt preview that built it.
	PromptID string `json:"prompt_id,omitempty"`

	// Flags
	IsError  bool `json:"is_error,omitempty"`
	IsSystem bool `json:"is_system,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:        "msg_" + uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantPlaceholder creates the empty assistant message appended
// alongside a user turn so the streaming engine always has a tail to fill.
func NewAssistantPlaceholder() *Message {
	return NewMessage(RoleAssistant, "")
}

// NewSystemMessage creates a new system message (rendered inline, flagged).
func NewSystemMessage(content string) *Message {
	msg := NewMessage(RoleSystem, content)
	msg.IsSystem = true
	return msg
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// AppendContent appends streamed text to the message content.
func (m *Message) AppendContent(text string) {
	m.Content += text
}

// Preview returns a truncated single-line preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	content := strings.ReplaceAll(m.Content, "\n", " ")
	content = strings.ReplaceAll(content, "\r", "")
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// IsEmpty returns true if the message has no content.
func (m *Message) IsEmpty() bool {
	return len(m.Content) == 0
}

// Clone returns a copy of the message.
func (m *Message) Clone() *Message {
	cp := *m
	return &cp
}
