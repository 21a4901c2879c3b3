// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the client-side handle on one backend conversation.
// Identity is the ID; Model and ProjectID are fixed at creation and the
// backend record stays authoritative for both.
type Conversation struct {
	ID        string `json:"id"`
	Model     string `json:"model,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// NewConversation creates a conversation handle with a generated id.
func NewConversation(model, projectID string) *Conversation {
	return &Conversation{
		ID:        uuid.NewString(),
		Model:     model,
		ProjectID: projectID,
	}
}

// IsOrphan reports whether the conversation has no project binding.
func (c *Conversation) IsOrphan() bool {
	return c.ProjectID == ""
}

// =============================================================================
// CONVERSATION METADATA
// =============================================================================

// ConversationMeta holds lightweight metadata for listing conversations.
type ConversationMeta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TitleFromContent derives a listing title from the first user message.
func TitleFromContent(content string) string {
	msg := Message{Content: content}
	title := msg.Preview(40)
	if title == "" {
		return "New Chat"
	}
	return title
}
