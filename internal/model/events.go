// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "encoding/json"

// =============================================================================
// STREAM EVENT UNION
// =============================================================================

// EventKind tags the members of the stream event union.
type EventKind string

const (
	// EventToken carries one increment of generated text in Data.
	EventToken EventKind = "token"

	// EventDone signals end-of-stream for the turn identified by ChatID.
	EventDone EventKind = "done"

	// EventError signals a terminal stream failure; Message is user-facing
	// when present.
	EventError EventKind = "error"

	// EventPromptPreview exposes the fully-built prompt before generation.
	EventPromptPreview EventKind = "prompt_preview"

	// EventCancelled signals the backend aborted generation mid-stream
	// (its own cancel path, mirrored by the local stop marker).
	EventCancelled EventKind = "cancelled"
)

// StreamEvent is one event from the backend push channel. Every member
// carries enough identity (ChatID) for an ingestion engine that is not
// interested in it to ignore it safely.
type StreamEvent struct {
	Event  EventKind `json:"event"`
	ChatID string    `json:"chat_id,omitempty"`

	// Token payload
	Data string `json:"data,omitempty"`

	// Error / cancelled payload
	Message string `json:"message,omitempty"`

	// Prompt preview payload
	Prompt   map[string]any `json:"prompt,omitempty"`
	PromptID string         `json:"prompt_id,omitempty"`
}

// DecodeStreamEvent decodes an encoded push payload. Malformed payloads
// are reported with ok=false and must be dropped, never thrown.
func DecodeStreamEvent(raw []byte) (StreamEvent, bool) {
	var ev StreamEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return StreamEvent{}, false
	}
	if ev.Event == "" {
		return StreamEvent{}, false
	}
	return ev, true
}

// Encode serializes the event for the push channel.
func (ev StreamEvent) Encode() []byte {
	data, err := json.Marshal(ev)
	if err != nil {
		// The event union contains only marshalable fields; a failure here
		// would be a programming error surfaced in tests.
		return nil
	}
	return data
}

// =============================================================================
// PUSH EVENT
// =============================================================================

// PushEvent is a one-shot notification on the secondary channel
// (model pulled, tunnel status, permission log lines, ...).
type PushEvent struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

// DecodePushEvent decodes an encoded push payload defensively.
func DecodePushEvent(raw []byte) (PushEvent, bool) {
	var ev PushEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return PushEvent{}, false
	}
	if ev.Kind == "" {
		return PushEvent{}, false
	}
	return ev, true
}
