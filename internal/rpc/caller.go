// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command names accepted by the backend facility.
const (
	CmdChat       = "chat"
	CmdCancelChat = "cancel_chat"

	CmdListConversations         = "list_conversations"
	CmdGetConversationMessages   = "get_conversation_messages"
	CmdGetConversationMetadata   = "get_conversation_metadata"
	CmdDeleteConversation        = "delete_conversation"
	CmdUpdateConversationProject = "update_conversation_project"

	CmdProjectsList              = "projects_list"
	CmdProjectsGet               = "projects_get"
	CmdProjectsCreate            = "projects_create"
	CmdProjectsUpdate            = "projects_update"
	CmdProjectsDelete            = "projects_delete"
	CmdProjectsAddRepo           = "projects_add_repo"
	CmdProjectsGetOrCreateOrphan = "projects_get_or_create_orphan"

	CmdAnalyzeRepository = "analyze_repository"
	CmdSetContextScope   = "set_context_scope"

	CmdHasPermission    = "has_permission"
	CmdGrantPermission  = "grant_permission"
	CmdRevokePermission = "revoke_permission"
)

// Push channel names for Transport.Subscribe.
const (
	// ChannelStream carries incremental generation events (token/done/...).
	ChannelStream = "stream"

	// ChannelPush carries one-shot notifications.
	ChannelPush = "push"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// ErrUnknownCommand is returned by backends for commands they do not serve.
var ErrUnknownCommand = errors.New("unknown command")

// Payload is the free-form argument bag of a call.
type Payload map[string]any

// Caller issues request/response calls against the backend facility.
// Implementations must be safe for concurrent use.
type Caller interface {
	// Call executes command with payload and returns the raw JSON result.
	// A non-nil error means the call was rejected; the result is then nil.
	Call(ctx context.Context, command string, payload Payload) (json.RawMessage, error)
}

// Transport exposes the backend push channels. Subscribing twice to the
// same physical channel is a backend-side error; the bus package is the
// one place that is allowed to call Subscribe.
type Transport interface {
	// Subscribe attaches handler to the named channel and returns an
	// unsubscribe function. Payloads are encoded; decoding is the
	// subscriber's concern.
	Subscribe(channel string, handler func(raw []byte)) (func(), error)
}

// =============================================================================
// RESULT HELPERS
// =============================================================================

// Decode unmarshals a call result into out.
func Decode(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return errors.New("empty call result")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode call result: %w", err)
	}
	return nil
}

// String extracts a string field from a raw object result.
func String(raw json.RawMessage, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := Decode(raw, &obj); err != nil {
		return "", err
	}
	val, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("result has no field %q", field)
	}
	var s string
	if err := json.Unmarshal(val, &s); err != nil {
		return "", fmt.Errorf("field %q is not a string: %w", field, err)
	}
	return s, nil
}

// Bool extracts a boolean field from a raw object result.
func Bool(raw json.RawMessage, field string) (bool, error) {
	var obj map[string]json.RawMessage
	if err := Decode(raw, &obj); err != nil {
		return false, err
	}
	val, ok := obj[field]
	if !ok {
		return false, fmt.Errorf("result has no field %q", field)
	}
	var b bool
	if err := json.Unmarshal(val, &b); err != nil {
		return false, fmt.Errorf("field %q is not a bool: %w", field, err)
	}
	return b, nil
}
