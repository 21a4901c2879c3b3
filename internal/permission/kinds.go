// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import "time"

// =============================================================================
// PERMISSION KINDS
// =============================================================================

// Kind is one privileged capability the backend can refuse.
type Kind string

const (
	KindUnknown        Kind = ""
	KindFileRead       Kind = "file_read"
	KindFileWrite      Kind = "file_write"
	KindCommandExecute Kind = "command_execute"
	KindNetworkAccess  Kind = "network_access"
	KindRemoteAccess   Kind = "remote_access"
	KindMemoryAccess   Kind = "memory_access"
	KindRepoAnalyze    Kind = "repo_analyze"
)

// DisplayName returns the human-readable capability name used in
// transcript messages and the consent dialog.
func (k Kind) DisplayName() string {
	switch k {
	case KindFileRead:
		return "File Read"
	case KindFileWrite:
		return "File Write"
	case KindCommandExecute:
		return "Command Execution"
	case KindNetworkAccess:
		return "Network Access"
	case KindRemoteAccess:
		return "Remote Access"
	case KindMemoryAccess:
		return "Memory Access"
	case KindRepoAnalyze:
		return "Repository Analysis"
	default:
		return "Unknown"
	}
}

// Valid reports whether k names a concrete capability.
func (k Kind) Valid() bool {
	switch k {
	case KindFileRead, KindFileWrite, KindCommandExecute, KindNetworkAccess,
		KindRemoteAccess, KindMemoryAccess, KindRepoAnalyze:
		return true
	}
	return false
}

// ParseKind maps a wire identifier to a Kind, returning KindUnknown for
// anything unrecognized.
func ParseKind(s string) Kind {
	k := Kind(s)
	if k.Valid() {
		return k
	}
	return KindUnknown
}

// =============================================================================
// SCOPES
// =============================================================================

// Scope bounds how long a grant lives.
type Scope string

const (
	// ScopeTemporary expires after Request.Duration (or a default).
	ScopeTemporary Scope = "temporary"

	// ScopeProject lives as long as the project it was granted under.
	ScopeProject Scope = "project"

	// ScopePermanent never expires.
	ScopePermanent Scope = "permanent"
)

// DefaultTemporaryDuration applies when a temporary grant names no
// duration of its own.
const DefaultTemporaryDuration = 15 * time.Minute

// =============================================================================
// REQUEST
// =============================================================================

// Request is one pending consent decision surfaced to the user.
type Request struct {
	Permission  Kind
	Description string

	// Scope and Duration are the user's proposed grant bounds; the UI
	// may adjust them before resolving.
	Scope    Scope
	Duration time.Duration

	// OriginalMessage is the text whose send was blocked, kept so a
	// grant can resend it verbatim.
	OriginalMessage string

	// ProjectID scopes project grants; empty for orphan conversations.
	ProjectID string
}
