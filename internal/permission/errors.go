// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package permission

import "strings"

// =============================================================================
// REJECTION PARSING
// =============================================================================

// Backend refusals follow the shape
//
//	Permission <name> is required for: <action>
//
// but the parser is deliberately loose: keyword inference handles
// variants, and anything unrecognizable classifies as KindUnknown so
// the caller can fall back to a generic error.

// ClassifyError infers the refused capability from a backend error
// string. Returns KindUnknown when no capability keyword is present.
func ClassifyError(errText string) Kind {
	lowered := strings.ToLower(errText)
	if !strings.Contains(lowered, "permission") {
		return KindUnknown
	}

	// Ordered: compound phrases before their substrings.
	switch {
	case containsAny(lowered, "remote access", "remoteaccess", "ssh"):
		return KindRemoteAccess
	case containsAny(lowered, "file write", "filewrite", "write access"):
		return KindFileWrite
	case containsAny(lowered, "file read", "fileread", "read access"):
		return KindFileRead
	case containsAny(lowered, "command execute", "commandexecute", "command execution", "execute"):
		return KindCommandExecute
	case containsAny(lowered, "network access", "networkaccess", "network"):
		return KindNetworkAccess
	case containsAny(lowered, "memory access", "memoryaccess", "memory"):
		return KindMemoryAccess
	case containsAny(lowered, "repo analyze", "repoanalyze", "repository analysis", "analyze"):
		return KindRepoAnalyze
	}
	return KindUnknown
}

// BlockedAction extracts the human description of what the refusal
// blocked: the text after the trailing "for:" clause. fallback is used
// when the error carries no such clause.
func BlockedAction(errText, fallback string) string {
	idx := strings.LastIndex(strings.ToLower(errText), "for:")
	if idx < 0 {
		return fallback
	}
	action := strings.TrimSpace(errText[idx+len("for:"):])
	if action == "" {
		return fallback
	}
	return action
}

// IsPermissionError reports whether the error text looks like a
// permission refusal at all.
func IsPermissionError(errText string) bool {
	return ClassifyError(errText) != KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
