// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatlog owns the ordered transcript of the active conversation
// and the auto-follow scroll intent that rides along with it.
//
// Mutation is tail-only by construction: the only write paths are Load
// (wholesale replacement), Append, UpdateTail, and TrimTail. Nothing in
// the application edits an interior message, which is what makes
// streaming ingestion safe to reason about.
package chatlog
