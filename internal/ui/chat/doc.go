// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the chat view component for the TUI.
//
// The view is intentionally thin: all conversation state lives in the
// orchestration layer (chatlog, stream, dispatch, permission), and the
// Bubble Tea model here only renders snapshots and translates key
// presses into controller calls. Asynchronous events reach the view as
// typed tea messages sent through the program.
package chat
