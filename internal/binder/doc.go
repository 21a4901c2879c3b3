// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package binder keeps the client's project and conversation state in
// step with the backend: which project is active, which conversations
// belong in the sidebar, which repository analysis rides along with the
// prompt, and how a fresh conversation adopts its server identity.
package binder
