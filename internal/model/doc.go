// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared across the haven client:
// messages, conversation metadata, projects, and the stream event union
// emitted by the backend push channel.
//
// Ownership rules:
//   - A Message belongs to exactly one conversation's log and is only ever
//     mutated at the tail while a reply is streaming.
//   - Conversation identity is the id; model and project binding are fixed
//     at creation (the backend is the source of truth).
//   - Exactly one Project is active at a time; activation is owned by the
//     binder package.
package model
