// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage is the local backend facility: a sqlite-backed
// implementation of the rpc contracts for running haven without a
// remote host. Conversations, messages, projects, repository analyses
// and permission grants persist in a single database file; generation
// is served by a pluggable Responder streamed over the push channel.
package storage
