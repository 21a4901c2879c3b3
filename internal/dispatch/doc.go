// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch is the top of the send pipeline: it validates and
// rate-limits outgoing messages, runs the pre-flight permission check,
// appends the user/placeholder pair, issues the chat call, and owns
// retry, stop, and resend-after-grant.
package dispatch
