// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package permission gates outgoing work on user consent.
//
// Detection happens in two places: before a message is sent, a
// Classifier inspects the text for phrases that imply a privileged
// capability; and after a backend rejection, the error text is parsed
// for the capability the backend refused. Either path raises a Request
// through the Gate, which owns the grant cache, scope expiry, and the
// resend-after-grant handshake.
package permission
