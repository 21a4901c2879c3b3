// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus provides a de-duplicating fan-out over one physical push
// channel. The backend tolerates at most one subscription per channel,
// while many widgets want their own logical stream; the bus opens the
// physical channel exactly once (on the first subscriber) and fans every
// decoded event out to all registered handlers in registration order.
//
// The bus is an explicit injectable object, not a package-level singleton,
// so tests can create isolated instances with their own transports.
package bus
