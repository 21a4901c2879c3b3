// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the backend's push events into transcript
// mutations through a small state machine. One turn moves
// Idle -> Sending -> Typing -> (Completed | Cancelled | Failed), and
// every terminal state is immediately ready for the next turn.
//
// The engine only ever touches the tail of the message log, and only
// when the tail is an assistant message that has not been marked as an
// error. Events carrying a foreign conversation id are ignored.
package stream
