// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package i18n holds the user-facing strings the orchestration layer
// injects into the transcript (stop markers, fallback error text,
// permission denials). UI chrome strings live with the UI; these
// particular strings end up persisted inside messages, so they are
// resolved once at wiring time from the configured locale.
package i18n
