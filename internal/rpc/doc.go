// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rpc defines the contracts to the remote haven facility.
//
// The backend is a black box reached two ways: request/response calls
// (Caller) and push channels (Transport). Everything above this package
// depends only on these interfaces; concrete backends (the local sqlite
// host in internal/storage, or a real IPC bridge) implement them.
package rpc
