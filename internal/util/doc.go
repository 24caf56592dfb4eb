// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across the aichat client.
//
// This package contains common helpers for text normalization, string
// truncation, and crash-safe file writing.
//
// # Key Functions
//
// Text:
//   - NormalizeText: NFC normalization plus invalid-UTF-8 repair
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
package util
