// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small file and string helpers.
//
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - AppendFile: Append-or-create for log files
//   - TruncateWidth, PadWidth: Terminal-width aware formatting
package util
