// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the gradchat command line.
//
// # Commands
//
//	gradchat ask [flags] MESSAGE...    One question, one reply
//	gradchat chat [--session NAME]     Interactive chat with history
//	gradchat models                    List available models
//	gradchat sessions list|show|delete Manage saved sessions
//	gradchat config show|path|init|get|set
//	gradchat doctor                    Health checks
//	gradchat version
//
// Global flags --config, --log-level and --log-dir apply to every command.
//
// Output is plain when stdout is not a terminal: no markdown rendering, no
// spinner and no colors (NO_COLOR is honored, FORCE_COLOR overrides).
//
// Errors map to exit codes by kind; see GetExitCode.
package cli
