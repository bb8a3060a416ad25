// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the conversation log that every request draws its
// history from. It has no I/O and no dependencies outside the standard
// library.
//
// # Key Types
//
//   - Conversation: Bounded, ordered message log (default 1000 messages)
//   - Message: Single turn with role, content and optional reasoning
//   - Role: Closed role enumeration (user, assistant)
//   - ContextWindow: Chronological copy of the most recent pairs
//   - MergePolicy: Plain append or merge of consecutive same-role turns
//
// # Usage
//
// Build a conversation and take the last two exchanges as context:
//
//	conv := model.NewConversation(model.WithMaxHistory(200))
//	conv.AddUserMessage("Hi")
//	conv.AddAssistantMessage("Hello!", "")
//	window := conv.GetContext(2)
package model
