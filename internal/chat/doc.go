// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates a single generate request: it records the user
// turn, selects the recent context, sends it through a Transport, decodes
// the streamed reply and records the assistant turn.
//
// # Usage
//
//	client := chat.NewClient(gradient.NewClient(), chat.DefaultConfig())
//	out, err := client.Generate(ctx, "Hello", chat.WithContextSize(3))
package chat
