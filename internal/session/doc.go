// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session maps session names to conversations and keeps them in
// step with the on-disk archive.
//
// # Usage
//
//	mgr := session.NewManager(store, session.DefaultConfig(), logger)
//	conv, name, resumed, err := mgr.Open(ctx, "work")
//	// ... generate against conv ...
//	mgr.MarkDirty(name)
//	err = mgr.Persist(ctx, name)
package session
