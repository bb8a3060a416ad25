// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage archives named conversations in a SQLite database so chat
// sessions can be resumed later.
//
// # Key Types
//
//   - Store: Session archive backed by modernc.org/sqlite (pure Go)
//   - SessionMeta: Listing entry with title, timestamps and message count
//
// # Usage
//
//	store, err := storage.Open(filepath.Join(home, ".gradchat", "sessions.db"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Save(ctx, "work", conv)
//	conv, err = store.Load(ctx, "work", model.WithMaxHistory(1000))
//
// Every Save replaces the stored messages of a session in one transaction.
package storage
