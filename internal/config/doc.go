// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and saves gradchat configuration.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (GRADCHAT_*)
//   - ~/.gradchat/config.toml, config.yaml or config.json (first found)
//   - Built-in defaults
//
// GRADCHAT_HOME moves the configuration directory.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := chat.NewClient(transport, cfg.ChatConfig())
//
// Watch reloads a config file when it changes on disk:
//
//	go config.Watch(ctx, config.ConfigPath(), func(cfg *config.Config, err error) {
//	    if err == nil {
//	        config.SetGlobal(cfg)
//	    }
//	})
package config
