// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes request metrics in Prometheus format.
//
// Metrics implements the chat package's Observer, so wiring it in is a single
// option:
//
//	reg := prometheus.NewRegistry()
//	client := chat.NewClient(transport, cfg, chat.WithObserver(telemetry.NewMetrics(reg)))
//	go telemetry.Serve(ctx, "127.0.0.1:9464", reg, logger)
package telemetry
