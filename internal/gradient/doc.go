// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gradient speaks the Gradient chat service wire protocol.
//
// A generate call is a single POST whose response body is a sequence of
// newline-delimited JSON events. The package provides the HTTP client that
// performs the exchange and the Decoder that folds the events into a reply.
//
// # Key Types
//
//   - Client: HTTP client for /generate and /model_info
//   - Payload: Request body (model, cluster mode, messages, thinking flag)
//   - Decoder: Incremental event decoder producing an Outcome
//   - TransportError: Non-2xx status or network failure
//   - JobFailedError: Service reported a failed job
//
// # Usage
//
//	client := gradient.NewClient(gradient.WithTimeout(2 * time.Minute))
//	body, err := client.Post(ctx, gradient.Payload{
//	    Model:       gradient.DefaultModel,
//	    ClusterMode: gradient.DefaultClusterMode,
//	    Messages:    conv.GetContext(5),
//	})
//	if err != nil {
//	    return err
//	}
//	outcome, err := gradient.DecodeLines(gradient.SplitLines(body))
//
// A stream that never reports a completed job fails with ErrJobIncomplete,
// and whatever text arrived before is discarded.
package gradient
