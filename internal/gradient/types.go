// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gradient

import (
	"encoding/json"

	"github.com/jeranaias/gradchat/internal/model"
)

// Defaults used when the caller does not pick a model or cluster.
const (
	DefaultModel       = "GPT OSS 120B"
	DefaultClusterMode = "nvidia"
)

// Payload is the JSON body of a generate request.
type Payload struct {
	Model          string              `json:"model"`
	ClusterMode    string              `json:"clusterMode"`
	Messages       model.ContextWindow `json:"messages"`
	EnableThinking bool                `json:"enableThinking"`
}

// modelInfoResponse is the body of GET /model_info.
type modelInfoResponse struct {
	Data struct {
		AvailableModels []modelEntry `json:"availableModels"`
	} `json:"data"`
}

// modelEntry accepts either a bare model name or an object carrying one.
type modelEntry struct {
	Name string
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *modelEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		m.Name = name
		return nil
	}

	var obj struct {
		Name  string `json:"name"`
		Model string `json:"model"`
		ID    string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	switch {
	case obj.Name != "":
		m.Name = obj.Name
	case obj.Model != "":
		m.Name = obj.Model
	default:
		m.Name = obj.ID
	}
	return nil
}
