// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message. It is a closed set: only
// RoleUser and RoleAssistant exist, and decoding any other value fails.
type Role uint8

const (
	RoleUser Role = iota + 1
	RoleAssistant
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return r.String()
	}
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// ParseRole converts a wire string into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return 0, fmt.Errorf("invalid role %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single conversation turn. Reasoning is only meaningful for
// assistant messages.
type Message struct {
	Role      Role
	Content   string
	Reasoning string
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message with optional reasoning.
func NewAssistantMessage(content, reasoning string) Message {
	return Message{Role: RoleAssistant, Content: content, Reasoning: reasoning}
}

// wireMessage is the JSON shape the service expects. Assistant messages always
// carry reasoningContent, user messages never do.
type wireMessage struct {
	Role             Role    `json:"role"`
	Content          string  `json:"content"`
	ReasoningContent *string `json:"reasoningContent,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, Content: m.Content}
	if m.Role == RoleAssistant {
		reasoning := m.Reasoning
		w.ReasoningContent = &reasoning
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Role.Valid() {
		return fmt.Errorf("message missing role")
	}
	m.Role = w.Role
	m.Content = w.Content
	m.Reasoning = ""
	if w.ReasoningContent != nil {
		m.Reasoning = *w.ReasoningContent
	}
	return nil
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// merge folds next into m. Contents are joined by a newline; reasoning is
// joined the same way when both sides carry some.
func (m *Message) merge(next Message) {
	m.Content = joinNonEmpty(m.Content, next.Content)
	m.Reasoning = joinNonEmpty(m.Reasoning, next.Reasoning)
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n" + b
	}
}
