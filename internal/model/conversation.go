// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// DefaultMaxHistory is the maximum number of messages kept in a conversation.
// When exceeded, old messages are pruned to prevent unbounded memory growth.
const DefaultMaxHistory = 1000

// =============================================================================
// MERGE POLICY
// =============================================================================

// MergePolicy decides what happens when a message is appended with the same
// role as the last message.
type MergePolicy int

const (
	// MergeNever appends every message as its own entry.
	MergeNever MergePolicy = iota

	// MergeConsecutive folds a same-role append into the last message.
	MergeConsecutive
)

// String returns the policy name.
func (p MergePolicy) String() string {
	if p == MergeConsecutive {
		return "consecutive"
	}
	return "never"
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// ContextWindow is a chronological copy of the most recent part of a
// conversation. Changing it never changes the conversation it came from.
type ContextWindow []Message

// AssistantTurns counts the assistant messages in the window.
func (w ContextWindow) AssistantTurns() int {
	n := 0
	for _, msg := range w {
		if msg.Role == RoleAssistant {
			n++
		}
	}
	return n
}

// Conversation is an ordered message log bounded by maxHistory.
//
// A Conversation is not safe for concurrent use. Each concurrent session
// needs its own instance.
type Conversation struct {
	messages   []Message
	maxHistory int
	merge      MergePolicy
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithMaxHistory sets the capacity bound. Values below 1 keep the default.
func WithMaxHistory(n int) Option {
	return func(c *Conversation) {
		if n > 0 {
			c.maxHistory = n
		}
	}
}

// WithMergePolicy sets how same-role appends are handled.
func WithMergePolicy(p MergePolicy) Option {
	return func(c *Conversation) {
		c.merge = p
	}
}

// NewConversation creates an empty conversation.
func NewConversation(opts ...Option) *Conversation {
	c := &Conversation{
		messages:   make([]Message, 0),
		maxHistory: DefaultMaxHistory,
		merge:      MergeNever,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// AddUserMessage appends a user message.
func (c *Conversation) AddUserMessage(content string) {
	c.append(NewUserMessage(content))
}

// AddAssistantMessage appends an assistant message with its reasoning trace.
func (c *Conversation) AddAssistantMessage(content, reasoning string) {
	c.append(NewAssistantMessage(content, reasoning))
}

// AddMessage appends an arbitrary message. Messages with an invalid role are
// dropped and false is returned.
func (c *Conversation) AddMessage(msg Message) bool {
	if !msg.Role.Valid() {
		return false
	}
	c.append(msg)
	return true
}

func (c *Conversation) append(msg Message) {
	if c.merge == MergeConsecutive && len(c.messages) > 0 {
		last := &c.messages[len(c.messages)-1]
		if last.Role == msg.Role {
			last.merge(msg)
			return
		}
	}
	c.messages = append(c.messages, msg)
	c.trim()
}

// trim drops the oldest messages once the log exceeds maxHistory. The kept
// suffix is copied into a fresh slice so the dropped prefix can be collected.
func (c *Conversation) trim() {
	if len(c.messages) <= c.maxHistory {
		return
	}
	kept := make([]Message, c.maxHistory)
	copy(kept, c.messages[len(c.messages)-c.maxHistory:])
	c.messages = kept
}

// GetContext returns the most recent messages holding up to maxPairs
// assistant replies, in chronological order.
//
// A pair is one assistant reply plus the user messages right before it. The
// log is read newest to oldest and stops at the first assistant message that
// would exceed maxPairs, so the window always starts on a pair boundary.
// Irregular interleaving is fine: every user message met on the way is kept,
// including a trailing user message that has no reply yet.
//
// Example:
//
//	conv.AddUserMessage("Hi")
//	conv.AddAssistantMessage("Hello!", "")
//	conv.AddUserMessage("How are you?")
//	conv.AddAssistantMessage("I'm fine.", "")
//	conv.GetContext(1) // [user "How are you?", assistant "I'm fine."]
func (c *Conversation) GetContext(maxPairs int) ContextWindow {
	if maxPairs <= 0 {
		return ContextWindow{}
	}

	start := 0
	seen := 0
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role != RoleAssistant {
			continue
		}
		if seen == maxPairs {
			start = i + 1
			break
		}
		seen++
	}

	window := make(ContextWindow, len(c.messages)-start)
	copy(window, c.messages[start:])
	return window
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.messages) == 0
}

// MaxHistory returns the capacity bound.
func (c *Conversation) MaxHistory() int {
	return c.maxHistory
}

// MergePolicy returns the policy used for same-role appends.
func (c *Conversation) MergePolicy() MergePolicy {
	return c.merge
}

// Messages returns a copy of the full log.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recent message and whether one exists.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Clear removes all messages.
func (c *Conversation) Clear() {
	c.messages = make([]Message, 0)
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	return &Conversation{
		messages:   c.Messages(),
		maxHistory: c.maxHistory,
		merge:      c.merge,
	}
}

// Title returns a short label taken from the first user message.
func (c *Conversation) Title() string {
	for _, msg := range c.messages {
		if msg.Role == RoleUser {
			return msg.Preview(50)
		}
	}
	return "New conversation"
}
