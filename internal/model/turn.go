package model

import (
	"time"
)

// Role represents the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Turn is one entry in the append-only conversation log.
type Turn struct {
	// Identity
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// Content
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Rendering hints for replay (step, option tokens, labels)
	DisplayHints map[string]any `json:"display_hints,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// JetStream Metadata (populated on read)
	Sequence uint64 `json:"sequence,omitempty"`
}

// ListTurnsResponse is the response for listing conversation turns.
type ListTurnsResponse struct {
	Turns        []Turn `json:"turns"`
	HasMore      bool   `json:"has_more"`
	LastSequence uint64 `json:"last_sequence"`
}

// ErrorEvent represents an error event on a stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HeartbeatEvent represents a heartbeat event.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}
