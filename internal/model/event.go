package model

import (
	"time"
)

// StateChange is broadcast after the assistant state for a user is updated.
// Observers re-read the state; the event carries no payload beyond hints.
type StateChange struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id"`
	Step      Step      `json:"step"`
	Revision  uint64    `json:"revision"`
	Origin    string    `json:"origin,omitempty"`
	At        time.Time `json:"at"`
}
