package flow

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

// Snapshot captures a state as an immutable session record. Snapshot ids are
// ULIDs so history sorts by creation time.
func Snapshot(s model.FlowState, ownerID string, reason model.SessionReason, now time.Time) model.FlowSession {
	return model.FlowSession{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		SessionID: s.SessionID,
		OwnerID:   ownerID,
		Reason:    reason,
		CreatedAt: now,
		State:     s.Clone(),
	}
}
