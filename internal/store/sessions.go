package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

const maxSessionLimit = 100

// SessionStore keeps flow session snapshots. It satisfies
// flow.SessionRecorder.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// RecordSession stores a snapshot. A snapshot for an already recorded
// SessionID is ignored.
func (s *SessionStore) RecordSession(ctx context.Context, fs model.FlowSession) error {
	data, err := json.Marshal(fs.State)
	if err != nil {
		return apperr.NewInternal(fmt.Errorf("failed to encode session state: %w", err))
	}
	_, err = s.db.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO flow_sessions (id, session_id, owner_id, reason, state_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`),
		fs.ID, fs.SessionID, fs.OwnerID, string(fs.Reason), string(data), toMillis(fs.CreatedAt))
	if err != nil {
		return s.db.unavailable("record session", err)
	}
	return nil
}

// ListSessions returns the owner's most recent snapshots, newest first.
func (s *SessionStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]model.FlowSession, error) {
	if limit <= 0 || limit > maxSessionLimit {
		limit = maxSessionLimit
	}
	rows, err := s.db.db.QueryContext(ctx, s.db.rebind(`
		SELECT id, session_id, owner_id, reason, state_json, created_at
		FROM flow_sessions
		WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), ownerID, limit)
	if err != nil {
		return nil, s.db.unavailable("list sessions", err)
	}
	defer rows.Close()

	out := []model.FlowSession{}
	for rows.Next() {
		var (
			fs        model.FlowSession
			reason    string
			stateJSON string
			createdAt int64
		)
		if err := rows.Scan(&fs.ID, &fs.SessionID, &fs.OwnerID, &reason, &stateJSON, &createdAt); err != nil {
			return nil, s.db.unavailable("list sessions", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &fs.State); err != nil {
			return nil, apperr.NewInternal(fmt.Errorf("failed to decode session %s: %w", fs.ID, err))
		}
		fs.Reason = model.SessionReason(reason)
		fs.CreatedAt = fromMillis(createdAt)
		out = append(out, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, s.db.unavailable("list sessions", err)
	}
	return out, nil
}

// CountSessions returns how many snapshots the owner has.
func (s *SessionStore) CountSessions(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.db.QueryRowContext(ctx, s.db.rebind(`SELECT COUNT(*) FROM flow_sessions WHERE owner_id = ?`), ownerID).Scan(&n)
	if err != nil {
		return 0, s.db.unavailable("count sessions", err)
	}
	return n, nil
}
