package flow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/internal/state"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

// SessionRecorder keeps the history of finished and abandoned sessions.
type SessionRecorder interface {
	// RecordSession stores a snapshot. Recording a second snapshot for the
	// same SessionID is a no-op.
	RecordSession(ctx context.Context, s model.FlowSession) error
	ListSessions(ctx context.Context, ownerID string, limit int) ([]model.FlowSession, error)
}

// Manager drives each user's active session through the engine, persisting
// every transition in the state store.
type Manager struct {
	engine   *Engine
	states   *state.Store
	sessions SessionRecorder
	now      func() time.Time
	logger   *logger.Logger
}

// NewManager creates a manager. sessions may be nil, in which case no
// history is kept.
func NewManager(engine *Engine, states *state.Store, sessions SessionRecorder, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Global()
	}
	return &Manager{
		engine:   engine,
		states:   states,
		sessions: sessions,
		now:      engine.now,
		logger:   log,
	}
}

// Engine returns the manager's engine.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Current returns the user's active session state.
func (m *Manager) Current(ctx context.Context, ownerID string) (model.FlowState, error) {
	s, err := m.states.Read(ctx, ownerID)
	if err != nil {
		return model.FlowState{}, err
	}
	s.CurrentStep = DeriveStep(m.engine.def, s)
	return s, nil
}

// Advance applies in to the user's active session. When the new state cannot
// be persisted the stored state is unchanged and a retry with the same input
// attempts the same transition again.
func (m *Manager) Advance(ctx context.Context, ownerID string, in Input) (Transition, error) {
	var tr Transition
	_, err := m.states.Update(ctx, ownerID, func(cur model.FlowState) (model.FlowState, error) {
		t, err := m.engine.Advance(ctx, ownerID, cur, in)
		if err != nil {
			return cur, err
		}
		tr = t
		if !t.Changed() {
			return cur, state.ErrUnchanged
		}
		return t.State, nil
	})
	if err != nil {
		return Transition{}, err
	}

	if tr.Changed() && tr.State.CurrentStep == model.StepComplete {
		metrics.RecordSessionEnded(string(model.ReasonCompleted))
		// A failed snapshot is retried by Abandon or Restart.
		if err := m.record(ctx, ownerID, tr.State, model.ReasonCompleted); err != nil {
			m.logger.Error("failed to record completed session",
				zap.String("session_id", tr.State.SessionID),
				zap.Error(err),
			)
		}
	}
	return tr, nil
}

// Abandon records the active session in history, unless nothing was
// answered, and starts a fresh one. A completed session is recorded as
// completed.
func (m *Manager) Abandon(ctx context.Context, ownerID string) (model.FlowState, error) {
	return m.states.Update(ctx, ownerID, func(cur model.FlowState) (model.FlowState, error) {
		if err := m.close(ctx, ownerID, cur); err != nil {
			return cur, err
		}
		return m.engine.NewSession(), nil
	})
}

// Restart starts a fresh session, closing the current one like Abandon.
func (m *Manager) Restart(ctx context.Context, ownerID string) (model.FlowState, error) {
	return m.states.Update(ctx, ownerID, func(cur model.FlowState) (model.FlowState, error) {
		if err := m.close(ctx, ownerID, cur); err != nil {
			return cur, err
		}
		return m.engine.NewSession(), nil
	})
}

// close snapshots cur before it is replaced. Completed sessions were usually
// recorded by Advance already; RecordSession ignores the repeat.
func (m *Manager) close(ctx context.Context, ownerID string, cur model.FlowState) error {
	switch {
	case DeriveStep(m.engine.def, cur) == model.StepComplete:
		return m.record(ctx, ownerID, cur, model.ReasonCompleted)
	case !cur.IsFresh():
		if err := m.record(ctx, ownerID, cur, model.ReasonAbandoned); err != nil {
			return err
		}
		metrics.RecordSessionEnded(string(model.ReasonAbandoned))
	}
	return nil
}

// Sessions returns the user's most recent session snapshots, newest first.
func (m *Manager) Sessions(ctx context.Context, ownerID string, limit int) ([]model.FlowSession, error) {
	if m.sessions == nil {
		return []model.FlowSession{}, nil
	}
	return m.sessions.ListSessions(ctx, ownerID, limit)
}

func (m *Manager) record(ctx context.Context, ownerID string, s model.FlowState, reason model.SessionReason) error {
	if m.sessions == nil {
		return nil
	}
	s.CurrentStep = DeriveStep(m.engine.def, s)
	return m.sessions.RecordSession(ctx, Snapshot(s, ownerID, reason, m.now()))
}
