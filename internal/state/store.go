// Package state holds the assistant state store: the single source of truth
// for each user's active flow session, with serialized updates and
// best-effort change notification.
package state

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const defaultTimeout = 3 * time.Second

var tracer = otel.Tracer("github.com/capitalize-ai/shopping-assistant/internal/state")

// ErrUnchanged may be returned by an updater to skip persisting and notifying.
var ErrUnchanged = errors.New("state unchanged")

// Backend persists one serialized FlowState per key.
type Backend interface {
	// Load returns the stored state and its revision; found is false when
	// nothing is stored for key.
	Load(ctx context.Context, key string) (s model.FlowState, revision uint64, found bool, err error)
	// Save stores the state and returns the new revision.
	Save(ctx context.Context, key string, s model.FlowState) (uint64, error)
}

// Notifier receives a change after every successful update. Delivery is
// best effort.
type Notifier interface {
	Notify(ctx context.Context, change model.StateChange)
}

// Notifiers fans a change out to several notifiers.
type Notifiers []Notifier

// Notify implements Notifier.
func (n Notifiers) Notify(ctx context.Context, change model.StateChange) {
	for _, notifier := range n {
		notifier.Notify(ctx, change)
	}
}

// Store serializes read-modify-write cycles per key.
type Store struct {
	backend  Backend
	notifier Notifier
	fresh    func() model.FlowState
	timeout  time.Duration
	locks    *keyedLocks
	logger   *logger.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Store) { s.logger = log }
}

// NewStore creates a store. fresh builds the state returned for keys with
// nothing persisted.
func NewStore(backend Backend, fresh func() model.FlowState, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		fresh:   fresh,
		timeout: defaultTimeout,
		locks:   newKeyedLocks(),
		logger:  logger.Global(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the last persisted state for key. A missing state is created
// fresh and persisted.
func (s *Store) Read(ctx context.Context, key string) (model.FlowState, error) {
	if key == "" {
		return model.FlowState{}, apperr.NewValidation("state key is required")
	}
	ctx, span := tracer.Start(ctx, "state.Read")
	defer span.End()

	st, _, found, err := s.load(ctx, key)
	if err != nil || found {
		return st, err
	}
	return s.materialize(ctx, key)
}

// materialize persists a fresh state for key so that its session id is
// stable across reads. A failed save is logged and the fresh state returned.
func (s *Store) materialize(ctx context.Context, key string) (model.FlowState, error) {
	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return model.FlowState{}, apperr.NewPersistence("timed out waiting for state lock", err)
	}
	defer unlock()

	st, _, found, err := s.load(ctx, key)
	if err != nil || found {
		return st, err
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.backend.Save(saveCtx, key, st); err != nil {
		metrics.StatePersistenceFailures.Inc()
		s.logger.Warn("failed to persist fresh assistant state", zap.String("key", key), zap.Error(err))
	}
	return st, nil
}

// Update applies fn to the current state for key and persists the result.
// Updates for the same key never interleave. If fn fails or the save fails
// the stored state is left untouched.
func (s *Store) Update(ctx context.Context, key string, fn func(model.FlowState) (model.FlowState, error)) (model.FlowState, error) {
	if key == "" {
		return model.FlowState{}, apperr.NewValidation("state key is required")
	}
	ctx, span := tracer.Start(ctx, "state.Update")
	defer span.End()

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return model.FlowState{}, apperr.NewPersistence("timed out waiting for state lock", err)
	}
	defer unlock()

	cur, _, _, err := s.load(ctx, key)
	if err != nil {
		return model.FlowState{}, err
	}

	next, err := fn(cur.Clone())
	if errors.Is(err, ErrUnchanged) {
		return cur, nil
	}
	if err != nil {
		return model.FlowState{}, err
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	revision, err := s.backend.Save(saveCtx, key, next)
	cancel()
	if err != nil {
		metrics.StatePersistenceFailures.Inc()
		s.logger.Error("failed to persist assistant state", zap.String("key", key), zap.Error(err))
		return model.FlowState{}, apperr.NewPersistence("failed to persist assistant state", err)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, model.StateChange{
			Key:       key,
			SessionID: next.SessionID,
			Step:      next.CurrentStep,
			Revision:  revision,
			At:        s.now(),
		})
	}
	return next, nil
}

// Reset replaces the state for key with a fresh one.
func (s *Store) Reset(ctx context.Context, key string) (model.FlowState, error) {
	return s.Update(ctx, key, func(model.FlowState) (model.FlowState, error) {
		return s.fresh(), nil
	})
}

func (s *Store) load(ctx context.Context, key string) (model.FlowState, uint64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	st, revision, found, err := s.backend.Load(ctx, key)
	if err != nil {
		s.logger.Error("failed to load assistant state", zap.String("key", key), zap.Error(err))
		return model.FlowState{}, 0, false, apperr.NewPersistence("failed to load assistant state", err)
	}
	if !found {
		return s.fresh(), 0, false, nil
	}
	return st, revision, true, nil
}
