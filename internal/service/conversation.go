// Package service provides business logic for the shopping assistant.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

// ConversationLog is the append-only conversation history.
type ConversationLog interface {
	Append(ctx context.Context, turn model.Turn) (uint64, error)
	List(ctx context.Context, userID, sessionID string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error)
}

// ConversationService records and replays conversation turns.
type ConversationService struct {
	log    ConversationLog
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service. A nil log
// disables recording.
func NewConversationService(log ConversationLog, lg *logger.Logger) *ConversationService {
	if lg == nil {
		lg = logger.Global()
	}
	return &ConversationService{log: log, logger: lg, now: time.Now}
}

// Record appends a turn. Failures are logged and counted, never returned:
// the flow must not block on history.
func (s *ConversationService) Record(ctx context.Context, userID, sessionID string, role model.Role, content string, hints map[string]any) {
	if s.log == nil {
		return
	}
	turn := model.Turn{
		ID:           uuid.Must(uuid.NewV7()).String(),
		SessionID:    sessionID,
		UserID:       userID,
		Role:         role,
		Content:      content,
		DisplayHints: hints,
		CreatedAt:    s.now(),
	}
	if _, err := s.log.Append(ctx, turn); err != nil {
		metrics.ConversationLogFailures.Inc()
		s.logger.WithUser(userID, sessionID).Warn("failed to record conversation turn",
			zap.String("role", string(role)),
			zap.Error(err),
		)
		return
	}
	metrics.TurnsTotal.WithLabelValues(string(role)).Inc()
}

// History returns the turns of a session after a sequence.
func (s *ConversationService) History(ctx context.Context, userID, sessionID string, afterSequence uint64, limit int) (*model.ListTurnsResponse, error) {
	if s.log == nil {
		return nil, apperr.NewUnconfigured("conversation history")
	}
	if sessionID == "" {
		return nil, apperr.NewValidation("session_id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	turns, lastSeq, hasMore, err := s.log.List(ctx, userID, sessionID, afterSequence, limit)
	if err != nil {
		return nil, apperr.NewStorageUnavailable("failed to list conversation turns", err)
	}

	return &model.ListTurnsResponse{
		Turns:        turns,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	}, nil
}
