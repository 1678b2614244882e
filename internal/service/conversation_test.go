package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/shopping-assistant/internal/apperr"
	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

func TestConversationService_RecordAndHistory(t *testing.T) {
	log := &memoryLog{}
	svc := NewConversationService(log, logger.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Record(ctx, user, "s1", model.RoleUser, "hi", nil)
	}
	svc.Record(ctx, user, "s2", model.RoleUser, "other session", nil)

	page, err := svc.History(ctx, user, "s1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page.Turns, 2)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.Turns[0].ID)

	rest, err := svc.History(ctx, user, "s1", page.LastSequence, 2)
	require.NoError(t, err)
	require.Len(t, rest.Turns, 1)
	assert.False(t, rest.HasMore)
}

func TestConversationService_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewConversationService(nil, logger.NewNop()).History(ctx, user, "s1", 0, 10)
	assert.True(t, apperr.Is(err, apperr.CodeUnconfigured))

	svc := NewConversationService(&memoryLog{err: errUnavailable}, logger.NewNop())
	_, err = svc.History(ctx, user, "", 0, 10)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	_, err = svc.History(ctx, user, "s1", 0, 10)
	assert.True(t, apperr.Is(err, apperr.CodeStorageUnavailable))

	// Recording never panics or blocks on a broken log.
	svc.Record(ctx, user, "s1", model.RoleAssistant, "hello", map[string]any{"step": "entry"})
}
