package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/metrics"
)

const (
	// StreamName is the name of the conversation log stream.
	StreamName = "ASSISTANT_CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "chat"

	maxFetch = 200
)

// ConversationLog is the append-only conversation history kept in a
// JetStream stream, one subject per user session and role.
type ConversationLog struct {
	client *Client
}

// NewConversationLog creates a conversation log.
func NewConversationLog(client *Client) *ConversationLog {
	return &ConversationLog{client: client}
}

// EnsureStream ensures the conversation stream exists with proper configuration.
func (l *ConversationLog) EnsureStream(ctx context.Context) error {
	js := l.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return l.UpdateMetrics(ctx)
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Shopping assistant conversation turns",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// UpdateMetrics refreshes the stream size gauges.
func (l *ConversationLog) UpdateMetrics(ctx context.Context) error {
	stream, err := l.client.JetStream().Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("failed to get stream: %w", err)
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(info.State.Msgs))
	metrics.NATSStreamBytes.WithLabelValues(StreamName).Set(float64(info.State.Bytes))
	return nil
}

// TurnSubject returns the subject a turn is published on.
func TurnSubject(userID, sessionID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.%s.turn.%s", SubjectPrefix, subjectToken(userID), subjectToken(sessionID), role)
}

// SessionFilter returns the filter subject for every turn of a session.
func SessionFilter(userID, sessionID string) string {
	return fmt.Sprintf("%s.%s.%s.turn.>", SubjectPrefix, subjectToken(userID), subjectToken(sessionID))
}

// subjectToken encodes an identifier so it is always a single subject token.
func subjectToken(id string) string {
	if isSafeToken(id) {
		return id
	}
	return "b64_" + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func isSafeToken(id string) bool {
	if id == "" || strings.HasPrefix(id, "b64_") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Append publishes a turn and returns its stream sequence.
func (l *ConversationLog) Append(ctx context.Context, turn model.Turn) (uint64, error) {
	if !turn.Role.Valid() {
		return 0, fmt.Errorf("invalid role %q", turn.Role)
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	ack, err := l.client.JetStream().Publish(ctx, TurnSubject(turn.UserID, turn.SessionID, turn.Role), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish turn: %w", err)
	}
	return ack.Sequence, nil
}

// List retrieves the turns of a session after a stream sequence.
func (l *ConversationLog) List(ctx context.Context, userID, sessionID string, afterSequence uint64, limit int) ([]model.Turn, uint64, bool, error) {
	if limit <= 0 || limit > maxFetch {
		limit = maxFetch
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject:     SessionFilter(userID, sessionID),
		AckPolicy:         jetstream.AckNonePolicy,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
		InactiveThreshold: 30 * time.Second,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := l.client.JetStream().CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to create consumer: %w", err)
	}

	info := consumer.CachedInfo()
	pending := uint64(0)
	if info != nil {
		pending = info.NumPending
	}
	if pending == 0 {
		return []model.Turn{}, afterSequence, false, nil
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to fetch turns: %w", err)
	}

	turns := make([]model.Turn, 0, limit)
	lastSequence := afterSequence
	for msg := range batch.Messages() {
		var turn model.Turn
		if err := json.Unmarshal(msg.Data(), &turn); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			turn.Sequence = meta.Sequence.Stream
			lastSequence = meta.Sequence.Stream
		}
		turns = append(turns, turn)
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
		return nil, 0, false, fmt.Errorf("batch error: %w", err)
	}

	hasMore := uint64(len(turns)) < pending
	return turns, lastSequence, hasMore, nil
}
