package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
	"github.com/capitalize-ai/shopping-assistant/pkg/logger"
)

// NotifySubjectPrefix prefixes the core NATS subjects carrying state changes.
const NotifySubjectPrefix = "assistant.state"

// LocalNotifier receives changes relayed from other instances.
type LocalNotifier interface {
	Notify(ctx context.Context, change model.StateChange)
}

// Notifier relays state changes between service instances over core NATS.
// Delivery is at most once; observers re-read the store on every change.
type Notifier struct {
	client *Client
	origin string
	logger *logger.Logger
	sub    *nats.Subscription
}

// NewNotifier creates a notifier with a unique origin id for this instance.
func NewNotifier(client *Client, log *logger.Logger) *Notifier {
	return &Notifier{
		client: client,
		origin: uuid.NewString(),
		logger: log,
	}
}

// Origin returns this instance's id.
func (n *Notifier) Origin() string {
	return n.origin
}

// NotifySubject returns the subject for a user's state changes.
func NotifySubject(key string) string {
	return fmt.Sprintf("%s.%s", NotifySubjectPrefix, subjectToken(key))
}

// Notify implements state.Notifier by publishing the change.
func (n *Notifier) Notify(_ context.Context, change model.StateChange) {
	change.Origin = n.origin
	data, err := json.Marshal(change)
	if err != nil {
		n.logger.Warn("failed to marshal state change", zap.Error(err))
		return
	}
	if err := n.client.Conn().Publish(NotifySubject(change.Key), data); err != nil {
		n.logger.Warn("failed to publish state change", zap.String("key", change.Key), zap.Error(err))
	}
}

// Forward subscribes to changes from other instances and hands them to local.
func (n *Notifier) Forward(local LocalNotifier) error {
	sub, err := n.client.Conn().Subscribe(NotifySubjectPrefix+".*", func(msg *nats.Msg) {
		var change model.StateChange
		if err := json.Unmarshal(msg.Data, &change); err != nil {
			n.logger.Warn("dropping malformed state change", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if change.Origin == n.origin {
			return
		}
		local.Notify(context.Background(), change)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to state changes: %w", err)
	}
	n.sub = sub
	return nil
}

// Close stops forwarding.
func (n *Notifier) Close() error {
	if n.sub == nil {
		return nil
	}
	return n.sub.Unsubscribe()
}
