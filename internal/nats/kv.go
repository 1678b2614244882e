package nats

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/shopping-assistant/internal/model"
)

// StateBucket is the key-value bucket holding one assistant state per user.
const StateBucket = "ASSISTANT_STATE"

// KVBackend persists assistant state in a JetStream key-value bucket.
type KVBackend struct {
	kv jetstream.KeyValue
}

// NewKVBackend opens the state bucket, creating it if needed.
func NewKVBackend(ctx context.Context, client *Client) (*KVBackend, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, StateBucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      StateBucket,
			Description: "Active shopping assistant session per user",
			History:     5,
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open state bucket: %w", err)
	}
	return &KVBackend{kv: kv}, nil
}

// stateKey maps a user id onto the bucket's key alphabet.
func stateKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// Load implements state.Backend.
func (b *KVBackend) Load(ctx context.Context, key string) (model.FlowState, uint64, bool, error) {
	entry, err := b.kv.Get(ctx, stateKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.FlowState{}, 0, false, nil
	}
	if err != nil {
		return model.FlowState{}, 0, false, fmt.Errorf("failed to get state: %w", err)
	}

	var s model.FlowState
	if err := json.Unmarshal(entry.Value(), &s); err != nil {
		return model.FlowState{}, 0, false, fmt.Errorf("failed to decode state: %w", err)
	}
	return s, entry.Revision(), true, nil
}

// Save implements state.Backend.
func (b *KVBackend) Save(ctx context.Context, key string, s model.FlowState) (uint64, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("failed to encode state: %w", err)
	}
	revision, err := b.kv.Put(ctx, stateKey(key), data)
	if err != nil {
		return 0, fmt.Errorf("failed to put state: %w", err)
	}
	return revision, nil
}
