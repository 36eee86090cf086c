package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	changesChannel = "docs:changes"
	publishTimeout = 5 * time.Second
)

// RedisBridge publishes document changes to Redis and replays remote ones into a Watcher.
type RedisBridge struct {
	client  *redis.Client
	watcher *Watcher
	logger  *zap.Logger
}

// NewRedisBridge creates a bridge and attaches it to watcher.
func NewRedisBridge(client *redis.Client, watcher *Watcher, logger *zap.Logger) *RedisBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &RedisBridge{client: client, watcher: watcher, logger: logger}
	watcher.SetBridge(b)
	return b
}

// PublishChange sends a local change to the other instances.
func (b *RedisBridge) PublishChange(ch Change) error {
	body, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	return b.client.Publish(ctx, changesChannel, body).Err()
}

// Run receives remote changes until ctx is done. Changes from this process are skipped.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, changesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe: %w", err)
	}
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				b.logger.Debug("skip malformed document change", zap.Error(err))
				continue
			}
			if change.Origin == b.watcher.Origin() {
				continue
			}
			b.watcher.Dispatch(change)
		}
	}
}
