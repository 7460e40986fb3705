package redisstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/keycache/cache"
)

// DefaultChannel carries refresh signals when no channel is configured.
const DefaultChannel = "keycache:refresh"

// Notifier publishes and receives cache.RefreshSignal over Redis Pub/Sub.
// Payloads are JSON: {"key":"...","origin":"..."}.
type Notifier struct {
	client  *redis.Client
	channel string
	onError func(error)
}

// NewNotifier creates a notifier on channel (DefaultChannel when empty).
// onError, if non-nil, receives malformed payload errors.
func NewNotifier(client *redis.Client, channel string, onError func(error)) *Notifier {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Notifier{client: client, channel: channel, onError: onError}
}

// Channel returns the Pub/Sub channel name.
func (n *Notifier) Channel() string { return n.channel }

func (n *Notifier) Publish(ctx context.Context, sig cache.RefreshSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Subscribe confirms the subscription, then delivers signals from a
// goroutine until ctx is cancelled.
func (n *Notifier) Subscribe(ctx context.Context, handle func(context.Context, cache.RefreshSignal)) error {
	pubsub := n.client.Subscribe(ctx, n.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redisstore: subscribe %s: %w", n.channel, err)
	}

	go func() {
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var sig cache.RefreshSignal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil || sig.Key == "" {
					if n.onError != nil {
						n.onError(fmt.Errorf("redisstore: malformed refresh payload %q: %v", msg.Payload, err))
					}
					continue
				}
				handle(ctx, sig)
			}
		}
	}()
	return nil
}

var _ cache.Notifier = (*Notifier)(nil)
