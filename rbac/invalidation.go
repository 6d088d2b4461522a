package rbac

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Notifier carries cache invalidations to other engines sharing the same
// stores. An empty userID means every user.
type Notifier interface {
	Notify(ctx context.Context, userID string) error
}

// WithNotifier publishes every local invalidation through n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

const (
	invalidateAllPayload  = "*"
	invalidateUserPayload = "user:"
)

// InvalidationChannel is the pub/sub channel used under prefix.
func InvalidationChannel(prefix string) string {
	if prefix == "" {
		prefix = "gi"
	}
	return prefix + ":rbac:invalidate"
}

// RedisInvalidator fans cache invalidations out over Redis pub/sub so
// every replica, and out-of-band writers such as the seeder, can drop
// decisions they no longer own. Delivery is at most once: a subscriber
// that is reconnecting misses messages and falls back to the cache TTL.
type RedisInvalidator struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisInvalidator returns an invalidator publishing on channel.
func NewRedisInvalidator(client redis.UniversalClient, channel string) *RedisInvalidator {
	return &RedisInvalidator{client: client, channel: channel}
}

// Notify publishes an invalidation for userID, or for everyone when
// userID is empty.
func (r *RedisInvalidator) Notify(ctx context.Context, userID string) error {
	payload := invalidateAllPayload
	if userID != "" {
		payload = invalidateUserPayload + userID
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish rbac invalidation: %w", err)
	}
	return nil
}

// Attach subscribes e to the channel. It returns once the subscription is
// confirmed; the returned func unsubscribes and waits for the listener.
func (r *RedisInvalidator) Attach(ctx context.Context, e *Engine) (func() error, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe rbac invalidations: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			e.applyInvalidation(msg.Payload)
		}
	}()

	return func() error {
		err := ps.Close()
		<-done
		return err
	}, nil
}

func (e *Engine) applyInvalidation(payload string) {
	switch {
	case payload == invalidateAllPayload:
		e.InvalidateAll()
	case strings.HasPrefix(payload, invalidateUserPayload):
		if id := strings.TrimPrefix(payload, invalidateUserPayload); id != "" {
			e.Invalidate(id)
		}
	default:
		e.logger.Warn("unknown rbac invalidation", "payload", payload)
	}
}

// changed drops userID locally and tells the other engines.
func (e *Engine) changed(ctx context.Context, userID string) {
	e.Invalidate(userID)
	e.notify(ctx, userID)
}

// changedAll drops every decision locally and tells the other engines.
func (e *Engine) changedAll(ctx context.Context) {
	e.InvalidateAll()
	e.notify(ctx, "")
}

func (e *Engine) notify(ctx context.Context, userID string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(context.WithoutCancel(ctx), userID); err != nil {
		e.logger.Warn("rbac invalidation not published", "user_id", userID, "error", err)
	}
}
