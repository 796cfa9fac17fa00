// Package notify gives operators a cheap, best-effort fan-out of "this
// job just fired" events for live dashboards, independent of the durable
// downstream queue in internal/dispatch. A dropped notification loses
// nothing the Hub itself is responsible for.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.chronowheel.dev/internal/common/metrics"
	"go.chronowheel.dev/internal/scheduler"
)

// drainedJobEvent is the JSON shape published to the notification channel.
type drainedJobEvent struct {
	JobID       string `json:"jobId"`
	TriggerAtMs uint64 `json:"triggerAtMs"`
}

// RedisNotifier publishes drained-job events to a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier connects to redisURL and returns a notifier publishing
// to channel.
func NewRedisNotifier(redisURL, channel string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisNotifier{client: client, channel: channel}, nil
}

// Notify publishes a best-effort drain event. Failures are returned to
// the caller to log/count but never retried.
func (n *RedisNotifier) Notify(ctx context.Context, j scheduler.DrainedJob) error {
	payload, err := json.Marshal(drainedJobEvent{JobID: j.ID.String(), TriggerAtMs: j.TriggerAtMs})
	if err != nil {
		metrics.NotifyPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("encode drain event: %w", err)
	}

	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		metrics.NotifyPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish drain event: %w", err)
	}

	metrics.NotifyPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close closes the underlying Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// NoopNotifier discards every notification. It is the zero-config
// default when no Redis channel is configured.
type NoopNotifier struct{}

// Notify does nothing and never fails.
func (NoopNotifier) Notify(ctx context.Context, j scheduler.DrainedJob) error {
	return nil
}
