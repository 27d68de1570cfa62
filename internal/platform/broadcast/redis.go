// Package broadcast publishes submission-completion events to Redis
// pub/sub, adapted from the teacher's RedisQueue.Broadcast/SubscribeLogs
// pair in internal/platform/queue/redis.go, generalized from "job output
// line" to "submission completion event" and used only as an optional,
// best-effort side channel for the status-stream websocket — never as the
// dispatcher's task queue (that stays an in-process bounded FIFO per
// spec.md §5's shared-state discipline, which a distributed Redis Streams
// consumer group cannot satisfy).
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dontdude/judgebox/internal/domain"
)

// Event is the envelope published for every completed submission.
type Event struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	ExitCode int64  `json:"exitCode"`
}

// Broadcaster publishes and subscribes to completion events. The no-op
// implementation is used when Redis is not configured, keeping the
// broadcast feature entirely off the critical path described in
// spec.md §8.
type Broadcaster interface {
	Publish(ctx context.Context, id string, result domain.SandboxResult) error
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// New returns a RedisBroadcaster if addr is non-empty, otherwise a Noop.
func New(addr, channel string) Broadcaster {
	if addr == "" {
		return Noop{}
	}
	return newRedisBroadcaster(addr, channel)
}

// Noop disables broadcasting. Subscribe returns a channel that is closed
// immediately.
type Noop struct{}

func (Noop) Publish(context.Context, string, domain.SandboxResult) error { return nil }
func (Noop) Subscribe(context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}
func (Noop) Close() error { return nil }

// RedisBroadcaster implements Broadcaster using Redis pub/sub.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

var _ Broadcaster = (*RedisBroadcaster)(nil)

func newRedisBroadcaster(addr, channel string) *RedisBroadcaster {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("broadcast: redis unreachable, completion events will not be published", "addr", addr, "error", err)
	}

	return &RedisBroadcaster{client: rdb, channel: channel}
}

// Publish publishes the submission's completion event to the channel.
func (r *RedisBroadcaster) Publish(ctx context.Context, id string, result domain.SandboxResult) error {
	event := Event{ID: id, Status: result.Status.String(), ExitCode: result.ExitCode}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe streams completion events published by any process sharing the
// same Redis channel, mirroring the teacher's SubscribeLogs.
func (r *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
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
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Error("broadcast: failed to unmarshal completion event", "error", err)
					continue
				}
				out <- event
			}
		}
	}()
	return out, nil
}

// Close releases the underlying Redis connection.
func (r *RedisBroadcaster) Close() error {
	return r.client.Close()
}
