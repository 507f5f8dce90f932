package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sarathsp06/courier/internal/logger"
)

// Notifier carries "new work is ready" signals from producers to workers.
// Signals are hints: a dropped or duplicated wake-up only changes latency,
// because workers still poll the store on an interval.
type Notifier interface {
	Notify(ctx context.Context)
	Wake() <-chan struct{}
	Close() error
}

// LocalNotifier hands wake-ups to workers in the same process through a
// buffered channel. A full buffer means workers already have pending signals.
type LocalNotifier struct {
	ch chan struct{}
}

// NewLocalNotifier creates a notifier that can buffer up to capacity signals,
// typically the worker count.
func NewLocalNotifier(capacity int) *LocalNotifier {
	if capacity < 1 {
		capacity = 1
	}
	return &LocalNotifier{ch: make(chan struct{}, capacity)}
}

func (n *LocalNotifier) Notify(context.Context) {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

func (n *LocalNotifier) Wake() <-chan struct{} { return n.ch }

func (n *LocalNotifier) Close() error { return nil }

// DefaultRedisChannel is the pub/sub channel used by RedisNotifier.
const DefaultRedisChannel = "courier:deliveries:ready"

// RedisNotifier fans wake-ups out to every process sharing the same store.
// Each published message is re-delivered into a local channel.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	local   *LocalNotifier
	pubsub  *redis.PubSub
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewRedisNotifier subscribes to channel and starts relaying messages.
func NewRedisNotifier(ctx context.Context, rdb *redis.Client, channel string, capacity int) (*RedisNotifier, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	ps := rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no early publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	n := &RedisNotifier{
		rdb:     rdb,
		channel: channel,
		local:   NewLocalNotifier(capacity),
		pubsub:  ps,
		logger:  logger.NewLogger("redis-notifier"),
		done:    make(chan struct{}),
	}
	go n.relay()
	return n, nil
}

func (n *RedisNotifier) relay() {
	defer close(n.done)
	for range n.pubsub.Channel() {
		n.local.Notify(context.Background())
	}
}

// Notify publishes a wake-up. Publish failures are logged and otherwise
// ignored; the local process is woken regardless.
func (n *RedisNotifier) Notify(ctx context.Context) {
	n.local.Notify(ctx)
	if err := n.rdb.Publish(ctx, n.channel, "ready").Err(); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Warn("Failed to publish wake-up", "channel", n.channel, "error", err)
	}
}

func (n *RedisNotifier) Wake() <-chan struct{} { return n.local.Wake() }

// Close stops the subscription. The Redis client is owned by the caller.
func (n *RedisNotifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		err = n.pubsub.Close()
		<-n.done
	})
	return err
}
