// Package cluster fans room broadcasts out to other server instances over
// Redis pub/sub, so members connected to different instances still see each
// other's events.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/metrics"
)

const DefaultChannel = "synclink:broadcast"

const (
	ScopeRoom = "room"
	ScopeAll  = "all"
)

// Message is a broadcast produced on one instance for delivery on the others.
type Message struct {
	Instance string          `json:"instance"`
	Scope    string          `json:"scope"`
	Family   string          `json:"family,omitempty"`
	Room     string          `json:"room,omitempty"`
	Frame    json.RawMessage `json:"frame"`
}

type Bridge struct {
	rdb        *redis.Client
	channel    string
	instanceID string
	outbox     chan Message
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewRedisBridge(ctx context.Context, addr, channel string, logger *zap.Logger, m *metrics.Metrics) (*Bridge, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}

	return newBridge(rdb, channel, logger, m), nil
}

func newBridge(rdb *redis.Client, channel string, logger *zap.Logger, m *metrics.Metrics) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	b := &Bridge{
		rdb:        rdb,
		channel:    channel,
		instanceID: uuid.NewString(),
		outbox:     make(chan Message, 1024),
		metrics:    m,
	}
	b.logger = logger.Named("cluster").With(zap.String("instance", b.instanceID))
	return b
}

func (b *Bridge) InstanceID() string {
	return b.instanceID
}

// Publish queues msg for other instances without blocking. Messages are
// dropped when the outbox is full.
func (b *Bridge) Publish(msg Message) {
	msg.Instance = b.instanceID
	select {
	case b.outbox <- msg:
	default:
		b.logger.Warn("cluster outbox full, dropping broadcast", zap.String("scope", msg.Scope), zap.String("room", msg.Room))
	}
}

// Run publishes queued messages and hands messages from other instances to
// deliver until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, deliver func(Message)) {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed so early broadcasts are not missed
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			b.logger.Error("cluster subscribe failed", zap.Error(err))
		}
		return
	}
	b.logger.Info("subscribed to cluster channel", zap.String("channel", b.channel))

	go b.publishLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopping cluster subscriber")
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.logger.Warn("failed to unmarshal cluster message", zap.Error(err))
				continue
			}
			// Ignore our own broadcasts; they were delivered locally
			if msg.Instance == b.instanceID {
				continue
			}
			b.metrics.RecordCluster("in")
			deliver(msg)
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				b.logger.Error("failed to marshal cluster message", zap.Error(err))
				continue
			}
			if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
				b.logger.Warn("failed to publish cluster message", zap.Error(err))
				continue
			}
			b.metrics.RecordCluster("out")
		}
	}
}

func (b *Bridge) Close() error {
	return b.rdb.Close()
}
