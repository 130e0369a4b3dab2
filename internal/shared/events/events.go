package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeCreditsCharged is emitted after a tailoring debit commits.
const TypeCreditsCharged = "credits.charged"

// Event is the envelope written to the bus.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// Publisher delivers events after the fact. Implementations must not be
// relied on for ledger correctness.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

type redisPublishFunc interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher writes JSON events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  redisPublishFunc
	channel string
}

// NewRedisPublisher connects to addr and verifies it with a PING.
func NewRedisPublisher(ctx context.Context, addr, channel string) (*RedisPublisher, *redis.Client, error) {
	if addr == "" {
		return nil, nil, fmt.Errorf("missing REDIS_ADDR")
	}
	if channel == "" {
		channel = TypeCreditsCharged
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisPublisher{client: rdb, channel: channel}, rdb, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, raw).Err()
}

// RedisPinger adapts a redis client to the health check interface.
type RedisPinger struct {
	Client *redis.Client
}

func (p RedisPinger) PingContext(ctx context.Context) error {
	return p.Client.Ping(ctx).Err()
}

// MemoryPublisher records events in order. Used by tests and the
// in-memory setup.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by every Publish.
	Err error
}

func (p *MemoryPublisher) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
