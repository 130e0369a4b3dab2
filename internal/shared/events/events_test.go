package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisPublisherWritesJSON(t *testing.T) {
	fake := &fakeRedis{}
	p := &RedisPublisher{client: fake, channel: "ledger"}

	err := p.Publish(context.Background(), Event{
		Type:   TypeCreditsCharged,
		UserID: "user-1",
		Data:   map[string]string{"amount": "1.50"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if fake.channel != "ledger" {
		t.Fatalf("unexpected channel %q", fake.channel)
	}
	var got Event
	if err := json.Unmarshal(fake.payload, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.Type != TypeCreditsCharged || got.UserID != "user-1" || got.OccurredAt.IsZero() {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestRedisPublisherSurfacesErrors(t *testing.T) {
	boom := errors.New("connection refused")
	p := &RedisPublisher{client: &fakeRedis{err: boom}, channel: "ledger"}
	if err := p.Publish(context.Background(), Event{Type: TypeCreditsCharged}); !errors.Is(err, boom) {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestMemoryPublisher(t *testing.T) {
	p := &MemoryPublisher{}
	_ = p.Publish(context.Background(), Event{Type: "a"})
	_ = p.Publish(context.Background(), Event{Type: "b"})
	got := p.Events()
	if len(got) != 2 || got[0].Type != "a" || got[1].Type != "b" {
		t.Fatalf("unexpected events: %+v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, Event{Type: "c"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
