package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wombat/api/internal/store"
)

const (
	DefaultChannel = "governance:events"
	DefaultStream  = "governance:stream"

	streamMaxLen = 4096
)

// Publisher writes each event to both the Pub/Sub channel (realtime tier)
// and the stream (replay tier), so consumers on either tier see it.
type Publisher struct {
	client  *redis.Client
	channel string
	stream  string
}

func NewPublisher(client *redis.Client, channel, stream string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if stream == "" {
		stream = DefaultStream
	}
	return &Publisher{client: client, channel: channel, stream: stream}
}

func (p *Publisher) PublishCreated(ctx context.Context, entry store.GovernanceLogEntry) error {
	return p.publish(ctx, Event{Type: EventCreated, Entry: entry, Timestamp: time.Now().UTC()})
}

func (p *Publisher) PublishUpdated(ctx context.Context, entry store.GovernanceLogEntry) error {
	return p.publish(ctx, Event{Type: EventUpdated, Entry: entry, Timestamp: time.Now().UTC()})
}

func (p *Publisher) publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return &TransportError{Transport: "realtime", Err: err}
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"event": string(payload)},
	}).Err()
	if err != nil {
		return &TransportError{Transport: "stream", Err: err}
	}
	return nil
}
