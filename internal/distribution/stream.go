package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamTransport is the replay tier: Redis Streams consumption via XREAD.
// It remembers the last delivered ID, so a reconnect resumes where it left
// off instead of dropping messages.
type StreamTransport struct {
	client *redis.Client
	stream string
	block  time.Duration

	lastID  string
	pending []Event
}

func NewStreamTransport(client *redis.Client, stream string) *StreamTransport {
	return &StreamTransport{client: client, stream: stream, block: 5 * time.Second}
}

func (t *StreamTransport) Name() string { return "stream" }

func (t *StreamTransport) Connect(ctx context.Context) error {
	if err := t.client.Ping(ctx).Err(); err != nil {
		return &TransportError{Transport: t.Name(), Err: err}
	}
	if t.lastID == "" {
		// First connect starts at the tail; reconnects keep their position.
		t.lastID = "$"
	}
	return nil
}

func (t *StreamTransport) Receive(ctx context.Context) (Event, error) {
	for {
		if len(t.pending) > 0 {
			event := t.pending[0]
			t.pending = t.pending[1:]
			return event, nil
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}

		streams, err := t.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{t.stream, t.lastID},
			Count:   64,
			Block:   t.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, &TransportError{Transport: t.Name(), Err: err}
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				t.lastID = msg.ID
				payload, ok := msg.Values["event"].(string)
				if !ok {
					continue
				}
				var event Event
				if err := json.Unmarshal([]byte(payload), &event); err != nil {
					return Event{}, &TransportError{Transport: t.Name(), Err: fmt.Errorf("decode entry %s: %w", msg.ID, err)}
				}
				t.pending = append(t.pending, event)
			}
		}
	}
}

func (t *StreamTransport) Close() error {
	t.pending = nil
	return nil
}
