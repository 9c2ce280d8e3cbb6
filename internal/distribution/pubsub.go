package distribution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PubSubTransport is the realtime tier: Redis Pub/Sub delivery with no replay.
// Messages published while disconnected are lost, which is why the stream
// tier sits underneath it.
type PubSubTransport struct {
	client  *redis.Client
	channel string
	// The client reconnects the subscription silently, so a dead server has
	// to be detected by pinging between messages.
	pingInterval time.Duration

	sub *redis.PubSub
	ch  <-chan *redis.Message
}

func NewPubSubTransport(client *redis.Client, channel string) *PubSubTransport {
	return &PubSubTransport{client: client, channel: channel, pingInterval: 5 * time.Second}
}

func (t *PubSubTransport) Name() string { return "realtime" }

func (t *PubSubTransport) Connect(ctx context.Context) error {
	sub := t.client.Subscribe(ctx, t.channel)
	// Force the SUBSCRIBE round trip so a dead server fails here, not on the
	// first Receive.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return &TransportError{Transport: t.Name(), Err: err}
	}
	t.sub = sub
	t.ch = sub.Channel()
	return nil
}

func (t *PubSubTransport) Receive(ctx context.Context) (Event, error) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case msg, ok := <-t.ch:
			if !ok {
				return Event{}, &TransportError{Transport: t.Name(), Err: errors.New("subscription closed")}
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				return Event{}, &TransportError{Transport: t.Name(), Err: fmt.Errorf("decode event: %w", err)}
			}
			return event, nil
		case <-ticker.C:
			if err := t.client.Ping(ctx).Err(); err != nil {
				return Event{}, &TransportError{Transport: t.Name(), Err: fmt.Errorf("liveness ping: %w", err)}
			}
		}
	}
}

func (t *PubSubTransport) Close() error {
	if t.sub == nil {
		return nil
	}
	err := t.sub.Close()
	t.sub = nil
	t.ch = nil
	return err
}
