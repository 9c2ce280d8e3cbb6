package distribution

import (
	"context"
	"time"

	"wombat/api/internal/store"
)

type logLister interface {
	ListGovernanceLogsSince(ctx context.Context, since time.Time, afterID string, limit int) ([]store.GovernanceLogEntry, error)
}

// PollingTransport is the floor tier: periodic reads straight from the
// database. Higher latency, but available whenever the database is. New
// entries are detected by a (created_at, id) keyset watermark, so a batch
// boundary inside a run of identical timestamps loses nothing.
type PollingTransport struct {
	lister   logLister
	interval time.Duration

	since   time.Time
	sinceID string
	pending []store.GovernanceLogEntry
}

func NewPollingTransport(lister logLister, interval time.Duration) *PollingTransport {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingTransport{lister: lister, interval: interval}
}

func (t *PollingTransport) Name() string { return "polling" }

func (t *PollingTransport) Connect(ctx context.Context) error {
	if t.since.IsZero() {
		t.since = time.Now().UTC()
	}
	// Probe the read path so a down database fails the connect, not the loop.
	if _, err := t.lister.ListGovernanceLogsSince(ctx, t.since, t.sinceID, 1); err != nil {
		return &TransportError{Transport: t.Name(), Err: err}
	}
	return nil
}

func (t *PollingTransport) Receive(ctx context.Context) (Event, error) {
	for {
		if len(t.pending) > 0 {
			entry := t.pending[0]
			t.pending = t.pending[1:]
			return Event{Type: EventCreated, Entry: entry, Timestamp: entry.CreatedAt}, nil
		}

		entries, err := t.lister.ListGovernanceLogsSince(ctx, t.since, t.sinceID, 256)
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, &TransportError{Transport: t.Name(), Err: err}
		}
		if len(entries) > 0 {
			last := entries[len(entries)-1]
			t.since = last.CreatedAt
			t.sinceID = last.ID
			t.pending = entries
			continue
		}

		timer := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Event{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *PollingTransport) Close() error {
	t.pending = nil
	return nil
}
