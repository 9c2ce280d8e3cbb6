package distribution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"wombat/api/internal/store"
)

type fakeTransport struct {
	name       string
	connectErr error
	// connectErr applies to connect attempts numbered >= failConnectFrom
	// (1-based); zero fails every attempt.
	failConnectFrom int32
	receiveErr      error
	events          chan Event
	connects        int32
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, events: make(chan Event, 16)}
}

func (f *fakeTransport) Name() string { return f.name }

func (f *fakeTransport) Connect(ctx context.Context) error {
	n := atomic.AddInt32(&f.connects, 1)
	if f.connectErr != nil && (f.failConnectFrom == 0 || n >= f.failConnectFrom) {
		return f.connectErr
	}
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (Event, error) {
	if f.receiveErr != nil {
		return Event{}, f.receiveErr
	}
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case event := <-f.events:
		return event, nil
	}
}

func (f *fakeTransport) Close() error { return nil }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testOptions() Options {
	return Options{ReconnectBase: time.Millisecond, ReconnectMax: 5 * time.Millisecond, Retries: 2}
}

func TestServiceConnectsBestTier(t *testing.T) {
	realtime := newFakeTransport("realtime")
	floor := newFakeTransport("polling")
	svc := NewService([]Transport{realtime, floor}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool {
		st := svc.Status()
		return st.State == StateConnected && st.Transport == "realtime"
	})
	if atomic.LoadInt32(&floor.connects) != 0 {
		t.Error("floor tier should not be touched while the best tier is healthy")
	}
}

func TestServiceSkipsTierOnInitialConnectFailure(t *testing.T) {
	realtime := newFakeTransport("realtime")
	realtime.connectErr = errors.New("redis down")
	floor := newFakeTransport("polling")
	svc := NewService([]Transport{realtime, floor}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool {
		st := svc.Status()
		return st.State == StateConnected && st.Transport == "polling"
	})
	if got := atomic.LoadInt32(&realtime.connects); got != 1 {
		t.Errorf("realtime connect attempts = %d, want 1 (no retry budget before the first connect)", got)
	}
}

func TestServiceRetriesReconnectBeforeDemoting(t *testing.T) {
	stream := newFakeTransport("stream")
	stream.receiveErr = &TransportError{Transport: "stream", Err: errors.New("link reset")}
	stream.connectErr = errors.New("redis down")
	stream.failConnectFrom = 2
	floor := newFakeTransport("polling")
	svc := NewService([]Transport{stream, floor}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool {
		st := svc.Status()
		return st.State == StateConnected && st.Transport == "polling"
	})
	// First connect succeeds and the link drops; the reconnect burns the
	// remaining budget before the tier is abandoned.
	if got := atomic.LoadInt32(&stream.connects); got != 2 {
		t.Errorf("stream connect attempts = %d, want 2", got)
	}
}

func TestServiceDemotesOnReceiveFailure(t *testing.T) {
	stream := newFakeTransport("stream")
	stream.receiveErr = &TransportError{Transport: "stream", Err: errors.New("link reset")}
	floor := newFakeTransport("polling")
	svc := NewService([]Transport{stream, floor}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool {
		return svc.Status().Transport == "polling" && svc.Status().State == StateConnected
	})
}

func TestServiceStaysOnFloorTier(t *testing.T) {
	floor := newFakeTransport("polling")
	floor.connectErr = errors.New("database down")
	svc := NewService([]Transport{floor}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	// The last tier has no demotion target; it must keep retrying well past
	// the per-tier cap.
	waitFor(t, time.Second, func() bool {
		return atomic.LoadInt32(&floor.connects) > 5
	})
	if svc.Status().State == StateConnected {
		t.Error("service cannot be connected while the floor keeps failing")
	}
}

func TestServiceDispatchesEventsToCacheAndHandlers(t *testing.T) {
	realtime := newFakeTransport("realtime")
	svc := NewService([]Transport{realtime, newFakeTransport("polling")}, nil, testOptions())

	received := make(chan Event, 1)
	svc.OnEvent(func(event Event) { received <- event })
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool { return svc.Status().State == StateConnected })
	realtime.events <- Event{Type: EventCreated, Entry: store.GovernanceLogEntry{ID: "L1", Summary: "hello"}}

	select {
	case event := <-received:
		if event.Entry.ID != "L1" {
			t.Errorf("handler got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
	waitFor(t, time.Second, func() bool {
		_, ok := svc.Cache().Get("L1")
		return ok
	})
}

func TestServiceSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	realtime := newFakeTransport("realtime")
	svc := NewService([]Transport{realtime, newFakeTransport("polling")}, nil, testOptions())

	stall := make(chan struct{})
	svc.OnEvent(func(Event) { <-stall })
	defer close(stall)
	received := make(chan Event, 1)
	svc.OnEvent(func(event Event) { received <- event })

	svc.Start()
	defer svc.Disconnect()
	waitFor(t, time.Second, func() bool { return svc.Status().State == StateConnected })

	realtime.events <- Event{Type: EventCreated, Entry: store.GovernanceLogEntry{ID: "L1"}}
	select {
	case event := <-received:
		if event.Entry.ID != "L1" {
			t.Errorf("handler got %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("stalled subscriber blocked delivery to the other")
	}
}

func TestServicePanickingSubscriberIsIsolated(t *testing.T) {
	realtime := newFakeTransport("realtime")
	svc := NewService([]Transport{realtime, newFakeTransport("polling")}, nil, testOptions())

	svc.OnEvent(func(Event) { panic("subscriber bug") })
	received := make(chan Event, 2)
	svc.OnEvent(func(event Event) { received <- event })

	svc.Start()
	defer svc.Disconnect()
	waitFor(t, time.Second, func() bool { return svc.Status().State == StateConnected })

	// Both events survive the panicking neighbor, and the loop keeps running.
	for _, id := range []string{"L1", "L2"} {
		realtime.events <- Event{Type: EventCreated, Entry: store.GovernanceLogEntry{ID: id}}
	}
	for _, want := range []string{"L1", "L2"} {
		select {
		case event := <-received:
			if event.Entry.ID != want {
				t.Errorf("entry = %s, want %s", event.Entry.ID, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("event %s never delivered", want)
		}
	}
	if svc.Status().State != StateConnected {
		t.Error("service must stay connected through a subscriber panic")
	}
}

func TestServiceDeleteEventEvictsCacheEntry(t *testing.T) {
	realtime := newFakeTransport("realtime")
	svc := NewService([]Transport{realtime, newFakeTransport("polling")}, nil, testOptions())
	svc.Start()
	defer svc.Disconnect()

	waitFor(t, time.Second, func() bool { return svc.Status().State == StateConnected })
	realtime.events <- Event{Type: EventCreated, Entry: store.GovernanceLogEntry{ID: "L1"}}
	waitFor(t, time.Second, func() bool { _, ok := svc.Cache().Get("L1"); return ok })

	realtime.events <- Event{Type: EventDeleted, Entry: store.GovernanceLogEntry{ID: "L1"}}
	waitFor(t, time.Second, func() bool { _, ok := svc.Cache().Get("L1"); return !ok })
}

func TestDisconnectIsIdempotent(t *testing.T) {
	svc := NewService([]Transport{newFakeTransport("polling")}, nil, testOptions())
	svc.Disconnect()

	svc.Start()
	waitFor(t, time.Second, func() bool { return svc.Status().State == StateConnected })
	svc.Disconnect()
	svc.Disconnect()

	if st := svc.Status(); st.State != StateDisconnected {
		t.Errorf("state = %s, want disconnected", st.State)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	max := 30 * time.Second
	want := []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, expected := range want {
		if got := backoff(base, max, i+1); got != expected {
			t.Errorf("backoff(attempt %d) = %v, want %v", i+1, got, expected)
		}
	}
}
