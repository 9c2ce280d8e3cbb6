package distribution

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Status is the externally visible connection state: which tier the service
// is on and since when.
type Status struct {
	State     string    `json:"state"`
	Transport string    `json:"transport,omitempty"`
	Since     time.Time `json:"since"`
}

// Options tune the reconnect behavior. Retries caps reconnect attempts after
// an established link drops; a tier that fails its initial connect is demoted
// immediately. The last tier retries forever.
type Options struct {
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	Retries       int
}

func (o Options) withDefaults() Options {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = 500 * time.Millisecond
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.Retries <= 0 {
		o.Retries = 6
	}
	return o
}

// subscriberBuffer bounds each subscriber's queue. A subscriber that falls
// this far behind loses events instead of stalling delivery to the others.
const subscriberBuffer = 64

// Service runs the tiered consumption loop: connect to the best transport
// and pump its events into the cache and subscribers. A tier that cannot
// connect is skipped; a dropped link is retried with exponential backoff and
// the tier demoted once the retry cap is spent. Once on the last tier the
// service stays there until Disconnect.
type Service struct {
	transports []Transport
	cache      *Cache
	opts       Options

	mu          sync.Mutex
	status      Status
	subscribers []chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService takes transports ordered best first. The last transport is the
// permanent floor and should only fail if the backing store is down.
func NewService(transports []Transport, cache *Cache, opts Options) *Service {
	if cache == nil {
		cache = NewCache(0)
	}
	return &Service{
		transports: transports,
		cache:      cache,
		opts:       opts.withDefaults(),
		status:     Status{State: StateDisconnected, Since: time.Now().UTC()},
	}
}

func (s *Service) Cache() *Cache { return s.cache }

// OnEvent registers a handler invoked for every received event. Each handler
// drains its own queue on its own goroutine, so a slow or panicking handler
// cannot stall delivery to the others or to the consumption loop.
func (s *Service) OnEvent(handler func(Event)) {
	ch := make(chan Event, subscriberBuffer)
	go func() {
		for event := range ch {
			invokeHandler(handler, event)
		}
	}()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, ch)
}

func invokeHandler(handler func(Event), event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("distribution: subscriber panicked on event %s: %v", event.Entry.ID, r)
		}
	}()
	handler(event)
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Start launches the consumption loop. Calling Start on a running service is
// a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Disconnect stops the loop and waits for it to exit. It is idempotent.
func (s *Service) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.setStatus(StateDisconnected, "")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	tier := 0
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		transport := s.transports[tier]
		s.setStatus(StateConnecting, transport.Name())

		if err := transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("distribution: connect %s: %v", transport.Name(), err)
			// A tier that fails its very first connect is skipped outright;
			// the backoff budget is for links that drop after being
			// established.
			if attempt == 0 && tier < len(s.transports)-1 {
				log.Printf("distribution: demoting from %s to %s", transport.Name(), s.transports[tier+1].Name())
				tier++
				continue
			}
			tier, attempt = s.nextAttempt(ctx, tier, attempt)
			continue
		}

		s.setStatus(StateConnected, transport.Name())
		delivered, err := s.consume(ctx, transport)
		transport.Close()
		if ctx.Err() != nil {
			return
		}
		// A link that carried traffic earns a fresh retry budget; one that
		// dropped before delivering anything keeps burning the old one.
		if delivered > 0 {
			attempt = 0
		}
		log.Printf("distribution: %s dropped: %v", transport.Name(), err)
		tier, attempt = s.nextAttempt(ctx, tier, attempt)
	}
}

// nextAttempt sleeps the backoff for the current attempt and decides whether
// to stay on the tier or demote.
func (s *Service) nextAttempt(ctx context.Context, tier, attempt int) (int, int) {
	attempt++
	if attempt >= s.opts.Retries && tier < len(s.transports)-1 {
		log.Printf("distribution: demoting from %s to %s", s.transports[tier].Name(), s.transports[tier+1].Name())
		return tier + 1, 0
	}

	timer := time.NewTimer(backoff(s.opts.ReconnectBase, s.opts.ReconnectMax, attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	return tier, attempt
}

func (s *Service) consume(ctx context.Context, transport Transport) (int, error) {
	delivered := 0
	for {
		event, err := transport.Receive(ctx)
		if err != nil {
			return delivered, err
		}
		s.dispatch(event)
		delivered++
	}
}

func (s *Service) dispatch(event Event) {
	switch event.Type {
	case EventDeleted:
		s.cache.Delete(event.Entry.ID)
	default:
		s.cache.Put(event.Entry)
	}

	s.mu.Lock()
	subscribers := s.subscribers
	s.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			log.Printf("distribution: subscriber queue full, dropping event %s", event.Entry.ID)
		}
	}
}

func (s *Service) setStatus(state, transport string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State == state && s.status.Transport == transport {
		return
	}
	s.status = Status{State: state, Transport: transport, Since: time.Now().UTC()}
}

// backoff doubles per attempt from base, capped at max. attempt starts at 1.
func backoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
