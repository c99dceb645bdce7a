// Package eventbus is the in-process broadcast channel between the
// coordinator and its observers (gateway clients, metrics).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"permgate/internal/domain"
)

var _ domain.EventBus = (*Bus)(nil)

// Bus delivers events to each subscriber in publish order. Publish never
// blocks on a handler: every subscriber owns a queue that is drained by at
// most one goroutine at a time.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool
	nextID atomic.Uint64
	wg     conc.WaitGroup
	logger *slog.Logger
}

type delivery struct {
	ctx   context.Context
	event domain.Event
}

type subscriber struct {
	id      uint64
	typ     domain.EventType // empty matches every event
	handler domain.EventHandler
	removed atomic.Bool

	mu       sync.Mutex
	queue    []delivery
	draining bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger.With("component", "eventbus")}
}

// NewEvent builds an event envelope with a fresh ULID and a JSON payload.
func NewEvent(eventType domain.EventType, payload any) (domain.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return domain.Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// Publish queues event for every matching subscriber. The handler context
// keeps ctx's values but not its cancellation, since delivery outlives the
// call. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	d := delivery{ctx: context.WithoutCancel(ctx), event: event}

	// Held for reading until every drain goroutine is registered, so Close
	// cannot start waiting in between.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.typ == "" || s.typ == event.Type {
			b.enqueue(s, d)
		}
	}
}

func (b *Bus) enqueue(s *subscriber, d delivery) {
	s.mu.Lock()
	s.queue = append(s.queue, d)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	b.wg.Go(func() { b.drain(s) })
}

func (b *Bus) drain(s *subscriber) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.removed.Load() {
			continue
		}
		var pc panics.Catcher
		pc.Try(func() { s.handler(d.ctx, d.event) })
		if r := pc.Recovered(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(d.event.Type),
				"subscriber", s.id,
				"panic", r.Value,
			)
		}
	}
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function. Events still queued for it are dropped.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	return b.add("", handler)
}

func (b *Bus) add(eventType domain.EventType, handler domain.EventHandler) func() {
	s := &subscriber{id: b.nextID.Add(1), typ: eventType, handler: handler}

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.removed.Store(true)
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, other := range b.subs {
				if other == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Close rejects further publishes and waits until every queued event
// has been handled. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}
