// Package events is the agent's in-process publish/subscribe fan-out.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/castkeep/castkeep/internal/model"
)

// queueSize bounds each subscriber's backlog; a subscriber that falls this
// far behind starts losing events (delivery is at-most-once anyway).
const queueSize = 64

// Handler consumes one event. A returned error is logged, never propagated
// to the publisher.
type Handler func(ctx context.Context, ev model.Event) error

// Bus fans events out to subscribers. Publishing never blocks; every
// subscriber receives events in publish order on its own goroutine, so the
// relative order of, say, a token save and the auth success that follows it
// is preserved per consumer.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
	log    *zap.Logger
}

type subscriber struct {
	types map[model.EventType]bool // nil matches every type
	ch    chan model.Event
	h     Handler
}

// NewBus builds an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log}
}

// NewEvent stamps a fresh envelope for type and platform.
func NewEvent(t model.EventType, platform model.Platform) model.Event {
	return model.Event{
		ID:       uuid.Must(uuid.NewV4()).String(),
		Type:     t,
		Platform: platform,
		At:       time.Now().UTC(),
	}
}

// Subscribe registers h for the given event types.
func (b *Bus) Subscribe(h Handler, types ...model.EventType) {
	match := make(map[model.EventType]bool, len(types))
	for _, t := range types {
		match[t] = true
	}
	b.add(&subscriber{types: match, ch: make(chan model.Event, queueSize), h: h})
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.add(&subscriber{ch: make(chan model.Event, queueSize), h: h})
}

func (b *Bus) add(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.subs = append(b.subs, sub)
	go sub.run(b.log)
}

// Publish enqueues ev for all matching subscribers. A full subscriber
// queue drops the event for that subscriber.
func (b *Bus) Publish(ctx context.Context, ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warn("subscriber queue full, dropping event",
				zap.String("type", string(ev.Type)), zap.String("id", ev.ID))
		}
	}
}

// Close stops delivery; subscriber goroutines drain their queues and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

func (s *subscriber) run(log *zap.Logger) {
	for ev := range s.ch {
		s.deliver(log, ev)
	}
}

func (s *subscriber) deliver(log *zap.Logger, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panic",
				zap.String("type", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	if err := s.h(context.Background(), ev); err != nil {
		log.Warn("event handler failed",
			zap.String("type", string(ev.Type)),
			zap.String("id", ev.ID),
			zap.Error(err))
	}
}
